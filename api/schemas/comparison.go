package schemas

import (
	"time"
)

// -- Request Schemas --

// Viewport describes the emulated device size for web extraction.
type Viewport struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// AuthConfig carries optional authentication material for gated pages.
// Exactly one mode is honored; empty Mode disables the auth step.
type AuthConfig struct {
	// Mode is one of "basic", "bearer", "jwt".
	Mode     string `json:"mode"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Token is used directly in "bearer" mode.
	Token string `json:"token,omitempty"`
	// Secret signs a short-lived HS256 token in "jwt" mode.
	Secret  string `json:"secret,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// ComparisonRequest is the input to one pipeline run.
type ComparisonRequest struct {
	DesignURL string      `json:"design_url"`
	WebURL    string      `json:"web_url"`
	Auth      *AuthConfig `json:"auth,omitempty"`
	Viewport  *Viewport   `json:"viewport,omitempty"`

	// Per-request timeout overrides; zero keeps the configured defaults.
	DesignTimeout time.Duration `json:"design_timeout,omitempty"`
	WebTimeout    time.Duration `json:"web_timeout,omitempty"`
}

// ValidatedRequest is the result of request validation: the design URL has
// been decomposed and the web URL syntax-checked. It carries everything a
// downstream stage needs without re-parsing.
type ValidatedRequest struct {
	ComparisonRequest
	FileKey string `json:"file_key"`
	NodeID  string `json:"node_id,omitempty"`
}

// -- Snapshot Schemas --

// DesignNode is one node of the design tree with the attributes the compare
// engine understands.
type DesignNode struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Box      BoundingBox  `json:"box"`
	Fill     string       `json:"fill,omitempty"`
	FontSize float64      `json:"font_size,omitempty"`
	Children []DesignNode `json:"children,omitempty"`
}

// DesignSnapshot is the structured output of the design extraction stage.
type DesignSnapshot struct {
	FileKey      string       `json:"file_key"`
	NodeID       string       `json:"node_id,omitempty"`
	DocumentName string       `json:"document_name"`
	Nodes        []DesignNode `json:"nodes"`
	FetchedAt    time.Time    `json:"fetched_at"`
}

// WebElement is one rendered element captured from the live page.
type WebElement struct {
	Selector string      `json:"selector"`
	Tag      string      `json:"tag"`
	Text     string      `json:"text,omitempty"`
	Box      BoundingBox `json:"box"`
	Color    string      `json:"color,omitempty"`
	FontSize float64     `json:"font_size,omitempty"`
}

// WebSnapshot is the structured output of the web extraction stage.
type WebSnapshot struct {
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	HTML       string       `json:"-"`
	Screenshot []byte       `json:"-"`
	Elements   []WebElement `json:"elements"`
	CapturedAt time.Time    `json:"captured_at"`
}

// BoundingBox is an absolute rectangle in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// -- Diff Schemas --

// MatchResult pairs a design node with the web element it matched, plus any
// per-field deltas found between them.
type MatchResult struct {
	DesignID  string   `json:"design_id"`
	Selector  string   `json:"selector"`
	Deltas    []string `json:"deltas,omitempty"`
	OffsetPx  float64  `json:"offset_px"`
	SizeDiff  float64  `json:"size_diff_px"`
	ColorDiff bool     `json:"color_diff"`
}

// DiffResult is the immutable output of the compare stage.
type DiffResult struct {
	Matches    []MatchResult `json:"matches"`
	Missing    []DesignNode  `json:"missing"`
	Unexpected []WebElement  `json:"unexpected"`
	Score      float64       `json:"score"`
	ComparedAt time.Time     `json:"compared_at"`
}

// MismatchCount is the number of matched pairs that carry at least one delta,
// plus every missing and unexpected element.
func (d *DiffResult) MismatchCount() int {
	n := len(d.Missing) + len(d.Unexpected)
	for _, m := range d.Matches {
		if len(m.Deltas) > 0 {
			n++
		}
	}
	return n
}

// ReportArtifact points at a generated report on disk.
type ReportArtifact struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	SizeBytes  int64  `json:"size_bytes"`
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
}

// -- Pipeline Schemas --

// Stage identifies one step of the fixed pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StageFigma    Stage = "figma"
	StageWeb      Stage = "web"
	StageCompare  Stage = "compare"
	StageReport   Stage = "report"
)

// OutcomeStatus is the terminal status of one stage.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeTimeout OutcomeStatus = "timeout"
	OutcomeError   OutcomeStatus = "error"
)

// ExtractionOutcome records how one stage of one request finished. Produced
// once per stage and never mutated.
type ExtractionOutcome struct {
	Stage      Stage         `json:"stage"`
	Status     OutcomeStatus `json:"status"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ComparisonResult bundles everything a successful run produced.
type ComparisonResult struct {
	RunID    string              `json:"run_id"`
	Design   *DesignSnapshot     `json:"design"`
	Web      *WebSnapshot        `json:"web"`
	Diff     *DiffResult         `json:"diff"`
	Report   *ReportArtifact     `json:"report"`
	Outcomes []ExtractionOutcome `json:"outcomes"`
}

// File: internal/faults/classified.go
// Description: The failure taxonomy shared by every pipeline stage. Raw
// errors crossing a stage boundary are wrapped into a ClassifiedError so
// callers always see category, severity and retryability.

package faults

import (
	"errors"
	"fmt"
	"time"

	"github.com/parityscan/parity-cli/api/schemas"
)

// Category buckets a failure for retry policy and user messaging.
type Category string

const (
	CategoryCritical   Category = "critical"
	CategoryReport     Category = "report_error"
	CategoryExtraction Category = "extraction_error"
	CategoryAuth       Category = "authentication_error"
	CategoryWarning    Category = "warning"
	CategoryNetwork    Category = "network_error"
	CategoryUnknown    Category = "unknown_error"
)

// Severity orders failures by operational impact.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Kind is a structured error tag attached at the point of failure. The
// classifier consults kinds before falling back to message patterns, so
// errors produced inside this codebase never depend on string matching.
type Kind string

const (
	KindCrash           Kind = "crash"
	KindLaunch          Kind = "launch"
	KindOversized       Kind = "oversized"
	KindSelector        Kind = "selector"
	KindAuth            Kind = "auth"
	KindThirdPartyNoise Kind = "third_party_noise"
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindBadRequest      Kind = "bad_request"
)

// kindError carries a Kind through an error chain.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Tag wraps err with a structured kind. Tagging nil returns nil.
func Tag(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the innermost-attached kind from an error chain. The
// second return reports whether any kind was found.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

// Context describes where a failure happened. Only identifiers, never
// resource handles.
type Context struct {
	Stage     schemas.Stage
	Operation string
	RunID     string
	Detail    map[string]string
}

// ClassifiedError is an error enriched with the classifier's verdict. It is
// immutable once built and may wrap a prior ClassifiedError when re-raised
// across stages.
type ClassifiedError struct {
	Category         Category
	Severity         Severity
	Retryable        bool
	SuggestedAction  string
	RetriesExhausted bool
	Ctx              Context
	Timestamp        time.Time

	original error
}

func (e *ClassifiedError) Error() string {
	if e.Ctx.Stage != "" {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Ctx.Stage, e.Category, e.Severity, e.original)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Severity, e.original)
}

// Unwrap exposes the original failure for errors.Is/As.
func (e *ClassifiedError) Unwrap() error { return e.original }

// Original returns the raw wrapped failure.
func (e *ClassifiedError) Original() error { return e.original }

// UserFacing returns the presentation tuple for this error's category.
func (e *ClassifiedError) UserFacing() Message {
	return MessageFor(e.Category)
}

// AsClassified extracts a ClassifiedError from an error chain, or nil.
func AsClassified(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

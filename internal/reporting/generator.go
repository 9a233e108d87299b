// File: internal/reporting/generator.go
// Description: Renders diff results into on-disk artifacts. Output is
// written through a fixed-size chunk buffer so report size never dictates
// resident memory; oversized artifacts are brotli-compressed.

package reporting

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Generator is the default ReportGenerator implementation.
type Generator struct {
	cfg    config.ReportConfig
	logger *zap.Logger
}

// NewGenerator builds a report generator.
func NewGenerator(cfg config.ReportConfig, logger *zap.Logger) *Generator {
	return &Generator{cfg: cfg, logger: logger.Named("report_generator")}
}

// Generate renders diff into an artifact under opts.OutDir. The caller's
// ChunkSize bounds the serialization buffer; MaxDepth truncates nested
// design nodes. Failures are tagged KindOversized where retrying without a
// smaller chunk or depth cannot help.
func (g *Generator) Generate(ctx context.Context, runID string, diff *schemas.DiffResult, opts schemas.ReportOptions) (*schemas.ReportArtifact, error) {
	if diff == nil {
		return nil, fmt.Errorf("nil diff result")
	}
	format := opts.Format
	if format == "" {
		format = g.cfg.Format
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = g.cfg.OutDir
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = g.cfg.ChunkSize
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = g.cfg.MaxDepth
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	truncated := truncateDepth(diff, maxDepth)

	name := fmt.Sprintf("parity-%s-%s.%s", runID, time.Now().Format("20060102-150405"), format)
	path := filepath.Join(outDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file %s: %w", path, err)
	}

	hash := sha256.New()
	// The chunk buffer is the only serialization memory in play; the
	// renderers below stream into it.
	w := bufio.NewWriterSize(io.MultiWriter(f, hash), chunkSize)

	var renderErr error
	switch format {
	case "json":
		renderErr = renderJSON(w, runID, truncated)
	case "html":
		renderErr = renderHTML(w, runID, truncated)
	case "xml":
		renderErr = renderXML(w, runID, truncated)
	default:
		renderErr = fmt.Errorf("unsupported report format %q", format)
	}
	if renderErr == nil {
		renderErr = w.Flush()
	}
	if cerr := f.Close(); renderErr == nil && cerr != nil {
		renderErr = fmt.Errorf("failed to finalize report: %w", cerr)
	}
	if renderErr != nil {
		os.Remove(path)
		return nil, faults.Tag(fmt.Errorf("report generation failed: %w", renderErr), faults.KindOversized)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("report generation aborted: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat report: %w", err)
	}

	artifact := &schemas.ReportArtifact{
		Path:      path,
		Format:    format,
		SizeBytes: info.Size(),
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}

	threshold := g.cfg.CompressThreshold
	if threshold > 0 && info.Size() > threshold {
		compressed, err := g.compress(path, chunkSize)
		if err != nil {
			g.logger.Warn("Report compression failed, keeping raw artifact",
				zap.String("path", path), zap.Error(err))
		} else {
			artifact.Path = compressed
			artifact.Compressed = true
			if ci, err := os.Stat(compressed); err == nil {
				artifact.SizeBytes = ci.Size()
			}
		}
	}

	g.logger.Info("Report generated",
		zap.String("run_id", runID),
		zap.String("path", artifact.Path),
		zap.String("format", format),
		zap.Int64("size_bytes", artifact.SizeBytes),
		zap.Bool("compressed", artifact.Compressed))
	return artifact, nil
}

// compress rewrites the artifact as <path>.br and removes the original.
func (g *Generator) compress(path string, chunkSize int) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	outPath := path + ".br"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}

	bw := brotli.NewWriterLevel(out, brotli.DefaultCompression)
	if _, err := io.CopyBuffer(bw, in, make([]byte, chunkSize)); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := bw.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", err
	}
	os.Remove(path)
	return outPath, nil
}

// truncateDepth returns a copy of diff whose missing-node subtrees are cut
// at maxDepth. The input is never mutated.
func truncateDepth(diff *schemas.DiffResult, maxDepth int) *schemas.DiffResult {
	out := *diff
	out.Missing = make([]schemas.DesignNode, len(diff.Missing))
	for i, n := range diff.Missing {
		out.Missing[i] = truncateNode(n, maxDepth)
	}
	return &out
}

func truncateNode(n schemas.DesignNode, depth int) schemas.DesignNode {
	if depth <= 1 {
		n.Children = nil
		return n
	}
	children := make([]schemas.DesignNode, len(n.Children))
	for i, c := range n.Children {
		children[i] = truncateNode(c, depth-1)
	}
	n.Children = children
	return n
}

// reportEnvelope is the serialized top-level report shape.
type reportEnvelope struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Summary     reportSummary       `json:"summary"`
	Diff        *schemas.DiffResult `json:"diff"`
}

type reportSummary struct {
	Matches    int     `json:"matches"`
	Mismatches int     `json:"mismatches"`
	Missing    int     `json:"missing"`
	Unexpected int     `json:"unexpected"`
	Score      float64 `json:"score"`
}

func newEnvelope(runID string, diff *schemas.DiffResult) reportEnvelope {
	return reportEnvelope{
		RunID:       runID,
		GeneratedAt: time.Now(),
		Summary: reportSummary{
			Matches:    len(diff.Matches),
			Mismatches: diff.MismatchCount(),
			Missing:    len(diff.Missing),
			Unexpected: len(diff.Unexpected),
			Score:      diff.Score,
		},
		Diff: diff,
	}
}

func renderJSON(w io.Writer, runID string, diff *schemas.DiffResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newEnvelope(runID, diff))
}

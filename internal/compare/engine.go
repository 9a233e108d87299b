// File: internal/compare/engine.go
// Description: Structural comparison of a design snapshot against a
// rendered snapshot. Matching is name/text based; geometry and color are
// checked against configured tolerances.

package compare

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/config"
)

// containerTypes are design nodes that group others and rarely correspond
// to a single DOM element; they are traversed but not matched themselves.
var containerTypes = map[string]bool{
	"DOCUMENT": true,
	"CANVAS":   true,
	"FRAME":    true,
	"GROUP":    true,
	"SECTION":  true,
}

// Engine is the default CompareEngine implementation.
type Engine struct {
	cfg    config.CompareConfig
	logger *zap.Logger
}

// NewEngine builds a compare engine with the given tolerances.
func NewEngine(cfg config.CompareConfig, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.Named("compare_engine")}
}

// Compare matches design leaves to web elements and reports deltas. Inputs
// are never mutated; the result is freshly allocated.
func (e *Engine) Compare(ctx context.Context, design *schemas.DesignSnapshot, web *schemas.WebSnapshot) (*schemas.DiffResult, error) {
	if design == nil || web == nil {
		return nil, fmt.Errorf("compare requires both snapshots, got design=%v web=%v", design != nil, web != nil)
	}

	leaves := collectLeaves(design.Nodes)
	claimed := make(map[int]bool, len(web.Elements))
	result := &schemas.DiffResult{ComparedAt: time.Now()}

	for _, node := range leaves {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("compare aborted: %w", err)
		}
		idx := e.findMatch(node, web.Elements, claimed)
		if idx < 0 {
			result.Missing = append(result.Missing, node)
			continue
		}
		claimed[idx] = true
		result.Matches = append(result.Matches, e.diffPair(node, web.Elements[idx]))
	}

	for i, el := range web.Elements {
		if !claimed[i] && el.Text != "" {
			result.Unexpected = append(result.Unexpected, el)
		}
	}

	result.Score = score(result, len(leaves))
	e.logger.Debug("Comparison complete",
		zap.Int("design_leaves", len(leaves)),
		zap.Int("matches", len(result.Matches)),
		zap.Int("missing", len(result.Missing)),
		zap.Int("unexpected", len(result.Unexpected)),
		zap.Float64("score", result.Score))
	return result, nil
}

// collectLeaves flattens the design tree into matchable leaves.
func collectLeaves(nodes []schemas.DesignNode) []schemas.DesignNode {
	var out []schemas.DesignNode
	for _, n := range nodes {
		if len(n.Children) > 0 || containerTypes[n.Type] {
			out = append(out, collectLeaves(n.Children)...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// findMatch locates the best unclaimed web element for a design node:
// exact text match first, then normalized name match, preferring the
// geometrically closest candidate.
func (e *Engine) findMatch(node schemas.DesignNode, elements []schemas.WebElement, claimed map[int]bool) int {
	best := -1
	bestDist := math.MaxFloat64
	nodeText := normalize(node.Text)
	nodeName := normalize(node.Name)

	for i, el := range elements {
		if claimed[i] {
			continue
		}
		elText := normalize(el.Text)
		match := false
		switch {
		case nodeText != "" && nodeText == elText:
			match = true
		case nodeText == "" && nodeName != "" && (nodeName == elText || strings.Contains(el.Selector, nodeName)):
			match = true
		}
		if !match {
			continue
		}
		d := distance(node.Box, el.Box)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// diffPair computes the per-field deltas for one matched pair. go-cmp
// renders the geometry delta detail when the pair drifts out of tolerance.
func (e *Engine) diffPair(node schemas.DesignNode, el schemas.WebElement) schemas.MatchResult {
	m := schemas.MatchResult{
		DesignID: node.ID,
		Selector: el.Selector,
	}

	// Fallback elements carry no geometry; only text evidence was matched.
	if el.Box.Width == 0 && el.Box.Height == 0 {
		return m
	}

	m.OffsetPx = math.Hypot(node.Box.X-el.Box.X, node.Box.Y-el.Box.Y)
	m.SizeDiff = math.Max(
		math.Abs(node.Box.Width-el.Box.Width),
		math.Abs(node.Box.Height-el.Box.Height))

	if m.OffsetPx > e.cfg.PositionTolerancePx || m.SizeDiff > e.cfg.PositionTolerancePx {
		if d := cmp.Diff(node.Box, el.Box); d != "" {
			m.Deltas = append(m.Deltas, "geometry: "+d)
		}
	}

	if node.Fill != "" && el.Color != "" && !colorsEqual(node.Fill, el.Color, e.cfg.ColorTolerance) {
		m.ColorDiff = true
		m.Deltas = append(m.Deltas, fmt.Sprintf("color: design %s vs rendered %s", node.Fill, el.Color))
	}

	if node.FontSize > 0 && el.FontSize > 0 && math.Abs(node.FontSize-el.FontSize) > 0.5 {
		m.Deltas = append(m.Deltas, fmt.Sprintf("font-size: design %.1fpx vs rendered %.1fpx", node.FontSize, el.FontSize))
	}
	return m
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func distance(a, b schemas.BoundingBox) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// colorsEqual compares a hex design fill against a rendered CSS color.
func colorsEqual(designHex, rendered string, tolerance float64) bool {
	dr, dg, db, ok := parseHex(designHex)
	if !ok {
		return true // unparseable fill is not evidence of a mismatch
	}
	rr, rg, rb, ok := parseCSSColor(rendered)
	if !ok {
		return true
	}
	maxDelta := math.Max(math.Abs(float64(dr-rr)),
		math.Max(math.Abs(float64(dg-rg)), math.Abs(float64(db-rb))))
	return maxDelta <= tolerance*255
}

func parseHex(s string) (r, g, b int, ok bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0, false
	}
	return r, g, b, true
}

func parseCSSColor(s string) (r, g, b int, ok bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		return parseHex(s)
	}
	if strings.HasPrefix(s, "rgba(") {
		var a float64
		if _, err := fmt.Sscanf(s, "rgba(%d, %d, %d, %f)", &r, &g, &b, &a); err == nil {
			return r, g, b, true
		}
		return 0, 0, 0, false
	}
	if strings.HasPrefix(s, "rgb(") {
		if _, err := fmt.Sscanf(s, "rgb(%d, %d, %d)", &r, &g, &b); err == nil {
			return r, g, b, true
		}
	}
	return 0, 0, 0, false
}

// score is the fraction of design leaves that matched cleanly.
func score(d *schemas.DiffResult, totalLeaves int) float64 {
	if totalLeaves == 0 {
		return 1.0
	}
	clean := 0
	for _, m := range d.Matches {
		if len(m.Deltas) == 0 {
			clean++
		}
	}
	return float64(clean) / float64(totalLeaves)
}

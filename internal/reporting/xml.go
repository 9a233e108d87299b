// File: internal/reporting/xml.go
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/beevik/etree"

	"github.com/parityscan/parity-cli/api/schemas"
)

// renderXML writes the report as an etree document. XML output exists for
// CI systems that ingest JUnit-adjacent formats.
func renderXML(w io.Writer, runID string, diff *schemas.DiffResult) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("parityReport")
	root.CreateAttr("runId", runID)
	root.CreateAttr("generatedAt", time.Now().Format(time.RFC3339))
	root.CreateAttr("score", fmt.Sprintf("%.4f", diff.Score))
	root.CreateAttr("mismatches", fmt.Sprintf("%d", diff.MismatchCount()))

	matches := root.CreateElement("matches")
	for _, m := range diff.Matches {
		el := matches.CreateElement("match")
		el.CreateAttr("designId", m.DesignID)
		el.CreateAttr("selector", m.Selector)
		el.CreateAttr("offsetPx", fmt.Sprintf("%.2f", m.OffsetPx))
		el.CreateAttr("sizeDiffPx", fmt.Sprintf("%.2f", m.SizeDiff))
		for _, d := range m.Deltas {
			el.CreateElement("delta").SetText(d)
		}
	}

	missing := root.CreateElement("missing")
	for _, n := range diff.Missing {
		el := missing.CreateElement("node")
		el.CreateAttr("id", n.ID)
		el.CreateAttr("name", n.Name)
		el.CreateAttr("type", n.Type)
		if n.Text != "" {
			el.SetText(n.Text)
		}
	}

	unexpected := root.CreateElement("unexpected")
	for _, e := range diff.Unexpected {
		el := unexpected.CreateElement("element")
		el.CreateAttr("selector", e.Selector)
		el.CreateAttr("tag", e.Tag)
		if e.Text != "" {
			el.SetText(e.Text)
		}
	}

	doc.Indent(2)
	_, err := doc.WriteTo(w)
	return err
}

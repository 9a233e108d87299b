// File: internal/reporting/html.go
package reporting

import (
	"fmt"
	"html/template"
	"io"

	"github.com/parityscan/parity-cli/api/schemas"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(s float64) string { return fmt.Sprintf("%.0f%%", s*100) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Parity report {{.RunID}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1a1a2e; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { border: 1px solid #d0d0e0; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.85rem; }
th { background: #f0f0fa; }
.score { font-size: 2rem; font-weight: 700; }
.delta { color: #b00020; white-space: pre-wrap; }
.clean { color: #1b7837; }
</style>
</head>
<body>
<h1>Design parity report <code>{{.RunID}}</code></h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
<p class="score">{{pct .Summary.Score}}</p>
<p>{{.Summary.Matches}} matched &middot; {{.Summary.Mismatches}} mismatched &middot;
{{.Summary.Missing}} missing &middot; {{.Summary.Unexpected}} unexpected</p>

<h2>Matched elements</h2>
<table>
<tr><th>Design node</th><th>Selector</th><th>Offset (px)</th><th>Size diff (px)</th><th>Deltas</th></tr>
{{range .Diff.Matches}}
<tr>
<td>{{.DesignID}}</td>
<td><code>{{.Selector}}</code></td>
<td>{{printf "%.1f" .OffsetPx}}</td>
<td>{{printf "%.1f" .SizeDiff}}</td>
<td>{{if .Deltas}}{{range .Deltas}}<div class="delta">{{.}}</div>{{end}}{{else}}<span class="clean">ok</span>{{end}}</td>
</tr>
{{end}}
</table>

{{if .Diff.Missing}}
<h2>Missing from the page</h2>
<table>
<tr><th>Node</th><th>Name</th><th>Type</th><th>Text</th></tr>
{{range .Diff.Missing}}
<tr><td>{{.ID}}</td><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Text}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Diff.Unexpected}}
<h2>Unexpected on the page</h2>
<table>
<tr><th>Selector</th><th>Tag</th><th>Text</th></tr>
{{range .Diff.Unexpected}}
<tr><td><code>{{.Selector}}</code></td><td>{{.Tag}}</td><td>{{.Text}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`))

func renderHTML(w io.Writer, runID string, diff *schemas.DiffResult) error {
	return htmlTemplate.Execute(w, newEnvelope(runID, diff))
}

package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var auditTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"join":  strings.Join,
		"formatDate": func(t time.Time) string {
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
	}

	templateContent, err := templateFS.ReadFile("templates/audit.html")
	if err != nil {
		auditTemplate = template.Must(template.New("audit").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	auditTemplate = template.Must(template.New("audit").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for audit trail rendering.
type TemplateData struct {
	ReleaseName   string
	NamespaceID   string
	ApprovalMode  string
	ApprovalState string
	Closed        bool
	EntryCount    int
	Entries       []TemplateEntry
}

// TemplateEntry is one audit row in the rendered trail.
type TemplateEntry struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	CreatedAt  time.Time
	Changes    []string
}

// RenderAuditHTML renders the audit template with provided data.
func RenderAuditHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := auditTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ReleaseName}} — Audit Trail</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; font-size: 0.85em; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
  </style>
</head>
<body>
  <h1>{{.ReleaseName}}</h1>
  <div class="meta">
    {{.NamespaceID}} | mode {{.ApprovalMode}} | {{.ApprovalState}}{{if .Closed}} | closed{{end}} | {{.EntryCount}} entries
  </div>
  <table>
    <tr><th>When</th><th>Actor</th><th>Entity</th><th>Action</th><th>Changed</th></tr>
    {{range .Entries}}
    <tr>
      <td>{{formatDate .CreatedAt}}</td>
      <td>{{.Actor}}</td>
      <td>{{.EntityType}} {{.EntityID}}</td>
      <td>{{.Action}}</td>
      <td>{{join .Changes ", "}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`

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

var submissionTemplate = template.Must(template.New("submission.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/submission.html"))

// RenderHTML renders the printable page for an approved version.
func RenderHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := submissionTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

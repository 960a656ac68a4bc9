package sqlengine

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// rowColumn is the positional row number column of unexpected row selections
const rowColumn = "__dqc_row"

const (
	columnsTemplate = `SELECT * FROM {{ .Table }} LIMIT 0{{ with .Settings }} {{ . }}{{ end }}`

	aggregateTemplate = `SELECT {{ join ", " .Expressions }} FROM {{ .Table }}` +
		`{{ with .Where }} WHERE {{ . }}{{ end }}{{ with .Settings }} {{ . }}{{ end }}`

	countTemplate = `SELECT COUNT(*) FROM {{ .Table }} WHERE {{ .Where }}{{ with .Settings }} {{ . }}{{ end }}`

	selectTemplate = `SELECT {{ join ", " .Projection }} FROM ` +
		`(SELECT row_number() OVER () - 1 AS {{ .RowColumn }}, * FROM {{ .Table }}) AS __dqc_rows` +
		` WHERE {{ .Where }} ORDER BY {{ .RowColumn }}` +
		`{{ if gt .Limit 0 }} LIMIT {{ .Limit }}{{ end }}{{ with .Settings }} {{ . }}{{ end }}`
)

// renderer renders the backend's query templates with Sprig functions
type renderer struct {
	templates *template.Template
}

func newRenderer() *renderer {
	root := template.New("queries").Funcs(sprig.TxtFuncMap())

	for name, content := range map[string]string{
		"columns":   columnsTemplate,
		"aggregate": aggregateTemplate,
		"count":     countTemplate,
		"select":    selectTemplate,
	} {
		template.Must(root.New(name).Parse(content))
	}

	return &renderer{templates: root}
}

// Render renders a named query template with the given variables
func (r *renderer) Render(name string, variables map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, variables); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

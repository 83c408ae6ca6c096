package report

import (
	"strings"

	"github.com/astroline/destinyai/internal/reasoning"
)

type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Body is the structured payload stored in reports.body.
type Body struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Summary  string    `json:"summary,omitempty"`
}

var Schema = reasoning.Schema{
	Name: "report",
	Fields: []reasoning.SchemaField{
		{Name: "title", Type: reasoning.TypeString, Required: true, NonEmpty: true},
		{Name: "sections", Type: reasoning.TypeArray, Required: true, NonEmpty: true, Items: []reasoning.SchemaField{
			{Name: "heading", Type: reasoning.TypeString, Required: true, NonEmpty: true},
			{Name: "content", Type: reasoning.TypeString, Required: true, NonEmpty: true},
		}},
		{Name: "summary", Type: reasoning.TypeString},
	},
}

// ParseBody reads model output into a Body. Output that fails to parse or
// validate is kept verbatim as a single section under fallbackTitle, and the
// parse result is returned so the caller can log why.
func ParseBody(raw, fallbackTitle string) (Body, reasoning.Result) {
	res := reasoning.ParseStructured(raw, Schema)
	if res.OK() {
		var b Body
		if err := res.Decode(&b); err == nil {
			b.Title = strings.TrimSpace(b.Title)
			for i := range b.Sections {
				b.Sections[i].Heading = strings.TrimSpace(b.Sections[i].Heading)
				b.Sections[i].Content = strings.TrimSpace(b.Sections[i].Content)
			}
			b.Summary = strings.TrimSpace(b.Summary)
			return b, res
		}
	}
	return Body{
		Title:    fallbackTitle,
		Sections: []Section{{Heading: fallbackTitle, Content: strings.TrimSpace(raw)}},
	}, res
}

// Markdown renders the body with one "## " heading per section so chunk
// sections resolve to report headings.
func (b Body) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(b.Title)
	sb.WriteString("\n\n")
	for _, s := range b.Sections {
		sb.WriteString("## ")
		sb.WriteString(s.Heading)
		sb.WriteString("\n")
		sb.WriteString(s.Content)
		sb.WriteString("\n\n")
	}
	if b.Summary != "" {
		sb.WriteString("## Summary\n")
		sb.WriteString(b.Summary)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

package prompt

import "fmt"

// Template is a versioned system/user prompt pair.
type Template struct {
	Name    string
	Version string
	System  string
	User    string
}

// Build renders both halves of the template.
func (t Template) Build(vars map[string]string) (system, user string, err error) {
	system, err = Render(t.System, vars)
	if err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", t.Name, err)
	}
	user, err = Render(t.User, vars)
	if err != nil {
		return "", "", fmt.Errorf("render %s user prompt: %w", t.Name, err)
	}
	return system, user, nil
}

// ID identifies the exact template revision stored alongside a report.
func (t Template) ID() string { return t.Name + "@" + t.Version }

const reportFormat = `Respond with a single JSON object and nothing else:
{"title": string, "sections": [{"heading": string, "content": string}], "summary": string}
Write between 4 and 8 sections. Each section content is 2 to 4 paragraphs of plain prose.`

const readerSystem = `You are an experienced destiny reader. You interpret the chart data you are given
faithfully, in a warm and practical voice, without medical, legal or financial directives.
` + reportFormat

var AnnualForecast = Template{
	Name:    "annual_forecast",
	Version: "2025.1",
	System:  readerSystem,
	User: `Write the annual forecast for {{target_year}}.
Cover career, wealth, relationships, health and the key months of the year.

Chart:
{{chart}}`,
}

var LifeReading = Template{
	Name:    "life_reading",
	Version: "2025.1",
	System:  readerSystem,
	User: `Write a lifetime reading: core personality, strengths, challenges,
career path, relationships and the major life phases.

Chart:
{{chart}}`,
}

var Compatibility = Template{
	Name:    "compatibility",
	Version: "2025.1",
	System:  readerSystem,
	User: `Write a compatibility reading for the two people below: overall harmony,
communication, emotional needs, friction points and advice for the relationship.

First chart:
{{chart}}

Second chart:
{{partner_chart}}`,
}

// QuestionAnswer answers follow-up questions from retrieved report excerpts.
var QuestionAnswer = Template{
	Name:    "report_qa",
	Version: "2025.1",
	System: `You answer questions about a destiny report titled "{{report_title}}".
Use only the numbered excerpts provided. Cite excerpts inline as [1], [2].
If the excerpts do not cover the question, say so briefly.
After the answer, add a line "FOLLOW_UPS:" followed by up to 3 short follow-up
questions the reader might ask next, one per line, each starting with "- ".`,
	User: `Report excerpts:
{{context}}
Conversation so far:
{{history}}
Question: {{question}}`,
}

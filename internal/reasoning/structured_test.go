package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Name: "report",
	Fields: []SchemaField{
		{Name: "title", Type: TypeString, Required: true, NonEmpty: true},
		{Name: "sections", Type: TypeArray, Required: true, NonEmpty: true, Items: []SchemaField{
			{Name: "heading", Type: TypeString, Required: true, NonEmpty: true},
			{Name: "content", Type: TypeString, Required: true, NonEmpty: true},
		}},
		{Name: "summary", Type: TypeString},
	},
}

type body struct {
	Title    string `json:"title"`
	Sections []struct {
		Heading string `json:"heading"`
		Content string `json:"content"`
	} `json:"sections"`
}

func TestParseStructured_FencedWithProse(t *testing.T) {
	raw := "Here is your report:\n```json\n{\"title\": \"2026\", \"sections\": [{\"heading\": \"Career\", \"content\": \"A {steady} year.\"}]}\n```\nEnjoy!"

	res := ParseStructured(raw, testSchema)
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, KindOK, res.Kind)

	var b body
	require.NoError(t, res.Decode(&b))
	assert.Equal(t, "2026", b.Title)
	require.Len(t, b.Sections, 1)
	assert.Equal(t, "A {steady} year.", b.Sections[0].Content)
}

func TestParseStructured_PicksLongestObject(t *testing.T) {
	raw := `Example: {"a": 1}. Answer: {"title": "T", "sections": [{"heading": "H", "content": "C \"quoted\" }"}]}`
	res := ParseStructured(raw, testSchema)
	require.True(t, res.OK(), res.Err)
	assert.Contains(t, res.JSON, `"title": "T"`)
}

func TestParseStructured_SmartQuotes(t *testing.T) {
	raw := `{“title”: “T”, “sections”: [{“heading”: “H”, “content”: “C”}]}`
	res := ParseStructured(raw, testSchema)
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, "T", res.Value["title"])
}

func TestParseStructured_Failures(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       Kind
		err        error
		violations []string
	}{
		{
			name: "no json",
			raw:  "I cannot help with that.",
			kind: KindNoJSON,
			err:  ErrNoJSON,
		},
		{
			name: "truncated",
			raw:  `{"title": "T", "sections": [{"heading": "H"`,
			kind: KindInvalidJSON,
			err:  ErrInvalidJSON,
		},
		{
			name:       "missing fields",
			raw:        `{"title": "  ", "sections": [{"heading": "H"}, "x"]}`,
			kind:       KindSchemaMismatch,
			err:        ErrSchemaMismatch,
			violations: []string{"title: empty", "sections[0].content: missing", "sections[1]: want object"},
		},
		{
			name:       "wrong types",
			raw:        `{"title": 7, "sections": [], "summary": false}`,
			kind:       KindSchemaMismatch,
			err:        ErrSchemaMismatch,
			violations: []string{"title: want string", "sections: empty", "summary: want string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseStructured(tt.raw, testSchema)
			assert.False(t, res.OK())
			assert.Equal(t, tt.kind, res.Kind)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, tt.violations, res.Violations)
			assert.Nil(t, res.Value)
			assert.ErrorIs(t, res.Decode(&body{}), tt.err)
		})
	}
}

func TestExtractJSON_IgnoresUnbalanced(t *testing.T) {
	_, ok := ExtractJSON("{ [ }")
	assert.False(t, ok)

	got, ok := ExtractJSON(`noise } {"k": "v"} trailing {`)
	require.True(t, ok)
	assert.Equal(t, `{"k": "v"}`, got)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "schema_mismatch", KindSchemaMismatch.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FieldType is the JSON type a schema field must hold.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// SchemaField defines a field in the expected output schema. Items applies
// to arrays of objects.
type SchemaField struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	NonEmpty    bool // strings must not be blank, arrays must have an element
	Items       []SchemaField
}

type Schema struct {
	Name   string
	Fields []SchemaField
}

// Kind tags the outcome of ParseStructured.
type Kind int

const (
	KindOK Kind = iota
	KindNoJSON
	KindInvalidJSON
	KindSchemaMismatch
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNoJSON:
		return "no_json"
	case KindInvalidJSON:
		return "invalid_json"
	case KindSchemaMismatch:
		return "schema_mismatch"
	}
	return "unknown"
}

var (
	ErrNoJSON         = errors.New("no JSON object found in output")
	ErrInvalidJSON    = errors.New("output JSON is malformed")
	ErrSchemaMismatch = errors.New("output does not match schema")
)

// Result is either a validated value (Kind == KindOK) or a tagged failure.
type Result struct {
	Kind       Kind
	JSON       string // extracted candidate, empty for KindNoJSON
	Value      map[string]any
	Violations []string
	Err        error
}

func (r Result) OK() bool { return r.Kind == KindOK }

// Decode unmarshals a successful result into target.
func (r Result) Decode(target any) error {
	if !r.OK() {
		return r.Err
	}
	return json.Unmarshal([]byte(r.JSON), target)
}

// ParseStructured extracts the most plausible JSON object from raw model
// output and validates it against schema. It never panics and never returns
// a partially validated value.
func ParseStructured(raw string, schema Schema) Result {
	candidate, ok := ExtractJSON(raw)
	if !ok {
		if strings.ContainsAny(raw, "{") {
			return Result{Kind: KindInvalidJSON, Err: ErrInvalidJSON}
		}
		return Result{Kind: KindNoJSON, Err: ErrNoJSON}
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return Result{Kind: KindInvalidJSON, JSON: candidate, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}

	if violations := validateObject("", value, schema.Fields); len(violations) > 0 {
		return Result{
			Kind:       KindSchemaMismatch,
			JSON:       candidate,
			Violations: violations,
			Err:        fmt.Errorf("%w: %s: %s", ErrSchemaMismatch, schema.Name, strings.Join(violations, "; ")),
		}
	}
	return Result{Kind: KindOK, JSON: candidate, Value: value}
}

// ExtractJSON returns the longest balanced JSON object in raw that parses.
// Code fences are ignored and typographic quotes are normalised when the
// verbatim text does not parse.
func ExtractJSON(raw string) (string, bool) {
	text := stripFences(raw)
	if c, ok := longestObject(text); ok {
		return c, true
	}
	return longestObject(normalizeQuotes(text))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

var quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")

func normalizeQuotes(s string) string { return quoteReplacer.Replace(s) }

func longestObject(s string) (string, bool) {
	best := ""
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		end := balancedEnd(s, start)
		if end < 0 {
			continue
		}
		candidate := s[start : end+1]
		if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
			best = candidate
			start = end
		}
	}
	return best, best != ""
}

// balancedEnd returns the index of the brace closing the one at start, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				if c != '}' {
					return -1
				}
				return i
			}
			if depth < 0 {
				return -1
			}
		}
	}
	return -1
}

func validateObject(path string, obj map[string]any, fields []SchemaField) []string {
	var violations []string
	for _, f := range fields {
		name := f.Name
		if path != "" {
			name = path + "." + f.Name
		}
		v, present := obj[f.Name]
		if !present || v == nil {
			if f.Required {
				violations = append(violations, name+": missing")
			}
			continue
		}
		violations = append(violations, validateValue(name, v, f)...)
	}
	return violations
}

func validateValue(name string, v any, f SchemaField) []string {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return []string{name + ": want string"}
		}
		if f.NonEmpty && strings.TrimSpace(s) == "" {
			return []string{name + ": empty"}
		}
	case TypeNumber:
		if _, ok := v.(float64); !ok {
			return []string{name + ": want number"}
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return []string{name + ": want boolean"}
		}
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return []string{name + ": want object"}
		}
		return validateObject(name, obj, f.Items)
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return []string{name + ": want array"}
		}
		if f.NonEmpty && len(arr) == 0 {
			return []string{name + ": empty"}
		}
		if len(f.Items) == 0 {
			return nil
		}
		var violations []string
		for i, item := range arr {
			itemName := fmt.Sprintf("%s[%d]", name, i)
			obj, ok := item.(map[string]any)
			if !ok {
				violations = append(violations, itemName+": want object")
				continue
			}
			violations = append(violations, validateObject(itemName, obj, f.Items)...)
		}
		return violations
	}
	return nil
}

// Package template resolves expressions in action variables against
// the enrollment's subject before a message or webhook goes out.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// ContainsExpression reports whether any string inside variables uses
// template syntax. Variable maps without expressions skip rendering
// entirely, including the attribute lookup it needs.
func ContainsExpression(variables map[string]any) bool {
	for _, value := range variables {
		if valueContainsExpression(value) {
			return true
		}
	}

	return false
}

func valueContainsExpression(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, "{{")
	case map[string]any:
		return ContainsExpression(v)
	case []any:
		for _, item := range v {
			if valueContainsExpression(item) {
				return true
			}
		}
	}

	return false
}

// RenderVariables returns a copy of variables with every template
// expression executed against data. Non-string values and plain
// strings pass through untouched.
func RenderVariables(variables map[string]any, data any) (map[string]any, error) {
	rendered := make(map[string]any, len(variables))

	for key, value := range variables {
		result, err := renderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", key, err)
		}

		rendered[key] = result
	}

	return rendered, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		return RenderVariables(v, data)
	case []any:
		items := make([]any, len(v))

		for i, item := range v {
			result, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			items[i] = result
		}

		return items, nil
	default:
		return v, nil
	}
}

// Render executes one template string. A result that reads as JSON, a
// number or a boolean is returned typed so values survive the round
// trip through the template engine.
func Render(input string, data any) (any, error) {
	tmpl, err := template.
		New("variables").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).
		Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", input, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", input, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

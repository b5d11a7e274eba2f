package engine

import (
	"encoding/json"
	"strconv"

	"github.com/gofhir/bundlevalidator/pkg/path"
)

// equal compares a document value with a rule literal. Objects match when
// every key of the literal matches; numbers compare as exact decimals.
func equal(actual, expected any) bool {
	switch want := expected.(type) {
	case nil:
		return actual == nil
	case string:
		got, ok := actual.(string)
		return ok && got == want
	case bool:
		got, ok := actual.(bool)
		return ok && got == want
	case int, int64, uint64, float64:
		return path.NumberEqual(actual, numberText(want))
	case map[string]any:
		got, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range want {
			if !equal(got[k], wv) {
				return false
			}
		}
		return true
	case []any:
		got, ok := actual.([]any)
		if !ok || len(got) != len(want) {
			return false
		}
		for i := range want {
			if !equal(got[i], want[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func numberText(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// scalarText returns the text of a string, number or boolean value.
func scalarText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case int, int64, uint64, float64:
		return numberText(s), true
	}
	return "", false
}

// render formats a value for error details.
func render(v any) string {
	if s, ok := scalarText(v); ok {
		return s
	}
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// renderLiteral is render for rule literals, which must never render empty.
func renderLiteral(v any) string {
	if s := render(v); s != "" {
		return s
	}
	return `""`
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func length(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case []any:
		return len(x)
	}
	return 1
}

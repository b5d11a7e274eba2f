package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofhir/bundlevalidator/pkg/document"
)

// Position is a 1-based line and column in the raw JSON source.
type Position struct {
	Line   int
	Column int
}

// Find locates the start of the value a fragment pointer refers to.
func Find(jsonData []byte, pointer string) (Position, bool) {
	if len(jsonData) == 0 {
		return Position{}, false
	}
	tokens, err := document.ParsePointer(pointer)
	if err != nil {
		return Position{}, false
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	offset := valueStart(jsonData, 0)
	for _, tok := range tokens {
		offset, err = step(dec, jsonData, tok)
		if err != nil {
			return Position{}, false
		}
	}

	line, col := offsetToLineCol(jsonData, offset)
	return Position{Line: line, Column: col}, true
}

// step descends from the value the decoder is positioned before into the
// child named tok, returning the byte offset where that child starts.
func step(dec *json.Decoder, data []byte, tok string) (int, error) {
	t, err := dec.Token()
	if err != nil {
		return 0, err
	}
	delim, ok := t.(json.Delim)
	if !ok {
		return 0, fmt.Errorf("cannot descend into scalar for %q", tok)
	}

	switch delim {
	case '{':
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return 0, err
			}
			if k, _ := kt.(string); k == tok {
				return valueStart(data, int(dec.InputOffset())), nil
			}
			if err := skipValue(dec); err != nil {
				return 0, err
			}
		}
		return 0, fmt.Errorf("key %q not found", tok)

	case '[':
		target, err := strconv.Atoi(tok)
		if err != nil {
			return 0, fmt.Errorf("array index %q: %w", tok, err)
		}
		for idx := 0; dec.More(); idx++ {
			if idx == target {
				return valueStart(data, int(dec.InputOffset())), nil
			}
			if err := skipValue(dec); err != nil {
				return 0, err
			}
		}
		return 0, fmt.Errorf("array index %d out of bounds", target)
	}
	return 0, fmt.Errorf("unexpected delimiter %v", delim)
}

// valueStart advances past whitespace and separators to the first byte of
// the next value.
func valueStart(data []byte, offset int) int {
	for offset < len(data) {
		switch data[offset] {
		case ' ', '\t', '\n', '\r', ':', ',':
			offset++
		default:
			return offset
		}
	}
	return offset
}

// skipValue skips a single JSON value (primitive, object, or array).
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// offsetToLineCol converts a byte offset to line and column numbers.
// Line and column are 1-indexed (human-readable).
func offsetToLineCol(input []byte, offset int) (line, col int) {
	line = 1
	col = 1
	for i := 0; i < offset && i < len(input); i++ {
		if input[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return
}

package queue

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
)

// Codec encodes request bodies and decodes response bodies.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is plain encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// SnakeCaseCodec rewrites every object key to lower snake case and drops
// null-valued fields before sending. Decoding is plain encoding/json.
type SnakeCaseCodec struct{}

// Marshal encodes v with snake_case keys and no null fields.
func (SnakeCaseCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(tree)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (SnakeCaseCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[SnakeCase(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

// SnakeCase converts an identifier to lower snake case.
// "NumInferenceSteps" -> "num_inference_steps", "imageURL" -> "image_url".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if r == '-' || r == ' ' {
			b.WriteRune('_')
			continue
		}
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' && runes[i-1] != '-' && runes[i-1] != ' ' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

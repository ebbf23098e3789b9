package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/menu-labeler/internal/labels"
)

// Parse interprets a reply as JSON. Any well-formed JSON value is accepted;
// the three-key shape is not enforced. Whitespace is compacted and a key
// repeated within one object keeps its first position but its last value.
// On failure it returns labels.ErrorResult together with an error wrapping
// labels.ErrParse.
func Parse(raw string) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(strings.TrimSpace(raw))); err != nil {
		return labels.ErrorResult, fmt.Errorf("%w: %v", labels.ErrParse, err)
	}
	value, err := dedupe(buf.Bytes())
	if err != nil {
		return labels.ErrorResult, fmt.Errorf("%w: %v", labels.ErrParse, err)
	}
	return value, nil
}

// dedupe rewrites compact JSON so that no object carries the same key twice.
// Scalars are copied byte for byte.
func dedupe(value []byte) (json.RawMessage, error) {
	if len(value) == 0 {
		return value, nil
	}
	switch value[0] {
	case '{':
		return dedupeObject(value)
	case '[':
		return dedupeArray(value)
	default:
		return value, nil
	}
}

func dedupeObject(value []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var keys []string
	members := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var member json.RawMessage
		if err := dec.Decode(&member); err != nil {
			return nil, err
		}
		normalized, err := dedupe(member)
		if err != nil {
			return nil, err
		}
		if _, seen := members[key]; !seen {
			keys = append(keys, key)
		}
		members[key] = normalized
	}

	var out bytes.Buffer
	out.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			out.WriteByte(',')
		}
		if err := writeKey(&out, key); err != nil {
			return nil, err
		}
		out.WriteByte(':')
		out.Write(members[key])
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

func dedupeArray(value []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteByte('[')
	for i := 0; dec.More(); i++ {
		var element json.RawMessage
		if err := dec.Decode(&element); err != nil {
			return nil, err
		}
		normalized, err := dedupe(element)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out.WriteByte(',')
		}
		out.Write(normalized)
	}
	out.WriteByte(']')
	return out.Bytes(), nil
}

func writeKey(out *bytes.Buffer, key string) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	out.Truncate(out.Len() - 1)
	return nil
}

// Decode returns a typed view of a stored value. It reports false for error
// entries and for values that do not look like a classification.
func Decode(value json.RawMessage) (*labels.Classification, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return nil, false
	}
	if _, isError := fields["error"]; isError {
		return nil, false
	}
	var c labels.Classification
	if err := json.Unmarshal(value, &c); err != nil {
		return nil, false
	}
	return &c, true
}

package labels

import (
	"bytes"
	"encoding/json"
)

// ResultSet maps filenames to their recorded value, keeping insertion order.
type ResultSet struct {
	keys    []string
	entries map[string]json.RawMessage
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{entries: make(map[string]json.RawMessage)}
}

// Set stores value under filename. Overwriting keeps the original position.
func (rs *ResultSet) Set(filename string, value json.RawMessage) {
	if _, ok := rs.entries[filename]; !ok {
		rs.keys = append(rs.keys, filename)
	}
	rs.entries[filename] = value
}

// SetRaw stores a plain reply string as a JSON string value.
func (rs *ResultSet) SetRaw(filename, reply string) {
	encoded, err := json.Marshal(reply)
	if err != nil {
		rs.Set(filename, ErrorResult)
		return
	}
	rs.Set(filename, encoded)
}

// Get returns the value stored for filename.
func (rs *ResultSet) Get(filename string) (json.RawMessage, bool) {
	value, ok := rs.entries[filename]
	return value, ok
}

// Keys returns filenames in insertion order.
func (rs *ResultSet) Keys() []string {
	out := make([]string, len(rs.keys))
	copy(out, rs.keys)
	return out
}

// Len returns the number of recorded files.
func (rs *ResultSet) Len() int {
	return len(rs.keys)
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range rs.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')

		value := rs.entries[key]
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		if err := json.Compact(&buf, value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order from the document.
func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	*rs = ResultSet{entries: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		rs.Set(key, value)
	}
	_, err := dec.Token()
	return err
}

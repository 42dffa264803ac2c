// Package codec converts engine payloads into property trees and back.
//
// DBGp payloads are XML documents whose <property> elements map onto
// Property nodes. GRLD payloads are Lua literals, parsed with a grammar
// based parser and never executed.
package codec

import (
	"bytes"
	"encoding/json"
	"iter"
)

// Property is one variable or value at any nesting depth. A node carries
// either a scalar Value or a Children map.
type Property struct {
	// Name is the full name reported by the engine, empty for anonymous results.
	Name string `json:"name,omitempty"`

	// Type is the value type, or the message of an engine error.
	Type string `json:"type"`

	// Value is the scalar value text.
	Value string `json:"value,omitempty"`

	// NumChildren is the child count declared by the engine, if any.
	NumChildren *int `json:"numchildren,omitempty"`

	// Children holds nested properties when the value is compound.
	Children *Properties `json:"children,omitempty"`
}

// HasChildren reports whether the node is compound.
func (p *Property) HasChildren() bool {
	return p.Children != nil
}

// Truncated reports whether fewer children were returned than declared.
func (p *Property) Truncated() bool {
	if p.Children == nil {
		return false
	}
	if p.NumChildren == nil {
		return p.Children.Len() > 0
	}
	return *p.NumChildren != p.Children.Len()
}

// Clone returns a deep copy.
func (p *Property) Clone() *Property {
	if p == nil {
		return nil
	}
	c := *p
	if p.NumChildren != nil {
		n := *p.NumChildren
		c.NumChildren = &n
	}
	c.Children = p.Children.Clone()
	return &c
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// Properties is an insertion ordered map of properties.
type Properties struct {
	keys  []string
	items map[string]*Property
}

// NewProperties creates an empty map.
func NewProperties() *Properties {
	return &Properties{items: make(map[string]*Property)}
}

// Set stores p under key. Replacing a key keeps its position.
func (ps *Properties) Set(key string, p *Property) {
	if _, ok := ps.items[key]; !ok {
		ps.keys = append(ps.keys, key)
	}
	ps.items[key] = p
}

// Get returns the property stored under key.
func (ps *Properties) Get(key string) (*Property, bool) {
	if ps == nil {
		return nil, false
	}
	p, ok := ps.items[key]
	return p, ok
}

// Delete removes key.
func (ps *Properties) Delete(key string) {
	if _, ok := ps.items[key]; !ok {
		return
	}
	delete(ps.items, key)
	for i, k := range ps.keys {
		if k == key {
			ps.keys = append(ps.keys[:i], ps.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (ps *Properties) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.keys)
}

// Keys returns the keys in insertion order.
func (ps *Properties) Keys() []string {
	if ps == nil {
		return nil
	}
	return append([]string(nil), ps.keys...)
}

// All iterates entries in insertion order.
func (ps *Properties) All() iter.Seq2[string, *Property] {
	return func(yield func(string, *Property) bool) {
		if ps == nil {
			return
		}
		for _, k := range ps.keys {
			if !yield(k, ps.items[k]) {
				return
			}
		}
	}
}

// Merge copies every entry of other into ps, overwriting existing keys.
func (ps *Properties) Merge(other *Properties) {
	for k, p := range other.All() {
		ps.Set(k, p)
	}
}

// Clone returns a deep copy.
func (ps *Properties) Clone() *Properties {
	if ps == nil {
		return nil
	}
	c := NewProperties()
	for k, p := range ps.All() {
		c.Set(k, p.Clone())
	}
	return c
}

// MarshalJSON encodes the map as a JSON object preserving key order.
func (ps *Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range ps.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		v, err := json.Marshal(ps.items[k])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (ps *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	if ps.items == nil {
		ps.items = make(map[string]*Property)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var p Property
		if err := dec.Decode(&p); err != nil {
			return err
		}
		ps.Set(key, &p)
	}
	_, err := dec.Token()
	return err
}

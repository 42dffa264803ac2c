package codec

import (
	"fmt"
	"strconv"
)

// Ref is a handle to a remote table whose fields are fetched by a second
// round trip. Engines send it as { type = "table", id = ..., short = ... }.
type Ref struct {
	ID    string
	Short string
}

// AsRef reports whether v is a table reference.
func AsRef(v any) (Ref, bool) {
	t, ok := v.(*Table)
	if !ok {
		return Ref{}, false
	}
	if typ, _ := t.GetString("type"); typ != "table" {
		return Ref{}, false
	}
	id, ok := t.Get("id")
	if !ok {
		return Ref{}, false
	}
	short, _ := t.GetString("short")
	return Ref{ID: FormatLua(id), Short: short}, true
}

type refID string

// FetchFunc loads the fields of a referenced table.
type FetchFunc func(id string) (any, error)

// TreeBuilder expands decoded Lua values into property trees. Tables that
// are already being expanded higher up are replaced by a leaf describing
// the cycle.
type TreeBuilder struct {
	// Fetch resolves references. Nil leaves references unexpanded.
	Fetch FetchFunc

	// MaxDepth limits expansion. Zero means unlimited.
	MaxDepth int
}

// Build converts v into a property named name.
func (b *TreeBuilder) Build(name string, v any) (*Property, error) {
	return b.build(name, v, nil)
}

// BuildFields converts the fields of t into a property map.
func (b *TreeBuilder) BuildFields(t *Table) (*Properties, error) {
	p, err := b.build("", t, nil)
	if err != nil {
		return nil, err
	}
	return p.Children, nil
}

func (b *TreeBuilder) build(name string, v any, ancestors []any) (*Property, error) {
	identity, table, err := b.resolve(v, ancestors)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return &Property{Name: name, Type: LuaType(v), Value: FormatLua(v)}, nil
	}

	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i] == identity {
			return &Property{Name: name, Type: "table", Value: circular(len(ancestors) - 1 - i)}, nil
		}
	}

	if table == nil || (b.MaxDepth > 0 && len(ancestors) >= b.MaxDepth) {
		short := "table"
		if ref, ok := AsRef(v); ok && ref.Short != "" {
			short = ref.Short
		}
		return &Property{Name: name, Type: "table", Value: short}, nil
	}

	path := append(ancestors[:len(ancestors):len(ancestors)], identity)
	children := NewProperties()
	for _, f := range table.Fields {
		key := FormatKey(f.Key)
		child, err := b.build(key, f.Value, path)
		if err != nil {
			return nil, err
		}
		children.Set(key, child)
	}
	return &Property{
		Name:        name,
		Type:        "table",
		NumChildren: IntPtr(len(table.Fields)),
		Children:    children,
	}, nil
}

// resolve returns the identity of a table value and its fields. Scalars
// have a nil identity.
func (b *TreeBuilder) resolve(v any, ancestors []any) (any, *Table, error) {
	if ref, ok := AsRef(v); ok {
		identity := refID(ref.ID)
		for _, a := range ancestors {
			if a == identity {
				return identity, nil, nil
			}
		}
		if b.Fetch == nil || (b.MaxDepth > 0 && len(ancestors) >= b.MaxDepth) {
			return identity, nil, nil
		}
		fetched, err := b.Fetch(ref.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch table %s: %w", ref.ID, err)
		}
		t, ok := fetched.(*Table)
		if !ok {
			return nil, nil, &DecodeError{Format: "lua", Reason: fmt.Sprintf("table %s resolved to %s", ref.ID, LuaType(fetched))}
		}
		return identity, t, nil
	}
	if t, ok := v.(*Table); ok {
		return t, t, nil
	}
	return nil, nil, nil
}

func circular(levels int) string {
	switch levels {
	case 0:
		return "circular reference to this table"
	case 1:
		return "circular reference 1 level up"
	default:
		return "circular reference " + strconv.Itoa(levels) + " levels up"
	}
}

// FormatKey renders a table key as a property name.
func FormatKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return "[" + FormatLua(k) + "]"
}

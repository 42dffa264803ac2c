package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Lua has no literal syntax for IEEE specials, so they travel as
// zero-argument function literals.
const (
	luaInf    = "function() return math.huge end"
	luaNegInf = "function() return -math.huge end"
	luaNaN    = "function() return 0/0 end"
)

// Field is one key/value pair of a Lua table.
type Field struct {
	Key   any
	Value any
}

// Table is a decoded Lua table with its fields in source order.
// Positional fields get float64 keys starting at 1.
type Table struct {
	Fields []Field
}

// NewTable creates a table from alternating key/value arguments.
func NewTable(kv ...any) *Table {
	t := &Table{}
	for i := 0; i+1 < len(kv); i += 2 {
		t.Set(kv[i], kv[i+1])
	}
	return t
}

// Get returns the value stored under key.
func (t *Table) Get(key any) (any, bool) {
	key = normalizeKey(key)
	for _, f := range t.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the string stored under key, if any.
func (t *Table) GetString(key string) (string, bool) {
	v, ok := t.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores value under key, replacing an existing field in place.
func (t *Table) Set(key, value any) {
	key = normalizeKey(key)
	for i, f := range t.Fields {
		if f.Key == key {
			t.Fields[i].Value = value
			return
		}
	}
	t.Fields = append(t.Fields, Field{Key: key, Value: value})
}

// Append stores value under the next positional index.
func (t *Table) Append(value any) {
	t.Set(float64(t.Len()+1), value)
}

// Len returns the length of the sequence part of the table.
func (t *Table) Len() int {
	n := 0
	for {
		if _, ok := t.Get(float64(n + 1)); !ok {
			return n
		}
		n++
	}
}

// Index returns the sequence values of the table.
func (t *Table) Index() []any {
	n := t.Len()
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		v, _ := t.Get(float64(i))
		out = append(out, v)
	}
	return out
}

func normalizeKey(k any) any {
	switch v := k.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case float32:
		return float64(v)
	}
	return k
}

// EncodeLua serializes v as a Lua literal. Supported values are nil,
// bool, strings, Go numbers, *Table, []any and map[string]any.
func EncodeLua(v any) (string, error) {
	var sb strings.Builder
	if err := encodeLua(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeLua(sb *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		sb.WriteString(strconv.FormatBool(x))
	case string:
		writeLuaString(sb, x)
	case float64:
		writeLuaNumber(sb, x)
	case float32:
		writeLuaNumber(sb, float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		sb.WriteString(fmt.Sprint(x))
	case *Table:
		sb.WriteString("{ ")
		for _, f := range x.Fields {
			sb.WriteByte('[')
			if err := encodeLua(sb, f.Key); err != nil {
				return err
			}
			sb.WriteString("] = ")
			if err := encodeLua(sb, f.Value); err != nil {
				return err
			}
			sb.WriteString(", ")
		}
		sb.WriteByte('}')
	case []any:
		t := &Table{}
		for _, e := range x {
			t.Append(e)
		}
		return encodeLua(sb, t)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := &Table{}
		for _, k := range keys {
			t.Set(k, x[k])
		}
		return encodeLua(sb, t)
	default:
		return &EncodeError{Value: v}
	}
	return nil
}

func writeLuaNumber(sb *strings.Builder, f float64) {
	switch {
	case math.IsInf(f, 1):
		sb.WriteString(luaInf)
	case math.IsInf(f, -1):
		sb.WriteString(luaNegInf)
	case math.IsNaN(f):
		sb.WriteString(luaNaN)
	default:
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}

func writeLuaString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7F {
				fmt.Fprintf(sb, `\%03d`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
}

// DecodeLua parses a Lua literal into nil, bool, float64, string or *Table.
// Anything other than literal construction is rejected.
func DecodeLua(payload []byte) (any, error) {
	src := strings.TrimSpace(string(payload))
	if src == "" {
		return nil, &DecodeError{Format: "lua", Reason: "empty payload"}
	}

	chunk, err := parse.Parse(strings.NewReader("return "+src), "<grld>")
	if err != nil {
		return nil, &DecodeError{Format: "lua", Reason: "syntax error", Err: err}
	}
	if len(chunk) != 1 {
		return nil, &DecodeError{Format: "lua", Reason: "expected a single literal"}
	}
	ret, ok := chunk[0].(*ast.ReturnStmt)
	if !ok || len(ret.Exprs) != 1 {
		return nil, &DecodeError{Format: "lua", Reason: "expected a single literal"}
	}
	return literal(ret.Exprs[0])
}

func literal(e ast.Expr) (any, error) {
	switch x := e.(type) {
	case *ast.NilExpr:
		return nil, nil
	case *ast.TrueExpr:
		return true, nil
	case *ast.FalseExpr:
		return false, nil
	case *ast.StringExpr:
		return x.Value, nil
	case *ast.NumberExpr:
		return parseLuaNumber(x.Value)
	case *ast.UnaryMinusOpExpr:
		n, ok := x.Expr.(*ast.NumberExpr)
		if !ok {
			return nil, rejected(e)
		}
		f, err := parseLuaNumber(n.Value)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case *ast.FunctionExpr:
		return special(x)
	case *ast.TableExpr:
		t := &Table{}
		next := 1.0
		for _, field := range x.Fields {
			v, err := literal(field.Value)
			if err != nil {
				return nil, err
			}
			if field.Key == nil {
				t.Set(next, v)
				next++
				continue
			}
			k, err := literal(field.Key)
			if err != nil {
				return nil, err
			}
			if k == nil {
				return nil, &DecodeError{Format: "lua", Reason: "nil table key"}
			}
			if f, ok := k.(float64); ok && math.IsNaN(f) {
				return nil, &DecodeError{Format: "lua", Reason: "NaN table key"}
			}
			if _, ok := k.(*Table); ok {
				return nil, &DecodeError{Format: "lua", Reason: "table used as key"}
			}
			t.Set(k, v)
		}
		return t, nil
	}
	return nil, rejected(e)
}

// special matches the three IEEE sentinel function literals.
func special(fn *ast.FunctionExpr) (float64, error) {
	if fn.ParList == nil || len(fn.ParList.Names) > 0 || fn.ParList.HasVargs || len(fn.Stmts) != 1 {
		return 0, rejected(fn)
	}
	ret, ok := fn.Stmts[0].(*ast.ReturnStmt)
	if !ok || len(ret.Exprs) != 1 {
		return 0, rejected(fn)
	}

	switch x := ret.Exprs[0].(type) {
	case *ast.AttrGetExpr:
		if isMathHuge(x) {
			return math.Inf(1), nil
		}
	case *ast.UnaryMinusOpExpr:
		if g, ok := x.Expr.(*ast.AttrGetExpr); ok && isMathHuge(g) {
			return math.Inf(-1), nil
		}
	case *ast.ArithmeticOpExpr:
		if x.Operator == "/" && isZero(x.Lhs) && isZero(x.Rhs) {
			return math.NaN(), nil
		}
	}
	return 0, rejected(fn)
}

func isMathHuge(g *ast.AttrGetExpr) bool {
	obj, ok := g.Object.(*ast.IdentExpr)
	if !ok || obj.Value != "math" {
		return false
	}
	key, ok := g.Key.(*ast.StringExpr)
	return ok && key.Value == "huge"
}

func isZero(e ast.Expr) bool {
	n, ok := e.(*ast.NumberExpr)
	if !ok {
		return false
	}
	f, err := parseLuaNumber(n.Value)
	return err == nil && f == 0
}

func parseLuaNumber(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), nil
	}
	return 0, &DecodeError{Format: "lua", Reason: fmt.Sprintf("bad number %q", s)}
}

func rejected(e ast.Expr) error {
	name := reflect.TypeOf(e).Elem().Name()
	return &DecodeError{Format: "lua", Reason: "not a literal: " + name}
}

// LuaType returns the Lua type name of a decoded value.
func LuaType(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case *Table:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FormatLua renders a decoded scalar as display text.
func FormatLua(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		switch {
		case math.IsInf(x, 1):
			return "inf"
		case math.IsInf(x, -1):
			return "-inf"
		case math.IsNaN(x):
			return "nan"
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

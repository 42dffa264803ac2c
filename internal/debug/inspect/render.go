package inspect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/scriptdbg/internal/debug/codec"
)

// RenderContext renders a property tree as indented text:
//
//	$name = (string) value
//	$list = array[3]
//		$list[0] = (int) 1
//		...
//
// A trailing "..." marks children the engine did not return.
func RenderContext(props *codec.Properties) string {
	var sb strings.Builder
	renderProperties(&sb, props, 0)
	return sb.String()
}

func renderProperties(sb *strings.Builder, props *codec.Properties, indent int) {
	for _, p := range props.All() {
		sb.WriteString(strings.Repeat("\t", indent))
		if p.Name != "" {
			sb.WriteString(p.Name)
			sb.WriteString(" = ")
		}

		switch {
		case p.Value != "":
			value := strings.ReplaceAll(p.Value, "\r\n", "\n")
			value = strings.ReplaceAll(value, "\n", " ")
			fmt.Fprintf(sb, "(%s) %s\n", p.Type, value)

		case p.Children != nil:
			count := ""
			if p.NumChildren != nil {
				count = strconv.Itoa(*p.NumChildren)
			}
			fmt.Fprintf(sb, "%s[%s]\n", p.Type, count)
			renderProperties(sb, p.Children, indent+1)
			if p.Truncated() {
				sb.WriteString(strings.Repeat("\t", indent+1))
				sb.WriteString("...\n")
			}

		default:
			fmt.Fprintf(sb, "<%s>\n", p.Type)
		}
	}
}

// RenderStack renders one line per frame as [level] file.where:line.
func RenderStack(frames []Frame) string {
	var sb strings.Builder
	for _, f := range frames {
		where := f.Where
		if where == "" {
			where = "{unknown}"
		}
		fmt.Fprintf(&sb, "[%d] %s.%s:%d\n", f.Level, f.File, where, f.Line)
	}
	return sb.String()
}

// RenderWatches renders the watch list. Evaluated watches are followed by
// their value tree.
func RenderWatches(watches []Watch) string {
	var sb strings.Builder
	for _, w := range watches {
		if w.Enabled {
			sb.WriteString("|+|")
		} else {
			sb.WriteString("|-|")
		}
		fmt.Fprintf(&sb, " \"%s\"", w.Expression)
		if w.Value != nil {
			sb.WriteString(" = ")
			sb.WriteString(RenderContext(w.Value))
		} else {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

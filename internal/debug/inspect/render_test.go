package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/scriptdbg/internal/debug/codec"
)

func TestRenderContext(t *testing.T) {
	list := codec.NewProperties()
	list.Set("$list[0]", scalar("$list[0]", "int", "1"))

	empty := codec.NewProperties()

	props := codec.NewProperties()
	props.Set("$s", scalar("$s", "string", "two\r\nlines"))
	props.Set("$list", &codec.Property{Name: "$list", Type: "array", NumChildren: codec.IntPtr(4), Children: list})
	props.Set("$e", &codec.Property{Name: "$e", Type: "array", NumChildren: codec.IntPtr(0), Children: empty})
	props.Set("$n", &codec.Property{Name: "$n", Type: "null"})
	props.Set("expr", &codec.Property{Type: "error evaluating code"})

	want := "$s = (string) two lines\n" +
		"$list = array[4]\n" +
		"\t$list[0] = (int) 1\n" +
		"\t...\n" +
		"$e = array[0]\n" +
		"$n = <null>\n" +
		"<error evaluating code>\n"
	assert.Equal(t, want, RenderContext(props))
}

func TestRenderStack(t *testing.T) {
	frames := []Frame{
		{Level: 0, File: "/var/www/lib.php", Line: 12, Where: "helper"},
		{Level: 1, File: "/var/www/index.php", Line: 3, Where: "{main}"},
		{Level: 2, File: "/x.php", Line: 1},
	}
	want := "[0] /var/www/lib.php.helper:12\n[1] /var/www/index.php.{main}:3\n[2] /x.php.{unknown}:1\n"
	assert.Equal(t, want, RenderStack(frames))
}

func TestRenderWatches(t *testing.T) {
	val := codec.NewProperties()
	val.Set("$a", scalar("$a", "int", "3"))

	watches := []Watch{
		{Expression: "$a", Enabled: true, Value: val},
		{Expression: "$b", Enabled: false},
	}
	want := "|+| \"$a\" = $a = (int) 3\n|-| \"$b\"\n"
	assert.Equal(t, want, RenderWatches(watches))
}

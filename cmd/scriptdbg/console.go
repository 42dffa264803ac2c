package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/debug/breakpoint"
	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/dialect"
	"github.com/dshills/scriptdbg/internal/debug/inspect"
)

const prompt = "(dbg) "

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// debugger is the part of the debug adapter the console drives.
type debugger interface {
	Start() error
	Stop() error
	Execute(cmd dialect.Continuation) error
	RunToLine(file string, line int) error
	SetBreakpoint(file string, line int, expr string) error
	RemoveBreakpoint(file string, line int) error
	ToggleBreakpoint(file string, line int, enabled bool) error
	Evaluate(expr string) error
	Status() error
	UserCommand(line string) error
	SetWatch(expr string) error
	RemoveWatch(index int) error
	ToggleWatch(index int, enabled bool) error
	Breakpoints() map[string]map[string]breakpoint.Breakpoint
	Watches() []inspect.Watch
	Find(name string) (*codec.Property, bool)
	Events() <-chan debug.Event
}

type console struct {
	a      debugger
	prompt bool

	mu  sync.Mutex
	out io.Writer
}

func newConsole(a debugger, out io.Writer, interactive bool) *console {
	return &console{a: a, out: out, prompt: interactive}
}

func newScanner(in io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}

// run executes lines until quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, lines <-chan string) error {
	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
			c.showPrompt()
		}
	}
}

// printEvents writes every adapter event until the channel closes.
func (c *console) printEvents(ctx context.Context) error {
	events := c.a.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.printEvent(ev)
		}
	}
}

func (c *console) printEvent(ev debug.Event) {
	text := strings.TrimRight(ev.Text, "\n")
	switch {
	case text == "" && ev.Err != nil:
		text = ev.Err.Error()
	case text == "":
		return
	}
	if strings.Contains(text, "\n") {
		c.printf("[%s]\n%s\n", ev.Kind, text)
		return
	}
	c.printf("[%s] %s\n", ev.Kind, text)
}

func (c *console) exec(line string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "":
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "listen":
		return c.a.Start()
	case "end":
		return c.a.Stop()
	case "bp", "break-at":
		file, lineNo, err := parseLocation(rest)
		if err != nil {
			return err
		}
		return c.a.SetBreakpoint(file, lineNo, conditionOf(rest))
	case "rm":
		file, lineNo, err := parseLocation(rest)
		if err != nil {
			return err
		}
		return c.a.RemoveBreakpoint(file, lineNo)
	case "enable", "disable":
		file, lineNo, err := parseLocation(rest)
		if err != nil {
			return err
		}
		return c.a.ToggleBreakpoint(file, lineNo, name == "enable")
	case "bps":
		return c.printJSON(c.a.Breakpoints())
	case "runto":
		file, lineNo, err := parseLocation(rest)
		if err != nil {
			return err
		}
		return c.a.RunToLine(file, lineNo)
	case "eval", "print", "p":
		if rest == "" {
			return errors.New("eval needs an expression")
		}
		return c.a.Evaluate(rest)
	case "watch":
		if rest == "" {
			return c.printWatches()
		}
		return c.a.SetWatch(rest)
	case "unwatch":
		i, err := parseIndex(rest)
		if err != nil {
			return err
		}
		return c.a.RemoveWatch(i)
	case "watch-on", "watch-off":
		i, err := parseIndex(rest)
		if err != nil {
			return err
		}
		return c.a.ToggleWatch(i, name == "watch-on")
	case "status":
		return c.a.Status()
	case "cmd":
		if rest == "" {
			return errors.New("cmd needs a command line")
		}
		return c.a.UserCommand(rest)
	case "inspect":
		p, ok := c.a.Find(rest)
		if !ok {
			return fmt.Errorf("%s not in the current context", rest)
		}
		return c.printJSON(p)
	}

	cmd, err := dialect.ParseContinuation(name)
	if err != nil {
		return fmt.Errorf("unknown command %q, try help", name)
	}
	return c.a.Execute(cmd)
}

func (c *console) printWatches() error {
	for i, w := range c.a.Watches() {
		mark := "|-|"
		if w.Enabled {
			mark = "|+|"
		}
		c.printf("%d %s %s\n", i, mark, w.Expression)
	}
	return nil
}

func (c *console) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	c.printf("%s\n", data)
	return nil
}

func (c *console) showPrompt() {
	if c.prompt {
		c.printf("%s", prompt)
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// parseLocation reads "file:line" from the start of s. The file may
// itself contain colons.
func parseLocation(s string) (string, int, error) {
	loc, _, _ := strings.Cut(s, " ")
	i := strings.LastIndex(loc, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("expected file:line, got %q", loc)
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line in %q", loc)
	}
	return loc[:i], line, nil
}

// conditionOf returns what follows the location.
func conditionOf(s string) string {
	_, cond, _ := strings.Cut(s, " ")
	return strings.TrimSpace(cond)
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid watch index %q", s)
	}
	return i, nil
}

var helpText = func() string {
	cmds := [][2]string{
		{"run | step_into | step_over | step_out | break", "continue execution"},
		{"stop | detach", "end the script or let it run free"},
		{"bp FILE:LINE [COND]", "set a breakpoint"},
		{"rm FILE:LINE", "remove a breakpoint"},
		{"enable | disable FILE:LINE", "toggle a breakpoint"},
		{"bps", "list breakpoints"},
		{"runto FILE:LINE", "run to a line"},
		{"eval EXPR", "evaluate an expression"},
		{"watch [EXPR]", "add a watch or list watches"},
		{"unwatch N", "remove watch N"},
		{"watch-on | watch-off N", "toggle watch N"},
		{"inspect NAME", "show a variable from the last break"},
		{"status", "show the execution status"},
		{"cmd LINE", "send a raw engine command"},
		{"listen | end", "start or end the session"},
		{"quit", "exit"},
	}
	var sb strings.Builder
	for _, c := range cmds {
		fmt.Fprintf(&sb, "  %-48s %s\n", c[0], c[1])
	}
	return sb.String()
}()

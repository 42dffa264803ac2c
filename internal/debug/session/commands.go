package session

import (
	"fmt"

	"github.com/dshills/scriptdbg/internal/debug/codec"
	"github.com/dshills/scriptdbg/internal/debug/wire"
)

// Commands the GRLD engine pushes without being asked.
const (
	// CommandBreak announces a stop. It is followed by the file and line.
	CommandBreak = "break"
	// CommandSynchronize asks the client to resend its breakpoints.
	CommandSynchronize = "synchronize"
)

// argCount is the number of values that follow each pushed command.
var argCount = map[string]int{
	CommandBreak:       2,
	CommandSynchronize: 0,
}

// Command is an unsolicited command pushed by the engine.
type Command struct {
	Name string
	Args []any
}

// CommandHandler handles a pushed command. It runs inside the exchange
// that found the command and may use tx to answer the engine.
type CommandHandler func(tx *Tx, cmd Command) error

// OnCommand registers a handler for a pushed command.
func (s *Session) OnCommand(name string, h CommandHandler) {
	s.handlersMu.Lock()
	s.commands[name] = append(s.commands[name], h)
	s.handlersMu.Unlock()
}

func (s *Session) pushedCommand(f wire.Frame) (string, bool) {
	v, err := codec.DecodeLua(f.Payload)
	if err != nil {
		return "", false
	}
	name, ok := v.(string)
	if !ok {
		return "", false
	}
	if _, known := argCount[name]; !known {
		return "", false
	}
	return name, true
}

func (tx *Tx) handleCommand(name string) error {
	cmd := Command{Name: name}
	for range argCount[name] {
		f, err := tx.readFrame()
		if err != nil {
			return err
		}
		v, err := codec.DecodeLua(f.Payload)
		if err != nil {
			return fmt.Errorf("%s command argument: %w", name, err)
		}
		cmd.Args = append(cmd.Args, v)
	}

	pushedCommands.WithLabelValues(name).Inc()
	tx.s.log.WithField("args", cmd.Args).Debugf("engine pushed %s", name)

	tx.s.handlersMu.RLock()
	handlers := append([]CommandHandler(nil), tx.s.commands[name]...)
	tx.s.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := h(tx, cmd); err != nil {
			return fmt.Errorf("handle %s: %w", name, err)
		}
	}
	return nil
}

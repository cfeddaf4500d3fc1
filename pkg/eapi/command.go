// Package eapi implements the runCmds batch protocol used to execute commands
// on network devices over JSON-RPC. It builds wire requests from an ordered
// list of commands and turns replies, including partial ones from aborted
// batches, into an indexed per-command result set.
package eapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Command is a single device command. The only implementations are
// SimpleCommand and ComplexCommand.
type Command interface {
	// Text returns the command line as typed on the device.
	Text() string
	isCommand()
}

// SimpleCommand is a plain command line, sent on the wire as a bare string.
type SimpleCommand string

// Text returns the command line.
func (c SimpleCommand) Text() string { return string(c) }

func (SimpleCommand) isCommand() {}

// ComplexCommand is sent on the wire as an object. Params carries extra keys
// such as "input" for commands that prompt (e.g. enable).
type ComplexCommand struct {
	Cmd      string
	Params   map[string]any
	Revision int // 0 = not requested
}

// Text returns the command line.
func (c ComplexCommand) Text() string { return c.Cmd }

func (ComplexCommand) isCommand() {}

// MarshalJSON encodes the command as {"cmd": ..., "revision": ..., <params>}.
// "cmd" and "revision" always win over same-named params.
func (c ComplexCommand) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(c.Params)+2)
	maps.Copy(obj, c.Params)
	obj["cmd"] = c.Cmd
	if c.Revision > 0 {
		obj["revision"] = c.Revision
	} else {
		delete(obj, "revision")
	}
	return json.Marshal(obj)
}

// Simple returns a SimpleCommand.
func Simple(text string) Command {
	return SimpleCommand(text)
}

// Complex returns a ComplexCommand. Params is copied.
func Complex(text string, params map[string]any, revision int) Command {
	var p map[string]any
	if len(params) > 0 {
		p = maps.Clone(params)
	}
	return ComplexCommand{Cmd: text, Params: p, Revision: revision}
}

// SimpleCommands converts command lines into SimpleCommands, preserving order.
func SimpleCommands(texts ...string) []Command {
	cmds := make([]Command, len(texts))
	for i, t := range texts {
		cmds[i] = SimpleCommand(t)
	}
	return cmds
}

// decodeCommand decodes one element of a "cmds" array.
func decodeCommand(raw json.RawMessage) (Command, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return SimpleCommand(s), nil
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		text, ok := obj["cmd"].(string)
		if !ok {
			return nil, fmt.Errorf("command object without string \"cmd\": %s", raw)
		}
		delete(obj, "cmd")

		cmd := ComplexCommand{Cmd: text}
		if rev, ok := obj["revision"]; ok {
			n, ok := rev.(float64)
			if !ok || n != float64(int(n)) || n < 1 {
				return nil, fmt.Errorf("command %q: invalid revision %v", text, rev)
			}
			cmd.Revision = int(n)
			delete(obj, "revision")
		}
		if len(obj) > 0 {
			cmd.Params = obj
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("command must be a string or an object, got %s", raw)
	}
}

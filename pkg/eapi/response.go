package eapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NotExecutedMessage is the error recorded for commands skipped after an
// earlier failure in a stop-on-error batch.
const NotExecutedMessage = "command not executed due to previous error"

// emptyErrorsMessage stands in when a device reports an empty "errors" list,
// so that a failed command always carries at least one error.
const emptyErrorsMessage = "command failed without error details"

// JSONRPCResponse is a runCmds reply envelope.
type JSONRPCResponse struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	ID      string            `json:"id"`
	Result  []json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError     `json:"error,omitempty"`
}

// JSONRPCError is the top-level error of a reply. Data holds one payload per
// command the device ran before giving up.
type JSONRPCError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data,omitempty"`
}

// ParseOptions controls ParseResponse.
type ParseOptions struct {
	// RaiseOnError returns a *CommandError instead of a ResponseSet when the
	// reply carries a top-level error.
	RaiseOnError bool
}

// DecodeResponse decodes a raw reply envelope.
func DecodeResponse(data []byte) (*JSONRPCResponse, error) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed reply", Err: err}
	}
	return &resp, nil
}

// Parse decodes a raw reply and parses it against req.
func Parse(data []byte, req *Request, opts ParseOptions) (*ResponseSet, error) {
	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, err
	}
	return ParseResponse(resp, req, opts)
}

// ParseResponse builds the ResponseSet for req from its reply.
//
// The payload array is error.data when the reply failed and result
// otherwise. Payloads beyond the command count are ignored. When the batch
// failed under stop-on-error, commands after the last payload are recorded
// as not executed. When it failed without stop-on-error the device ran every
// command, so the payload count must match the command count exactly.
func ParseResponse(resp *JSONRPCResponse, req *Request, opts ParseOptions) (*ResponseSet, error) {
	hasError := resp.Error != nil
	payload := resp.Result
	if hasError {
		payload = resp.Error.Data
	}

	total := len(req.Commands)
	if hasError && !req.StopOnError && len(payload) != total {
		return nil, &ProtocolError{
			Reason:   "run-to-completion error reply does not cover every command",
			Commands: total,
			Payloads: len(payload),
		}
	}

	executed := min(len(payload), total)
	size := executed
	if hasError && req.StopOnError {
		size = total
	}

	b := newResponseBuilder(resp.ID, executed, size)
	for i := 0; i < executed; i++ {
		b.add(parsePayload(req.Commands[i].Text(), payload[i], req.Format, req.Timestamps))
	}
	for i := executed; i < size; i++ {
		b.add(CommandResult{
			Command: req.Commands[i].Text(),
			Errors:  []string{NotExecutedMessage},
		})
	}
	if hasError {
		b.fail(resp.Error.Code, resp.Error.Message)
	}
	rs := b.build()

	if opts.RaiseOnError && hasError {
		return nil, &CommandError{Breakdown: rs.Breakdown()}
	}
	return rs, nil
}

// parsePayload normalizes the reply element of one executed command.
func parsePayload(command string, raw json.RawMessage, format Format, timestamps bool) CommandResult {
	res := CommandResult{Command: command, WasExecuted: true}

	v, err := decodeValue(raw)
	if err != nil {
		res.Output = string(raw)
		res.Success = true
		return res
	}

	switch val := v.(type) {
	case map[string]any:
		if timestamps {
			if meta, ok := val["_meta"].(map[string]any); ok {
				res.StartTime = floatField(meta, "execStartTime")
				res.Duration = floatField(meta, "execDuration")
				delete(val, "_meta")
			}
		}
		if errs, ok := val["errors"]; ok {
			res.Errors = errorStrings(errs)
			if len(res.Errors) == 0 {
				res.Errors = []string{emptyErrorsMessage}
			}
		} else if out, ok := val["output"]; ok && format == FormatText {
			res.Output = out
		} else {
			res.Output = val
		}
	case string:
		if decoded, err := decodeValue([]byte(val)); err == nil {
			res.Output = decoded
		} else {
			res.Output = val
		}
	default:
		res.Output = val
	}

	res.Success = len(res.Errors) == 0
	return res
}

// decodeValue decodes one JSON document keeping numbers as json.Number,
// so 64-bit counters survive exactly.
func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func floatField(m map[string]any, key string) *float64 {
	var f float64
	switch n := m[key].(type) {
	case json.Number:
		v, err := n.Float64()
		if err != nil {
			return nil
		}
		f = v
	case float64:
		f = n
	default:
		return nil
	}
	return &f
}

func errorStrings(v any) []string {
	switch errs := v.(type) {
	case []any:
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	case string:
		return []string{errs}
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(errs)}
	}
}

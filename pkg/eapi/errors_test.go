package eapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPayloads(t *testing.T, items ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		require.True(t, json.Valid([]byte(s)), "invalid test payload %q", s)
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestAggregate_StopOnError(t *testing.T) {
	req := NewRequest(threeCommands, fixedID("agg"))
	rpcErr := &JSONRPCError{
		Code:    1002,
		Message: "CLI command 2 of 3 'bad command' failed: invalid command",
		Data:    rawPayloads(t, `{"modelName":"vEOS"}`, `{"errors":["invalid command"]}`),
	}

	cmdErr, err := Aggregate(rpcErr, req)
	require.NoError(t, err)

	assert.Equal(t, "agg", cmdErr.RequestID)
	assert.Equal(t, 1002, cmdErr.Code)
	assert.Equal(t, []int{0}, cmdErr.PassedIndexes())
	assert.Equal(t, []int{1, 2}, cmdErr.FailedIndexes())
	assert.Equal(t, []int{2}, cmdErr.NotExecutedIndexes())
	assert.Equal(t, []string{"show interfaces"}, cmdErr.NotExecuted())

	failed := cmdErr.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad command", failed[0].Command)
	assert.Equal(t, []string{"invalid command"}, failed[0].Errors)

	passed := cmdErr.Passed()
	require.Len(t, passed, 1)
	assert.Equal(t, map[string]any{"modelName": "vEOS"}, passed[0].Output)
}

func TestAggregate_RunToCompletion(t *testing.T) {
	req := NewRequest(threeCommands, WithStopOnError(false))
	rpcErr := &JSONRPCError{
		Code:    1002,
		Message: "CLI command 2 of 3 'bad command' failed: invalid command",
		Data:    rawPayloads(t, `{"modelName":"vEOS"}`, `{"errors":["invalid command"]}`, `{"interfaces":{}}`),
	}

	cmdErr, err := Aggregate(rpcErr, req)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, cmdErr.PassedIndexes())
	assert.Equal(t, []int{1}, cmdErr.FailedIndexes())
	assert.Empty(t, cmdErr.NotExecutedIndexes())
	assert.Empty(t, cmdErr.NotExecuted())
	for _, r := range cmdErr.Results {
		assert.True(t, r.WasExecuted)
	}
}

func TestAggregate_RunToCompletionMismatch(t *testing.T) {
	req := NewRequest(threeCommands, WithStopOnError(false))

	tests := []struct {
		name     string
		payloads []string
	}{
		{"short", []string{`{}`, `{"errors":["x"]}`}},
		{"long", []string{`{}`, `{"errors":["x"]}`, `{}`, `{}`}},
		{"none", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := &JSONRPCError{Code: 1002, Message: "m", Data: rawPayloads(t, tt.payloads...)}
			cmdErr, err := Aggregate(rpcErr, req)
			assert.Nil(t, cmdErr)

			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "want *ProtocolError, got %T", err)
			assert.Equal(t, len(tt.payloads), perr.Payloads)
		})
	}
}

func TestAggregate_NilError(t *testing.T) {
	_, err := Aggregate(nil, NewRequest(threeCommands))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestCommandError_Message(t *testing.T) {
	req := NewRequest(SimpleCommands("show version", "bad"))
	cmdErr, err := Aggregate(&JSONRPCError{
		Code:    1002,
		Message: "invalid command",
		Data:    rawPayloads(t, `{}`, `{"errors":["% Invalid input","at line 1"]}`),
	}, req)
	require.NoError(t, err)

	assert.Equal(t, `eapi: error 1002: invalid command ("bad": % Invalid input; at line 1)`, cmdErr.Error())

	wrapped := fmt.Errorf("leaf1: %w", cmdErr)
	var target *CommandError
	require.True(t, errors.As(wrapped, &target))
	assert.Same(t, cmdErr, target)
	assert.ErrorIs(t, wrapped, ErrCommandFailed)
}

func TestBreakdown_FirstFailedSkipsNotExecuted(t *testing.T) {
	b := &Breakdown{Results: []CommandResult{
		{Command: "a", Success: true, WasExecuted: true},
		{Command: "b", Errors: []string{NotExecutedMessage}},
	}}
	_, ok := b.FirstFailed()
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, b.NotExecuted())
}

func TestProtocolError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected EOF")
	err := &ProtocolError{Reason: "malformed reply", Err: inner}

	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{URL: "https://leaf1/command-api", Err: inner}

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, inner)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "eapi: https://leaf1/command-api: connection refused", err.Error())

	withStatus := &TransportError{URL: "u", StatusCode: 401, Err: errors.New("Unauthorized")}
	assert.Equal(t, "eapi: u: HTTP 401: Unauthorized", withStatus.Error())
}

// Package testutil provides test helpers for unit and integration tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/newtron-network/eapitest/pkg/eapi"
)

// FakeSwitch is an in-process eAPI endpoint. Commands answer with the
// outputs registered through Reply/ReplySeq/Fail/SoftFail; anything else
// fails with "% Invalid input".
type FakeSwitch struct {
	Username string
	Password string

	mu       sync.Mutex
	replies  map[string][]any
	failures map[string][]string
	soft     map[string][]string
	calls    map[string]int
	requests []*eapi.Request
	srv      *httptest.Server
}

// NewFakeSwitch starts a FakeSwitch that accepts admin/admin. The server is
// closed when the test ends.
func NewFakeSwitch(t *testing.T) *FakeSwitch {
	t.Helper()
	f := &FakeSwitch{
		Username: "admin",
		Password: "admin",
		replies:  make(map[string][]any),
		failures: make(map[string][]string),
		soft:     make(map[string][]string),
		calls:    make(map[string]int),
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

// Reply registers the output of cmd. Strings are sent as text output.
func (f *FakeSwitch) Reply(cmd string, output any) *FakeSwitch {
	return f.ReplySeq(cmd, output)
}

// ReplySeq registers successive outputs of cmd; the last one repeats.
func (f *FakeSwitch) ReplySeq(cmd string, outputs ...any) *FakeSwitch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = outputs
	delete(f.failures, cmd)
	delete(f.soft, cmd)
	return f
}

// Fail makes cmd fail with errs.
func (f *FakeSwitch) Fail(cmd string, errs ...string) *FakeSwitch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[cmd] = errs
	delete(f.replies, cmd)
	delete(f.soft, cmd)
	return f
}

// SoftFail makes cmd report errs inside its result without failing the
// batch: the reply carries no top-level error and later commands still run.
func (f *FakeSwitch) SoftFail(cmd string, errs ...string) *FakeSwitch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.soft[cmd] = errs
	delete(f.replies, cmd)
	delete(f.failures, cmd)
	return f
}

// Calls returns how many times cmd was executed.
func (f *FakeSwitch) Calls(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

// Requests returns the decoded requests received so far.
func (f *FakeSwitch) Requests() []*eapi.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*eapi.Request(nil), f.requests...)
}

// URL is the base URL of the server.
func (f *FakeSwitch) URL() string { return f.srv.URL }

// HTTPOptions returns transport options pointing at the server.
func (f *FakeSwitch) HTTPOptions() eapi.HTTPOptions {
	u, _ := url.Parse(f.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return eapi.HTTPOptions{
		Host:     u.Hostname(),
		Port:     port,
		Scheme:   "http",
		Username: f.Username,
		Password: f.Password,
	}
}

// Device returns an eapi.Device connected to the server.
func (f *FakeSwitch) Device(name string) *eapi.Device {
	return &eapi.Device{Name: name, Transport: eapi.NewHTTPTransport(f.HTTPOptions())}
}

func (f *FakeSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/command-api" {
		http.NotFound(w, r)
		return
	}
	if user, pass, ok := r.BasicAuth(); !ok || user != f.Username || pass != f.Password {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := eapi.ParseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := f.run(req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *FakeSwitch) run(req *eapi.Request) eapi.JSONRPCResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var (
		payloads []json.RawMessage
		failed   = -1
		failMsg  string
	)
	for i, c := range req.Commands {
		text := c.Text()
		f.calls[text]++

		if errs, ok := f.soft[text]; ok {
			payloads = append(payloads, encodePayload(map[string]any{"errors": errs}, i, req))
			continue
		}

		payload, errs := f.output(text, req.Format)
		if errs != nil {
			payload = map[string]any{"errors": errs}
			if failed < 0 {
				failed = i
				failMsg = errs[0]
			}
		}
		payloads = append(payloads, encodePayload(payload, i, req))

		if errs != nil && req.StopOnError {
			break
		}
	}

	resp := eapi.JSONRPCResponse{JSONRPC: eapi.JSONRPCVersion, ID: req.ID}
	if failed < 0 {
		resp.Result = payloads
		return resp
	}
	resp.Error = &eapi.JSONRPCError{
		Code: 1002,
		Message: fmt.Sprintf("CLI command %d of %d '%s' failed: %s",
			failed+1, len(req.Commands), req.Commands[failed].Text(), failMsg),
		Data: payloads,
	}
	return resp
}

// encodePayload adds timing metadata when the request asked for it.
func encodePayload(payload map[string]any, i int, req *eapi.Request) json.RawMessage {
	if req.Timestamps {
		payload["_meta"] = map[string]any{"execStartTime": 1700000000.0 + float64(i), "execDuration": 0.01}
	}
	b, _ := json.Marshal(payload)
	return b
}

// output must be called with mu held.
func (f *FakeSwitch) output(cmd string, format eapi.Format) (map[string]any, []string) {
	if errs, ok := f.failures[cmd]; ok {
		return nil, errs
	}
	seq, ok := f.replies[cmd]
	if !ok || len(seq) == 0 {
		return nil, []string{"% Invalid input"}
	}
	out := seq[min(f.calls[cmd], len(seq))-1]

	switch v := out.(type) {
	case string:
		return map[string]any{"output": v}, nil
	case map[string]any:
		if format == eapi.FormatText {
			b, _ := json.MarshalIndent(v, "", "  ")
			return map[string]any{"output": string(b)}, nil
		}
		cp := make(map[string]any, len(v))
		for k, val := range v {
			cp[k] = val
		}
		return cp, nil
	default:
		b, _ := json.Marshal(v)
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return map[string]any{"output": string(b)}, nil
		}
		return m, nil
	}
}

package eapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtron-network/eapitest/pkg/cache"
	"github.com/newtron-network/eapitest/pkg/util"
	"github.com/newtron-network/eapitest/pkg/version"
)

// fakeSwitch answers runCmds like a device: "show version" succeeds,
// anything starting with "bad" fails, and stop-on-error is honored.
type fakeSwitch struct {
	t     *testing.T
	calls atomic.Int32
}

func (f *fakeSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	if r.Method != http.MethodPost || r.URL.Path != "/command-api" {
		http.NotFound(w, r)
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "admin" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json-rpc" {
		f.t.Errorf("Content-Type = %q", ct)
	}
	if ua := r.Header.Get("User-Agent"); ua != version.UserAgent() {
		f.t.Errorf("User-Agent = %q", ua)
	}

	body, _ := io.ReadAll(r.Body)
	req, err := ParseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payloads []json.RawMessage
	failed := false
	for _, c := range req.Commands {
		if len(c.Text()) >= 3 && c.Text()[:3] == "bad" {
			payloads = append(payloads, json.RawMessage(`{"errors":["Invalid input"]}`))
			failed = true
			if req.StopOnError {
				break
			}
			continue
		}
		payloads = append(payloads, json.RawMessage(`{"modelName":"vEOS","command":`+strconv.Quote(c.Text())+`}`))
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if failed {
		resp.Error = &JSONRPCError{Code: 1002, Message: "CLI command failed", Data: payloads}
	} else {
		resp.Result = payloads
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestDevice(t *testing.T, h http.Handler, password string) *Device {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return &Device{
		Name: "leaf1",
		Transport: NewHTTPTransport(HTTPOptions{
			Host:     u.Hostname(),
			Port:     port,
			Scheme:   "http",
			Username: "admin",
			Password: password,
		}),
	}
}

func TestDevice_RunCommands(t *testing.T) {
	sw := &fakeSwitch{t: t}
	dev := newTestDevice(t, sw, "admin")

	rs, err := dev.RunCommands(context.Background(), SimpleCommands("show version", "show clock"))
	require.NoError(t, err)

	assert.True(t, rs.Success())
	assert.Equal(t, 2, rs.Len())
	out, _ := rs.Output(1)
	assert.Equal(t, "show clock", out.(map[string]any)["command"])
}

func TestDevice_StopOnErrorReply(t *testing.T) {
	dev := newTestDevice(t, &fakeSwitch{t: t}, "admin")

	rs, err := dev.RunCommands(context.Background(), SimpleCommands("show version", "bad cmd", "show clock"))
	require.NoError(t, err)

	assert.False(t, rs.Success())
	assert.Equal(t, 2, rs.ExecutedCount())
	assert.Equal(t, []int{2}, rs.NotExecutedIndexes())
}

func TestDevice_RaiseOnError(t *testing.T) {
	dev := newTestDevice(t, &fakeSwitch{t: t}, "admin")
	req := NewRequest(SimpleCommands("bad one", "show version"), WithStopOnError(false))

	rs, err := dev.Run(context.Background(), req, RunOptions{RaiseOnError: true})
	assert.Nil(t, rs)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, []int{0}, cmdErr.FailedIndexes())
	assert.Equal(t, []int{1}, cmdErr.PassedIndexes())
}

func TestDevice_TransportErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		dev := newTestDevice(t, &fakeSwitch{t: t}, "wrong")
		_, err := dev.RunCommands(context.Background(), SimpleCommands("show version"))

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("malformed reply", func(t *testing.T) {
		dev := newTestDevice(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>login</html>"))
		}), "admin")
		_, err := dev.RunCommands(context.Background(), SimpleCommands("show version"))
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("cancelled", func(t *testing.T) {
		dev := newTestDevice(t, &fakeSwitch{t: t}, "admin")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := dev.RunCommands(ctx, SimpleCommands("show version"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("no transport", func(t *testing.T) {
		dev := &Device{Name: "leaf9"}
		_, err := dev.RunCommands(context.Background(), SimpleCommands("show version"))
		assert.ErrorIs(t, err, util.ErrNotConnected)
	})
}

func TestDevice_ReplyCache(t *testing.T) {
	sw := &fakeSwitch{t: t}
	dev := newTestDevice(t, sw, "admin")
	dev.Cache = cache.NewMemoryCache()
	ctx := context.Background()

	run := func(opts RunOptions, cmds ...string) *ResponseSet {
		t.Helper()
		rs, err := dev.Run(ctx, NewRequest(SimpleCommands(cmds...)), opts)
		require.NoError(t, err)
		return rs
	}

	first := run(RunOptions{UseCache: true}, "show version")
	second := run(RunOptions{UseCache: true}, "show version")
	assert.Equal(t, int32(1), sw.calls.Load(), "second identical batch must be served from cache")
	assert.Equal(t, first.Results(), second.Results())

	run(RunOptions{}, "show version")
	assert.Equal(t, int32(2), sw.calls.Load(), "UseCache=false must bypass the cache")

	run(RunOptions{UseCache: true}, "show version", "show clock")
	assert.Equal(t, int32(3), sw.calls.Load(), "different batches use different keys")

	run(RunOptions{UseCache: true}, "bad cmd")
	run(RunOptions{UseCache: true}, "bad cmd")
	assert.Equal(t, int32(5), sw.calls.Load(), "failed batches are not cached")
}

func TestReplyCacheKey_IgnoresID(t *testing.T) {
	a := NewRequest(SimpleCommands("show version"), WithID("a"))
	b := NewRequest(SimpleCommands("show version"), WithID("b"))
	c := NewRequest(SimpleCommands("show version"), WithID("a"), WithFormat(FormatText))

	assert.Equal(t, replyCacheKey(a), replyCacheKey(b))
	assert.NotEqual(t, replyCacheKey(a), replyCacheKey(c))
}

func TestHTTPTransport_URL(t *testing.T) {
	tr := NewHTTPTransport(HTTPOptions{Host: "10.0.0.1"})
	assert.Equal(t, "https://10.0.0.1/command-api", tr.URL())

	tr = NewHTTPTransport(HTTPOptions{Host: "fe80::1", Port: 8443})
	assert.Equal(t, "https://[fe80::1]:8443/command-api", tr.URL())
}

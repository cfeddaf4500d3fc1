package eapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newtron-network/eapitest/pkg/version"
)

// Transport moves an encoded request to a device and returns the raw reply.
// Implementations own cancellation, timeouts and authentication.
type Transport interface {
	Do(ctx context.Context, body []byte) ([]byte, error)
}

// DialContextFunc opens the TCP connection used by HTTPTransport.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Host     string
	Port     int    // 0 = scheme default
	Scheme   string // "https" (default) or "http"
	Username string
	Password string
	Insecure bool // skip TLS certificate verification
	Timeout  time.Duration
	Dial     DialContextFunc // nil = direct connection
}

// HTTPTransport posts runCmds envelopes to the device's /command-api endpoint.
type HTTPTransport struct {
	url      string
	username string
	password string
	client   *http.Client
}

const defaultHTTPTimeout = 30 * time.Second

// maxErrorBody bounds how much of a non-2xx body ends up in an error.
const maxErrorBody = 512

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := opts.Host
	if opts.Port != 0 {
		host = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure}, //nolint:gosec // lab devices use self-signed certificates
	}
	if opts.Dial != nil {
		tr.DialContext = opts.Dial
	}

	return &HTTPTransport{
		url:      fmt.Sprintf("%s://%s/command-api", scheme, host),
		username: opts.Username,
		password: opts.Password,
		client:   &http.Client{Timeout: timeout, Transport: tr},
	}
}

// URL returns the endpoint the transport posts to.
func (t *HTTPTransport) URL() string { return t.url }

// Do posts body and returns the reply body. Non-2xx statuses are errors;
// JSON-RPC errors arrive with 200 and are left to the parser.
func (t *HTTPTransport) Do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: t.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: t.url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: t.url, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody] + "..."
		}
		if snippet == "" {
			snippet = http.StatusText(resp.StatusCode)
		}
		return nil, &TransportError{URL: t.url, StatusCode: resp.StatusCode, Err: errors.New(snippet)}
	}
	return data, nil
}

// CloseIdleConnections releases pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

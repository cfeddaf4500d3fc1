package eapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Wire constants for the batch execution call.
const (
	JSONRPCVersion = "2.0"
	MethodRunCmds  = "runCmds"
)

// Format is the output format requested for every command in a batch.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatText:
		return Format(s), nil
	}
	return "", fmt.Errorf("invalid format %q (expected json or text)", s)
}

// Version is the command output model version. LatestVersion is sent as
// the string "latest"; any positive value is sent as an integer.
type Version int

// LatestVersion asks the device for its newest output models.
const LatestVersion Version = 0

func (v Version) String() string {
	if v == LatestVersion {
		return "latest"
	}
	return strconv.Itoa(int(v))
}

// MarshalJSON encodes "latest" or the integer version.
func (v Version) MarshalJSON() ([]byte, error) {
	if v == LatestVersion {
		return []byte(`"latest"`), nil
	}
	return []byte(strconv.Itoa(int(v))), nil
}

// UnmarshalJSON accepts "latest" or a positive integer.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseVersion(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid version %s", data)
	}
	if n < 1 {
		return fmt.Errorf("invalid version %d", n)
	}
	*v = Version(n)
	return nil
}

// ParseVersion parses "latest" or a positive integer.
func ParseVersion(s string) (Version, error) {
	if s == "latest" {
		return LatestVersion, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version %q (expected latest or a positive integer)", s)
	}
	return Version(n), nil
}

// IDGenerator produces correlation ids for requests that do not set one.
type IDGenerator func() string

// NewID returns a random UUIDv4 as 32 hex characters.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Request is one batch of commands plus execution options. Build it with
// NewRequest and treat it as read-only afterwards.
type Request struct {
	Commands      []Command
	Version       Version
	Format        Format
	Timestamps    bool
	AutoComplete  bool
	ExpandAliases bool
	StopOnError   bool
	ID            string
}

// RequestOption customizes NewRequest.
type RequestOption func(*requestConfig)

type requestConfig struct {
	req   Request
	idgen IDGenerator
}

// WithVersion sets the output model version.
func WithVersion(v Version) RequestOption {
	return func(c *requestConfig) { c.req.Version = v }
}

// WithFormat sets the output format.
func WithFormat(f Format) RequestOption {
	return func(c *requestConfig) { c.req.Format = f }
}

// WithTimestamps asks the device to report per-command execution timing.
func WithTimestamps(on bool) RequestOption {
	return func(c *requestConfig) { c.req.Timestamps = on }
}

// WithAutoComplete lets the device complete abbreviated commands.
func WithAutoComplete(on bool) RequestOption {
	return func(c *requestConfig) { c.req.AutoComplete = on }
}

// WithExpandAliases lets the device expand command aliases.
func WithExpandAliases(on bool) RequestOption {
	return func(c *requestConfig) { c.req.ExpandAliases = on }
}

// WithStopOnError controls whether the device aborts the batch at the first
// failing command. The default is true.
func WithStopOnError(on bool) RequestOption {
	return func(c *requestConfig) { c.req.StopOnError = on }
}

// WithID sets a fixed correlation id.
func WithID(id string) RequestOption {
	return func(c *requestConfig) { c.req.ID = id }
}

// WithIDGenerator replaces the generator used when no id is set.
func WithIDGenerator(gen IDGenerator) RequestOption {
	return func(c *requestConfig) { c.idgen = gen }
}

// NewRequest builds a Request. Defaults: latest version, json format,
// stop-on-error, and an id from NewID. The command slice is copied.
func NewRequest(commands []Command, opts ...RequestOption) *Request {
	c := requestConfig{
		req: Request{
			Version:     LatestVersion,
			Format:      FormatJSON,
			StopOnError: true,
		},
		idgen: NewID,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.req.Commands = make([]Command, len(commands))
	copy(c.req.Commands, commands)
	if c.req.ID == "" {
		c.req.ID = c.idgen()
	}
	return &c.req
}

// CommandTexts returns the command lines in request order.
func (r *Request) CommandTexts() []string {
	texts := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		texts[i] = c.Text()
	}
	return texts
}

// JSONRPCRequest is the runCmds wire envelope.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  RunCmdsParams `json:"params"`
}

// RunCmdsParams is the "params" object of a runCmds call.
type RunCmdsParams struct {
	Version       Version   `json:"version"`
	Cmds          []Command `json:"cmds"`
	Format        Format    `json:"format"`
	Timestamps    bool      `json:"timestamps"`
	AutoComplete  bool      `json:"autoComplete"`
	ExpandAliases bool      `json:"expandAliases"`
	StopOnError   bool      `json:"stopOnError"`
}

// UnmarshalJSON decodes "cmds" elements into SimpleCommand or ComplexCommand.
func (p *RunCmdsParams) UnmarshalJSON(data []byte) error {
	type plain RunCmdsParams
	var aux struct {
		plain
		Cmds []json.RawMessage `json:"cmds"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = RunCmdsParams(aux.plain)
	p.Cmds = make([]Command, len(aux.Cmds))
	for i, raw := range aux.Cmds {
		cmd, err := decodeCommand(raw)
		if err != nil {
			return fmt.Errorf("cmds[%d]: %w", i, err)
		}
		p.Cmds[i] = cmd
	}
	return nil
}

// JSONRPC returns the wire envelope for the request.
func (r *Request) JSONRPC() JSONRPCRequest {
	cmds := make([]Command, len(r.Commands))
	copy(cmds, r.Commands)
	return JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		Method:  MethodRunCmds,
		ID:      r.ID,
		Params: RunCmdsParams{
			Version:       r.Version,
			Cmds:          cmds,
			Format:        r.Format,
			Timestamps:    r.Timestamps,
			AutoComplete:  r.AutoComplete,
			ExpandAliases: r.ExpandAliases,
			StopOnError:   r.StopOnError,
		},
	}
}

// Marshal encodes the wire envelope.
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r.JSONRPC())
}

// ParseRequest decodes a runCmds envelope back into a Request.
func ParseRequest(data []byte) (*Request, error) {
	var env JSONRPCRequest
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if env.Method != MethodRunCmds {
		return nil, fmt.Errorf("unexpected method %q", env.Method)
	}
	if _, err := ParseFormat(string(env.Params.Format)); err != nil {
		return nil, err
	}
	return &Request{
		Commands:      env.Params.Cmds,
		Version:       env.Params.Version,
		Format:        env.Params.Format,
		Timestamps:    env.Params.Timestamps,
		AutoComplete:  env.Params.AutoComplete,
		ExpandAliases: env.Params.ExpandAliases,
		StopOnError:   env.Params.StopOnError,
		ID:            env.ID,
	}, nil
}

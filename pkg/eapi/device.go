package eapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/eapitest/pkg/cache"
	"github.com/newtron-network/eapitest/pkg/util"
)

// DefaultCacheTTL is used when a Device has a Cache but no CacheTTL.
const DefaultCacheTTL = 60 * time.Second

// Device runs command batches on one device.
type Device struct {
	Name      string
	Transport Transport

	// Cache, when set, keeps replies of successful batches run with
	// RunOptions.UseCache. Keys ignore the request id.
	Cache    cache.Cache
	CacheTTL time.Duration
}

// RunOptions controls Device.Run.
type RunOptions struct {
	// RaiseOnError returns a *CommandError for replies with a top-level error.
	RaiseOnError bool
	// UseCache serves the reply from Cache when possible. Only set it for
	// read-only batches.
	UseCache bool
}

// Run sends req and parses the reply. Transport failures come back as
// *TransportError, broken replies as *ProtocolError.
func (d *Device) Run(ctx context.Context, req *Request, opts RunOptions) (*ResponseSet, error) {
	if d.Transport == nil {
		return nil, fmt.Errorf("%s: %w", d.Name, util.ErrNotConnected)
	}
	log := util.WithFields(map[string]interface{}{"device": d.Name, "request": req.ID})
	parseOpts := ParseOptions{RaiseOnError: opts.RaiseOnError}

	var key string
	if opts.UseCache && d.Cache != nil {
		key = replyCacheKey(req)
		raw, ok, err := d.Cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warnf("reply cache lookup failed: %v", err)
		case ok:
			log.Debugf("reply cache hit for %d commands", len(req.Commands))
			resp, err := DecodeResponse(raw)
			if err != nil {
				return nil, err
			}
			resp.ID = req.ID
			return ParseResponse(resp, req, parseOpts)
		}
	}

	body, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	raw, err := d.Transport.Do(ctx, body)
	if err != nil {
		return nil, err
	}
	log.Debugf("runCmds: %d commands in %s", len(req.Commands), time.Since(start).Round(time.Millisecond))

	resp, err := DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	rs, err := ParseResponse(resp, req, parseOpts)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			log.Debugf("batch failed: %v", err)
		}
		return nil, err
	}

	if key != "" && resp.Error == nil {
		ttl := d.CacheTTL
		if ttl == 0 {
			ttl = DefaultCacheTTL
		}
		if err := d.Cache.Set(ctx, key, raw, ttl); err != nil {
			log.Warnf("reply cache store failed: %v", err)
		}
	}
	if code, ok := rs.ErrorCode(); ok {
		log.Debugf("batch failed: error %d: %s", code, rs.ErrorMessage())
	} else if failed := rs.FailedIndexes(); len(failed) > 0 {
		log.Debugf("%d command(s) failed at indexes %v", len(failed), failed)
	}
	return rs, nil
}

// RunCommands builds a request from cmds and runs it with default options.
func (d *Device) RunCommands(ctx context.Context, cmds []Command, opts ...RequestOption) (*ResponseSet, error) {
	return d.Run(ctx, NewRequest(cmds, opts...), RunOptions{})
}

// replyCacheKey covers everything that shapes the reply except the id.
func replyCacheKey(req *Request) string {
	parts := []string{
		MethodRunCmds,
		req.Version.String(),
		string(req.Format),
		fmt.Sprintf("ts=%t ac=%t ea=%t soe=%t", req.Timestamps, req.AutoComplete, req.ExpandAliases, req.StopOnError),
	}
	for _, c := range req.Commands {
		b, err := json.Marshal(c)
		if err != nil {
			b = []byte(c.Text())
		}
		parts = append(parts, string(b))
	}
	return cache.Key(parts...)
}

package inventory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/newtron-network/eapitest/pkg/cache"
	"github.com/newtron-network/eapitest/pkg/eapi"
	"github.com/newtron-network/eapitest/pkg/util"
)

// Credentials carries the secrets for one device.
type Credentials struct {
	Username       string
	Password       string
	EnablePassword string
	JumpPassword   string
}

// Credentials fills what the environment provides for d. Passwords whose
// variable is unset (or not configured) are left empty for the caller to
// prompt for.
func (d *Device) Credentials(getenv func(string) string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(name string) string {
		if name == "" {
			return ""
		}
		return getenv(name)
	}
	c := Credentials{
		Username:       d.Username,
		Password:       env(d.PasswordEnv),
		EnablePassword: env(d.EnablePasswordEnv),
	}
	if d.Jump != nil {
		c.JumpPassword = env(d.Jump.PasswordEnv)
	}
	return c
}

// Session is a connected device. Close releases the SSH tunnel, if any.
type Session struct {
	*eapi.Device
	Credentials Credentials

	closers []io.Closer
}

// Close closes the session's tunnel and idle HTTP connections.
func (s *Session) Close() error {
	if t, ok := s.Transport.(*eapi.HTTPTransport); ok {
		t.CloseIdleConnections()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect builds the eAPI client for d. A jump host is dialled immediately;
// the device itself is not contacted until the first request. c may be nil.
func Connect(d *Device, creds Credentials, c cache.Cache, cacheTTL time.Duration) (*Session, error) {
	opts := eapi.HTTPOptions{
		Host:     d.Host,
		Port:     d.Port,
		Scheme:   d.Scheme,
		Username: creds.Username,
		Password: creds.Password,
		Insecure: d.IsInsecure(),
		Timeout:  d.Timeout,
	}

	s := &Session{Credentials: creds}
	if d.Jump != nil {
		util.WithDevice(d.Name).Debugf("tunnelling through %s@%s", d.Jump.User, d.Jump.Host)
		dialer, err := eapi.NewSSHDialer(eapi.SSHOptions{
			Addr:       d.Jump.Host,
			User:       d.Jump.User,
			Password:   creds.JumpPassword,
			KnownHosts: d.Jump.KnownHosts,
			Timeout:    d.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		opts.Dial = dialer.DialContext
		s.closers = append(s.closers, dialer)
	}

	s.Device = &eapi.Device{
		Name:      d.Name,
		Transport: eapi.NewHTTPTransport(opts),
	}
	if c != nil && !d.NoCache {
		s.Device.Cache = c
		s.Device.CacheTTL = cacheTTL
	}
	return s, nil
}

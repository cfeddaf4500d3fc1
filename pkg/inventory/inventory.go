// Package inventory loads the YAML device inventory and turns its entries
// into connected eAPI clients.
//
// An inventory file has a defaults block and a device list:
//
//	defaults:
//	  username: admin
//	  password_env: EOS_PASSWORD
//	  insecure: true
//	  cache: {backend: memory, ttl: 2m}
//	devices:
//	  - name: leaf1
//	    host: 10.0.0.11
//	    tags: [leaf, dc1]
//	  - name: spine1
//	    host: 10.0.0.1
//	    jump: {host: bastion.lab, user: ops, password_env: JUMP_PASSWORD}
//
// Device fields override defaults field by field. An optional access block
// restricts who may run exec and evpn clear-blacklist (see package auth).
package inventory

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/eapitest/pkg/auth"
	"github.com/newtron-network/eapitest/pkg/util"
)

// Connection holds the per-device settings that may also appear in defaults.
type Connection struct {
	Scheme            string        `yaml:"scheme,omitempty"` // https (default) or http
	Port              int           `yaml:"port,omitempty"`
	Username          string        `yaml:"username,omitempty"`
	PasswordEnv       string        `yaml:"password_env,omitempty"`
	EnablePasswordEnv string        `yaml:"enable_password_env,omitempty"`
	Insecure          *bool         `yaml:"insecure,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	Jump              *JumpHost     `yaml:"jump,omitempty"`
}

// JumpHost is an SSH bastion the eAPI session is tunnelled through.
type JumpHost struct {
	Host        string `yaml:"host"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	KnownHosts  string `yaml:"known_hosts,omitempty"`
}

// Defaults apply to every device.
type Defaults struct {
	Connection `yaml:",inline"`
	Cache      *CacheSpec `yaml:"cache,omitempty"`
}

// Device is one inventory entry, after defaults have been applied.
type Device struct {
	Name       string   `yaml:"name"`
	Host       string   `yaml:"host"`
	Tags       []string `yaml:"tags,omitempty"`
	NoCache    bool     `yaml:"no_cache,omitempty"`
	Connection `yaml:",inline"`
}

// Inventory is a loaded inventory file.
type Inventory struct {
	Defaults Defaults     `yaml:"defaults"`
	Devices  []Device     `yaml:"devices"`
	Access   *auth.Policy `yaml:"access,omitempty"`

	path string
}

// Load reads, resolves and validates an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	inv.path = path
	return inv, nil
}

// Parse decodes inventory YAML. Unknown keys are rejected.
func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing: %v", util.ErrInvalidConfig, err)
	}
	inv.resolve()
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// FromHosts builds an inventory from a plain host list, one host per line.
// Blank lines and lines starting with # are skipped. Each host becomes a
// device named after it.
func FromHosts(r io.Reader, defaults Defaults) (*Inventory, error) {
	inv := &Inventory{Defaults: defaults}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inv.Devices = append(inv.Devices, Device{Name: line, Host: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading host list: %w", err)
	}
	inv.resolve()
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Path returns the file the inventory was loaded from, if any.
func (inv *Inventory) Path() string { return inv.path }

// resolve overlays defaults onto every device.
func (inv *Inventory) resolve() {
	d := inv.Defaults.Connection
	for i := range inv.Devices {
		c := &inv.Devices[i].Connection
		if c.Scheme == "" {
			c.Scheme = d.Scheme
		}
		if c.Scheme == "" {
			c.Scheme = "https"
		}
		if c.Port == 0 {
			c.Port = d.Port
		}
		if c.Username == "" {
			c.Username = d.Username
		}
		if c.PasswordEnv == "" {
			c.PasswordEnv = d.PasswordEnv
		}
		if c.EnablePasswordEnv == "" {
			c.EnablePasswordEnv = d.EnablePasswordEnv
		}
		if c.Insecure == nil {
			c.Insecure = d.Insecure
		}
		if c.Timeout == 0 {
			c.Timeout = d.Timeout
		}
		if c.Jump == nil {
			c.Jump = d.Jump
		}
	}
}

// Validate checks the resolved inventory and reports every problem at once.
func (inv *Inventory) Validate() error {
	v := util.NewValidationBuilder(inv.path)
	v.Add(len(inv.Devices) > 0, "no devices defined")

	seen := make(map[string]bool, len(inv.Devices))
	for i, d := range inv.Devices {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		v.Addf(d.Name != "", "device %s: name is required", label)
		v.Addf(!seen[d.Name] || d.Name == "", "device %s: duplicate name", label)
		seen[d.Name] = true

		v.Addf(d.Host != "", "device %s: host is required", label)
		v.Addf(d.Scheme == "http" || d.Scheme == "https", "device %s: scheme must be http or https, got %q", label, d.Scheme)
		v.Addf(d.Port >= 0 && d.Port <= 65535, "device %s: port %d out of range", label, d.Port)
		v.Addf(d.Timeout >= 0, "device %s: timeout must not be negative", label)
		if d.Jump != nil {
			v.Addf(d.Jump.Host != "", "device %s: jump.host is required", label)
			v.Addf(d.Jump.User != "", "device %s: jump.user is required", label)
		}
	}

	if c := inv.Defaults.Cache; c != nil {
		if err := c.validate(); err != nil {
			v.AddErrorf("defaults.cache: %s", err)
		}
	}
	if inv.Access != nil {
		for _, p := range inv.Access.Problems() {
			v.AddError(p)
		}
		for _, dev := range slices.Sorted(maps.Keys(inv.Access.Devices)) {
			v.Addf(seen[dev], "access.devices: unknown device %q", dev)
		}
	}
	return v.Build()
}

// Device returns the named device.
func (inv *Inventory) Device(name string) (*Device, error) {
	for i := range inv.Devices {
		if inv.Devices[i].Name == name {
			return &inv.Devices[i], nil
		}
	}
	return nil, util.NewNotFoundError("device", name)
}

// Names returns device names in inventory order.
func (inv *Inventory) Names() []string {
	names := make([]string, len(inv.Devices))
	for i, d := range inv.Devices {
		names[i] = d.Name
	}
	return names
}

// Filter returns the devices carrying at least one of tags, in inventory
// order. No tags selects every device.
func (inv *Inventory) Filter(tags []string) []Device {
	if len(tags) == 0 {
		return slices.Clone(inv.Devices)
	}
	var out []Device
	for _, d := range inv.Devices {
		if d.HasAnyTag(tags) {
			out = append(out, d)
		}
	}
	return out
}

// HasAnyTag reports whether d carries at least one of tags.
func (d *Device) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(d.Tags, t) {
			return true
		}
	}
	return false
}

// IsInsecure reports whether TLS verification is disabled for d.
func (d *Device) IsInsecure() bool {
	return d.Insecure != nil && *d.Insecure
}

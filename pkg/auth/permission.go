// Package auth decides who may send state-changing command batches.
//
// The policy lives in the inventory's access block:
//
//	access:
//	  super_users: [root]
//	  user_groups:
//	    netops: [alice, bob]
//	  permissions:
//	    exec: [netops]
//	    evpn.clear-blacklist: [netops, oncall]
//	  devices:
//	    spine1:
//	      evpn.clear-blacklist: [alice]
//
// An inventory without an access block allows everything.
package auth

import (
	"fmt"
	"slices"
)

// Permission defines an action that can be controlled
type Permission string

// Standard permissions
const (
	PermExec           Permission = "exec"
	PermClearBlacklist Permission = "evpn.clear-blacklist"

	PermAll Permission = "all" // Superuser - allows everything
)

// Known lists every permission a policy may name.
var Known = []Permission{PermExec, PermClearBlacklist, PermAll}

// Policy maps permissions to the users and groups holding them.
// Device entries grant permissions on one device in addition to the
// global ones.
type Policy struct {
	SuperUsers  []string                       `yaml:"super_users,omitempty"`
	UserGroups  map[string][]string            `yaml:"user_groups,omitempty"`
	Permissions map[string][]string            `yaml:"permissions,omitempty"`
	Devices     map[string]map[string][]string `yaml:"devices,omitempty"`
}

// Problems lists unknown permission names in the policy.
func (p *Policy) Problems() []string {
	var out []string
	check := func(where string, m map[string][]string) {
		for name := range m {
			if !slices.Contains(Known, Permission(name)) {
				out = append(out, fmt.Sprintf("%s: unknown permission %q", where, name))
			}
		}
	}
	check("access.permissions", p.Permissions)
	for dev, m := range p.Devices {
		check("access.devices."+dev, m)
	}
	slices.Sort(out)
	return out
}

// Context provides context for permission checks
type Context struct {
	Device string
}

// NewContext creates a new permission context
func NewContext() *Context {
	return &Context{}
}

// WithDevice sets the device context
func (c *Context) WithDevice(device string) *Context {
	c.Device = device
	return c
}

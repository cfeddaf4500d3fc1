package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/eapitest/pkg/cache"
	"github.com/newtron-network/eapitest/pkg/util"
)

const sampleInventory = `
defaults:
  username: admin
  password_env: EOS_PASSWORD
  enable_password_env: EOS_ENABLE
  insecure: true
  timeout: 10s
  cache:
    backend: memory
    ttl: 2m
devices:
  - name: leaf1
    host: 10.0.0.11
    tags: [leaf, dc1]
  - name: leaf2
    host: 10.0.0.12
    port: 8443
    tags: [leaf, dc2]
    insecure: false
  - name: spine1
    host: 10.0.0.1
    scheme: http
    username: ops
    no_cache: true
    tags: [spine]
    jump:
      host: bastion.lab
      user: jump
      password_env: JUMP_PASSWORD
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeInventory(t, sampleInventory)
	inv, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if inv.Path() != path {
		t.Errorf("Path() = %q", inv.Path())
	}
	if got := inv.Names(); !reflect.DeepEqual(got, []string{"leaf1", "leaf2", "spine1"}) {
		t.Errorf("Names() = %v", got)
	}

	leaf1, _ := inv.Device("leaf1")
	if leaf1.Scheme != "https" || leaf1.Username != "admin" || !leaf1.IsInsecure() || leaf1.Timeout != 10*time.Second {
		t.Errorf("leaf1 did not inherit defaults: %+v", leaf1.Connection)
	}
	if leaf1.Jump != nil {
		t.Errorf("leaf1 should have no jump host")
	}

	leaf2, _ := inv.Device("leaf2")
	if leaf2.Port != 8443 {
		t.Errorf("leaf2 port = %d", leaf2.Port)
	}
	if leaf2.IsInsecure() {
		t.Errorf("leaf2 insecure: false should override the default")
	}

	spine1, _ := inv.Device("spine1")
	if spine1.Scheme != "http" || spine1.Username != "ops" || !spine1.NoCache {
		t.Errorf("spine1 overrides lost: %+v", spine1)
	}
	if spine1.Jump == nil || spine1.Jump.Host != "bastion.lab" {
		t.Errorf("spine1 jump = %+v", spine1.Jump)
	}
	if spine1.PasswordEnv != "EOS_PASSWORD" {
		t.Errorf("spine1 should inherit password_env, got %q", spine1.PasswordEnv)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"empty", ``, []string{"no devices defined"}},
		{"unknown key", "devices:\n  - name: a\n    host: h\n    hostname: x\n", []string{"hostname"}},
		{
			"field problems",
			`devices:
  - name: a
    host: h
    scheme: ftp
  - name: a
    port: 70000
  - host: h2
    jump: {host: b}
`,
			[]string{
				`device a: scheme must be http or https, got "ftp"`,
				"device a: duplicate name",
				"device a: host is required",
				"device a: port 70000 out of range",
				"device #3: name is required",
				"device #3: jump.user is required",
			},
		},
		{
			"bad cache",
			"defaults:\n  cache: {backend: redis}\ndevices:\n  - {name: a, host: h}\n",
			[]string{"defaults.cache: redis backend requires addr"},
		},
		{
			"bad access",
			"devices:\n  - {name: a, host: h}\naccess:\n  permissions: {reboot: [ops]}\n  devices:\n    b: {exec: [ops]}\n",
			[]string{
				`access.permissions: unknown permission "reboot"`,
				`access.devices: unknown device "b"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeInventory(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error missing %q:\n%v", w, err)
				}
			}
		})
	}
}

func TestLoad_Access(t *testing.T) {
	inv, err := Load(writeInventory(t, sampleInventory+`
access:
  user_groups:
    netops: [alice]
  permissions:
    evpn.clear-blacklist: [netops]
  devices:
    spine1:
      exec: [alice]
`))
	if err != nil {
		t.Fatal(err)
	}
	if inv.Access == nil {
		t.Fatal("access block not loaded")
	}
	if got := inv.Access.Permissions["evpn.clear-blacklist"]; len(got) != 1 || got[0] != "netops" {
		t.Errorf("permissions = %v", inv.Access.Permissions)
	}
	if got := inv.Access.Devices["spine1"]["exec"]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("device permissions = %v", inv.Access.Devices)
	}
}

func TestLoad_ValidationErrorType(t *testing.T) {
	_, err := Load(writeInventory(t, "devices: []\n"))
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("want ErrValidationFailed, got %v", err)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("devices: [leaf1\n"))
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("want ErrInvalidConfig, got %v", err)
	}
	if errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("malformed YAML reported as a validation failure: %v", err)
	}
}

func TestDevice_NotFound(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatal(err)
	}
	_, err = inv.Device("leaf9")
	var nf *util.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "leaf9" {
		t.Errorf("want NotFoundError for leaf9, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatal(err)
	}

	names := func(devs []Device) []string {
		var out []string
		for _, d := range devs {
			out = append(out, d.Name)
		}
		return out
	}

	tests := []struct {
		tags []string
		want []string
	}{
		{nil, []string{"leaf1", "leaf2", "spine1"}},
		{[]string{"leaf"}, []string{"leaf1", "leaf2"}},
		{[]string{"dc2", "spine"}, []string{"leaf2", "spine1"}},
		{[]string{"border"}, nil},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.tags, ","), func(t *testing.T) {
			if got := names(inv.Filter(tt.tags)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Filter(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestFromHosts(t *testing.T) {
	insecure := true
	defaults := Defaults{Connection: Connection{Username: "admin", Insecure: &insecure}}
	inv, err := FromHosts(strings.NewReader("# lab switches\nleaf1.lab\n\n  leaf2.lab  \n"), defaults)
	if err != nil {
		t.Fatalf("FromHosts() error: %v", err)
	}
	if got := inv.Names(); !reflect.DeepEqual(got, []string{"leaf1.lab", "leaf2.lab"}) {
		t.Errorf("Names() = %v", got)
	}
	d, _ := inv.Device("leaf2.lab")
	if d.Host != "leaf2.lab" || d.Username != "admin" || !d.IsInsecure() {
		t.Errorf("device = %+v", d)
	}

	if _, err := FromHosts(strings.NewReader("\n# nothing\n"), Defaults{}); err == nil {
		t.Error("empty host list should fail validation")
	}
}

func TestCredentials(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatal(err)
	}
	env := map[string]string{"EOS_PASSWORD": "pw", "JUMP_PASSWORD": "jpw"}
	getenv := func(k string) string { return env[k] }

	spine1, _ := inv.Device("spine1")
	got := spine1.Credentials(getenv)
	want := Credentials{Username: "ops", Password: "pw", JumpPassword: "jpw"}
	if got != want {
		t.Errorf("Credentials() = %+v, want %+v", got, want)
	}
}

func TestConnect(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatal(err)
	}
	c, ttl, closeCache, err := inv.NewCache(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer closeCache()
	if _, ok := c.(*cache.MemoryCache); !ok || ttl != 2*time.Minute {
		t.Fatalf("NewCache() = %T, %s", c, ttl)
	}

	leaf2, _ := inv.Device("leaf2")
	s, err := Connect(leaf2, Credentials{Username: "admin", Password: "pw"}, c, ttl)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer s.Close()

	if s.Name != "leaf2" || s.Cache != c || s.CacheTTL != ttl {
		t.Errorf("session = %+v", s.Device)
	}
	if got := s.Transport.(interface{ URL() string }).URL(); got != "https://10.0.0.12:8443/command-api" {
		t.Errorf("URL = %q", got)
	}
}

func TestNewCache_None(t *testing.T) {
	inv := &Inventory{}
	c, _, closeFn, err := inv.NewCache(context.Background())
	if err != nil || c != nil || closeFn == nil {
		t.Errorf("NewCache() without spec = %v, %v", c, err)
	}
}

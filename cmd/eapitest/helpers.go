package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/eapitest/pkg/audit"
	"github.com/newtron-network/eapitest/pkg/auth"
	"github.com/newtron-network/eapitest/pkg/cache"
	"github.com/newtron-network/eapitest/pkg/check"
	"github.com/newtron-network/eapitest/pkg/inventory"
	"github.com/newtron-network/eapitest/pkg/settings"
	"github.com/newtron-network/eapitest/pkg/util"
)

const (
	envInventory = "EAPITEST_INVENTORY"
	envCatalog   = "EAPITEST_CATALOG"
)

// resolveInventoryPath resolves the inventory file from: flag > env > settings > default.
func resolveInventoryPath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("inventory") {
		return inventoryFlag
	}
	if v := os.Getenv(envInventory); v != "" {
		return v
	}
	if s, err := settings.Load(); err == nil && s.Inventory != "" {
		return s.Inventory
	}
	return "inventory.yaml"
}

// resolveCatalogPath resolves the catalog file from: positional arg > flag > env > settings > default.
func resolveCatalogPath(cmd *cobra.Command, flagVal string, args ...string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if cmd.Flags().Changed("catalog") {
		return flagVal
	}
	if v := os.Getenv(envCatalog); v != "" {
		return v
	}
	if s, err := settings.Load(); err == nil && s.Catalog != "" {
		return s.Catalog
	}
	return "catalog.yaml"
}

// resolveConcurrency returns the flag value when set, else the setting.
func resolveConcurrency(cmd *cobra.Command, flagVal int) int {
	if cmd.Flags().Changed("concurrency") {
		return flagVal
	}
	s, err := settings.Load()
	if err != nil {
		return settings.DefaultConcurrency
	}
	return s.GetConcurrency()
}

// loadInventory reads the inventory selected by --inventory and friends.
func loadInventory(cmd *cobra.Command) (*inventory.Inventory, error) {
	path := resolveInventoryPath(cmd)
	util.Debugf("inventory: %s", path)
	return inventory.Load(path)
}

// hostListOptions builds an inventory from a plain host list instead of an
// inventory file.
type hostListOptions struct {
	file      string
	username  string
	verifyTLS bool
	timeout   time.Duration
}

func (o *hostListOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "hosts-file", "", "Plain host list, one host per line (instead of --inventory)")
	cmd.Flags().StringVarP(&o.username, "username", "u", "admin", "Username for --hosts-file devices")
	cmd.Flags().BoolVar(&o.verifyTLS, "verify-tls", false, "Verify TLS certificates of --hosts-file devices")
}

// load returns the host-list inventory, or the regular one when no host
// list was given. Host-list passwords come from EAPITEST_PASSWORD and
// EAPITEST_ENABLE_PASSWORD, or a prompt.
func (o *hostListOptions) load(cmd *cobra.Command) (*inventory.Inventory, error) {
	if o.file == "" {
		return loadInventory(cmd)
	}
	f, err := os.Open(o.file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	insecure := !o.verifyTLS
	return inventory.FromHosts(f, inventory.Defaults{Connection: inventory.Connection{
		Username:          o.username,
		PasswordEnv:       "EAPITEST_PASSWORD",
		EnablePasswordEnv: "EAPITEST_ENABLE_PASSWORD",
		Insecure:          &insecure,
		Timeout:           o.timeout,
	}})
}

// selectDevices narrows the inventory to the named devices, or else to the
// tagged ones.
func selectDevices(inv *inventory.Inventory, names, tags []string) ([]inventory.Device, error) {
	if len(names) > 0 {
		out := make([]inventory.Device, 0, len(names))
		for _, name := range names {
			d, err := inv.Device(name)
			if err != nil {
				return nil, err
			}
			out = append(out, *d)
		}
		return out, nil
	}
	devices := inv.Filter(tags)
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices match tags %v", tags)
	}
	return devices, nil
}

// prompter asks for missing passwords once per secret. Answers are reused
// for every device that names the same environment variable.
type prompter struct {
	in      *os.File
	out     io.Writer
	answers map[string]string
}

func newPrompter() *prompter {
	return &prompter{in: os.Stdin, out: os.Stderr, answers: make(map[string]string)}
}

// ask reads a secret without echo. key identifies the secret for reuse;
// label is shown to the user.
func (p *prompter) ask(key, label string) (string, error) {
	if v, ok := p.answers[key]; ok {
		return v, nil
	}
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s not set and stdin is not a terminal", label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	v := strings.TrimRight(string(b), "\r\n")
	p.answers[key] = v
	return v, nil
}

// secretKey names a secret: the environment variable when there is one,
// else user@host.
func secretKey(envName, user, host string) string {
	if envName != "" {
		return "$" + envName
	}
	return user + "@" + host
}

// collectCredentials resolves credentials for every device before any
// connection is made, prompting for what the environment does not provide.
func collectCredentials(devices []inventory.Device, needEnable bool, p *prompter) (map[string]inventory.Credentials, error) {
	out := make(map[string]inventory.Credentials, len(devices))
	for i := range devices {
		d := &devices[i]
		creds := d.Credentials(os.Getenv)
		var err error

		if creds.Password == "" {
			key := secretKey(d.PasswordEnv, d.Username, d.Host)
			if creds.Password, err = p.ask(key, "Password for "+key); err != nil {
				return nil, err
			}
		}
		if needEnable && creds.EnablePassword == "" && d.EnablePasswordEnv != "" {
			key := secretKey(d.EnablePasswordEnv, "enable", d.Host)
			if creds.EnablePassword, err = p.ask(key, "Enable password for "+key); err != nil {
				return nil, err
			}
		}
		if d.Jump != nil && creds.JumpPassword == "" {
			key := secretKey(d.Jump.PasswordEnv, d.Jump.User, d.Jump.Host)
			if creds.JumpPassword, err = p.ask(key, "Jump host password for "+key); err != nil {
				return nil, err
			}
		}
		out[d.Name] = creds
	}
	return out, nil
}

// connector opens sessions with pre-collected credentials and the shared
// reply cache.
type connector struct {
	creds    map[string]inventory.Credentials
	cache    cache.Cache
	cacheTTL time.Duration
}

func (c *connector) connect(_ context.Context, dev *inventory.Device) (*inventory.Session, error) {
	creds, ok := c.creds[dev.Name]
	if !ok {
		return nil, fmt.Errorf("no credentials for %s", dev.Name)
	}
	return inventory.Connect(dev, creds, c.cache, c.cacheTTL)
}

var _ check.ConnectFunc = (&connector{}).connect

// authorize checks perm on every device and reports all denials together.
func authorize(checker *auth.Checker, perm auth.Permission, devices []inventory.Device) error {
	var denied []error
	for _, d := range devices {
		if err := checker.Check(perm, auth.NewContext().WithDevice(d.Name)); err != nil {
			denied = append(denied, err)
		}
	}
	return errors.Join(denied...)
}

// openAudit installs the audit logger for state-changing commands. A log
// that cannot be opened only disables auditing.
func openAudit() func() {
	s, err := settings.Load()
	if err != nil {
		s = &settings.Settings{}
	}
	logger, err := audit.NewFileLogger(s.GetAuditLog(), audit.DefaultRotation)
	if err != nil {
		util.Logger.Warnf("audit log disabled: %v", err)
		return func() {}
	}
	audit.SetDefaultLogger(logger)
	return func() {
		audit.SetDefaultLogger(nil)
		if err := logger.Close(); err != nil {
			util.Logger.Warnf("closing audit log: %v", err)
		}
	}
}

// recordAudit appends one event to the audit log.
func recordAudit(event *audit.Event) {
	if err := audit.Log(event); err != nil {
		util.Errorf("audit: recording %s on %s: %v", event.Operation, event.Device, err)
	}
}

// readLines reads non-empty lines from r, used for --commands-file.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

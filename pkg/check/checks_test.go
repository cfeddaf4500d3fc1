package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/eapitest/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestMatchExpect(t *testing.T) {
	tests := []struct {
		name   string
		expect ExpectBlock
		value  any
		found  bool
		want   Status
		msg    string
	}{
		{"equals string", ExpectBlock{Equals: "vEOS-lab"}, "vEOS-lab", true, StatusPassed, `got "vEOS-lab"`},
		{"equals mismatch", ExpectBlock{Equals: "vEOS-lab"}, "DCS-7050", true, StatusFailed, `expected "vEOS-lab", got "DCS-7050"`},
		{"equals yaml int vs json float", ExpectBlock{Equals: 4}, 4.0, true, StatusPassed, "got 4"},
		{"equals object", ExpectBlock{Equals: map[string]any{"a": 1}}, map[string]any{"a": 1.0}, true, StatusPassed, ""},
		{"equals json number", ExpectBlock{Equals: 4}, json.Number("4.0"), true, StatusPassed, ""},
		{"equals big int", ExpectBlock{Equals: uint64(9007199254740993)}, json.Number("9007199254740993"), true, StatusPassed, ""},
		{"equals big int differs", ExpectBlock{Equals: uint64(9007199254740992)}, json.Number("9007199254740993"), true, StatusFailed, ""},
		{"min json number", ExpectBlock{Min: ptr(2.0)}, json.Number("3"), true, StatusPassed, "got 3"},
		{"min ok", ExpectBlock{Min: ptr(2.0)}, 3.0, true, StatusPassed, "got 3"},
		{"min fail", ExpectBlock{Min: ptr(2.0)}, 1.0, true, StatusFailed, "expected at least 2, got 1"},
		{"max fail", ExpectBlock{Max: ptr(10.0)}, 10.5, true, StatusFailed, "expected at most 10, got 10.5"},
		{"range on string", ExpectBlock{Min: ptr(1.0)}, "up", true, StatusFailed, `expected a number, got "up"`},
		{"exists", ExpectBlock{Exists: ptr(true)}, "x", true, StatusPassed, ""},
		{"exists missing", ExpectBlock{Exists: ptr(true)}, nil, false, StatusFailed, "query matched nothing"},
		{"absent as expected", ExpectBlock{Exists: ptr(false)}, nil, false, StatusPassed, "as expected"},
		{"absent but present", ExpectBlock{Exists: ptr(false)}, 1.0, true, StatusFailed, "expected no match, got 1"},
		{"equals on nothing", ExpectBlock{Equals: "x"}, nil, false, StatusFailed, "query matched nothing"},
		{"contains substring", ExpectBlock{Contains: "Ether"}, "Ethernet1", true, StatusPassed, ""},
		{"contains list item", ExpectBlock{Contains: "Ethernet2"}, []any{"Ethernet1", "Ethernet2"}, true, StatusPassed, ""},
		{"contains map key", ExpectBlock{Contains: "default"}, map[string]any{"default": 1.0}, true, StatusPassed, ""},
		{"contains miss", ExpectBlock{Contains: "mgmt"}, []any{"default"}, true, StatusFailed, `does not contain "mgmt"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := matchExpect(&tt.expect, tt.value, tt.found)
			if got != tt.want {
				t.Errorf("status = %s, want %s (%s)", got, tt.want, msg)
			}
			if !strings.Contains(msg, tt.msg) {
				t.Errorf("message = %q, want substring %q", msg, tt.msg)
			}
		})
	}
}

func TestRender_Truncates(t *testing.T) {
	long := make([]any, 100)
	for i := range long {
		long[i] = "Ethernet"
	}
	got := render(long)
	if !strings.HasSuffix(got, "...") || len(got) != 123 {
		t.Errorf("render() = %q (len %d)", got, len(got))
	}
}

func TestPollUntil(t *testing.T) {
	ctx := context.Background()

	t.Run("done on third try", func(t *testing.T) {
		n := 0
		err := pollUntil(ctx, time.Second, time.Millisecond, func() (bool, error) {
			n++
			return n == 3, nil
		})
		if err != nil || n != 3 {
			t.Errorf("err = %v, calls = %d", err, n)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := pollUntil(ctx, 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) { return false, nil })
		if !errors.Is(err, errTimeout) {
			t.Errorf("err = %v, want timeout", err)
		}
	})

	t.Run("error stops polling", func(t *testing.T) {
		boom := errors.New("boom")
		n := 0
		err := pollUntil(ctx, time.Second, time.Millisecond, func() (bool, error) {
			n++
			return false, boom
		})
		if !errors.Is(err, boom) || n != 1 {
			t.Errorf("err = %v, calls = %d", err, n)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := pollUntil(cctx, time.Second, 100*time.Millisecond, func() (bool, error) { return false, nil })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

// execute parses a one-check catalog and runs it against sw.
func execute(t *testing.T, sw *testutil.FakeSwitch, src string) (Status, string) {
	t.Helper()
	c := mustCatalog(t, src)
	chk := &c.Checks[0]
	return executors[chk.Action].Execute(context.Background(), sw.Device("leaf1"), chk)
}

func evpnSummary(established int) map[string]any {
	peers := map[string]any{
		"10.0.0.9": map[string]any{"peerState": "Active"},
	}
	for i := range established {
		peers["10.0.0."+string(rune('1'+i))] = map[string]any{"peerState": "Established"}
	}
	return map[string]any{"vrfs": map[string]any{"default": map[string]any{"peers": peers}}}
}

const evpnCheck = `
checks:
  - name: evpn-peers
    action: verify-output
    commands: ["show bgp evpn summary"]
    query: '[.vrfs.default.peers[] | select(.peerState == "Established")] | length'
    expect: {min: 2, timeout: %TIMEOUT%, poll_interval: 5ms}
`

func TestVerifyOutput(t *testing.T) {
	t.Run("equals", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).Reply("show version", map[string]any{"modelName": "vEOS-lab", "memTotal": 2014464})
		st, msg := execute(t, sw, `
checks:
  - name: model
    action: verify-output
    commands: ["show version"]
    query: .modelName
    expect: {equals: vEOS-lab}
`)
		if st != StatusPassed {
			t.Errorf("status = %s: %s", st, msg)
		}
	})

	t.Run("polls until established", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).ReplySeq("show bgp evpn summary", evpnSummary(0), evpnSummary(1), evpnSummary(2))
		st, msg := execute(t, sw, strings.Replace(evpnCheck, "%TIMEOUT%", "5s", 1))
		if st != StatusPassed {
			t.Fatalf("status = %s: %s", st, msg)
		}
		if msg != "got 2" {
			t.Errorf("message = %q", msg)
		}
		if n := sw.Calls("show bgp evpn summary"); n != 3 {
			t.Errorf("device polled %d times, want 3", n)
		}
	})

	t.Run("times out", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).Reply("show bgp evpn summary", evpnSummary(1))
		st, msg := execute(t, sw, strings.Replace(evpnCheck, "%TIMEOUT%", "30ms", 1))
		if st != StatusFailed {
			t.Fatalf("status = %s: %s", st, msg)
		}
		if !strings.Contains(msg, "expected at least 2, got 1") || !strings.Contains(msg, "timeout after 30ms") {
			t.Errorf("message = %q", msg)
		}
		if sw.Calls("show bgp evpn summary") < 2 {
			t.Error("expected more than one poll")
		}
	})

	t.Run("command failure", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t)
		st, msg := execute(t, sw, `
checks:
  - name: model
    action: verify-output
    commands: ["show version"]
    query: .modelName
    expect: {exists: true}
`)
		if st != StatusFailed || msg != `"show version" failed: % Invalid input` {
			t.Errorf("got %s: %q", st, msg)
		}
	})
}

func TestVerifyUptime(t *testing.T) {
	const src = `
checks:
  - name: uptime
    action: verify-uptime
    minimum: 666
`
	t.Run("too recent", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).Reply("show uptime", map[string]any{"upTime": 665.15})
		st, msg := execute(t, sw, src)
		if st != StatusFailed {
			t.Errorf("status = %s", st)
		}
		if want := "Device uptime is incorrect - Expected: 666s Actual: 665.15s"; msg != want {
			t.Errorf("message = %q, want %q", msg, want)
		}
	})

	t.Run("up long enough", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).Reply("show uptime", map[string]any{"upTime": 86400.5})
		st, msg := execute(t, sw, src)
		if st != StatusPassed || msg != "uptime 86400.5s" {
			t.Errorf("got %s: %q", st, msg)
		}
	})

	t.Run("no upTime field", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).Reply("show uptime", map[string]any{"loadAvg": []any{0.1}})
		st, _ := execute(t, sw, src)
		if st != StatusError {
			t.Errorf("status = %s, want ERROR", st)
		}
	})
}

func TestVerifyText(t *testing.T) {
	const src = `
checks:
  - name: banner
    action: verify-text
    commands: ["show banner login"]
    expect: {contains: AUTHORIZED}
`
	sw := testutil.NewFakeSwitch(t).Reply("show banner login", "AUTHORIZED ACCESS ONLY\n")
	if st, msg := execute(t, sw, src); st != StatusPassed {
		t.Errorf("status = %s: %s", st, msg)
	}
	if got := sw.Requests()[0].Format; got != "text" {
		t.Errorf("request format = %q, want text", got)
	}

	sw.Reply("show banner login", "welcome\n")
	if st, msg := execute(t, sw, src); st != StatusFailed || msg != `output does not contain "AUTHORIZED"` {
		t.Errorf("got %s: %q", st, msg)
	}
}

func TestVerifySuccess_TransportError(t *testing.T) {
	sw := testutil.NewFakeSwitch(t)
	sw.Password = "rotated"
	c := mustCatalog(t, "checks:\n  - {name: a, action: verify-success, commands: [show version]}\n")

	dev := sw.Device("leaf1")
	sw.Password = "admin"
	st, msg := executors[ActionVerifySuccess].Execute(context.Background(), dev, &c.Checks[0])
	if st != StatusError || !strings.Contains(msg, "401") {
		t.Errorf("got %s: %q", st, msg)
	}
}

func TestRunCommands(t *testing.T) {
	const src = `
checks:
  - name: clear-host-flap
    action: run-commands
    version: "1"
    commands:
      - {cmd: enable, input: s3cret}
      - clear bgp evpn host-flap
      - show bgp evpn host-flap
`
	t.Run("success", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).
			Reply("enable", map[string]any{}).
			Reply("clear bgp evpn host-flap", map[string]any{}).
			Reply("show bgp evpn host-flap", map[string]any{"duplicateMacDetail": map[string]any{}})
		st, msg := execute(t, sw, src)
		if st != StatusPassed {
			t.Fatalf("status = %s: %s", st, msg)
		}
		want := "executed 3 command(s): enable, clear bgp evpn host-flap, show bgp evpn host-flap"
		if msg != want {
			t.Errorf("message = %q, want %q", msg, want)
		}
		if v := sw.Requests()[0].Version; v != 1 {
			t.Errorf("request version = %v, want 1", v)
		}
	})

	t.Run("stops at failure", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).
			Reply("enable", map[string]any{}).
			Fail("clear bgp evpn host-flap", "% Not authorized")
		st, msg := execute(t, sw, src)
		if st != StatusFailed {
			t.Fatalf("status = %s", st)
		}
		want := `"clear bgp evpn host-flap" failed: % Not authorized; not executed: show bgp evpn host-flap`
		if msg != want {
			t.Errorf("message = %q\nwant %q", msg, want)
		}
		if sw.Calls("show bgp evpn host-flap") != 0 {
			t.Error("command after the failure must not run")
		}
	})

	t.Run("failure without batch error", func(t *testing.T) {
		sw := testutil.NewFakeSwitch(t).
			Reply("enable", map[string]any{}).
			SoftFail("clear bgp evpn host-flap", "% Not authorized").
			Reply("show bgp evpn host-flap", map[string]any{})
		st, msg := execute(t, sw, strings.Replace(src, `version: "1"`, "version: \"1\"\n    stop_on_error: false", 1))
		if st != StatusFailed {
			t.Fatalf("status = %s: %s", st, msg)
		}
		want := `"clear bgp evpn host-flap" failed: % Not authorized`
		if msg != want {
			t.Errorf("message = %q\nwant %q", msg, want)
		}
		if sw.Calls("show bgp evpn host-flap") != 1 {
			t.Error("run-to-completion batch should run every command")
		}
	})
}

func TestVerifySuccess_CommandFailureWithoutBatchError(t *testing.T) {
	sw := testutil.NewFakeSwitch(t).
		Reply("show version", map[string]any{"modelName": "vEOS"}).
		SoftFail("bad command", "invalid command").
		Reply("show interfaces", map[string]any{"interfaces": map[string]any{}})
	st, msg := execute(t, sw, `
checks:
  - name: all-succeed
    action: verify-success
    stop_on_error: false
    commands: [show version, bad command, show interfaces]
`)
	if st != StatusFailed {
		t.Fatalf("status = %s: %s", st, msg)
	}
	if want := `"bad command" failed: invalid command`; msg != want {
		t.Errorf("message = %q, want %q", msg, want)
	}
	if req := sw.Requests()[0]; req.StopOnError {
		t.Error("request should run to completion")
	}
}

func TestVerifyOutput_LargeCounters(t *testing.T) {
	sw := testutil.NewFakeSwitch(t).Reply("show interfaces counters", map[string]any{
		"interfaces": map[string]any{"Ethernet1": map[string]any{"inOctets": uint64(18446744073709551615)}},
	})
	const tmpl = `
checks:
  - name: octets
    action: verify-output
    commands: ["show interfaces counters"]
    query: .interfaces.Ethernet1.inOctets
    expect: {%s}
`
	tests := []struct {
		name   string
		expect string
		want   Status
	}{
		{"exact", "equals: 18446744073709551615", StatusPassed},
		{"off by one", "equals: 18446744073709551614", StatusFailed},
		{"min", "min: 1.0e+19", StatusPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, msg := execute(t, sw, fmt.Sprintf(tmpl, tt.expect))
			if st != tt.want {
				t.Errorf("status = %s, want %s: %s", st, tt.want, msg)
			}
		})
	}
}

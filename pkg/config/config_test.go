package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/pflag"

	"github.com/newtron-network/mactrace/internal/testutil"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/trace"
)

// isolate keeps a developer's own config and environment out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MACTRACE_TRANSPORT", "")
	t.Setenv("MACTRACE_MAX_HOPS", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Transport != TransportSSH {
		t.Errorf("Transport = %q, want ssh", cfg.Transport)
	}
	if cfg.MaxHops != trace.DefaultMaxHops || cfg.MaxLoginAttempts != trace.DefaultMaxLoginAttempts {
		t.Errorf("MaxHops/MaxLoginAttempts = %d/%d", cfg.MaxHops, cfg.MaxLoginAttempts)
	}
	if cfg.Timeouts.Login != 10*time.Second || cfg.Timeouts.Command != 30*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.SSH.Port != 22 || cfg.Telnet.Port != 23 {
		t.Errorf("ports = %d/%d", cfg.SSH.Port, cfg.Telnet.Port)
	}
	if cfg.Jump.Command != session.DefaultJumpCommand {
		t.Errorf("Jump.Command = %q", cfg.Jump.Command)
	}
	if diff := pretty.Compare(cfg.Prompts, login.DefaultGrammar()); diff != "" {
		t.Errorf("Prompts differ from the default grammar (-got +want):\n%s", diff)
	}
	if cfg.Log.Level != "warn" || cfg.Log.JSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := testutil.WriteFile(t, "config.yaml", `
transport: jump
timeouts:
  login: 5s
  command: 1m
jump:
  command: "ssh {host} -l {user}"
  host_key_reply: "no"
paging_commands:
  - terminal length 0
  - terminal width 511
prompts:
  privileged: '[\w.-]+#'
commands:
  nxos:
    lldp_detail: show lldp neighbors interface {port} detail | no-more
redis:
  addr: localhost:6379
  ttl: 24h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Transport != TransportJump {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.Timeouts.Login != 5*time.Second || cfg.Timeouts.Command != time.Minute {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Jump.HostKeyReply != "no" {
		t.Errorf("HostKeyReply = %q", cfg.Jump.HostKeyReply)
	}
	if len(cfg.PagingCommands) != 2 {
		t.Errorf("PagingCommands = %q", cfg.PagingCommands)
	}
	if cfg.Prompts.Privileged != `[\w.-]+#` {
		t.Errorf("Prompts.Privileged = %q", cfg.Prompts.Privileged)
	}
	if len(cfg.Prompts.Username) == 0 {
		t.Error("unset prompt keys lost their defaults")
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.TTL != 24*time.Hour {
		t.Errorf("Redis = %+v", cfg.Redis)
	}

	opts := cfg.TraceOptions()
	nx := opts.Commands.For(session.NXOS)
	if !strings.HasSuffix(nx.LLDPDetail, "| no-more") {
		t.Errorf("nxos LLDPDetail = %q, want override", nx.LLDPDetail)
	}
	if nx.MACLookup != "show mac address-table address {mac}" {
		t.Errorf("nxos MACLookup = %q, want default", nx.MACLookup)
	}
	if opts.Login.Timeout != 5*time.Second || opts.Session.PromptTimeout != 5*time.Second {
		t.Errorf("login timeouts = %v/%v", opts.Login.Timeout, opts.Session.PromptTimeout)
	}
	if opts.CommandTimeout != time.Minute {
		t.Errorf("CommandTimeout = %v", opts.CommandTimeout)
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	isolate(t)
	t.Setenv("MACTRACE_MAX_HOPS", "4")
	t.Setenv("MACTRACE_TIMEOUTS_COMMAND", "45s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("transport", "", "")
	fs.Int("max-hops", 0, "")
	if err := fs.Parse([]string{"--transport=telnet"}); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.BindFlag("transport", fs.Lookup("transport")); err != nil {
		t.Fatal(err)
	}
	if err := l.BindFlag("max_hops", fs.Lookup("max-hops")); err != nil {
		t.Fatal(err)
	}
	if err := l.BindFlag("nope", fs.Lookup("nope")); err == nil {
		t.Error("binding a missing flag succeeded")
	}

	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != TransportTelnet {
		t.Errorf("Transport = %q, want flag value", cfg.Transport)
	}
	if cfg.MaxHops != 4 {
		t.Errorf("MaxHops = %d, want env value (flag not set)", cfg.MaxHops)
	}
	if cfg.Timeouts.Command != 45*time.Second {
		t.Errorf("Timeouts.Command = %v", cfg.Timeouts.Command)
	}
}

func TestLoadMissingNamedFile(t *testing.T) {
	isolate(t)
	if _, err := Load("/nonexistent/mactrace.yaml"); err == nil {
		t.Error("Load of a missing named file succeeded")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"transport", "transport: rsh\n", "transport"},
		{"hops", "max_hops: 0\n", "max_hops"},
		{"login attempts", "max_login_attempts: 0\n", "max_login_attempts"},
		{"dialect", "commands:\n  junos:\n    mac_lookup: show ethernet-switching table\n", "unknown dialect"},
		{"prompt", "prompts:\n  privileged: '[#'\n", "prompts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(testutil.WriteFile(t, "config.yaml", tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestConnector(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := cfg.Connector("")
	if err != nil {
		t.Fatal(err)
	}
	ssh, ok := conn.(trace.SSHConnector)
	if !ok || ssh.Config.Port != 22 || ssh.Config.Timeout != 10*time.Second {
		t.Errorf("Connector(\"\") = %#v, want SSH on 22", conn)
	}

	conn, _ = cfg.Connector(TransportTelnet)
	if tc, ok := conn.(trace.TelnetConnector); !ok || tc.Config.Port != 23 {
		t.Errorf("Connector(telnet) = %#v", conn)
	}

	conn, _ = cfg.Connector(TransportJump)
	jc, ok := conn.(trace.JumpConnector)
	if !ok || jc.Config.HostKeyReply != "yes" || jc.Grammar.Privileged == "" {
		t.Errorf("Connector(jump) = %#v", conn)
	}

	if _, err := cfg.Connector("rsh"); err == nil {
		t.Error("Connector(rsh) succeeded")
	}
}

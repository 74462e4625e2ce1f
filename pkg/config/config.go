// Package config loads mactrace tunables from a YAML file, MACTRACE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/newtron-network/mactrace/pkg/dialect"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/trace"
)

// EnvPrefix is prepended to every environment key: timeouts.login is
// read from MACTRACE_TIMEOUTS_LOGIN.
const EnvPrefix = "MACTRACE"

// Transports accepted by the transport key.
const (
	TransportSSH    = "ssh"
	TransportTelnet = "telnet"
	TransportJump   = "jump"
)

// Config is the full set of tunables.
type Config struct {
	Transport string `mapstructure:"transport"`

	SSH struct {
		Port             int    `mapstructure:"port"`
		KnownHosts       string `mapstructure:"known_hosts"`
		LegacyAlgorithms bool   `mapstructure:"legacy_algorithms"`
	} `mapstructure:"ssh"`

	Telnet struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"telnet"`

	Jump struct {
		Command      string `mapstructure:"command"`
		HostKeyReply string `mapstructure:"host_key_reply"`
	} `mapstructure:"jump"`

	Timeouts struct {
		Login   time.Duration `mapstructure:"login"`
		Command time.Duration `mapstructure:"command"`
		Probe   time.Duration `mapstructure:"probe"`
	} `mapstructure:"timeouts"`

	MaxHops          int      `mapstructure:"max_hops"`
	MaxLoginAttempts int      `mapstructure:"max_login_attempts"`
	EnableCommand    string   `mapstructure:"enable_command"`
	PagingCommands   []string `mapstructure:"paging_commands"`

	Prompts  login.Grammar               `mapstructure:"prompts"`
	Commands map[string]dialect.Commands `mapstructure:"commands"`

	Credentials string `mapstructure:"credentials"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	Audit struct {
		Path       string `mapstructure:"path"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"audit"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`
}

// Dir returns ~/.mactrace, or the working directory when there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".mactrace")
}

// DefaultPath is where Load looks when no file is named.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	g := login.DefaultGrammar()
	v.SetDefault("transport", TransportSSH)
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.legacy_algorithms", false)
	v.SetDefault("telnet.port", 23)
	v.SetDefault("jump.command", session.DefaultJumpCommand)
	v.SetDefault("jump.host_key_reply", "yes")
	v.SetDefault("timeouts.login", session.DefaultPromptTimeout)
	v.SetDefault("timeouts.command", trace.DefaultCommandTimeout)
	v.SetDefault("timeouts.probe", session.DefaultPromptTimeout)
	v.SetDefault("max_hops", trace.DefaultMaxHops)
	v.SetDefault("max_login_attempts", trace.DefaultMaxLoginAttempts)
	v.SetDefault("enable_command", login.DefaultEnableCommand)
	v.SetDefault("paging_commands", session.DefaultPagingCommands)
	v.SetDefault("prompts.username", g.Username)
	v.SetDefault("prompts.password", g.Password)
	v.SetDefault("prompts.privileged", g.Privileged)
	v.SetDefault("prompts.unprivileged", g.Unprivileged)
	v.SetDefault("prompts.failures", g.Failures)
	v.SetDefault("prompts.legacy", false)
	v.SetDefault("credentials", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 30*24*time.Hour)
	v.SetDefault("audit.path", filepath.Join(Dir(), "audit.log"))
	v.SetDefault("audit.max_size_mb", 10)
	v.SetDefault("audit.max_backups", 3)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.json", false)
}

// Loader collects flag bindings before reading the configuration.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment lookup set up.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag makes a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("binding %s: no such flag", key)
	}
	return l.v.BindPFlag(key, f)
}

// Load reads path, or DefaultPath when path is empty. A missing default
// file is not an error; a missing named file is.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	l.v.SetConfigFile(path)
	l.v.SetConfigType("yaml")
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration without flag bindings.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Validate checks values that would otherwise fail deep inside a trace.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSSH, TransportTelnet, TransportJump:
	default:
		return fmt.Errorf("transport %q: must be ssh, telnet or jump", c.Transport)
	}
	if c.MaxHops < 1 {
		return fmt.Errorf("max_hops must be at least 1, got %d", c.MaxHops)
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("max_login_attempts must be at least 1, got %d", c.MaxLoginAttempts)
	}
	for name := range c.Commands {
		switch session.Dialect(name) {
		case session.IOSXE, session.NXOS:
		default:
			return fmt.Errorf("commands.%s: unknown dialect (want iosxe or nxos)", name)
		}
	}
	if err := c.Prompts.Validate(); err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	return nil
}

// TraceOptions builds tracer options from the configuration.
func (c *Config) TraceOptions() trace.Options {
	var overrides map[session.Dialect]dialect.Commands
	if len(c.Commands) > 0 {
		overrides = make(map[session.Dialect]dialect.Commands, len(c.Commands))
		for name, cmds := range c.Commands {
			overrides[session.Dialect(name)] = cmds
		}
	}
	return trace.Options{
		MaxHops:          c.MaxHops,
		MaxLoginAttempts: c.MaxLoginAttempts,
		CommandTimeout:   c.Timeouts.Command,
		ProbeTimeout:     c.Timeouts.Probe,
		Commands:         dialect.NewTable(overrides),
		Grammar:          c.Prompts,
		Login: login.Options{
			Timeout:       c.Timeouts.Login,
			EnableCommand: c.EnableCommand,
		},
		Session: session.Options{
			PagingCommands: c.PagingCommands,
			PromptTimeout:  c.Timeouts.Login,
		},
	}
}

// Connector returns the connector for transport, or for the configured
// transport when transport is empty.
func (c *Config) Connector(transport string) (trace.Connector, error) {
	if transport == "" {
		transport = c.Transport
	}
	switch transport {
	case TransportSSH:
		return trace.SSHConnector{Config: session.SSHConfig{
			Port:             c.SSH.Port,
			KnownHostsFile:   c.SSH.KnownHosts,
			LegacyAlgorithms: c.SSH.LegacyAlgorithms,
			Timeout:          c.Timeouts.Login,
		}}, nil
	case TransportTelnet:
		return trace.TelnetConnector{Config: session.TelnetConfig{
			Port:    c.Telnet.Port,
			Timeout: c.Timeouts.Login,
		}}, nil
	case TransportJump:
		return trace.JumpConnector{
			Config: session.JumpConfig{
				Command:      c.Jump.Command,
				HostKeyReply: c.Jump.HostKeyReply,
				Timeout:      c.Timeouts.Login,
			},
			Grammar: c.Prompts,
		}, nil
	}
	return nil, fmt.Errorf("transport %q: must be ssh, telnet or jump", transport)
}

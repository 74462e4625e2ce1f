// Package lab simulates Cisco-style switches for tests and dry runs. A lab
// is described in YAML: each device has a hostname, a management address,
// login secrets, a dialect and canned command output. Devices speak over
// in-memory pipes and support in-band "ssh -l user host" hops to other lab
// devices, so the real session, login and trace code runs unchanged.
package lab

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

// Device is one simulated switch.
type Device struct {
	Hostname       string `yaml:"hostname"`
	Address        string `yaml:"address"`
	Dialect        string `yaml:"dialect"` // iosxe (default) or nxos
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	EnablePassword string `yaml:"enable_password"`

	// Banner is printed before the first prompt.
	Banner string `yaml:"banner"`

	// ExecBanner is printed after a successful login, before the prompt.
	ExecBanner string `yaml:"exec_banner"`

	// NoUsername skips the username prompt (line password only).
	NoUsername bool `yaml:"no_username"`

	// StartPrivileged lands directly on the '#' prompt after login.
	StartPrivileged bool `yaml:"start_privileged"`

	// HostKeyPrompt asks "(yes/no)?" when reached by an in-band hop.
	HostKeyPrompt bool `yaml:"host_key_prompt"`

	// PageLines inserts a --More-- pager every n lines until paging is
	// disabled with "terminal length 0". Zero never pages.
	PageLines int `yaml:"page_lines"`

	// Silent devices accept the connection and never print a prompt.
	Silent bool `yaml:"silent"`

	// Commands maps an exact command line to its output.
	Commands map[string]string `yaml:"commands"`
}

// Lab is a set of devices reachable by address or hostname.
type Lab struct {
	devices []*Device
	byKey   map[string]*Device
}

type labFile struct {
	Devices []*Device `yaml:"devices"`
}

// Load reads a lab definition from a YAML file.
func Load(path string) (*Lab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lab: %w", err)
	}
	return Parse(data)
}

// Parse builds a lab from YAML.
func Parse(data []byte) (*Lab, error) {
	var f labFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing lab: %w", err)
	}
	return New(f.Devices...)
}

// New builds a lab from devices. Hostnames and addresses must be unique.
func New(devices ...*Device) (*Lab, error) {
	l := &Lab{byKey: make(map[string]*Device)}
	for _, d := range devices {
		if d.Hostname == "" {
			return nil, fmt.Errorf("lab device without hostname")
		}
		for _, key := range []string{d.Hostname, d.Address} {
			if key == "" {
				continue
			}
			if _, dup := l.byKey[key]; dup {
				return nil, fmt.Errorf("lab: duplicate device key %q", key)
			}
			l.byKey[key] = d
		}
		l.devices = append(l.devices, d)
	}
	return l, nil
}

// Device returns the device with the given address or hostname.
func (l *Lab) Device(key string) (*Device, bool) {
	d, ok := l.byKey[key]
	return d, ok
}

// Devices returns all devices in definition order.
func (l *Lab) Devices() []*Device {
	return l.devices
}

// Dial opens a direct connection to a device, as Telnet would: the device
// starts at its login prompt.
func (l *Lab) Dial(ctx context.Context, address string) (*session.Stream, error) {
	d, ok := l.byKey[address]
	if !ok {
		return nil, &util.ConnectionError{Target: address, Err: fmt.Errorf("no lab device at %s", address)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &util.ConnectionError{Target: address, Err: err}
	}

	devIn, clientOut := io.Pipe()
	clientIn, devOut := io.Pipe()

	go func() {
		l.serve(d, newTerminal(devIn, devOut), "")
		devOut.Close()
	}()

	return session.NewStream(address, clientIn, clientOut, func() error {
		clientOut.Close()
		return clientIn.Close()
	}), nil
}

// Connector opens lab streams for the tracer and ignores credentials: the
// simulated device asks for them in-band.
type Connector struct {
	Lab *Lab
}

// Open implements the tracer's connector contract.
func (c Connector) Open(ctx context.Context, _ *session.Session, address string, _ credential.Credential) (session.Channel, error) {
	return c.Lab.Dial(ctx, address)
}

func (d *Device) isNXOS() bool {
	return strings.EqualFold(d.Dialect, "nxos")
}

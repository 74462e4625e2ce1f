// Package dialect tells IOS/IOS-XE from NX-OS and holds the per-dialect
// command templates the tracer runs.
package dialect

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

// ProbeCommand is valid on IOS/IOS-XE and rejected by NX-OS.
const ProbeCommand = "show etherchannel summary"

// DefaultProbeTimeout bounds the probe command.
const DefaultProbeTimeout = 10 * time.Second

// Classify maps probe output to a dialect. Empty output means the probe
// gave no signal and IOS-XE is assumed.
func Classify(output string) session.Dialect {
	if strings.Contains(output, "Invalid input") || strings.Contains(output, "% Invalid command") {
		return session.NXOS
	}
	return session.IOSXE
}

// Probe returns the session's dialect, running the probe command the first
// time and caching the result on the session. A timeout or empty output
// falls back to IOS-XE with a warning; other errors are returned.
func Probe(ctx context.Context, s *session.Session, timeout time.Duration) (session.Dialect, error) {
	if d := s.Dialect(); d != session.DialectUnknown {
		return d, nil
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	log := util.WithDevice(s.Name())
	out, err := s.Run(ctx, ProbeCommand, timeout)
	switch {
	case errors.Is(err, util.ErrTimeout):
		log.Warnf("dialect probe timed out, assuming %s", session.IOSXE)
		s.SetDialect(session.IOSXE)
		return session.IOSXE, nil
	case err != nil:
		return session.DialectUnknown, err
	case strings.TrimSpace(out) == "":
		log.Warnf("dialect probe returned nothing, assuming %s", session.IOSXE)
		s.SetDialect(session.IOSXE)
		return session.IOSXE, nil
	}

	d := Classify(out)
	log.Debugf("dialect %s", d)
	s.SetDialect(d)
	return d, nil
}

// Commands are the templates the tracer fills in. {mac}, {port} and
// {group} are substituted.
type Commands struct {
	MACLookup    string `mapstructure:"mac_lookup" yaml:"mac_lookup"`
	ARPLookup    string `mapstructure:"arp_lookup" yaml:"arp_lookup"`
	CDPDetail    string `mapstructure:"cdp_detail" yaml:"cdp_detail"`
	LLDPDetail   string `mapstructure:"lldp_detail" yaml:"lldp_detail"`
	Etherchannel string `mapstructure:"etherchannel" yaml:"etherchannel"`
	Description  string `mapstructure:"description" yaml:"description"`
}

// DefaultCommands returns the stock templates for a dialect.
func DefaultCommands(d session.Dialect) Commands {
	c := Commands{
		MACLookup:    "show mac address-table address {mac}",
		ARPLookup:    "show ip arp | include {mac}",
		CDPDetail:    "show cdp neighbors {port} detail",
		LLDPDetail:   "show lldp neighbors {port} detail",
		Etherchannel: "show etherchannel {group} summary",
		Description:  "show interfaces {port} description",
	}
	if d == session.NXOS {
		c.LLDPDetail = "show lldp neighbors interface {port} detail"
		c.Etherchannel = "show port-channel summary interface port-channel {group}"
		c.Description = "show interface {port} description"
	}
	return c
}

// Merge returns c with every empty field taken from defaults.
func (c Commands) Merge(defaults Commands) Commands {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return Commands{
		MACLookup:    pick(c.MACLookup, defaults.MACLookup),
		ARPLookup:    pick(c.ARPLookup, defaults.ARPLookup),
		CDPDetail:    pick(c.CDPDetail, defaults.CDPDetail),
		LLDPDetail:   pick(c.LLDPDetail, defaults.LLDPDetail),
		Etherchannel: pick(c.Etherchannel, defaults.Etherchannel),
		Description:  pick(c.Description, defaults.Description),
	}
}

// Table holds the command set per dialect, with optional overrides.
type Table struct {
	overrides map[session.Dialect]Commands
}

// NewTable returns a table; overrides may be nil.
func NewTable(overrides map[session.Dialect]Commands) *Table {
	return &Table{overrides: overrides}
}

// For returns the commands for a dialect.
func (t *Table) For(d session.Dialect) Commands {
	if d == session.DialectUnknown {
		d = session.IOSXE
	}
	def := DefaultCommands(d)
	if t == nil || t.overrides == nil {
		return def
	}
	return t.overrides[d].Merge(def)
}

// Fill substitutes template variables.
func Fill(template, mac, port string, group int) string {
	g := ""
	if group > 0 {
		g = strconv.Itoa(group)
	}
	return strings.NewReplacer("{mac}", mac, "{port}", port, "{group}", g).Replace(template)
}

package trace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/mactrace/internal/testutil"
	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/lab"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

const (
	hostMAC  = "0011.2233.4455"
	macQuery = "show mac address-table address " + hostMAC
)

var labCred = credential.Credential{
	Label:          "lab",
	Username:       "admin",
	Password:       "lab-pass",
	EnablePassword: "lab-enable",
}

// collaborator answers from a script and records what it was asked.
type collaborator struct {
	creds []credential.Credential
	core  string

	failures  []error
	coreAsked []string
}

func (c *collaborator) SelectCredential(_ context.Context, _ string, failed error) (credential.Credential, error) {
	c.failures = append(c.failures, failed)
	if len(c.creds) == 0 {
		return credential.Credential{}, errors.New("no more credentials")
	}
	cred := c.creds[0]
	c.creds = c.creds[1:]
	return cred, nil
}

func (c *collaborator) CoreAddress(_ context.Context, device string) (string, error) {
	c.coreAsked = append(c.coreAsked, device)
	return c.core, nil
}

func testOptions() Options {
	return Options{
		CommandTimeout: 2 * time.Second,
		ProbeTimeout:   2 * time.Second,
		Login:          login.Options{Timeout: 2 * time.Second},
		Session:        session.Options{PromptTimeout: 2 * time.Second},
	}
}

func newTracer(t *testing.T, conn Connector, collab Collaborator, opts Options) *Tracer {
	t.Helper()
	tr, err := New(conn, collab, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func device(hostname, address string, commands map[string]string) *lab.Device {
	return &lab.Device{
		Hostname:        hostname,
		Address:         address,
		Username:        labCred.Username,
		Password:        labCred.Password,
		EnablePassword:  labCred.EnablePassword,
		StartPrivileged: true,
		Commands:        commands,
	}
}

func newLab(t *testing.T, devices ...*lab.Device) *lab.Lab {
	t.Helper()
	l, err := lab.New(devices...)
	if err != nil {
		t.Fatalf("lab.New: %v", err)
	}
	return l
}

func macTable(rows ...string) string {
	var b strings.Builder
	b.WriteString("          Mac Address Table\n-------------------------------------------\n\n")
	b.WriteString("Vlan    Mac Address       Type        Ports\n----    -----------       --------    -----\n")
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	return b.String()
}

func macRow(vlan, port string) string {
	return "  " + vlan + "    " + hostMAC + "    DYNAMIC     " + port
}

func cdpNeighbor(deviceID, ip, localPort, caps string) string {
	return "-------------------------\n" +
		"Device ID: " + deviceID + "\n" +
		"Entry address(es): \n  IP address: " + ip + "\n" +
		"Platform: cisco WS-C3850-24,  Capabilities: " + caps + "\n" +
		"Interface: " + localPort + ",  Port ID (outgoing port): GigabitEthernet1/0/48\n" +
		"Holdtime : 150 sec\n"
}

func TestTraceChain(t *testing.T) {
	l := testutil.LoadLab(t, "chain.yaml")

	tests := []struct {
		name string
		conn Connector
	}{
		{"direct", lab.Connector{Lab: l}},
		{"in-band", JumpConnector{Grammar: login.DefaultGrammar()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := testutil.OpenLabSession(t, l, "10.0.0.1", labCred)
			start.IsCore = true

			tr := newTracer(t, tt.conn, nil, testOptions())
			res, err := tr.Trace(testutil.Context(t), "00:11:22:33:44:55", start, labCred)
			if err != nil {
				t.Fatalf("Trace: %v", err)
			}
			if res.Outcome != OutcomeAccessPort {
				t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeAccessPort)
			}
			if res.MAC != hostMAC {
				t.Errorf("MAC = %q, want normalized %q", res.MAC, hostMAC)
			}
			if len(res.Path) != 3 {
				t.Fatalf("path has %d hops, want 3: %+v", len(res.Path), res.Path)
			}

			core, dist, acc := res.Path[0], res.Path[1], res.Path[2]
			if core.Hostname != "core-1" || core.Port != "Gi1/0/1" || core.Neighbor == nil || core.Neighbor.ManagementIP != "10.0.0.2" {
				t.Errorf("hop 1 = %+v", core)
			}
			if dist.Hostname != "dist-1" || dist.Port != "Po5" || dist.LookupPort != "Eth1/10" {
				t.Errorf("hop 2 = %+v, want Po5 resolved to Eth1/10", dist)
			}
			if len(dist.Members) != 2 {
				t.Errorf("hop 2 members = %v", dist.Members)
			}
			if dist.Neighbor == nil || dist.Neighbor.DeviceID != "acc-1" {
				t.Errorf("hop 2 neighbor = %+v, want acc-1 via LLDP", dist.Neighbor)
			}
			if acc.Hostname != "acc-1" || acc.Port != "Gi1/0/7" || !acc.AccessPort {
				t.Errorf("hop 3 = %+v, want access port Gi1/0/7", acc)
			}
			if acc.Description != "Desk 4-117 printer" {
				t.Errorf("hop 3 description = %q", acc.Description)
			}
			if acc.VLAN != "10" {
				t.Errorf("hop 3 vlan = %q, want 10", acc.VLAN)
			}

			// Every hop session has been unwound back to the start device.
			if _, err := start.Run(testutil.Context(t), "show clock", time.Second); err != nil {
				t.Errorf("start session unusable after trace: %v", err)
			}
		})
	}
}

func TestTraceAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		rows []string
	}{
		{"two ports", []string{macRow("10", "Gi1/0/1"), macRow("20", "Gi1/0/2")}},
		{"same port two vlans", []string{macRow("10", "Gi1/0/1"), macRow("20", "Gi1/0/1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLab(t, device("sw-1", "10.1.0.1", map[string]string{
				macQuery: macTable(tt.rows...),
			}))
			start := testutil.OpenLabSession(t, l, "10.1.0.1", labCred)

			tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
			res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)

			var amb *util.AmbiguousMatchError
			if !errors.As(err, &amb) {
				t.Fatalf("err = %v, want AmbiguousMatchError", err)
			}
			if len(amb.Ports) != 2 || !strings.Contains(amb.Ports[1], "vlan 20") {
				t.Errorf("ambiguous ports = %v", amb.Ports)
			}
			if res.Outcome != OutcomeAmbiguous || len(res.Path) != 1 {
				t.Errorf("Outcome = %s, path %d hops; want ambiguous after 1 hop", res.Outcome, len(res.Path))
			}
		})
	}
}

func TestTraceMissingMAC(t *testing.T) {
	l := newLab(t, device("acc-9", "10.2.0.9", nil))

	tests := []struct {
		name    string
		isCore  bool
		want    Outcome
		wantErr error
	}{
		{"non-core asks for core", false, OutcomeCoreRequired, util.ErrCoreRequired},
		{"core without ARP", true, OutcomeNotFound, util.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := testutil.OpenLabSession(t, l, "10.2.0.9", labCred)
			start.IsCore = tt.isCore

			collab := &collaborator{}
			tr := newTracer(t, lab.Connector{Lab: l}, collab, testOptions())
			res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.want)
			}
			if len(res.Path) != 1 {
				t.Errorf("path has %d hops, want 1", len(res.Path))
			}
			if !tt.isCore && len(collab.coreAsked) != 1 {
				t.Errorf("core address asked %d times, want 1", len(collab.coreAsked))
			}
		})
	}
}

func TestTraceARPFallback(t *testing.T) {
	l := newLab(t, device("core-9", "10.3.0.1", map[string]string{
		"show ip arp | include " + hostMAC: "Internet  10.1.10.55            3   0011.2233.4455  ARPA   Vlan10\n",
	}))
	start := testutil.OpenLabSession(t, l, "10.3.0.1", labCred)
	start.IsCore = true

	tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if res.Outcome != OutcomeFoundInARP || !res.Outcome.Success() {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeFoundInARP)
	}
	if len(res.ARP) != 1 || res.ARP[0].IP != "10.1.10.55" || res.ARP[0].Interface != "Vlan10" {
		t.Errorf("ARP = %+v", res.ARP)
	}
}

func TestTraceCoreRedirect(t *testing.T) {
	l := newLab(t,
		device("acc-2", "10.4.0.2", nil),
		device("core-2", "10.4.0.1", map[string]string{
			macQuery: macTable(macRow("30", "Gi1/0/9")),
		}),
	)
	start := testutil.OpenLabSession(t, l, "10.4.0.2", labCred)

	collab := &collaborator{core: "10.4.0.1"}
	tr := newTracer(t, lab.Connector{Lab: l}, collab, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.Path) != 1 {
		t.Fatalf("path has %d hops, want the retried hop only", len(res.Path))
	}
	hop := res.Path[0]
	if hop.Hostname != "core-2" || hop.RedirectedFrom != "acc-2" || hop.Port != "Gi1/0/9" || !hop.AccessPort {
		t.Errorf("hop = %+v, want core-2 Gi1/0/9 redirected from acc-2", hop)
	}
}

func TestTraceEndpointNeighbor(t *testing.T) {
	l := newLab(t, device("acc-3", "10.5.0.3", map[string]string{
		macQuery: macTable(macRow("40", "Gi1/0/12")),
		"show cdp neighbors Gi1/0/12 detail": cdpNeighbor("SEP001122334455", "10.40.0.50", "GigabitEthernet1/0/12", "Host Phone Two-port Mac Relay"),
	}))
	start := testutil.OpenLabSession(t, l, "10.5.0.3", labCred)

	tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	hop := res.Last()
	if !hop.AccessPort || hop.Neighbor == nil || hop.Neighbor.DeviceID != "SEP001122334455" {
		t.Errorf("hop = %+v, want access port with the phone noted", hop)
	}
}

func TestTracePortChannel(t *testing.T) {
	tests := []struct {
		dialect string
		command string
		output  string
		want    string
	}{
		{
			dialect: "iosxe",
			command: "show etherchannel 7 summary",
			output:  "Group  Port-channel  Protocol    Ports\n------+-------------+-----------+---------------\n7      Po7(SU)         LACP      Gi1/0/20(P) Gi1/0/21(P)\n",
			want:    "Gi1/0/20",
		},
		{
			dialect: "nxos",
			command: "show port-channel summary interface port-channel 7",
			output:  "Group Port-       Type     Protocol  Member Ports\n      Channel\n-----------------------------------------------\n7     Po7(SU)     Eth      LACP      Eth1/20(P)   Eth1/21(D)\n",
			want:    "Eth1/20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			d := device("sw-"+tt.dialect, "10.6.0.1", map[string]string{
				macQuery:   macTable(macRow("50", "Port-channel7")),
				tt.command: tt.output,
			})
			d.Dialect = tt.dialect
			l := newLab(t, d)
			start := testutil.OpenLabSession(t, l, "10.6.0.1", labCred)

			tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
			res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
			if err != nil {
				t.Fatalf("Trace: %v", err)
			}
			hop := res.Last()
			if hop.Port != "Po7" || hop.LookupPort != tt.want {
				t.Errorf("Port = %q, LookupPort = %q; want Po7 resolved to %s", hop.Port, hop.LookupPort, tt.want)
			}
			if string(start.Dialect()) != tt.dialect {
				t.Errorf("cached dialect = %q, want %s", start.Dialect(), tt.dialect)
			}
		})
	}
}

func TestTracePortChannelWithoutMembers(t *testing.T) {
	l := newLab(t, device("sw-7", "10.6.0.7", map[string]string{
		macQuery: macTable(macRow("50", "Po9")),
	}))
	start := testutil.OpenLabSession(t, l, "10.6.0.7", labCred)

	tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if !errors.Is(err, util.ErrParse) || res.Outcome != OutcomeParseError {
		t.Errorf("err = %v, outcome %s; want parse error", err, res.Outcome)
	}
}

// loopLab links sw-a and sw-b to each other for the host MAC.
func loopLab(t *testing.T) *lab.Lab {
	return newLab(t,
		device("sw-a", "10.7.0.1", map[string]string{
			macQuery:                            macTable(macRow("10", "Gi1/0/1")),
			"show cdp neighbors Gi1/0/1 detail": cdpNeighbor("sw-b", "10.7.0.2", "GigabitEthernet1/0/1", "Switch IGMP"),
		}),
		device("sw-b", "10.7.0.2", map[string]string{
			macQuery:                            macTable(macRow("10", "Gi1/0/2")),
			"show cdp neighbors Gi1/0/2 detail": cdpNeighbor("sw-a.lab.example", "10.7.0.1", "GigabitEthernet1/0/2", "Switch IGMP"),
		}),
	)
}

func TestTraceCycleDetected(t *testing.T) {
	l := loopLab(t)
	start := testutil.OpenLabSession(t, l, "10.7.0.1", labCred)

	tr := newTracer(t, lab.Connector{Lab: l}, nil, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if !errors.Is(err, util.ErrCycleDetected) {
		t.Fatalf("err = %v, want ErrCycleDetected", err)
	}
	if res.Outcome != OutcomeCycleDetected || len(res.Path) != 2 {
		t.Errorf("Outcome = %s after %d hops, want cycle after 2", res.Outcome, len(res.Path))
	}
}

func TestTraceHopLimit(t *testing.T) {
	l := testutil.LoadLab(t, "chain.yaml")
	start := testutil.OpenLabSession(t, l, "10.0.0.1", labCred)

	opts := testOptions()
	opts.MaxHops = 2
	tr := newTracer(t, lab.Connector{Lab: l}, nil, opts)
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, labCred)
	if !errors.Is(err, util.ErrHopLimitExceeded) {
		t.Fatalf("err = %v, want ErrHopLimitExceeded", err)
	}
	if len(res.Path) != 2 || res.Outcome != OutcomeHopLimitExceeded {
		t.Errorf("Outcome = %s after %d hops, want hop limit after 2", res.Outcome, len(res.Path))
	}
}

func TestTraceLoginReselection(t *testing.T) {
	wrong := labCred
	wrong.Label = "stale"
	wrong.Password = "expired"

	tests := []struct {
		name string
		conn func(l *lab.Lab) Connector
	}{
		{"direct", func(l *lab.Lab) Connector { return lab.Connector{Lab: l} }},
		{"in-band", func(*lab.Lab) Connector { return JumpConnector{Grammar: login.DefaultGrammar()} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLab(t,
				device("edge-1", "10.8.0.1", map[string]string{
					macQuery:                             macTable(macRow("10", "Gi1/0/48")),
					"show cdp neighbors Gi1/0/48 detail": cdpNeighbor("edge-2", "10.8.0.2", "GigabitEthernet1/0/48", "Switch"),
				}),
				device("edge-2", "10.8.0.2", map[string]string{
					macQuery: macTable(macRow("10", "Gi1/0/5")),
				}),
			)
			start := testutil.OpenLabSession(t, l, "10.8.0.1", labCred)

			collab := &collaborator{creds: []credential.Credential{labCred}}
			tr := newTracer(t, tt.conn(l), collab, testOptions())
			res, err := tr.Trace(testutil.Context(t), hostMAC, start, wrong)
			if err != nil {
				t.Fatalf("Trace: %v", err)
			}
			if len(res.Path) != 2 || !res.Last().AccessPort {
				t.Errorf("path = %+v, want 2 hops ending at an access port", res.Path)
			}
			if len(collab.failures) != 1 || !errors.Is(collab.failures[0], util.ErrLoginFailed) {
				t.Errorf("re-selections = %v, want one after a rejected login", collab.failures)
			}
		})
	}
}

func TestStart(t *testing.T) {
	wrong := labCred
	wrong.Password = "expired"

	l := newLab(t, device("edge-1", "10.8.0.1", map[string]string{
		macQuery: macTable(macRow("10", "Gi1/0/5")),
	}))

	collab := &collaborator{creds: []credential.Credential{labCred}}
	tr := newTracer(t, JumpConnector{Grammar: login.DefaultGrammar()}, collab, testOptions())
	ctx := testutil.Context(t)

	start, cred, err := tr.Start(ctx, lab.Connector{Lab: l}, "10.8.0.1", true, wrong)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer start.Close()
	if cred != labCred {
		t.Errorf("Start() credential = %s, want the re-selected one", cred)
	}
	if !start.IsCore || start.Hostname != "edge-1" {
		t.Errorf("start session = %s core=%v", start.Name(), start.IsCore)
	}

	res, err := tr.Trace(ctx, hostMAC, start, cred)
	if err != nil || len(res.Path) != 1 || !res.Last().AccessPort {
		t.Errorf("Trace() = %+v, %v", res.Path, err)
	}

	// The tracer's own in-band connector cannot open a first session.
	if _, _, err := tr.Start(ctx, nil, "10.8.0.1", false, labCred); !errors.Is(err, util.ErrConnectionFailed) {
		t.Errorf("Start without a current session: err = %v, want ErrConnectionFailed", err)
	}
}

func TestTraceLoginGivesUp(t *testing.T) {
	wrong := labCred
	wrong.Password = "expired"

	l := newLab(t,
		device("edge-1", "10.8.0.1", map[string]string{
			macQuery:                             macTable(macRow("10", "Gi1/0/48")),
			"show cdp neighbors Gi1/0/48 detail": cdpNeighbor("edge-2", "10.8.0.2", "GigabitEthernet1/0/48", "Switch"),
		}),
		device("edge-2", "10.8.0.2", nil),
	)
	start := testutil.OpenLabSession(t, l, "10.8.0.1", labCred)

	// The collaborator keeps offering the same bad credential.
	collab := &collaborator{creds: []credential.Credential{wrong, wrong, wrong}}
	tr := newTracer(t, lab.Connector{Lab: l}, collab, testOptions())
	res, err := tr.Trace(testutil.Context(t), hostMAC, start, wrong)

	if res.Outcome != OutcomeLoginFailed {
		t.Errorf("Outcome = %s (%v), want %s", res.Outcome, err, OutcomeLoginFailed)
	}
	if len(collab.failures) != DefaultMaxLoginAttempts-1 {
		t.Errorf("re-selections = %d, want %d", len(collab.failures), DefaultMaxLoginAttempts-1)
	}
}

func TestTraceLoginNoMoreCredentials(t *testing.T) {
	wrong := labCred
	wrong.Password = "expired"

	l := newLab(t,
		device("edge-1", "10.8.0.1", map[string]string{
			macQuery:                             macTable(macRow("10", "Gi1/0/48")),
			"show cdp neighbors Gi1/0/48 detail": cdpNeighbor("edge-2", "10.8.0.2", "GigabitEthernet1/0/48", "Switch"),
		}),
		device("edge-2", "10.8.0.2", nil),
	)

	tests := []struct {
		name   string
		collab Collaborator
		want   Outcome
	}{
		{"collaborator has none left", &collaborator{}, OutcomeLoginFailed},
		{"user quits", quitter{}, OutcomeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := testutil.OpenLabSession(t, l, "10.8.0.1", labCred)
			tr := newTracer(t, lab.Connector{Lab: l}, tt.collab, testOptions())
			res, err := tr.Trace(testutil.Context(t), hostMAC, start, wrong)

			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s (%v), want %s", res.Outcome, err, tt.want)
			}
			var le *util.LoginError
			if !errors.As(err, &le) || !le.IsAuthRejected() {
				t.Errorf("err = %v, want the rejected login kept", err)
			}
			if len(res.Path) != 1 {
				t.Errorf("path = %d hops, want 1", len(res.Path))
			}
		})
	}
}

// quitter declines every credential prompt.
type quitter struct{}

func (quitter) SelectCredential(context.Context, string, error) (credential.Credential, error) {
	return credential.Credential{}, context.Canceled
}

func (quitter) CoreAddress(context.Context, string) (string, error) {
	return "", context.Canceled
}

func TestTraceRejectsBadMAC(t *testing.T) {
	tr := newTracer(t, lab.Connector{}, nil, testOptions())
	res, err := tr.Trace(testutil.Context(t), "not-a-mac", &session.Session{}, labCred)
	if !errors.Is(err, util.ErrInvalidMAC) {
		t.Errorf("err = %v, want ErrInvalidMAC", err)
	}
	if res == nil || len(res.Path) != 0 {
		t.Errorf("result = %+v, want empty path", res)
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeAccessPort},
		{&util.AmbiguousMatchError{}, OutcomeAmbiguous},
		{&util.LoginError{Err: util.NewTimeoutError("prompt", time.Second, "")}, OutcomeLoginFailed},
		{&util.ConnectionError{Target: "x"}, OutcomeConnectionFailed},
		{util.NewTimeoutError("prompt", time.Second, ""), OutcomeTimeout},
		{&util.ParseError{}, OutcomeParseError},
		{context.Canceled, OutcomeCanceled},
		{errors.New("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

// Package trace walks from a starting switch to the edge port where a MAC
// address is learned. Each hop looks the MAC up, resolves port-channels to
// a member port, asks CDP and then LLDP who is on the other end, and logs
// in to that neighbor, until a port with no switch behind it is reached.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/dialect"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/parse"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxHops          = 16
	DefaultMaxLoginAttempts = 2
	DefaultCommandTimeout   = 30 * time.Second
)

// Collaborator supplies the decisions the tracer cannot make itself. The
// CLI answers them on the terminal.
type Collaborator interface {
	// SelectCredential picks the credential for address. failed is the
	// login error that caused a re-selection, nil for the first pick.
	SelectCredential(ctx context.Context, address string, failed error) (credential.Credential, error)

	// CoreAddress returns a core device to retry on when device has no
	// entry for the MAC. An empty address ends the trace.
	CoreAddress(ctx context.Context, device string) (string, error)
}

// Options tune a Tracer.
type Options struct {
	MaxHops          int
	MaxLoginAttempts int
	CommandTimeout   time.Duration // MAC table, neighbor and membership queries
	ProbeTimeout     time.Duration

	Commands *dialect.Table
	Grammar  login.Grammar
	Login    login.Options
	Session  session.Options
}

func (o Options) withDefaults() Options {
	if o.MaxHops <= 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.MaxLoginAttempts <= 0 {
		o.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = dialect.DefaultProbeTimeout
	}
	if o.Commands == nil {
		o.Commands = dialect.NewTable(nil)
	}
	if o.Grammar.IsZero() {
		o.Grammar = login.DefaultGrammar()
	}
	if o.Login.LineEnding == "" {
		o.Login.LineEnding = o.Session.LineEnding
	}
	return o
}

// Tracer follows a MAC address across devices.
type Tracer struct {
	connector Connector
	collab    Collaborator
	opts      Options
}

// New returns a tracer. collab may be nil, in which case a missing core
// address or a rejected login ends the trace.
func New(connector Connector, collab Collaborator, opts Options) (*Tracer, error) {
	opts = opts.withDefaults()
	if err := opts.Grammar.Validate(); err != nil {
		return nil, fmt.Errorf("login grammar: %w", err)
	}
	return &Tracer{connector: connector, collab: collab, opts: opts}, nil
}

// Trace walks from start, a logged-in and initialized session, to the
// port where mac is learned. start.IsCore allows the ARP fallback on the
// first device. cred is the credential start was opened with; when zero
// the collaborator is asked before the first hop.
//
// The returned Result is never nil and carries the path reached so far.
// Sessions the tracer opened are closed before it returns; start is left
// open at its prompt.
func (t *Tracer) Trace(ctx context.Context, mac string, start *session.Session, cred credential.Credential) (*Result, error) {
	res := &Result{MAC: mac}
	norm, err := parse.NormalizeMAC(mac)
	if err != nil {
		res.finish(OutcomeFailed, err)
		return res, err
	}
	res.MAC = norm

	w := &walk{
		Tracer:  t,
		mac:     norm,
		result:  res,
		cred:    cred,
		start:   start,
		current: start,
		visited: make(map[string]bool),
	}
	w.visit(start.Hostname, start.Address)
	defer w.unwind()

	log := util.WithMAC(norm)
	log.Infof("tracing from %s", start.Name())

	outcome, err := w.run(ctx)
	res.finish(outcome, err)
	if err != nil {
		log.Warnf("trace stopped after %d hops: %v", len(res.Path), err)
	} else {
		log.Infof("trace finished: %s after %d hops", outcome, len(res.Path))
	}
	return res, err
}

// Start opens and logs in the session a trace begins from. conn reaches
// address directly; nil means the tracer's own connector. A rejected login
// is re-selected through the collaborator like any other hop. The
// credential that succeeded is returned for Trace.
func (t *Tracer) Start(ctx context.Context, conn Connector, address string, isCore bool, cred credential.Credential) (*session.Session, credential.Credential, error) {
	tt := *t
	if conn != nil {
		tt.connector = conn
	}
	w := &walk{Tracer: &tt, cred: cred}
	s, err := w.connect(ctx, address, isCore)
	if err != nil {
		return nil, w.cred, err
	}
	return s, w.cred, nil
}

// walk is the state of one trace.
type walk struct {
	*Tracer
	mac    string
	result *Result
	cred   credential.Credential

	start   *session.Session
	current *session.Session
	opened  []*session.Session
	visited map[string]bool
}

func (w *walk) run(ctx context.Context) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeOf(err), err
		}

		w.result.Path = append(w.result.Path, Hop{Hostname: w.current.Name(), Address: w.current.Address})
		hopNum := len(w.result.Path)
		hop := &w.result.Path[hopNum-1]
		log := util.WithHop(hopNum, hop.Hostname)

		entry, done, err := w.locate(ctx, hop)
		if err != nil {
			return OutcomeOf(err), err
		}
		if done {
			return OutcomeFoundInARP, nil
		}
		hop.Port = entry.Port
		hop.VLAN = entry.VLAN
		log.Debugf("%s learned on %s vlan %s", w.mac, hop.Port, hop.VLAN)

		if err := w.resolvePort(ctx, hop); err != nil {
			return OutcomeOf(err), err
		}
		if err := w.describe(ctx, hop); err != nil {
			return OutcomeOf(err), err
		}

		found, err := w.neighbors(ctx, hop.LookupPort)
		if err != nil {
			return OutcomeOf(err), err
		}
		next, endpoint := pickNeighbor(found)
		if next == nil {
			hop.AccessPort = true
			hop.Neighbor = endpoint
			log.Infof("access port %s", hop.Port)
			return OutcomeAccessPort, nil
		}
		hop.Neighbor = next
		log.Debugf("neighbor %s (%s) via %s", next.DeviceID, next.ManagementIP, next.Protocol)

		if w.seen(next.DeviceID) || w.seen(next.ManagementIP) {
			err := fmt.Errorf("%s on %s leads back to %s: %w", hop.LookupPort, hop.Hostname, next.DeviceID, util.ErrCycleDetected)
			return OutcomeOf(err), err
		}
		if hopNum >= w.opts.MaxHops {
			err := fmt.Errorf("%d hops reached at %s: %w", hopNum, hop.Hostname, util.ErrHopLimitExceeded)
			return OutcomeOf(err), err
		}
		if next.ManagementIP == "" {
			err := &util.ConnectionError{Target: next.DeviceID, Err: errors.New("neighbor advertised no management address")}
			return OutcomeOf(err), err
		}

		s, err := w.connect(ctx, next.ManagementIP, false)
		if err != nil {
			return OutcomeOf(err), err
		}
		w.advance(s)
		if w.seen(s.Hostname) {
			err := fmt.Errorf("%s at %s was already visited: %w", s.Hostname, s.Address, util.ErrCycleDetected)
			return OutcomeOf(err), err
		}
		w.visit(next.DeviceID, next.ManagementIP, s.Hostname)
	}
}

// locate finds the single MAC table entry on the current device. When the
// device has none it falls back to ARP on a core device, or moves the hop
// to a core device supplied by the collaborator. done reports that ARP
// evidence ended the trace.
func (w *walk) locate(ctx context.Context, hop *Hop) (parse.MACEntry, bool, error) {
	for {
		cmd := dialect.Fill(w.commands().MACLookup, w.mac, "", 0)
		out, err := w.exec(ctx, cmd)
		if err != nil {
			return parse.MACEntry{}, false, err
		}
		entries := parse.ParseMACTable(out, parse.MACFilter{MAC: w.mac, KeepAggregates: true})

		switch {
		case len(entries) == 1:
			return entries[0], false, nil
		case len(entries) > 1:
			return parse.MACEntry{}, false, &util.AmbiguousMatchError{Device: w.current.Name(), MAC: w.mac, Ports: entryPorts(entries)}
		}

		if w.current.IsCore {
			return parse.MACEntry{}, true, w.arp(ctx)
		}
		if err := w.redirectToCore(ctx, hop); err != nil {
			return parse.MACEntry{}, false, err
		}
	}
}

// entryPorts names each row as "port (vlan n)" for error messages.
func entryPorts(entries []parse.MACEntry) []string {
	ports := make([]string, len(entries))
	for i, e := range entries {
		ports[i] = fmt.Sprintf("%s (vlan %s)", e.Port, e.VLAN)
	}
	return ports
}

// arp is the last resort on a core device: an ARP entry proves the host
// exists even though no switch port has it.
func (w *walk) arp(ctx context.Context) error {
	cmd := dialect.Fill(w.commands().ARPLookup, w.mac, "", 0)
	out, err := w.exec(ctx, cmd)
	if err != nil {
		return err
	}
	for _, e := range parse.ParseARP(out) {
		if e.MAC == w.mac {
			w.result.ARP = append(w.result.ARP, e)
		}
	}
	if len(w.result.ARP) == 0 {
		return fmt.Errorf("%s has no MAC table or ARP entry for %s: %w", w.current.Name(), w.mac, util.ErrNotFound)
	}
	util.WithDevice(w.current.Name()).Infof("%s found in ARP only (%s)", w.mac, w.result.ARP[0].IP)
	return nil
}

// redirectToCore retries the current hop on a core device. The hop is
// rewritten in place; no port was resolved on the device it replaces.
func (w *walk) redirectToCore(ctx context.Context, hop *Hop) error {
	missing := fmt.Errorf("%s has no entry for %s: %w", w.current.Name(), w.mac, util.ErrCoreRequired)
	if w.collab == nil {
		return missing
	}
	address, err := w.collab.CoreAddress(ctx, w.current.Name())
	if err != nil {
		return err
	}
	if address == "" {
		return missing
	}

	util.WithDevice(w.current.Name()).Infof("no entry for %s, retrying on core %s", w.mac, address)
	s, err := w.connect(ctx, address, true)
	if err != nil {
		return err
	}
	w.forget(hop.Hostname, hop.Address)
	w.advance(s)
	w.visit(s.Hostname, s.Address)

	hop.RedirectedFrom = hop.Hostname
	hop.Hostname = s.Name()
	hop.Address = s.Address
	return nil
}

// resolvePort sets the port used for the neighbor query. A port-channel is
// replaced by its first bundled member.
func (w *walk) resolvePort(ctx context.Context, hop *Hop) error {
	hop.LookupPort = hop.Port
	group, ok := parse.AggregateNumber(hop.Port)
	if !ok {
		return nil
	}

	d, err := dialect.Probe(ctx, w.current, w.opts.ProbeTimeout)
	if err != nil {
		return err
	}
	cmd := dialect.Fill(w.opts.Commands.For(d).Etherchannel, w.mac, hop.Port, group)
	out, err := w.exec(ctx, cmd)
	if err != nil {
		return err
	}
	members := parse.ParseEtherchannelMembers(out)
	if len(members) == 0 {
		return &util.ParseError{Command: cmd, Detail: "no bundled member ports"}
	}
	hop.Members = members
	hop.LookupPort = members[0]
	return nil
}

// describe annotates the hop with the port description. A failure here
// only loses the annotation, unless the session cannot be recovered.
func (w *walk) describe(ctx context.Context, hop *Hop) error {
	tmpl := w.commands().Description
	if tmpl == "" {
		return nil
	}
	out, err := w.exec(ctx, dialect.Fill(tmpl, w.mac, hop.Port, 0))
	if err != nil {
		util.WithDevice(w.current.Name()).Debugf("no description for %s: %v", hop.Port, err)
		if errors.Is(err, util.ErrTimeout) {
			return w.current.Resync(ctx)
		}
		return nil
	}
	hop.Description = parse.ParseDescriptions(out)[hop.Port]
	return nil
}

// neighbors asks CDP, then LLDP, who is attached to port.
func (w *walk) neighbors(ctx context.Context, port string) ([]parse.Neighbor, error) {
	cdp := w.commands().CDPDetail
	if cdp != "" {
		found, err := w.queryNeighbors(ctx, cdp, port, parse.CDP)
		if err != nil || len(found) > 0 {
			return found, err
		}
	}

	// The LLDP syntax differs between dialects.
	d, err := dialect.Probe(ctx, w.current, w.opts.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	lldp := w.opts.Commands.For(d).LLDPDetail
	if lldp == "" {
		return nil, nil
	}
	return w.queryNeighbors(ctx, lldp, port, parse.LLDP)
}

func (w *walk) queryNeighbors(ctx context.Context, tmpl, port string, proto parse.Protocol) ([]parse.Neighbor, error) {
	out, err := w.exec(ctx, dialect.Fill(tmpl, w.mac, port, 0))
	if err != nil {
		return nil, err
	}
	var found []parse.Neighbor
	for _, n := range parse.ParseNeighbors(out, proto) {
		if n.LocalPort == "" || n.LocalPort == port {
			found = append(found, n)
		}
	}
	return found, nil
}

// pickNeighbor returns the first neighbor worth hopping to, and otherwise
// the first endpoint seen on the port.
func pickNeighbor(found []parse.Neighbor) (next, endpoint *parse.Neighbor) {
	for i := range found {
		n := found[i]
		if n.IsEndpoint() {
			if endpoint == nil {
				endpoint = &n
			}
			continue
		}
		return &n, nil
	}
	return nil, endpoint
}

// connect opens and logs in a session to address. A rejected login gets
// the collaborator to pick another credential, up to MaxLoginAttempts.
func (w *walk) connect(ctx context.Context, address string, isCore bool) (*session.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxLoginAttempts; attempt++ {
		if lastErr != nil || w.cred.IsZero() {
			if w.collab == nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, &util.LoginError{Device: address, Stage: "credential", Reason: "no credential selected"}
			}
			cred, err := w.collab.SelectCredential(ctx, address, lastErr)
			if err != nil {
				if lastErr != nil {
					return nil, fmt.Errorf("%w (re-selection: %w)", lastErr, err)
				}
				return nil, err
			}
			w.cred = cred
		}

		s, err := w.open(ctx, address, isCore)
		if err == nil {
			return s, nil
		}
		var le *util.LoginError
		if !errors.As(err, &le) || !le.IsAuthRejected() {
			return nil, err
		}
		util.WithDevice(address).Warnf("login rejected with %s (attempt %d of %d)", w.cred, attempt, w.opts.MaxLoginAttempts)
		lastErr = err
	}
	return nil, lastErr
}

func (w *walk) open(ctx context.Context, address string, isCore bool) (*session.Session, error) {
	ch, err := w.connector.Open(ctx, w.current, address, w.cred)
	if err != nil {
		return nil, err
	}
	s := session.New(ch, address, w.opts.Session)
	s.Parent = session.ParentOf(ch)
	s.IsCore = isCore

	if err := login.Login(ctx, s, w.cred, w.opts.Grammar, w.opts.Login); err != nil {
		if aerr := session.Abort(ctx, ch); aerr != nil {
			util.WithDevice(address).Warnf("abandoning session: %v", aerr)
		}
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// advance makes next the current session. A superseded session with its
// own transport is closed now; nested ones stay open until unwind because
// next runs inside them.
func (w *walk) advance(next *session.Session) {
	prev := w.current
	w.opened = append(w.opened, next)
	w.current = next
	if next.Parent == nil && prev != w.start {
		if err := prev.Close(); err != nil {
			util.WithDevice(prev.Name()).Debugf("close: %v", err)
		}
	}
}

// unwind closes every session the tracer opened, innermost first.
func (w *walk) unwind() {
	for i := len(w.opened) - 1; i >= 0; i-- {
		s := w.opened[i]
		if err := s.Close(); err != nil {
			util.WithDevice(s.Name()).Debugf("close: %v", err)
		}
	}
	w.opened = nil
	w.current = w.start
}

func (w *walk) commands() dialect.Commands {
	return w.opts.Commands.For(w.current.Dialect())
}

func (w *walk) exec(ctx context.Context, command string) (string, error) {
	out, err := w.current.Run(ctx, command, w.opts.CommandTimeout)
	if err != nil {
		return out, fmt.Errorf("%q on %s: %w", command, w.current.Name(), err)
	}
	return out, nil
}

func (w *walk) visit(keys ...string) {
	for _, k := range keys {
		if id := identity(k); id != "" {
			w.visited[id] = true
		}
	}
}

func (w *walk) forget(keys ...string) {
	for _, k := range keys {
		delete(w.visited, identity(k))
	}
}

func (w *walk) seen(key string) bool {
	id := identity(key)
	return id != "" && w.visited[id]
}

// identity reduces a hostname or address to the key used for cycle
// detection: addresses as-is, hostnames lowercased without their domain.
func identity(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || net.ParseIP(key) != nil {
		return key
	}
	if i := strings.IndexByte(key, '.'); i > 0 {
		key = key[:i]
	}
	return key
}

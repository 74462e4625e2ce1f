package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

// State is a step of the login sequence.
type State int

const (
	AwaitingPrompt State = iota
	SentUsername
	SentPassword
	AwaitingPostCredPrompt
	UserMode
	SentEnable
	AwaitingEnablePassword
	Privileged
	Failed
)

var stateNames = [...]string{
	AwaitingPrompt:         "AwaitingPrompt",
	SentUsername:           "SentUsername",
	SentPassword:           "SentPassword",
	AwaitingPostCredPrompt: "AwaitingPostCredPrompt",
	UserMode:               "UserMode",
	SentEnable:             "SentEnable",
	AwaitingEnablePassword: "AwaitingEnablePassword",
	Privileged:             "Privileged",
	Failed:                 "Failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultEnableCommand is sent from user mode to reach privileged mode.
const DefaultEnableCommand = "enable"

// retroLines is how much of the screen the retroactive check inspects.
const retroLines = 5

// Options tune one login.
type Options struct {
	Timeout       time.Duration // every individual wait
	EnableCommand string
	LineEnding    string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = session.DefaultPromptTimeout
	}
	if o.EnableCommand == "" {
		o.EnableCommand = DefaultEnableCommand
	}
	if o.LineEnding == "" {
		o.LineEnding = session.DefaultLineEnding
	}
	return o
}

// Automaton logs one session in. It is single use.
type Automaton struct {
	grammar *compiled
	opts    Options
	state   State
	history []State
}

// New compiles the grammar and returns an automaton in AwaitingPrompt.
func New(g Grammar, opts Options) (*Automaton, error) {
	c, err := g.compile()
	if err != nil {
		return nil, err
	}
	return &Automaton{grammar: c, opts: opts.withDefaults(), state: AwaitingPrompt}, nil
}

// State returns the current state.
func (a *Automaton) State() State {
	return a.state
}

// History returns every state visited, in order.
func (a *Automaton) History() []State {
	return append([]State(nil), a.history...)
}

func (a *Automaton) enter(s State, device string) {
	util.WithDevice(device).Debugf("login %s -> %s", a.state, s)
	a.history = append(a.history, a.state)
	a.state = s
}

// Login runs the sequence on s until a privileged prompt appears. On
// success s carries the hostname and privilege learned from that prompt.
// Failures are *util.LoginError; a rejected credential unwraps to
// util.ErrLoginFailed and a missing prompt to util.ErrTimeout.
func (a *Automaton) Login(ctx context.Context, s *session.Session, cred credential.Credential) error {
	device := s.Address
	ch := s.Channel

	fail := func(reason string, err error) error {
		stage := a.state
		a.enter(Failed, device)
		return &util.LoginError{Device: device, Stage: stage.String(), Reason: reason, Err: err}
	}
	send := func(text string) error {
		if err := ch.Send(text + a.opts.LineEnding); err != nil {
			return fail("write failed", err)
		}
		return nil
	}

	// A prompt that arrived before we started waiting is acted on directly.
	class, prompt, ok := a.retroactive(ch)
	if !ok {
		var err error
		class, prompt, err = a.await(ctx, ch, classUsername, classPassword, classPrivileged, classUnprivileged)
		if err != nil {
			return fail("no login prompt", err)
		}
	}

	// rejected holds failure text seen after something was sent. An exec
	// prompt of the target afterwards means it was banner text; anything
	// else confirms it.
	rejected := ""
	refuse := func(reason string) error {
		if rejected != "" {
			reason = rejected
		}
		return fail(reason, nil)
	}

	for {
		switch class {
		case classFailure:
			rejected = strings.TrimSpace(prompt)
			util.WithDevice(device).Debugf("login: %q after %s", rejected, a.state)

		case classPrivileged:
			if isParentPrompt(s, prompt) {
				return refuse("returned to " + s.Parent.Hostname)
			}
			s.SetPrompt(prompt)
			a.enter(Privileged, device)
			return nil

		case classUnprivileged:
			if isParentPrompt(s, prompt) {
				return refuse("returned to " + s.Parent.Hostname)
			}
			if a.state == SentEnable || a.state == AwaitingEnablePassword {
				return refuse("enable refused")
			}
			rejected = ""
			s.SetPrompt(prompt)
			a.enter(UserMode, device)
			if err := send(a.opts.EnableCommand); err != nil {
				return err
			}
			a.enter(SentEnable, device)

		case classUsername:
			if a.state != AwaitingPrompt {
				return refuse("username requested again")
			}
			if err := send(cred.Username); err != nil {
				return err
			}
			a.enter(SentUsername, device)

		case classPassword:
			switch a.state {
			case AwaitingPrompt, SentUsername:
				if err := send(cred.Password); err != nil {
					return err
				}
				a.enter(SentPassword, device)
				a.enter(AwaitingPostCredPrompt, device)
			case SentEnable:
				if err := send(cred.Enable()); err != nil {
					return err
				}
				a.enter(AwaitingEnablePassword, device)
			default:
				return refuse("password requested again")
			}
		}

		var err error
		switch a.state {
		case SentUsername:
			class, prompt, err = a.await(ctx, ch, classFailure, classPassword, classUsername, classPrivileged, classUnprivileged)
		default:
			class, prompt, err = a.await(ctx, ch, classFailure, classPrivileged, classUnprivileged, classPassword, classUsername)
		}
		if err != nil {
			if rejected != "" && ctx.Err() == nil {
				return fail(rejected, nil)
			}
			return fail(fmt.Sprintf("no prompt after %s", a.state), err)
		}
	}
}

// isParentPrompt reports whether prompt belongs to the session s was
// opened from, which is where a refused in-band hop lands.
func isParentPrompt(s *session.Session, prompt string) bool {
	if s.Parent == nil || s.Parent.Hostname == "" {
		return false
	}
	return strings.EqualFold(session.HostnameFromPrompt(prompt), s.Parent.Hostname)
}

// await waits for any of the given classes. The caller decides what the
// class means in the current state.
func (a *Automaton) await(ctx context.Context, ch session.Channel, classes ...promptClass) (promptClass, string, error) {
	pats, owners := a.grammar.patterns(classes...)
	m, err := ch.AwaitAny(ctx, pats, a.opts.Timeout)
	if err != nil {
		return 0, "", err
	}
	if m.Index < 1 || m.Index > len(owners) {
		return 0, "", errors.New("match index out of range")
	}
	return owners[m.Index-1], m.Text, nil
}

// retroactive classifies the last visible line when it already shows a
// prompt, and discards the unconsumed input so the prompt is not seen twice.
func (a *Automaton) retroactive(ch session.Channel) (promptClass, string, bool) {
	lines := strings.Split(ch.ReadBuffer(retroLines), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = lines[i]
			break
		}
	}
	if last == "" {
		return 0, "", false
	}

	for _, cl := range []promptClass{classPassword, classUsername, classPrivileged, classUnprivileged} {
		for _, p := range a.grammar.byClass[cl] {
			if p.Kind == session.KindLiteral {
				continue
			}
			if p.MatchString(last) {
				ch.Discard()
				return cl, strings.TrimSpace(last), true
			}
		}
	}
	return 0, "", false
}

// Login is a convenience wrapper around New and Automaton.Login.
func Login(ctx context.Context, s *session.Session, cred credential.Credential, g Grammar, opts Options) error {
	a, err := New(g, opts)
	if err != nil {
		return err
	}
	return a.Login(ctx, s, cred)
}

// Package login drives a CLI channel from first contact to a privileged
// exec prompt: username, password, enable and enable password, with an
// explicit state machine and a configurable prompt grammar.
package login

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/newtron-network/mactrace/pkg/session"
)

// Grammar is the vocabulary the automaton recognizes. Prompt expressions
// are regular expressions anchored to the end of the received input and
// matched case-insensitively.
type Grammar struct {
	Username     []string `mapstructure:"username" yaml:"username"`
	Password     []string `mapstructure:"password" yaml:"password"`
	Privileged   string   `mapstructure:"privileged" yaml:"privileged"`
	Unprivileged string   `mapstructure:"unprivileged" yaml:"unprivileged"`

	// Failures are case-insensitive substrings that mean the device
	// rejected what was sent. They are only looked for after credentials
	// or the enable command went out.
	Failures []string `mapstructure:"failures" yaml:"failures"`

	// Legacy adds unanchored partial matches ("sername:", "assword:", ...)
	// for devices whose prompts are followed by stray output.
	Legacy bool `mapstructure:"legacy" yaml:"legacy"`
}

// DefaultGrammar covers IOS, IOS-XE, NX-OS and the common terminal servers.
func DefaultGrammar() Grammar {
	return Grammar{
		Username: []string{
			`username:`, `login:`, `user:`, `login as:`, `user name:`, `userid:`, `logon:`,
		},
		Password: []string{
			`password:`, `passcode:`, `passwd:`, `secret:`, `enable password:`, `enable secret:`,
		},
		Privileged:   `[^\s#>()]+(?:\([^)]*\))?#`,
		Unprivileged: `[^\s#>()]+>`,
		Failures: []string{
			"denied", "failed", "invalid", "incorrect", "authentication failure",
			"bad passwords", "bad secrets",
		},
	}
}

var (
	legacyUsername = []string{"sername:", "ogin:"}
	legacyPassword = []string{"assword:", "asscode:", "asswd:", "ecret:"}
)

// promptClass is what a matched prompt means to the automaton.
type promptClass int

const (
	classUsername promptClass = iota
	classPassword
	classPrivileged
	classUnprivileged
	classFailure
)

func (c promptClass) String() string {
	switch c {
	case classUsername:
		return "username prompt"
	case classPassword:
		return "password prompt"
	case classPrivileged:
		return "privileged prompt"
	case classUnprivileged:
		return "user prompt"
	default:
		return "failure message"
	}
}

// compiled holds session patterns per class.
type compiled struct {
	byClass map[promptClass][]session.Pattern
}

func (g Grammar) compile() (*compiled, error) {
	c := &compiled{byClass: make(map[promptClass][]session.Pattern)}

	add := func(class promptClass, exprs ...string) error {
		if len(exprs) == 0 {
			return nil
		}
		nonEmpty := make([]string, 0, len(exprs))
		for _, e := range exprs {
			if e != "" {
				nonEmpty = append(nonEmpty, e)
			}
		}
		if len(nonEmpty) == 0 {
			return nil
		}
		p, err := session.ParsePrompt(strings.Join(nonEmpty, "|"))
		if err != nil {
			return fmt.Errorf("%s: %w", class, err)
		}
		c.byClass[class] = append(c.byClass[class], p)
		return nil
	}

	if err := add(classUsername, g.Username...); err != nil {
		return nil, err
	}
	if err := add(classPassword, g.Password...); err != nil {
		return nil, err
	}
	if err := add(classPrivileged, g.Privileged); err != nil {
		return nil, err
	}
	if err := add(classUnprivileged, g.Unprivileged); err != nil {
		return nil, err
	}

	if len(g.Failures) > 0 {
		words := make([]string, len(g.Failures))
		for i, f := range g.Failures {
			words[i] = regexp.QuoteMeta(f)
		}
		p, err := session.ParseRegexp(`(?i)(?:` + strings.Join(words, "|") + `)`)
		if err != nil {
			return nil, err
		}
		c.byClass[classFailure] = []session.Pattern{p}
	}

	if g.Legacy {
		for _, s := range legacyUsername {
			c.byClass[classUsername] = append(c.byClass[classUsername], session.Literal(s))
		}
		for _, s := range legacyPassword {
			c.byClass[classPassword] = append(c.byClass[classPassword], session.Literal(s))
		}
	}
	return c, nil
}

// IsZero reports whether no prompt vocabulary was configured at all.
func (g Grammar) IsZero() bool {
	return len(g.Username) == 0 && len(g.Password) == 0 && g.Privileged == "" && g.Unprivileged == "" && len(g.Failures) == 0
}

// Validate reports whether every expression compiles.
func (g Grammar) Validate() error {
	_, err := g.compile()
	return err
}

// patterns flattens the requested classes into one AwaitAny list and
// returns the class for each 1-based match index.
func (c *compiled) patterns(classes ...promptClass) ([]session.Pattern, []promptClass) {
	var pats []session.Pattern
	var owners []promptClass
	for _, cl := range classes {
		for _, p := range c.byClass[cl] {
			pats = append(pats, p)
			owners = append(owners, cl)
		}
	}
	return pats, owners
}

// ReadyPatterns returns the prompts that show a freshly opened hop is
// talking: credential and exec prompts.
func (g Grammar) ReadyPatterns() ([]session.Pattern, error) {
	c, err := g.compile()
	if err != nil {
		return nil, err
	}
	pats, _ := c.patterns(classUsername, classPassword, classPrivileged, classUnprivileged)
	return pats, nil
}

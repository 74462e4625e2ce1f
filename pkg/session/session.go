package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/util"
)

// Privilege is the exec level of a CLI session.
type Privilege int

const (
	Unprivileged Privilege = iota // user EXEC, prompt ends in '>'
	Privileged                    // privileged EXEC, prompt ends in '#'
)

func (p Privilege) String() string {
	if p == Privileged {
		return "privileged"
	}
	return "unprivileged"
}

// Dialect is the CLI family a device speaks.
type Dialect string

const (
	DialectUnknown Dialect = ""
	IOSXE          Dialect = "iosxe"
	NXOS           Dialect = "nxos"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultLineEnding    = "\r"
	DefaultPromptTimeout = 10 * time.Second
)

const (
	// resyncAttempts is how many line endings Resync sends before giving up.
	resyncAttempts = 3

	// resyncQuiet is how long the line must stay free of prompts before
	// Resync considers the session settled.
	resyncQuiet = 200 * time.Millisecond
)

// DefaultPagingCommands disable output paging after login.
var DefaultPagingCommands = []string{"terminal length 0"}

// Options tune a Session.
type Options struct {
	LineEnding     string
	PagingCommands []string
	PromptTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.LineEnding == "" {
		o.LineEnding = DefaultLineEnding
	}
	if o.PagingCommands == nil {
		o.PagingCommands = DefaultPagingCommands
	}
	if o.PromptTimeout <= 0 {
		o.PromptTimeout = DefaultPromptTimeout
	}
	return o
}

var (
	// anyPrompt matches a Cisco-style exec prompt such as "sw-1#",
	// "sw-1>" or "sw-1(config)#" at the end of the input.
	anyPrompt = Prompt(`[^\s#>()]+(?:\([^)]*\))?[#>]`)

	// morePrompt matches the pager that survives "terminal length 0" on
	// some platforms.
	morePrompt = Regexp(`(?i)-{2,}\s*more\s*-{2,}`)

	// drainAll matches whatever input is left, to recover partial output.
	drainAll = Regexp(`(?s).+`)

	promptSuffix = regexp.MustCompile(`(?:\([^)]*\))?[#>]\s*$`)
)

// Session is an interactive CLI session on one device. It carries the
// device identity learned from the prompt and the dialect once probed.
type Session struct {
	Channel   Channel
	Address   string // management address the session was opened to
	Hostname  string
	Privilege Privilege
	IsCore    bool

	// Parent is the session this one was opened from, for in-band hops.
	Parent *Session

	opts    Options
	prompt  Pattern
	dialect Dialect
}

// New wraps an open channel. Call Init once the device is logged in.
func New(ch Channel, address string, opts Options) *Session {
	return &Session{
		Channel: ch,
		Address: address,
		opts:    opts.withDefaults(),
		prompt:  anyPrompt,
	}
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// Dialect returns the cached dialect, DialectUnknown until set.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// SetDialect caches the dialect for the lifetime of the session.
func (s *Session) SetDialect(d Dialect) {
	s.dialect = d
}

// Nested reports whether the session runs inside another session's channel.
func (s *Session) Nested() bool {
	return s.Parent != nil
}

// Name identifies the session in logs and errors.
func (s *Session) Name() string {
	if s.Hostname != "" {
		return s.Hostname
	}
	return s.Address
}

// Close closes the session's channel.
func (s *Session) Close() error {
	return s.Channel.Close()
}

// Init discovers the hostname from the prompt and disables paging.
func (s *Session) Init(ctx context.Context) error {
	if err := s.Channel.Send(s.opts.LineEnding); err != nil {
		return err
	}
	m, err := s.Channel.AwaitAny(ctx, []Pattern{anyPrompt}, s.opts.PromptTimeout)
	if err != nil {
		return fmt.Errorf("discovering prompt on %s: %w", s.Address, err)
	}
	s.SetPrompt(m.Text)

	for _, cmd := range s.opts.PagingCommands {
		if _, err := s.Run(ctx, cmd, s.opts.PromptTimeout); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	util.WithDevice(s.Hostname).Debugf("session ready (%s)", s.Privilege)
	return nil
}

// SetPrompt learns hostname and privilege from a prompt such as "sw-1#"
// and narrows the executor's prompt pattern to that hostname.
func (s *Session) SetPrompt(prompt string) {
	prompt = strings.TrimSpace(prompt)
	if strings.HasSuffix(prompt, "#") {
		s.Privilege = Privileged
	} else {
		s.Privilege = Unprivileged
	}
	s.Hostname = HostnameFromPrompt(prompt)
	if s.Hostname != "" {
		s.prompt = Prompt(regexp.QuoteMeta(s.Hostname) + `(?:\([^)]*\))?[#>]`)
	}
}

// Resync brings the session back to its own prompt after an interrupted
// exchange, such as a hop whose login failed. It sends line endings until
// the prompt shows, then swallows any further prompts still in flight.
func (s *Session) Resync(ctx context.Context) error {
	var err error
	for i := 0; i < resyncAttempts; i++ {
		if err = s.Channel.Send(s.opts.LineEnding); err != nil {
			return err
		}
		_, err = s.Channel.AwaitAny(ctx, []Pattern{s.prompt}, s.opts.PromptTimeout)
		if err == nil {
			for {
				_, qerr := s.Channel.AwaitAny(ctx, []Pattern{s.prompt}, resyncQuiet)
				if errors.Is(qerr, util.ErrTimeout) {
					return nil
				}
				if qerr != nil {
					return qerr
				}
			}
		}
		if !errors.Is(err, util.ErrTimeout) {
			break
		}
	}
	return fmt.Errorf("resynchronizing %s: %w", s.Name(), err)
}

// HostnameFromPrompt strips the mode suffix from a prompt.
func HostnameFromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if i := strings.LastIndexAny(prompt, "\r\n"); i >= 0 {
		prompt = prompt[i+1:]
	}
	return strings.TrimSpace(promptSuffix.ReplaceAllString(prompt, ""))
}

// Run sends a command and returns its output without the echoed command
// line or the trailing prompt. Pagers are answered with a space. On timeout
// the output received so far is returned with a *util.TimeoutError. A
// command that prints nothing returns "" and a nil error.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	log := util.WithDevice(s.Name())
	if err := s.Channel.Send(command + s.opts.LineEnding); err != nil {
		return "", err
	}

	var out strings.Builder
	patterns := []Pattern{s.prompt, morePrompt}
	for {
		m, err := s.Channel.AwaitAny(ctx, patterns, timeout)
		if err != nil {
			if errors.Is(err, util.ErrTimeout) {
				if rest, derr := s.Channel.AwaitAny(ctx, []Pattern{drainAll}, time.Millisecond); derr == nil {
					out.WriteString(rest.Text)
				}
				log.Debugf("%q timed out after %s", command, timeout)
			}
			return cleanOutput(out.String(), command), err
		}
		out.WriteString(m.Before)
		if m.Index == 1 {
			break
		}
		if err := s.Channel.Send(" "); err != nil {
			return cleanOutput(out.String(), command), err
		}
	}

	output := cleanOutput(out.String(), command)
	log.Debugf("%q returned %d bytes", command, len(output))
	return output, nil
}

// cleanOutput normalizes line endings, resolves carriage-return overwrites
// left by pagers and drops the echoed command.
func cleanOutput(raw, command string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "\r") {
			segs := strings.Split(line, "\r")
			line = ""
			for i := len(segs) - 1; i >= 0; i-- {
				if strings.TrimSpace(segs[i]) != "" {
					line = segs[i]
					break
				}
			}
		}
		cleaned = append(cleaned, strings.TrimRight(line, " \t"))
	}

	for len(cleaned) > 0 && cleaned[0] == "" {
		cleaned = cleaned[1:]
	}
	if len(cleaned) > 0 && command != "" && strings.Contains(cleaned[0], strings.TrimSpace(command)) {
		cleaned = cleaned[1:]
	}
	return strings.Trim(strings.Join(cleaned, "\n"), "\n")
}

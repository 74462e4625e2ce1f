// Package session provides the interactive CLI channel to a network device:
// a buffered byte stream with pattern waits, the per-device Session that
// tracks hostname, privilege and dialect, the command executor, and the
// SSH, Telnet and in-band jump transports that produce streams.
package session

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/mactrace/pkg/util"
)

// Channel is an interactive, line-oriented connection to one device.
type Channel interface {
	// Send writes text exactly as given; callers append line endings.
	Send(text string) error

	// AwaitAny blocks until one of patterns appears in unconsumed input, the
	// timeout expires, or ctx is done. Input is consumed up to the end of the
	// match. On timeout it returns Match{Index: 0} and a *util.TimeoutError.
	AwaitAny(ctx context.Context, patterns []Pattern, timeout time.Duration) (Match, error)

	// ReadBuffer returns the last n lines received, consumed or not.
	ReadBuffer(lines int) string

	// Discard drops all unconsumed input.
	Discard()

	Close() error
}

// Match describes which pattern AwaitAny matched.
type Match struct {
	Index  int    // 1-based index into the pattern list; 0 means no match
	Text   string // the matched text
	Before string // input consumed ahead of the match
}

// PatternKind selects how a Pattern is matched.
type PatternKind int

const (
	// KindPrompt is anchored to the end of the received input and matched
	// case-insensitively; trailing whitespace is allowed.
	KindPrompt PatternKind = iota
	// KindRegexp is a caller-supplied expression matched anywhere.
	KindRegexp
	// KindLiteral is a plain substring.
	KindLiteral
)

// Pattern is one thing AwaitAny can wait for.
type Pattern struct {
	Kind PatternKind
	Expr string
	re   *regexp.Regexp
}

// ParsePrompt compiles an end-anchored, case-insensitive prompt pattern.
func ParsePrompt(expr string) (Pattern, error) {
	re, err := regexp.Compile(`(?i)(?:` + expr + `)[ \t]*$`)
	if err != nil {
		return Pattern{}, fmt.Errorf("prompt %q: %w", expr, err)
	}
	return Pattern{Kind: KindPrompt, Expr: expr, re: re}, nil
}

// Prompt is like ParsePrompt but panics on an invalid expression.
func Prompt(expr string) Pattern {
	p, err := ParsePrompt(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseRegexp compiles an unanchored pattern.
func ParseRegexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", expr, err)
	}
	return Pattern{Kind: KindRegexp, Expr: expr, re: re}, nil
}

// Regexp is like ParseRegexp but panics on an invalid expression.
func Regexp(expr string) Pattern {
	p, err := ParseRegexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Literal matches text as a plain substring.
func Literal(text string) Pattern {
	return Pattern{Kind: KindLiteral, Expr: text}
}

// find returns the byte offsets of the first match in buf, or -1.
func (p Pattern) find(buf string) (int, int) {
	if p.Kind == KindLiteral {
		i := strings.Index(buf, p.Expr)
		if i < 0 {
			return -1, -1
		}
		return i, i + len(p.Expr)
	}
	if p.re == nil {
		return -1, -1
	}
	loc := p.re.FindStringIndex(buf)
	if loc == nil {
		return -1, -1
	}
	return loc[0], loc[1]
}

// MatchString reports whether the pattern occurs in s. Prompt patterns must
// be at the end of s.
func (p Pattern) MatchString(s string) bool {
	start, _ := p.find(s)
	return start >= 0
}

func describePatterns(patterns []Pattern) string {
	names := make([]string, len(patterns))
	for i, p := range patterns {
		names[i] = fmt.Sprintf("%q", p.Expr)
	}
	return strings.Join(names, " or ")
}

// closeWait bounds how long Close waits for the reader goroutine.
const closeWait = 2 * time.Second

// screenLimit bounds the history kept for ReadBuffer.
const screenLimit = 16 * 1024

// terminalEscape matches ANSI CSI sequences some devices emit around
// prompts and pagers.
var terminalEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// partialEscape matches a CSI sequence cut off at the end of a read.
var partialEscape = regexp.MustCompile(`\x1b(?:\[[0-9;?]*)?$`)

// Stream is a Channel over any reader/writer pair. A background goroutine
// copies device output into an owned buffer; waiters are woken through a
// signal channel. The goroutine exits when the reader fails, which Close
// forces through the closer.
type Stream struct {
	name   string
	w      io.Writer
	closer func() error

	// held is the start of an escape sequence split across reads. Only
	// the reader goroutine touches it.
	held string

	mu      sync.Mutex
	pending string // unconsumed input
	screen  string // recent input, consumed or not
	readErr error
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

// NewStream starts reading r in the background. closer is called once by
// Close and must unblock r.
func NewStream(name string, r io.Reader, w io.Writer, closer func() error) *Stream {
	s := &Stream{
		name:   name,
		w:      w,
		closer: closer,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// Name returns the label given at creation, usually the remote address.
func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.append(string(buf[:n]))
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			s.wake()
			return
		}
	}
}

func (s *Stream) append(chunk string) {
	chunk = s.held + chunk
	s.held = ""
	if loc := partialEscape.FindStringIndex(chunk); loc != nil {
		s.held = chunk[loc[0]:]
		chunk = chunk[:loc[0]]
	}
	chunk = terminalEscape.ReplaceAllString(chunk, "")
	chunk = strings.Map(func(r rune) rune {
		if r == 0 || r == '\b' {
			return -1
		}
		return r
	}, chunk)

	s.mu.Lock()
	s.pending += chunk
	s.screen += chunk
	if len(s.screen) > screenLimit {
		s.screen = s.screen[len(s.screen)-screenLimit:]
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Send implements Channel.
func (s *Stream) Send(text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return util.ErrSessionClosed
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		return fmt.Errorf("writing to %s: %w", s.name, err)
	}
	return nil
}

// AwaitAny implements Channel. When several patterns match, the one whose
// match ends earliest wins; ties go to the lower index.
func (s *Stream) AwaitAny(ctx context.Context, patterns []Pattern, timeout time.Duration) (Match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if m, ok := s.scan(patterns); ok {
			s.mu.Unlock()
			return m, nil
		}
		readErr := s.readErr
		s.mu.Unlock()

		if readErr != nil {
			return Match{}, fmt.Errorf("%s: %w (%v)", s.name, util.ErrSessionClosed, readErr)
		}

		select {
		case <-s.signal:
		case <-timer.C:
			return Match{}, util.NewTimeoutError(describePatterns(patterns), timeout, s.ReadBuffer(1))
		case <-ctx.Done():
			return Match{}, ctx.Err()
		}
	}
}

// scan looks for the earliest-ending match and consumes through it.
// Caller holds s.mu.
func (s *Stream) scan(patterns []Pattern) (Match, bool) {
	best, bestStart, bestEnd := -1, 0, 0
	for i, p := range patterns {
		start, end := p.find(s.pending)
		if start < 0 {
			continue
		}
		if best < 0 || end < bestEnd {
			best, bestStart, bestEnd = i, start, end
		}
	}
	if best < 0 {
		return Match{}, false
	}
	m := Match{
		Index:  best + 1,
		Text:   s.pending[bestStart:bestEnd],
		Before: s.pending[:bestStart],
	}
	s.pending = s.pending[bestEnd:]
	return m, true
}

// ReadBuffer implements Channel.
func (s *Stream) ReadBuffer(lines int) string {
	s.mu.Lock()
	screen := s.screen
	s.mu.Unlock()

	screen = strings.ReplaceAll(screen, "\r\n", "\n")
	screen = strings.ReplaceAll(screen, "\r", "\n")
	all := strings.Split(strings.TrimRight(screen, "\n"), "\n")
	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}

// Discard implements Channel.
func (s *Stream) Discard() {
	s.mu.Lock()
	s.pending = ""
	s.mu.Unlock()
}

// Close implements Channel. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.closer != nil {
		err = s.closer()
	}
	select {
	case <-s.done:
	case <-time.After(closeWait):
		util.Warnf("%s: reader did not stop after close", s.name)
	}
	return err
}

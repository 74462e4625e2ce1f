package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/util"
)

// DefaultJumpCommand opens an SSH session from the device's own CLI.
const DefaultJumpCommand = "ssh -l {user} {host}"

// JumpConfig controls an in-band hop from one device to the next.
type JumpConfig struct {
	// Command is the hop command; {user} and {host} are substituted.
	Command string

	// HostKeyReply answers "(yes/no)" host key confirmations. Empty
	// declines the hop.
	HostKeyReply string

	// Ready are the prompts that show the remote side answered, usually
	// the login grammar's credential and exec prompts.
	Ready []Pattern

	Timeout time.Duration
}

var (
	hostKeyPrompt = Regexp(`\(yes/no[^)]*\)\??`)
	jumpFailure   = Regexp(`(?i)(connection refused|connection timed out|timed out|no route to host|unknown host|host unreachable|destination unreachable|connection closed by foreign host|% ?(bad|invalid|unknown|incomplete) [^\r\n]*)`)
)

// Jump runs the hop command on parent and waits for the remote device to
// answer. The returned channel shares parent's stream; closing it sends
// "exit" and waits for parent's prompt to come back. Whatever prompt the
// remote printed is left visible for the login automaton's retroactive
// check.
func Jump(ctx context.Context, parent *Session, host, user string, cfg JumpConfig) (Channel, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultJumpCommand
	}
	command = strings.NewReplacer("{user}", user, "{host}", host).Replace(command)

	log := util.WithDevice(parent.Name())
	log.Debugf("jumping to %s", host)

	if err := parent.Channel.Send(command + parent.opts.LineEnding); err != nil {
		return nil, &util.ConnectionError{Target: host, Err: err}
	}

	patterns := append([]Pattern{hostKeyPrompt, jumpFailure}, cfg.Ready...)
	for {
		m, err := parent.Channel.AwaitAny(ctx, patterns, cfg.Timeout)
		if err != nil {
			return nil, &util.ConnectionError{Target: host, Err: err}
		}

		switch m.Index {
		case 1:
			if cfg.HostKeyReply == "" {
				declined := errors.New("host key confirmation declined")
				if err := parent.Channel.Send("no" + parent.opts.LineEnding); err != nil {
					return nil, &util.ConnectionError{Target: host, Err: fmt.Errorf("%w: %w", declined, err)}
				}
				return nil, &util.ConnectionError{Target: host, Err: declined}
			}
			log.Debugf("accepting host key for %s", host)
			if err := parent.Channel.Send(cfg.HostKeyReply + parent.opts.LineEnding); err != nil {
				return nil, &util.ConnectionError{Target: host, Err: err}
			}
		case 2:
			return nil, &util.ConnectionError{Target: host, Err: errors.New(strings.TrimSpace(m.Text))}
		default:
			if parent.Hostname != "" && HostnameFromPrompt(m.Text) == parent.Hostname {
				return nil, &util.ConnectionError{Target: host, Err: fmt.Errorf("returned to %s prompt", parent.Hostname)}
			}
			return &nestedChannel{Channel: parent.Channel, parent: parent, timeout: cfg.Timeout}, nil
		}
	}
}

// nestedChannel is a hop running inside its parent's stream.
type nestedChannel struct {
	Channel
	parent  *Session
	timeout time.Duration
	closed  bool
}

// Close leaves the nested device and resynchronizes on the parent prompt.
func (n *nestedChannel) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true

	if err := n.Channel.Send("exit" + n.parent.opts.LineEnding); err != nil {
		return err
	}
	timeout := n.timeout
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := n.Channel.AwaitAny(ctx, []Pattern{n.parent.prompt}, timeout); err != nil {
		return fmt.Errorf("returning to %s: %w", n.parent.Name(), err)
	}
	return nil
}

// Abort gives up on a channel whose login did not finish. A direct channel
// is closed. A nested channel is not sent "exit", since the remote may
// still be asking for credentials; its parent is resynchronized instead.
func Abort(ctx context.Context, ch Channel) error {
	n, ok := ch.(*nestedChannel)
	if !ok {
		return ch.Close()
	}
	if n.closed {
		return nil
	}
	n.closed = true
	return n.parent.Resync(ctx)
}

// ParentOf returns the session a nested channel runs inside, or nil for a
// channel with its own transport.
func ParentOf(ch Channel) *Session {
	if n, ok := ch.(*nestedChannel); ok {
		return n.parent
	}
	return nil
}

package trace

import (
	"context"
	"errors"

	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/session"
	"github.com/newtron-network/mactrace/pkg/util"
)

// Connector opens a channel to the next device. from is the current
// session; in-band connectors hop through it, direct ones ignore it.
// The returned channel is logged in by the tracer.
type Connector interface {
	Open(ctx context.Context, from *session.Session, address string, cred credential.Credential) (session.Channel, error)
}

// SSHConnector dials every device directly over SSH.
type SSHConnector struct {
	Config session.SSHConfig
}

// Open implements Connector.
func (c SSHConnector) Open(ctx context.Context, _ *session.Session, address string, cred credential.Credential) (session.Channel, error) {
	cfg := c.Config
	cfg.Username = cred.Username
	cfg.Password = cred.Password
	return session.DialSSH(ctx, address, cfg)
}

// TelnetConnector dials every device directly over Telnet.
type TelnetConnector struct {
	Config session.TelnetConfig
}

// Open implements Connector.
func (c TelnetConnector) Open(ctx context.Context, _ *session.Session, address string, _ credential.Credential) (session.Channel, error) {
	return session.DialTelnet(ctx, address, c.Config)
}

// JumpConnector reaches the next device from the current device's CLI.
// Ready defaults to the grammar's credential and exec prompts.
type JumpConnector struct {
	Config  session.JumpConfig
	Grammar login.Grammar
}

// Open implements Connector.
func (c JumpConnector) Open(ctx context.Context, from *session.Session, address string, cred credential.Credential) (session.Channel, error) {
	if from == nil {
		return nil, &util.ConnectionError{Target: address, Err: errors.New("in-band hop needs a current session")}
	}
	cfg := c.Config
	if len(cfg.Ready) == 0 {
		ready, err := c.Grammar.ReadyPatterns()
		if err != nil {
			return nil, err
		}
		cfg.Ready = ready
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = from.Options().PromptTimeout
	}
	return session.Jump(ctx, from, address, cred.Username, cfg)
}

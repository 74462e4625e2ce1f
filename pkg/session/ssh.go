package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/newtron-network/mactrace/pkg/util"
)

// SSHConfig holds what DialSSH needs to open an interactive shell.
type SSHConfig struct {
	Port     int
	Username string
	Password string

	// KnownHostsFile enables host key verification. When empty, any host
	// key is accepted and a warning is logged.
	KnownHostsFile string

	// LegacyAlgorithms adds the CBC ciphers and SHA-1 key exchanges older
	// Catalyst and Nexus images still require.
	LegacyAlgorithms bool

	Timeout time.Duration
}

var legacyCiphers = []string{
	"aes128-gcm@openssh.com",
	"aes256-gcm@openssh.com",
	"chacha20-poly1305@openssh.com",
	"aes128-ctr",
	"aes192-ctr",
	"aes256-ctr",
	"aes128-cbc",
	"3des-cbc",
}

var legacyKeyExchanges = []string{
	"curve25519-sha256",
	"ecdh-sha2-nistp256",
	"ecdh-sha2-nistp384",
	"ecdh-sha2-nistp521",
	"diffie-hellman-group14-sha256",
	"diffie-hellman-group14-sha1",
	"diffie-hellman-group1-sha1",
}

// DialSSH connects, authenticates with password or keyboard-interactive,
// and starts a PTY shell. The device may still print a banner, an enable
// prompt or further credential prompts; that is the login automaton's job.
func DialSSH(ctx context.Context, host string, cfg SSHConfig) (*Stream, error) {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	hostKey, err := hostKeyCallback(cfg.KnownHostsFile)
	if err != nil {
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}

	config := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}
	if cfg.LegacyAlgorithms {
		config.Ciphers = legacyCiphers
		config.KeyExchanges = legacyKeyExchanges
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &util.LoginError{Device: host, Stage: "SSH", Reason: "authentication rejected"}
		}
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &util.ConnectionError{Target: addr, Err: fmt.Errorf("SSH session: %w", err)}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 200, 512, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, &util.ConnectionError{Target: addr, Err: fmt.Errorf("request PTY: %w", err)}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, &util.ConnectionError{Target: addr, Err: fmt.Errorf("start shell: %w", err)}
	}

	util.WithDevice(host).Debugf("SSH shell open on %s", addr)
	return NewStream(addr, stdout, stdin, func() error {
		sess.Close()
		return client.Close()
	}), nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		return cb, nil
	}
	return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
		util.Logger.Warnf("SSH host key for %s not verified (no known_hosts file configured)", hostname)
		return nil
	}, nil
}

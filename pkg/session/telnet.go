package session

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/ziutek/telnet"

	"github.com/newtron-network/mactrace/pkg/util"
)

// TelnetConfig holds what DialTelnet needs. Credentials are exchanged
// in-band by the login automaton.
type TelnetConfig struct {
	Port    int
	Timeout time.Duration
}

// DialTelnet opens a Telnet connection. Option negotiation is handled by
// the telnet package; everything else flows through the Stream.
func DialTelnet(ctx context.Context, host string, cfg TelnetConfig) (*Stream, error) {
	port := cfg.Port
	if port == 0 {
		port = 23
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}
	tc, err := telnet.NewConn(conn)
	if err != nil {
		conn.Close()
		return nil, &util.ConnectionError{Target: addr, Err: err}
	}

	util.WithDevice(host).Debugf("telnet connection open on %s", addr)
	return NewStream(addr, tc, tc, tc.Close), nil
}

package lab

import (
	"bufio"
	"io"
	"strings"
)

const (
	iosInvalid  = "                ^\r\n% Invalid input detected at '^' marker.\r\n"
	nxosInvalid = "                ^\r\n% Invalid command at '^' marker.\r\n"
)

// defaultEtherchannelSummary is what an IOS-XE device without channel
// groups prints.
const defaultEtherchannelSummary = `Flags:  D - down        P - bundled in port-channel
        I - stand-alone s - suspended
        U - in use      f - failed to allocate aggregator

Number of channel-groups in use: 0
Number of aggregators:           0

Group  Port-channel  Protocol    Ports
------+-------------+-----------+-----------------------------------------------
`

// terminal is the device side of a line-mode connection.
type terminal struct {
	r      *bufio.Reader
	w      io.Writer
	lastCR bool
}

func newTerminal(r io.Reader, w io.Writer) *terminal {
	return &terminal{r: bufio.NewReader(r), w: w}
}

func (t *terminal) write(s string) {
	io.WriteString(t.w, s)
}

// readLine reads up to CR or LF; a LF directly after a CR is skipped.
// Echoed lines are written back like a real terminal would.
func (t *terminal) readLine(echo bool) (string, error) {
	var sb strings.Builder
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' && t.lastCR {
			t.lastCR = false
			continue
		}
		t.lastCR = b == '\r'
		if b == '\r' || b == '\n' {
			break
		}
		sb.WriteByte(b)
	}
	if echo {
		t.write(sb.String())
	}
	t.write("\r\n")
	return sb.String(), nil
}

func (t *terminal) readKey() (byte, error) {
	b, err := t.r.ReadByte()
	t.lastCR = b == '\r'
	return b, err
}

// serve runs one login and exec session. user is set when the device was
// reached with "ssh -l user", which skips the username prompt and allows a
// single password attempt.
func (l *Lab) serve(d *Device, t *terminal, user string) {
	if d.Silent {
		io.Copy(io.Discard, t.r)
		return
	}
	if d.Banner != "" {
		t.write(strings.ReplaceAll(d.Banner, "\n", "\r\n") + "\r\n")
	}
	if !d.authenticate(t, user) {
		return
	}
	if d.ExecBanner != "" {
		t.write(strings.ReplaceAll(d.ExecBanner, "\n", "\r\n") + "\r\n")
	}

	priv := d.StartPrivileged
	paging := d.PageLines
	for {
		t.write(d.prompt(priv))
		line, err := t.readLine(true)
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)

		switch {
		case cmd == "":
		case cmd == "exit" || cmd == "logout":
			return
		case cmd == "enable" || cmd == "en":
			if priv {
				continue
			}
			t.write("Password: ")
			pw, err := t.readLine(false)
			if err != nil {
				return
			}
			if pw == d.enablePassword() {
				priv = true
			} else {
				t.write("% Access denied\r\n\r\n")
			}
		case cmd == "disable":
			priv = false
		case strings.HasPrefix(cmd, "terminal length"):
			if strings.HasSuffix(cmd, " 0") {
				paging = 0
			}
		case strings.HasPrefix(cmd, "ssh "):
			l.hop(t, cmd)
		default:
			if !priv && !strings.HasPrefix(cmd, "show ") {
				t.write(d.invalid())
				continue
			}
			if !t.writeOutput(d.respond(cmd), paging) {
				return
			}
		}
	}
}

// authenticate returns false when the client gave up or failed.
func (d *Device) authenticate(t *terminal, user string) bool {
	attempts := 3
	if user != "" {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		got := user
		if user == "" && !d.NoUsername {
			t.write("\r\nUser Access Verification\r\n\r\nUsername: ")
			u, err := t.readLine(true)
			if err != nil {
				return false
			}
			got = u
		}
		t.write("Password: ")
		pw, err := t.readLine(false)
		if err != nil {
			return false
		}
		if (d.NoUsername || got == d.Username) && pw == d.Password {
			return true
		}
		t.write("% Authentication failed\r\n")
	}
	return false
}

// hop handles "ssh -l user host" by running the target device on the same
// terminal until it exits.
func (l *Lab) hop(t *terminal, cmd string) {
	fields := strings.Fields(cmd)
	var user, host string
	for i := 1; i < len(fields); i++ {
		if fields[i] == "-l" && i+1 < len(fields) {
			user = fields[i+1]
			i++
			continue
		}
		host = fields[i]
	}

	target, ok := l.byKey[host]
	if !ok || host == "" {
		t.write("% Connection timed out; remote host not responding\r\n")
		return
	}
	if user == "" {
		user = target.Username
	}
	if target.HostKeyPrompt {
		t.write("The authenticity of host '" + host + "' can't be established.\r\n")
		t.write("Are you sure you want to continue connecting (yes/no)? ")
		answer, err := t.readLine(true)
		if err != nil {
			return
		}
		if strings.TrimSpace(answer) != "yes" {
			t.write("Host key verification failed.\r\n")
			return
		}
	}

	l.serve(target, t, user)
	t.write("\r\n[Connection to " + host + " closed by foreign host]\r\n")
}

// writeOutput writes command output, paging when asked. It returns false
// if the client went away at a pager.
func (t *terminal) writeOutput(out string, pageLines int) bool {
	if out == "" {
		return true
	}
	out = strings.ReplaceAll(strings.ReplaceAll(out, "\r\n", "\n"), "\n", "\r\n")
	if !strings.HasSuffix(out, "\r\n") {
		out += "\r\n"
	}
	if pageLines <= 0 {
		t.write(out)
		return true
	}

	lines := strings.SplitAfter(out, "\r\n")
	for i, line := range lines {
		if i > 0 && i%pageLines == 0 && line != "" {
			t.write(" --More-- ")
			key, err := t.readKey()
			if err != nil {
				return false
			}
			t.write("\r          \r")
			if key == 'q' {
				return true
			}
		}
		t.write(line)
	}
	return true
}

func (d *Device) prompt(priv bool) string {
	if priv {
		return d.Hostname + "#"
	}
	return d.Hostname + ">"
}

func (d *Device) enablePassword() string {
	if d.EnablePassword != "" {
		return d.EnablePassword
	}
	return d.Password
}

func (d *Device) invalid() string {
	if d.isNXOS() {
		return nxosInvalid
	}
	return iosInvalid
}

// respond returns canned output. Unknown show commands print nothing,
// except the etherchannel summary the dialect probe relies on.
func (d *Device) respond(cmd string) string {
	if out, ok := d.Commands[cmd]; ok {
		return out
	}
	if strings.HasPrefix(cmd, "show etherchannel") {
		if d.isNXOS() {
			return d.invalid()
		}
		if cmd == "show etherchannel summary" {
			return defaultEtherchannelSummary
		}
	}
	if strings.HasPrefix(cmd, "show ") {
		return ""
	}
	return d.invalid()
}

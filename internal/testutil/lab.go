package testutil

import (
	"testing"
	"time"

	"github.com/newtron-network/mactrace/pkg/credential"
	"github.com/newtron-network/mactrace/pkg/lab"
	"github.com/newtron-network/mactrace/pkg/login"
	"github.com/newtron-network/mactrace/pkg/session"
)

// LabTimeout is the prompt timeout used against simulated devices.
const LabTimeout = 2 * time.Second

// LoadLab parses a lab definition under testdata/ or fails the test.
func LoadLab(t *testing.T, name string) *lab.Lab {
	t.Helper()
	l, err := lab.Load(TestdataPath(name))
	if err != nil {
		t.Fatalf("loading lab %s: %v", name, err)
	}
	return l
}

// LabSession starts a one-device lab and returns a logged-in, initialized
// session to it. The session is closed on cleanup.
func LabSession(t *testing.T, d *lab.Device) *session.Session {
	t.Helper()
	l, err := lab.New(d)
	if err != nil {
		t.Fatalf("lab.New: %v", err)
	}
	return OpenLabSession(t, l, d.Address, credential.Credential{
		Label:          "lab",
		Username:       d.Username,
		Password:       d.Password,
		EnablePassword: d.EnablePassword,
	})
}

// OpenLabSession dials address in l, logs in with cred and initializes the
// session.
func OpenLabSession(t *testing.T, l *lab.Lab, address string, cred credential.Credential) *session.Session {
	t.Helper()
	ctx := Context(t)

	st, err := l.Dial(ctx, address)
	if err != nil {
		t.Fatalf("dialing %s: %v", address, err)
	}
	t.Cleanup(func() { st.Close() })

	s := session.New(st, address, session.Options{PromptTimeout: LabTimeout})
	if err := login.Login(ctx, s, cred, login.DefaultGrammar(), login.Options{Timeout: LabTimeout}); err != nil {
		t.Fatalf("login to %s: %v", address, err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init %s: %v", address, err)
	}
	return s
}

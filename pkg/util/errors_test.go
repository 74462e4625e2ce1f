package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("password prompt", 10*time.Second, "Username: admin")

	msg := err.Error()
	if !strings.Contains(msg, "password prompt") || !strings.Contains(msg, "10s") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should unwrap to ErrTimeout")
	}

	wrapped := fmt.Errorf("hop 2: %w", err)
	var te *TimeoutError
	if !errors.As(wrapped, &te) || te.Waiting != "password prompt" {
		t.Errorf("errors.As failed through wrapping: %v", wrapped)
	}
}

func TestLoginError(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		err := &LoginError{Device: "10.0.0.2", Stage: "SentPassword", Reason: "% Access denied"}
		if !errors.Is(err, ErrLoginFailed) {
			t.Error("LoginError without cause should unwrap to ErrLoginFailed")
		}
		if !err.IsAuthRejected() {
			t.Error("IsAuthRejected() = false, want true")
		}
		if !strings.Contains(err.Error(), "10.0.0.2") {
			t.Errorf("message should name the device: %s", err.Error())
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := &LoginError{
			Stage:  "SentEnable",
			Reason: "no enable password prompt",
			Err:    NewTimeoutError("enable password prompt", time.Second, ""),
		}
		if !errors.Is(err, ErrTimeout) {
			t.Error("LoginError with timeout cause should unwrap to ErrTimeout")
		}
		if err.IsAuthRejected() {
			t.Error("IsAuthRejected() = true for a timeout")
		}
	})
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ConnectionError{Target: "10.0.0.9:22", Err: cause}

	if !errors.Is(err, ErrConnectionFailed) {
		t.Error("ConnectionError should match ErrConnectionFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("ConnectionError should match its cause")
	}

	bare := &ConnectionError{Target: "sw1"}
	if !errors.Is(bare, ErrConnectionFailed) {
		t.Error("ConnectionError without cause should match ErrConnectionFailed")
	}
}

func TestParseAndAmbiguousErrors(t *testing.T) {
	perr := &ParseError{Command: "show etherchannel 5 summary", Detail: "no bundled members"}
	if !errors.Is(perr, ErrParse) {
		t.Error("ParseError should unwrap to ErrParse")
	}

	aerr := &AmbiguousMatchError{Device: "dist-1", MAC: "0011.2233.4455", Ports: []string{"Gi1/0/1", "Gi1/0/2"}}
	if !errors.Is(aerr, ErrAmbiguousMatch) {
		t.Error("AmbiguousMatchError should unwrap to ErrAmbiguousMatch")
	}
	if !strings.Contains(aerr.Error(), "Gi1/0/1, Gi1/0/2") {
		t.Errorf("message should list ports: %s", aerr.Error())
	}
}

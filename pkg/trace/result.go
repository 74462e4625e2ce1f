package trace

import (
	"context"
	"errors"

	"github.com/newtron-network/mactrace/pkg/parse"
	"github.com/newtron-network/mactrace/pkg/util"
)

// Hop is one device on the trace path.
type Hop struct {
	Hostname string `json:"hostname"`
	Address  string `json:"address,omitempty"`

	// Port is where the MAC table points; LookupPort is the physical port
	// used for the neighbor query, a bundle member when Port is a
	// port-channel.
	Port       string   `json:"port,omitempty"`
	LookupPort string   `json:"lookup_port,omitempty"`
	VLAN       string   `json:"vlan,omitempty"`
	Members    []string `json:"members,omitempty"`

	Description string `json:"description,omitempty"`

	// Neighbor is the next device, or the endpoint seen on an access port.
	Neighbor *parse.Neighbor `json:"neighbor,omitempty"`

	// AccessPort marks the hop where the trace ended at an edge port.
	AccessPort bool `json:"access_port,omitempty"`

	// RedirectedFrom names the device that had no entry for the MAC when
	// this hop was retried on a core device.
	RedirectedFrom string `json:"redirected_from,omitempty"`
}

// Outcome classifies how a trace ended.
type Outcome string

const (
	OutcomeAccessPort       Outcome = "access-port"
	OutcomeFoundInARP       Outcome = "found-in-arp"
	OutcomeAmbiguous        Outcome = "ambiguous"
	OutcomeNotFound         Outcome = "not-found"
	OutcomeCoreRequired     Outcome = "core-required"
	OutcomeLoginFailed      Outcome = "login-failed"
	OutcomeConnectionFailed Outcome = "connection-failed"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeParseError       Outcome = "parse-error"
	OutcomeCycleDetected    Outcome = "cycle-detected"
	OutcomeHopLimitExceeded Outcome = "hop-limit-exceeded"
	OutcomeCanceled         Outcome = "canceled"
	OutcomeFailed           Outcome = "failed"
)

// Success reports whether the trace located the MAC.
func (o Outcome) Success() bool {
	return o == OutcomeAccessPort || o == OutcomeFoundInARP
}

// OutcomeOf maps a trace error to its outcome. Order matters: a login
// that timed out is a login failure, not a bare timeout.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAccessPort
	case errors.Is(err, util.ErrAmbiguousMatch):
		return OutcomeAmbiguous
	case errors.Is(err, util.ErrCoreRequired):
		return OutcomeCoreRequired
	case errors.Is(err, util.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, util.ErrCycleDetected):
		return OutcomeCycleDetected
	case errors.Is(err, util.ErrHopLimitExceeded):
		return OutcomeHopLimitExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	}

	var le *util.LoginError
	if errors.As(err, &le) {
		return OutcomeLoginFailed
	}
	switch {
	case errors.Is(err, util.ErrConnectionFailed):
		return OutcomeConnectionFailed
	case errors.Is(err, util.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, util.ErrParse):
		return OutcomeParseError
	}
	return OutcomeFailed
}

// Result is the outcome of one trace. Path holds every hop reached, also
// when the trace stopped early.
type Result struct {
	MAC     string           `json:"mac"`
	Path    []Hop            `json:"path"`
	Outcome Outcome          `json:"outcome"`
	ARP     []parse.ARPEntry `json:"arp,omitempty"`
	Error   string           `json:"error,omitempty"`
	Err     error            `json:"-"`
}

// Last returns the final hop, or nil for an empty path.
func (r *Result) Last() *Hop {
	if len(r.Path) == 0 {
		return nil
	}
	return &r.Path[len(r.Path)-1]
}

func (r *Result) finish(outcome Outcome, err error) {
	r.Outcome = outcome
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

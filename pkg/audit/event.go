// Package audit records every trace as a JSON line: who traced which MAC,
// from where, and what came of it.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/mactrace/pkg/trace"
)

// Event is one audited trace.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user"`
	MAC       string        `json:"mac"`
	Start     string        `json:"start"`
	Transport string        `json:"transport,omitempty"`
	Profile   string        `json:"profile,omitempty"`
	Outcome   trace.Outcome `json:"outcome"`
	Success   bool          `json:"success"`
	Hops      int           `json:"hops"`
	Device    string        `json:"device,omitempty"`
	Port      string        `json:"port,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run,omitempty"` // traced against a lab file
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	MAC         string
	User        string
	Start       string
	Outcome     trace.Outcome
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool

	// Newest orders results most recent first before Offset and Limit
	// apply.
	Newest bool
	Limit  int
	Offset int
}

// Match reports whether e passes every set field of f. Start compares
// without case since devices are typed either way.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.MAC != "" && e.MAC != f.MAC,
		f.User != "" && e.User != f.User,
		f.Start != "" && !strings.EqualFold(e.Start, f.Start),
		f.Outcome != "" && e.Outcome != f.Outcome,
		!f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime),
		f.SuccessOnly && !e.Success,
		f.FailureOnly && e.Success:
		return false
	}
	return true
}

// page applies Offset then Limit. The result is never nil.
func (f Filter) page(events []*Event) []*Event {
	if f.Offset >= len(events) {
		return []*Event{}
	}
	events = events[max(f.Offset, 0):]
	if f.Limit > 0 && f.Limit < len(events) {
		events = events[:f.Limit]
	}
	return events
}

// NewEvent creates an event for a trace of mac starting at start.
func NewEvent(user, mac, start string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		User:      user,
		MAC:       mac,
		Start:     start,
	}
}

// WithTransport sets the transport used to reach devices.
func (e *Event) WithTransport(transport string) *Event {
	e.Transport = transport
	return e
}

// WithProfile sets the credential profile label.
func (e *Event) WithProfile(profile string) *Event {
	e.Profile = profile
	return e
}

// WithResult copies the outcome, hop count and final location of res.
func (e *Event) WithResult(res *trace.Result) *Event {
	if res == nil {
		return e
	}
	if res.MAC != "" {
		e.MAC = res.MAC
	}
	e.Outcome = res.Outcome
	e.Success = res.Outcome.Success()
	e.Hops = len(res.Path)
	e.Error = res.Error
	if last := res.Last(); last != nil {
		e.Device = last.Hostname
		e.Port = last.Port
	}
	return e
}

// WithError marks the event as failed before a trace could run.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if e.Outcome == "" {
		e.Outcome = trace.OutcomeOf(err)
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets how long the trace took.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks a trace run against simulated devices.
func (e *Event) WithDryRun(dry bool) *Event {
	e.DryRun = dry
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

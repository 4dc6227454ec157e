// Package collab defines the lifecycle of a bilateral agent collaboration.
//
// A collaboration starts proposed and follows a fixed transition graph:
//
//	proposed -> active | rejected
//	active   -> completed
//
// completed and rejected are terminal.
package collab

import (
	"fmt"
	"sort"
	"strings"
)

type Status string

const (
	StatusProposed  Status = "proposed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusProposed:  {StatusActive, StatusRejected},
	StatusActive:    {StatusCompleted},
	StatusCompleted: {},
	StatusRejected:  {},
}

func IsValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Next returns the allowed target statuses from s, sorted for stable error
// messages. Terminal states return an empty slice.
func Next(s Status) []Status {
	out := append([]Status(nil), transitions[s]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected status change, naming the current
// status, the attempted status, and the allowed set so callers can adjust.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("cannot transition collaboration from %q to %q: %q is terminal", e.From, e.To, e.From)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("cannot transition collaboration from %q to %q: allowed targets are %s", e.From, e.To, strings.Join(names, ", "))
}

// CheckTransition validates a proposed status change against the
// transition table.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Allowed: Next(from)}
}

// ValidQualityScore reports whether q is in the accepted 0.0-1.0 range.
func ValidQualityScore(q float64) bool {
	return q >= 0 && q <= 1
}

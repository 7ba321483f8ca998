package order

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

// validTransitions is the only place order status moves are defined.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// Statuses lists every known status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(validTransitions[s]) == 0
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	return slices.Clone(validTransitions[s])
}

// CanTransition checks if an order in status from may move to status to.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// TransitionError is returned for a status move the table does not allow.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func newTransitionError(from, to Status) *TransitionError {
	return &TransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
}

func (e *TransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, s := range e.Allowed {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return fmt.Sprintf("cannot transition order from %s to %s (allowed from %s: %s)", e.From, e.To, e.From, allowed)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPlaced   Status = "PLACED"
	StatusPaid     Status = "PAID"
	StatusShipped  Status = "SHIPPED"
	StatusDone     Status = "DONE"
	StatusCanceled Status = "CANCELED"
)

var statuses = []Status{StatusPlaced, StatusPaid, StatusShipped, StatusDone, StatusCanceled}

// forward is the happy path. Other moves are allowed but logged.
var forward = map[Status]map[Status]bool{
	StatusPlaced:   {StatusPaid: true, StatusCanceled: true},
	StatusPaid:     {StatusShipped: true, StatusCanceled: true},
	StatusShipped:  {StatusDone: true, StatusCanceled: true},
	StatusDone:     {},
	StatusCanceled: {},
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	up := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range statuses {
		if st == up {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func IsForward(from, to Status) bool {
	return forward[from][to]
}

type transition int

const (
	transitionNoop transition = iota
	transitionCancel
	transitionRestore
	transitionPlain
)

func (t transition) String() string {
	switch t {
	case transitionNoop:
		return "noop"
	case transitionCancel:
		return "cancel"
	case transitionRestore:
		return "restore"
	default:
		return "plain"
	}
}

func classify(from, to Status) transition {
	switch {
	case from == to:
		return transitionNoop
	case to == StatusCanceled:
		return transitionCancel
	case from == StatusCanceled:
		return transitionRestore
	default:
		return transitionPlain
	}
}

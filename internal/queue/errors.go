package queue

import "errors"

var (
	ErrEntryNotFound  = errors.New("queue entry not found")
	ErrInvalidState   = errors.New("invalid queue entry state")
	ErrActiveOccupied = errors.New("another queue entry is already active")
	ErrSkippedEntry   = errors.New("queue entry is skipped")
	ErrNotSkipped     = errors.New("queue entry is not skipped")
	ErrUnknownAction  = errors.New("unknown action")
	ErrNoWaiting      = errors.New("no waiting queue entries")
	ErrNoActive       = errors.New("no active queue entry")
	ErrMultipleActive = errors.New("more than one active queue entry")
)

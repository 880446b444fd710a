// Package queue holds the lifecycle rules of a department queue: which staff
// actions are legal for an entry, what they change, and how a department's
// entries are partitioned and ordered.
package queue

import (
	"fmt"
	"time"

	"qms/visit-queue/internal/models"
)

// Check validates action against entry given the department's current active
// ticket (nil when the slot is empty). A true noop result means the entry
// already satisfies the action's effect and nothing must change.
func Check(action Action, entry models.QueueEntry, active *models.QueueEntry) (bool, error) {
	entry = entry.Normalize()

	switch action {
	case ActionCall:
		if entry.Status == models.StatusCalled {
			return true, nil
		}
		if !ValidTransition(action, entry.Status) {
			return false, ErrInvalidState
		}
		if entry.IsSkipped {
			return false, ErrSkippedEntry
		}
		if active != nil && active.QueueID != entry.QueueID {
			return false, fmt.Errorf("%w: %s", ErrActiveOccupied, active.QueueNumber)
		}
	case ActionArrived:
		if entry.Status == models.StatusInProgress {
			return true, nil
		}
		if !ValidTransition(action, entry.Status) {
			return false, ErrInvalidState
		}
	case ActionSkip:
		if entry.IsSkipped && entry.Status == models.StatusWaiting {
			return true, nil
		}
		if !ValidTransition(action, entry.Status) {
			return false, ErrInvalidState
		}
	case ActionComplete:
		if entry.Status == models.StatusCompleted {
			return true, nil
		}
		if !ValidTransition(action, entry.Status) {
			return false, ErrInvalidState
		}
	case ActionRecall:
		if !entry.IsSkipped {
			if entry.Status == models.StatusWaiting {
				return true, nil
			}
			return false, ErrNotSkipped
		}
		if !ValidTransition(action, entry.Status) {
			return false, ErrInvalidState
		}
	default:
		return false, ErrUnknownAction
	}
	return false, nil
}

// Apply runs action against the entry identified by queueID within one
// department's entries. The input slice is not modified; the returned slice
// holds normalized copies with the change applied. changed is false when the
// action was an idempotent no-op.
func Apply(entries []models.QueueEntry, queueID int64, action Action, now time.Time) ([]models.QueueEntry, models.QueueEntry, bool, error) {
	out := make([]models.QueueEntry, len(entries))
	idx := -1
	for i, entry := range entries {
		out[i] = entry.Normalize()
		if entry.QueueID == queueID {
			idx = i
		}
	}
	if idx < 0 {
		return nil, models.QueueEntry{}, false, ErrEntryNotFound
	}

	noop, err := Check(action, out[idx], FindActive(out))
	if err != nil {
		return nil, models.QueueEntry{}, false, err
	}
	if noop {
		return out, out[idx], false, nil
	}

	at := now
	entry := &out[idx]
	switch action {
	case ActionCall:
		entry.Status = models.StatusCalled
		entry.CalledAt = &at
	case ActionArrived:
		entry.Status = models.StatusInProgress
	case ActionSkip:
		entry.Status = models.StatusWaiting
		entry.IsSkipped = true
		entry.SkippedTime = &at
		entry.CalledAt = nil
	case ActionComplete:
		entry.Status = models.StatusCompleted
		entry.CompletedAt = &at
	case ActionRecall:
		entry.IsSkipped = false
		entry.SkippedTime = nil
		entry.PriorityScore = recallPriority(out, entry.QueueID, entry.PriorityScore)
	}
	return out, *entry, true, nil
}

// recallPriority lifts a recalled entry just above everyone currently waiting
// so it is the next one called.
func recallPriority(entries []models.QueueEntry, queueID int64, current float64) float64 {
	found := false
	highest := 0.0
	for _, entry := range entries {
		if entry.QueueID == queueID || !entry.IsWaiting() {
			continue
		}
		if !found || entry.PriorityScore > highest {
			highest = entry.PriorityScore
			found = true
		}
	}
	if !found || current > highest {
		return current
	}
	return highest + 1
}

// FindActive returns the department's active ticket, or nil.
func FindActive(entries []models.QueueEntry) *models.QueueEntry {
	for i := range entries {
		if entries[i].Normalize().IsActive() {
			entry := entries[i]
			return &entry
		}
	}
	return nil
}

// CheckInvariants reports a violation of the at-most-one-active rule.
func CheckInvariants(entries []models.QueueEntry) error {
	active := 0
	for _, entry := range entries {
		if entry.Normalize().IsActive() {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("%w: %d active", ErrMultipleActive, active)
	}
	return nil
}

package queue

import (
	"sort"
	"time"

	"qms/visit-queue/internal/models"
)

type Partitions struct {
	Waiting   []models.QueueEntry
	Skipped   []models.QueueEntry
	Active    *models.QueueEntry
	Completed []models.QueueEntry
}

// Partition derives the staff view of a department's entries. Waiting entries
// are ordered by descending priority then ascending issue time and carry their
// 1-based position.
func Partition(entries []models.QueueEntry) Partitions {
	var p Partitions
	for _, raw := range entries {
		entry := raw.Normalize()
		switch {
		case entry.IsSkipped:
			entry.Position = 0
			p.Skipped = append(p.Skipped, entry)
		case entry.Status == models.StatusWaiting:
			p.Waiting = append(p.Waiting, entry)
		case entry.IsActive():
			if p.Active == nil {
				active := entry
				active.Position = 0
				p.Active = &active
			}
		case entry.Status == models.StatusCompleted:
			entry.Position = 0
			p.Completed = append(p.Completed, entry)
		}
	}

	SortWaiting(p.Waiting)
	for i := range p.Waiting {
		p.Waiting[i].Position = i + 1
	}
	sort.SliceStable(p.Skipped, func(i, j int) bool {
		return skippedAt(p.Skipped[i]).Before(skippedAt(p.Skipped[j]))
	})
	return p
}

// Next returns the head of the waiting partition.
func (p Partitions) Next() *models.QueueEntry {
	if len(p.Waiting) == 0 {
		return nil
	}
	next := p.Waiting[0]
	return &next
}

// Find looks an entry up across all partitions.
func (p Partitions) Find(queueID int64) (models.QueueEntry, bool) {
	if p.Active != nil && p.Active.QueueID == queueID {
		return *p.Active, true
	}
	for _, group := range [][]models.QueueEntry{p.Waiting, p.Skipped, p.Completed} {
		for _, entry := range group {
			if entry.QueueID == queueID {
				return entry, true
			}
		}
	}
	return models.QueueEntry{}, false
}

// Board lists the entries a department display shows: everyone called or
// being served, most recently issued first.
func Board(entries []models.QueueEntry) []models.QueueEntry {
	var board []models.QueueEntry
	for _, raw := range entries {
		if entry := raw.Normalize(); entry.IsActive() {
			board = append(board, entry)
		}
	}
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].IssuedTime.After(board[j].IssuedTime)
	})
	return board
}

func SortWaiting(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.IssuedTime.Equal(b.IssuedTime) {
			return a.IssuedTime.Before(b.IssuedTime)
		}
		return a.QueueID < b.QueueID
	})
}

// AssignPositions returns a copy of entries with Position computed from the
// waiting order; entries outside the waiting partition get 0.
func AssignPositions(entries []models.QueueEntry) []models.QueueEntry {
	positions := make(map[int64]int)
	for _, entry := range Partition(entries).Waiting {
		positions[entry.QueueID] = entry.Position
	}
	out := make([]models.QueueEntry, len(entries))
	for i, entry := range entries {
		entry = entry.Normalize()
		entry.Position = positions[entry.QueueID]
		out[i] = entry
	}
	return out
}

func skippedAt(entry models.QueueEntry) time.Time {
	if entry.SkippedTime != nil {
		return *entry.SkippedTime
	}
	return entry.IssuedTime
}

package models

import "time"

type QueueEntry struct {
	QueueID            int64      `json:"queueId"`
	QueueNumber        string     `json:"queueNumber"`
	VN                 string     `json:"vn"`
	PatientName        string     `json:"patientName"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	DepartmentID       int64      `json:"departmentId,omitempty"`
	Department         string     `json:"department,omitempty"`
	DepartmentLocation string     `json:"departmentLocation,omitempty"`
	Status             string     `json:"status"`
	IsSkipped          bool       `json:"isSkipped"`
	Position           int        `json:"yourPosition"`
	CurrentQueue       string     `json:"currentQueue,omitempty"`
	EstimatedTime      string     `json:"estimatedTime,omitempty"`
	PriorityScore      float64    `json:"priorityScore"`
	IssuedTime         time.Time  `json:"issuedTime"`
	SkippedTime        *time.Time `json:"skippedTime,omitempty"`
	CalledAt           *time.Time `json:"calledAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	Version            int64      `json:"version,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	// StatusSkipped is only ever seen on the wire from older service builds.
	StatusSkipped = "skipped"
)

// Normalize folds the legacy "skipped" status into the isSkipped flag so that
// status always carries one of the four lifecycle states.
func (e QueueEntry) Normalize() QueueEntry {
	if e.Status == StatusSkipped {
		e.Status = StatusWaiting
		e.IsSkipped = true
	}
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	return e
}

// IsActive reports whether the entry occupies its department's active slot.
func (e QueueEntry) IsActive() bool {
	return e.Status == StatusCalled || e.Status == StatusInProgress
}

// IsWaiting reports whether the entry belongs to the numbered waiting queue.
func (e QueueEntry) IsWaiting() bool {
	return e.Status == StatusWaiting && !e.IsSkipped
}

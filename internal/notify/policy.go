// Package notify decides when a tracked visit deserves a user-facing alert
// and manages the single visible banner.
package notify

import (
	"strconv"
	"time"

	"qms/visit-queue/internal/models"
)

// NearThreshold is the waiting position at or below which the patient is
// told their turn is close.
const NearThreshold = 5

type Kind string

const (
	KindCalled  Kind = "called"
	KindSkipped Kind = "skipped"
	KindNear    Kind = "near"
)

type Alert struct {
	Kind        Kind
	Title       string
	Message     string
	VN          string
	QueueNumber string
	Location    string
	// Vibrate alternates on/off durations, the way the browser vibration API does.
	Vibrate []time.Duration
}

// Latches records which once-per-visit alerts already fired. A new visit
// gets a zero Latches.
type Latches struct {
	Called bool
	Near   bool
}

// Evaluate compares next with the previously held snapshot and returns the
// alert to raise, if any. A nil prev is the baseline and never alerts.
// Called wins over skipped, which wins over near.
func Evaluate(prev *models.QueueEntry, next models.QueueEntry, latches *Latches) (Alert, bool) {
	if prev == nil || latches == nil {
		return Alert{}, false
	}

	if next.Status == models.StatusCalled && prev.Status != models.StatusCalled && !latches.Called {
		latches.Called = true
		return newAlert(KindCalled, next), true
	}

	if next.IsSkipped && !prev.IsSkipped {
		return newAlert(KindSkipped, next), true
	}

	if !latches.Near && isNear(next) && prev.Position > NearThreshold {
		latches.Near = true
		return newAlert(KindNear, next), true
	}
	return Alert{}, false
}

func isNear(entry models.QueueEntry) bool {
	return entry.Status == models.StatusWaiting &&
		!entry.IsSkipped &&
		entry.Position > 0 &&
		entry.Position <= NearThreshold
}

func newAlert(kind Kind, entry models.QueueEntry) Alert {
	alert := Alert{
		Kind:        kind,
		VN:          entry.VN,
		QueueNumber: entry.QueueNumber,
		Location:    entry.DepartmentLocation,
	}
	values := map[string]string{
		"queue_number": entry.QueueNumber,
		"vn":           entry.VN,
		"department":   entry.Department,
		"location":     entry.DepartmentLocation,
		"position":     strconv.Itoa(entry.Position),
	}
	alert.Title = renderTemplate(defaultTitle(kind), values)
	alert.Message = renderTemplate(defaultMessage(kind, entry.DepartmentLocation != ""), values)
	switch kind {
	case KindCalled:
		alert.Vibrate = []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}
	case KindSkipped:
		alert.Vibrate = []time.Duration{500 * time.Millisecond}
	}
	return alert
}

package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/visit-queue/internal/models"
)

func entry(status string, position int, skipped bool) models.QueueEntry {
	return models.QueueEntry{
		QueueID:            1,
		QueueNumber:        "A001",
		VN:                 "VN260112-0001",
		Department:         "General Medicine",
		DepartmentLocation: "Room 3",
		Status:             status,
		IsSkipped:          skipped,
		Position:           position,
	}
}

func TestBaselineNeverAlerts(t *testing.T) {
	var latches Latches
	_, ok := Evaluate(nil, entry(models.StatusCalled, 0, false), &latches)
	assert.False(t, ok)
	assert.False(t, latches.Called)
}

func TestCalledFiresOncePerVisit(t *testing.T) {
	var latches Latches
	prev := entry(models.StatusWaiting, 1, false)
	called := entry(models.StatusCalled, 0, false)

	alert, ok := Evaluate(&prev, called, &latches)
	require.True(t, ok)
	assert.Equal(t, KindCalled, alert.Kind)
	assert.Equal(t, "Queue A001, please proceed to Room 3.", alert.Message)
	assert.Len(t, alert.Vibrate, 3)

	// The same transition delivered again by the other path.
	_, ok = Evaluate(&prev, called, &latches)
	assert.False(t, ok)

	_, ok = Evaluate(&called, called, &latches)
	assert.False(t, ok)

	// Skipped then recalled and called again still stays quiet.
	back := entry(models.StatusWaiting, 1, false)
	_, ok = Evaluate(&called, back, &latches)
	assert.False(t, ok)
	_, ok = Evaluate(&back, called, &latches)
	assert.False(t, ok)
}

func TestSkippedFiresOnEdge(t *testing.T) {
	var latches Latches
	prev := entry(models.StatusCalled, 0, false)
	skipped := entry(models.StatusWaiting, 0, true)

	alert, ok := Evaluate(&prev, skipped, &latches)
	require.True(t, ok)
	assert.Equal(t, KindSkipped, alert.Kind)

	_, ok = Evaluate(&skipped, skipped, &latches)
	assert.False(t, ok)
}

func TestNearScenario(t *testing.T) {
	var latches Latches
	held := entry(models.StatusWaiting, 6, false)
	var fired []Kind
	for _, pos := range []int{5, 4, 3} {
		next := entry(models.StatusWaiting, pos, false)
		if alert, ok := Evaluate(&held, next, &latches); ok {
			fired = append(fired, alert.Kind)
		}
		held = next
	}
	assert.Equal(t, []Kind{KindNear}, fired)
	assert.True(t, latches.Near)
}

func TestNearRequiresCrossing(t *testing.T) {
	cases := []struct {
		name string
		prev models.QueueEntry
		next models.QueueEntry
	}{
		{"already near", entry(models.StatusWaiting, 5, false), entry(models.StatusWaiting, 4, false)},
		{"still far", entry(models.StatusWaiting, 8, false), entry(models.StatusWaiting, 6, false)},
		{"skipped entry", entry(models.StatusWaiting, 7, false), entry(models.StatusWaiting, 3, true)},
		{"no position", entry(models.StatusWaiting, 7, false), entry(models.StatusWaiting, 0, false)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var latches Latches
			alert, ok := Evaluate(&tc.prev, tc.next, &latches)
			if ok {
				assert.NotEqual(t, KindNear, alert.Kind)
			}
			assert.False(t, latches.Near)
		})
	}
}

func TestCalledWinsOverNear(t *testing.T) {
	var latches Latches
	prev := entry(models.StatusWaiting, 9, false)
	alert, ok := Evaluate(&prev, entry(models.StatusCalled, 0, false), &latches)
	require.True(t, ok)
	assert.Equal(t, KindCalled, alert.Kind)
	assert.False(t, latches.Near)
}

func TestCalledMessageFallsBackToDepartment(t *testing.T) {
	var latches Latches
	prev := entry(models.StatusWaiting, 1, false)
	next := entry(models.StatusCalled, 0, false)
	next.DepartmentLocation = ""
	alert, ok := Evaluate(&prev, next, &latches)
	require.True(t, ok)
	assert.Equal(t, "Queue A001, please proceed to General Medicine.", alert.Message)
}

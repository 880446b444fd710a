package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/store"
)

var today = time.Date(2026, time.January, 12, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultSeed(), Options{
		Now:      func() time.Time { return today },
		HashCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return s
}

func command(t *testing.T, s *Store, requestID string, queueID int64, action queue.Action) (models.APIResponse, bool, error) {
	t.Helper()
	return s.Command(context.Background(), store.CommandInput{
		RequestID:  requestID,
		QueueID:    queueID,
		Action:     action,
		StaffName:  "Nurse Joy",
		OccurredAt: today.Add(time.Hour),
	})
}

func TestSeedIssuesDisplayNumbers(t *testing.T) {
	s := newStore(t)

	entries, err := s.ListDepartment(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "A001", entries[0].QueueNumber)
	assert.Equal(t, "VN260112-0001", entries[0].VN)
	assert.Equal(t, "A006", entries[5].QueueNumber)

	peds, err := s.ListDepartment(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, peds, 1)
	assert.Equal(t, "B001", peds[0].QueueNumber)

	_, err = s.ListDepartment(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrDepartmentNotFound)
}

func TestLookupDecoratesEntry(t *testing.T) {
	s := newStore(t)

	entry, ok, err := s.GetByVN(context.Background(), "VN260112-0002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Position)
	assert.Equal(t, "5 min", entry.EstimatedTime)
	assert.Empty(t, entry.CurrentQueue)
	assert.Equal(t, "Building A, Room 101", entry.DepartmentLocation)

	_, _, err = command(t, s, "", 1, queue.ActionCall)
	require.NoError(t, err)

	entry, _, err = s.GetByVN(context.Background(), "VN260112-0002")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
	assert.Equal(t, "A001", entry.CurrentQueue)
	assert.Equal(t, "5 min", entry.EstimatedTime)

	_, ok, err = s.GetByVN(context.Background(), "VN260112-0099")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupByPhone(t *testing.T) {
	s := newStore(t)

	entry, ok, err := s.GetByPhone(context.Background(), "0833333333")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A003", entry.QueueNumber)

	_, ok, err = s.GetByPhone(context.Background(), "0000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogin(t *testing.T) {
	s := newStore(t)

	staff, err := s.Login(context.Background(), "Nurse", "password")
	require.NoError(t, err)
	assert.True(t, staff.Success)
	assert.Equal(t, "Nurse Joy", staff.StaffName)
	assert.Equal(t, "General Medicine", staff.DepartmentName)

	_, err = s.Login(context.Background(), "nurse", "wrong")
	assert.ErrorIs(t, err, store.ErrUnauthorized)
	_, err = s.Login(context.Background(), "ghost", "password")
	assert.ErrorIs(t, err, store.ErrUnauthorized)
}

func TestSingleActivePerDepartment(t *testing.T) {
	s := newStore(t)

	_, _, err := command(t, s, "", 1, queue.ActionCall)
	require.NoError(t, err)
	_, _, err = command(t, s, "", 2, queue.ActionCall)
	assert.ErrorIs(t, err, queue.ErrActiveOccupied)

	// Another department has its own slot.
	_, _, err = command(t, s, "", 7, queue.ActionCall)
	require.NoError(t, err)

	entries, err := s.ListDepartment(context.Background(), 1)
	require.NoError(t, err)
	assert.NoError(t, queue.CheckInvariants(entries))

	_, _, err = command(t, s, "", 99, queue.ActionCall)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestCommandReplaysByRequestID(t *testing.T) {
	s := newStore(t)
	var mu sync.Mutex
	var batches [][]models.QueueEntry
	s.Watch(func(entries []models.QueueEntry) {
		mu.Lock()
		batches = append(batches, entries)
		mu.Unlock()
	})

	first, replayed, err := command(t, s, "req-1", 1, queue.ActionCall)
	require.NoError(t, err)
	assert.False(t, replayed)

	// Complete moves on; a retried call with the old token must not re-run.
	_, _, err = command(t, s, "req-2", 1, queue.ActionComplete)
	require.NoError(t, err)

	again, replayed, err := command(t, s, "req-1", 1, queue.ActionCall)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, again)

	entry, _, _ := s.GetByVN(context.Background(), "VN260112-0001")
	assert.Equal(t, models.StatusCompleted, entry.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 6)
	assert.Less(t, batches[0][0].Version, batches[1][0].Version)
}

func TestNoopCommandDoesNotBroadcast(t *testing.T) {
	s := newStore(t)
	calls := 0
	s.Watch(func([]models.QueueEntry) { calls++ })

	resp, _, err := command(t, s, "", 2, queue.ActionRecall)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, calls)
}

func TestSkipReturnsContact(t *testing.T) {
	s := newStore(t)

	resp, _, err := command(t, s, "", 3, queue.ActionSkip)
	require.NoError(t, err)
	assert.Equal(t, "Anan Meesuk", resp.PatientName)
	assert.Equal(t, "0833333333", resp.PhoneNumber)

	entry, _, _ := s.GetByVN(context.Background(), "VN260112-0003")
	assert.True(t, entry.IsSkipped)
	assert.Zero(t, entry.Position)

	_, _, err = command(t, s, "", 3, queue.ActionRecall)
	require.NoError(t, err)
	entry, _, _ = s.GetByVN(context.Background(), "VN260112-0003")
	assert.Equal(t, 1, entry.Position)
}

func TestCreateQueue(t *testing.T) {
	s := newStore(t)
	create := func(requestID, visit string) (models.APIResponse, bool, error) {
		return s.CreateQueue(context.Background(), store.CreateQueueInput{RequestID: requestID, VN: visit, StaffID: 1})
	}

	resp, replayed, err := create("c-1", "VN260112-0007")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "A007", resp.QueueNumber)

	again, replayed, err := create("c-1", "VN260112-0007")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, resp, again)

	_, _, err = create("c-2", "VN260112-0007")
	assert.ErrorIs(t, err, store.ErrDuplicateVisit)
	assert.EqualError(t, err, "visit already queued: VN260112-0007 already has queue A007")

	_, _, err = create("", "VN260112-0404")
	assert.ErrorIs(t, err, store.ErrVisitNotFound)

	_, _, err = create("", "7")
	assert.ErrorIs(t, err, store.ErrInvalidVisit)

	_, _, err = s.CreateQueue(context.Background(), store.CreateQueueInput{VN: "VN260112-0009", StaffID: 77})
	assert.ErrorIs(t, err, store.ErrStaffNotFound)
}

func TestDisplayNumbersNeverReused(t *testing.T) {
	s := newStore(t)
	_, _, err := command(t, s, "", 1, queue.ActionCall)
	require.NoError(t, err)
	_, _, err = command(t, s, "", 1, queue.ActionComplete)
	require.NoError(t, err)

	resp, _, err := s.CreateQueue(context.Background(), store.CreateQueueInput{VN: "VN260112-0007"})
	require.NoError(t, err)
	assert.Equal(t, "A007", resp.QueueNumber)
}

func TestSeedValidation(t *testing.T) {
	_, err := ParseSeed([]byte("departments: ["))
	assert.Error(t, err)

	seed, err := ParseSeed([]byte(`
departments:
  - {id: 1, name: ER}
staff:
  - {id: 1, username: a, password: b, department_id: 2}
`))
	require.NoError(t, err)
	_, err = New(seed, Options{HashCost: bcrypt.MinCost})
	assert.ErrorIs(t, err, store.ErrDepartmentNotFound)

	seed, err = ParseSeed([]byte(`
departments:
  - {id: 1, name: ER}
visits:
  - {vn: "bad vn", department_id: 1}
`))
	require.NoError(t, err)
	_, err = New(seed, Options{})
	assert.Error(t, err)
}

func TestLoadSeedFile(t *testing.T) {
	_, err := LoadSeed(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}

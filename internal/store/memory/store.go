// Package memory is a process-local QueueStore. It is the single arbiter of
// the at-most-one-active rule for every department it holds.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/store"
	"qms/visit-queue/internal/vn"
)

type Options struct {
	Now        func() time.Time
	AvgService time.Duration
	// HashCost applies to plain seed passwords.
	HashCost int
	Logger   zerolog.Logger
}

type staffRecord struct {
	Staff
	hash []byte
}

type Store struct {
	opts Options

	mu          sync.Mutex
	departments map[int64]Department
	staff       map[string]staffRecord
	visits      map[string]Visit
	entries     []models.QueueEntry
	nextID      int64
	issued      map[int64]int
	version     int64
	replies     map[string]models.APIResponse
	watchers    []func([]models.QueueEntry)
}

var _ store.QueueStore = (*Store)(nil)

func New(seed Seed, opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AvgService <= 0 {
		opts.AvgService = 5 * time.Minute
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	s := &Store{
		opts:        opts,
		departments: make(map[int64]Department),
		staff:       make(map[string]staffRecord),
		visits:      make(map[string]Visit),
		issued:      make(map[int64]int),
		replies:     make(map[string]models.APIResponse),
	}

	for i, dept := range seed.Departments {
		if dept.Prefix == "" {
			dept.Prefix = string(rune('A' + i%26))
		}
		s.departments[dept.ID] = dept
	}
	for _, member := range seed.Staff {
		if _, ok := s.departments[member.DepartmentID]; !ok {
			return nil, fmt.Errorf("staff %q: %w", member.Username, store.ErrDepartmentNotFound)
		}
		hash := []byte(member.PasswordHash)
		if len(hash) == 0 {
			var err error
			hash, err = bcrypt.GenerateFromPassword([]byte(member.Password), opts.HashCost)
			if err != nil {
				return nil, fmt.Errorf("hash password for %q: %w", member.Username, err)
			}
		}
		member.Password = ""
		s.staff[strings.ToLower(member.Username)] = staffRecord{Staff: member, hash: hash}
	}

	now := opts.Now()
	for i, visit := range seed.Visits {
		full, err := vn.Normalize(visit.VN, now)
		if err != nil {
			return nil, fmt.Errorf("seed visit %d: %w", i, err)
		}
		if _, ok := s.departments[visit.DepartmentID]; !ok {
			return nil, fmt.Errorf("seed visit %s: %w", full, store.ErrDepartmentNotFound)
		}
		visit.VN = full
		s.visits[full] = visit
		if visit.Queued {
			s.issueLocked(visit, now.Add(time.Duration(i)*time.Second))
		}
	}
	return s, nil
}

// Watch registers fn to receive a department's entries after every change.
func (s *Store) Watch(fn func([]models.QueueEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) GetByVN(ctx context.Context, visit string) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.VN == visit {
			return s.lookupLocked(entry), true, nil
		}
	}
	return models.QueueEntry{}, false, nil
}

// GetByPhone prefers an open ticket over a completed one.
func (s *Store) GetByPhone(ctx context.Context, phone string) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.QueueEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if entry.PhoneNumber != phone {
			continue
		}
		if entry.Status != models.StatusCompleted {
			found = &entry
			break
		}
		if found == nil {
			found = &entry
		}
	}
	if found == nil {
		return models.QueueEntry{}, false, nil
	}
	return s.lookupLocked(*found), true, nil
}

func (s *Store) ListDepartment(ctx context.Context, departmentID int64) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.departments[departmentID]; !ok {
		return nil, store.ErrDepartmentNotFound
	}
	return s.decorateLocked(departmentID), nil
}

func (s *Store) Login(ctx context.Context, username, password string) (models.StaffIdentity, error) {
	s.mu.Lock()
	record, ok := s.staff[strings.ToLower(strings.TrimSpace(username))]
	s.mu.Unlock()
	if !ok {
		return models.StaffIdentity{}, store.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(record.hash, []byte(password)); err != nil {
		return models.StaffIdentity{}, store.ErrUnauthorized
	}
	s.mu.Lock()
	dept := s.departments[record.DepartmentID]
	s.mu.Unlock()
	return models.StaffIdentity{
		Success:        true,
		StaffID:        record.ID,
		StaffName:      record.Name,
		Role:           record.Role,
		DepartmentID:   record.DepartmentID,
		DepartmentName: dept.Name,
	}, nil
}

func (s *Store) Command(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error) {
	s.mu.Lock()
	key := "command:" + input.RequestID
	if input.RequestID != "" {
		if resp, ok := s.replies[key]; ok {
			s.mu.Unlock()
			return resp, true, nil
		}
	}

	var deptID int64
	found := false
	for _, entry := range s.entries {
		if entry.QueueID == input.QueueID {
			deptID = entry.DepartmentID
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return models.APIResponse{}, false, queue.ErrEntryNotFound
	}

	at := input.OccurredAt
	if at.IsZero() {
		at = s.opts.Now()
	}
	out, entry, changed, err := queue.Apply(s.departmentLocked(deptID), input.QueueID, input.Action, at)
	if err != nil {
		s.mu.Unlock()
		return models.APIResponse{}, false, err
	}

	resp := models.APIResponse{
		Success:     true,
		Message:     actionMessage(input.Action, entry, changed),
		QueueNumber: entry.QueueNumber,
		QueueID:     entry.QueueID,
	}
	if input.Action == queue.ActionSkip {
		resp.PatientName = entry.PatientName
		resp.PhoneNumber = entry.PhoneNumber
	}

	var snapshot []models.QueueEntry
	var watchers []func([]models.QueueEntry)
	if changed {
		s.replaceLocked(out)
		snapshot, watchers = s.bumpLocked(deptID)
	}
	if input.RequestID != "" {
		s.replies[key] = resp
	}
	s.mu.Unlock()

	if changed {
		s.opts.Logger.Info().
			Int64("queue_id", entry.QueueID).
			Str("queue_number", entry.QueueNumber).
			Str("action", string(input.Action)).
			Str("staff", input.StaffName).
			Msg("queue command")
	}
	notify(watchers, snapshot)
	return resp, false, nil
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.APIResponse, bool, error) {
	s.mu.Lock()
	key := "create:" + input.RequestID
	if input.RequestID != "" {
		if resp, ok := s.replies[key]; ok {
			s.mu.Unlock()
			return resp, true, nil
		}
	}

	if !vn.IsValid(input.VN) {
		s.mu.Unlock()
		return models.APIResponse{}, false, fmt.Errorf("%w: %s", store.ErrInvalidVisit, vn.ErrorMessage(input.VN))
	}
	visit, ok := s.visits[input.VN]
	if !ok {
		s.mu.Unlock()
		return models.APIResponse{}, false, fmt.Errorf("%w: %s", store.ErrVisitNotFound, input.VN)
	}
	for _, entry := range s.entries {
		if entry.VN == input.VN {
			s.mu.Unlock()
			return models.APIResponse{}, false, fmt.Errorf("%w: %s already has queue %s", store.ErrDuplicateVisit, input.VN, entry.QueueNumber)
		}
	}
	if input.StaffID != 0 && !s.hasStaffLocked(input.StaffID) {
		s.mu.Unlock()
		return models.APIResponse{}, false, store.ErrStaffNotFound
	}

	at := input.CreatedAt
	if at.IsZero() {
		at = s.opts.Now()
	}
	entry := s.issueLocked(visit, at)
	snapshot, watchers := s.bumpLocked(visit.DepartmentID)
	resp := models.APIResponse{
		Success:     true,
		Message:     "queue created",
		QueueNumber: entry.QueueNumber,
		QueueID:     entry.QueueID,
		PatientName: entry.PatientName,
	}
	if input.RequestID != "" {
		s.replies[key] = resp
	}
	s.mu.Unlock()

	s.opts.Logger.Info().Str("vn", entry.VN).Str("queue_number", entry.QueueNumber).Msg("queue created")
	notify(watchers, snapshot)
	return resp, false, nil
}

func (s *Store) hasStaffLocked(staffID int64) bool {
	for _, member := range s.staff {
		if member.ID == staffID {
			return true
		}
	}
	return false
}

func (s *Store) issueLocked(visit Visit, at time.Time) models.QueueEntry {
	dept := s.departments[visit.DepartmentID]
	s.nextID++
	s.issued[dept.ID]++
	entry := models.QueueEntry{
		QueueID:            s.nextID,
		QueueNumber:        fmt.Sprintf("%s%03d", dept.Prefix, s.issued[dept.ID]),
		VN:                 visit.VN,
		PatientName:        visit.PatientName,
		PhoneNumber:        visit.Phone,
		DepartmentID:       dept.ID,
		Department:         dept.Name,
		DepartmentLocation: dept.Location,
		Status:             models.StatusWaiting,
		PriorityScore:      visit.Priority,
		IssuedTime:         at,
	}
	s.entries = append(s.entries, entry)
	return entry
}

func (s *Store) departmentLocked(deptID int64) []models.QueueEntry {
	var out []models.QueueEntry
	for _, entry := range s.entries {
		if entry.DepartmentID == deptID {
			out = append(out, entry)
		}
	}
	return out
}

func (s *Store) replaceLocked(updated []models.QueueEntry) {
	byID := make(map[int64]models.QueueEntry, len(updated))
	for _, entry := range updated {
		byID[entry.QueueID] = entry
	}
	for i, entry := range s.entries {
		if next, ok := byID[entry.QueueID]; ok {
			s.entries[i] = next
		}
	}
}

// bumpLocked stamps a new version on every entry of the department, since a
// single command can move everyone's position.
func (s *Store) bumpLocked(deptID int64) ([]models.QueueEntry, []func([]models.QueueEntry)) {
	s.version++
	for i := range s.entries {
		if s.entries[i].DepartmentID == deptID {
			s.entries[i].Version = s.version
		}
	}
	return s.decorateLocked(deptID), slices.Clone(s.watchers)
}

func (s *Store) lookupLocked(entry models.QueueEntry) models.QueueEntry {
	for _, decorated := range s.decorateLocked(entry.DepartmentID) {
		if decorated.QueueID == entry.QueueID {
			return decorated
		}
	}
	return entry
}

// decorateLocked adds the derived fields a patient sees: position, the
// department's current ticket and an estimated wait.
func (s *Store) decorateLocked(deptID int64) []models.QueueEntry {
	entries := queue.AssignPositions(s.departmentLocked(deptID))
	active := queue.FindActive(entries)
	busy := 0
	current := ""
	if active != nil {
		busy = 1
		current = active.QueueNumber
	}
	minutes := int(s.opts.AvgService / time.Minute)
	for i := range entries {
		entries[i].CurrentQueue = current
		if entries[i].Position > 0 {
			entries[i].EstimatedTime = fmt.Sprintf("%d min", (entries[i].Position-1+busy)*minutes)
		}
	}
	return entries
}

func actionMessage(action queue.Action, entry models.QueueEntry, changed bool) string {
	if !changed {
		return fmt.Sprintf("%s already %s", entry.QueueNumber, entry.Status)
	}
	switch action {
	case queue.ActionCall:
		return fmt.Sprintf("called %s", entry.QueueNumber)
	case queue.ActionArrived:
		return fmt.Sprintf("%s is in progress", entry.QueueNumber)
	case queue.ActionSkip:
		return fmt.Sprintf("skipped %s", entry.QueueNumber)
	case queue.ActionComplete:
		return fmt.Sprintf("completed %s", entry.QueueNumber)
	case queue.ActionRecall:
		return fmt.Sprintf("recalled %s", entry.QueueNumber)
	}
	return string(action)
}

func notify(watchers []func([]models.QueueEntry), entries []models.QueueEntry) {
	if len(entries) == 0 {
		return
	}
	for _, fn := range watchers {
		fn(entries)
	}
}

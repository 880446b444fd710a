// Package staff drives one staff session's view of a department queue and
// issues the staff commands against the Queue Service.
package staff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/vn"
)

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultCallNextDelay   = 500 * time.Millisecond
)

// ErrCommandInFlight rejects a command while another one awaits its response.
var ErrCommandInFlight = errors.New("another command is in flight")

type Service interface {
	GetDepartmentQueues(ctx context.Context, departmentID int64) ([]models.QueueEntry, error)
	Command(ctx context.Context, queueID int64, action queue.Action, staffName string) (models.APIResponse, error)
	CreateQueue(ctx context.Context, vn string, staffID int64) (models.APIResponse, error)
}

type Options struct {
	RefreshInterval time.Duration
	CallNextDelay   time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
	// OnChange receives the view after every refresh and command.
	OnChange func(View)
	// OnError receives each failed command once, for display.
	OnError func(error)
}

type View struct {
	Waiting     []models.QueueEntry
	Skipped     []models.QueueEntry
	Active      *models.QueueEntry
	Completed   []models.QueueEntry
	Next        *models.QueueEntry
	Busy        bool
	RefreshedAt time.Time
}

type Controller struct {
	svc    Service
	staff  models.StaffIdentity
	opts   Options
	tracer trace.Tracer
	group  singleflight.Group

	mu    sync.Mutex
	parts queue.Partitions
	// active is the optimistic active slot. It can run ahead of parts.Active
	// between a command and the refresh that confirms it.
	active *models.QueueEntry
	// epoch counts successful commands. A refresh started before the latest
	// command is discarded.
	epoch       uint64
	busy        bool
	refreshedAt time.Time
}

func New(svc Service, staff models.StaffIdentity, opts Options) *Controller {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.CallNextDelay < 0 {
		opts.CallNextDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		svc:    svc,
		staff:  staff,
		opts:   opts,
		tracer: otel.Tracer("qms/visit-queue/staff"),
	}
}

func (c *Controller) Staff() models.StaffIdentity {
	return c.staff
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		Waiting:     append([]models.QueueEntry(nil), c.parts.Waiting...),
		Skipped:     append([]models.QueueEntry(nil), c.parts.Skipped...),
		Completed:   append([]models.QueueEntry(nil), c.parts.Completed...),
		Busy:        c.busy,
		RefreshedAt: c.refreshedAt,
	}
	if c.active != nil {
		active := *c.active
		v.Active = &active
	}
	for _, entry := range v.Waiting {
		if v.Active != nil && entry.QueueID == v.Active.QueueID {
			continue
		}
		next := entry
		v.Next = &next
		break
	}
	return v
}

// Refresh reloads the department's entries. Concurrent callers share one
// request.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	_, err, _ := c.group.Do("refresh:"+strconv.FormatUint(epoch, 10), func() (any, error) {
		entries, err := c.svc.GetDepartmentQueues(ctx, c.staff.DepartmentID)
		if err != nil {
			return nil, err
		}
		c.reconcile(epoch, entries)
		return nil, nil
	})
	return err
}

func (c *Controller) reconcile(epoch uint64, entries []models.QueueEntry) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.opts.Logger.Debug().Uint64("epoch", epoch).Msg("discarding refresh started before last command")
		return
	}
	if err := queue.CheckInvariants(entries); err != nil {
		c.opts.Logger.Warn().Err(err).Int64("department_id", c.staff.DepartmentID).Msg("queue service reported invariant violation")
	}
	c.parts = queue.Partition(entries)
	if c.parts.Active != nil {
		if c.active != nil && c.active.QueueID != c.parts.Active.QueueID {
			c.opts.Logger.Info().
				Int64("optimistic", c.active.QueueID).
				Int64("server", c.parts.Active.QueueID).
				Msg("active slot overwritten by server")
		}
		active := *c.parts.Active
		c.active = &active
	} else {
		c.active = nil
	}
	c.refreshedAt = c.opts.Now()
	view := c.viewLocked()
	c.mu.Unlock()
	c.changed(view)
}

// Run refreshes immediately and then on every interval until ctx ends.
// Refresh failures are logged and retried on the next tick.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.opts.Logger.Warn().Err(err).Msg("staff refresh failed")
	}
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.opts.Logger.Warn().Err(err).Msg("staff refresh failed")
			}
		}
	}
}

func (c *Controller) Call(ctx context.Context, queueID int64) error {
	_, err := c.command(ctx, queueID, queue.ActionCall)
	return err
}

func (c *Controller) MarkArrived(ctx context.Context, queueID int64) error {
	_, err := c.command(ctx, queueID, queue.ActionArrived)
	return err
}

// Skip returns the service response, which may carry the patient's contact
// details for manual follow-up.
func (c *Controller) Skip(ctx context.Context, queueID int64) (models.APIResponse, error) {
	return c.command(ctx, queueID, queue.ActionSkip)
}

func (c *Controller) Complete(ctx context.Context, queueID int64) error {
	_, err := c.command(ctx, queueID, queue.ActionComplete)
	return err
}

func (c *Controller) Recall(ctx context.Context, queueID int64) error {
	_, err := c.command(ctx, queueID, queue.ActionRecall)
	return err
}

// Do runs action by name. It backs the generic CLI verb.
func (c *Controller) Do(ctx context.Context, queueID int64, action queue.Action) (models.APIResponse, error) {
	if _, ok := queue.ParseAction(string(action)); !ok {
		return models.APIResponse{}, c.fail(queue.ErrUnknownAction)
	}
	return c.command(ctx, queueID, action)
}

// CompleteAndCallNext completes the active entry, waits for the completion
// to settle, refreshes and calls the head of the waiting list. It returns the
// entry that was called.
func (c *Controller) CompleteAndCallNext(ctx context.Context) (models.QueueEntry, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return models.QueueEntry{}, c.fail(queue.ErrNoActive)
	}
	if err := c.Complete(ctx, active.QueueID); err != nil {
		return models.QueueEntry{}, err
	}

	timer := time.NewTimer(c.opts.CallNextDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return models.QueueEntry{}, ctx.Err()
	case <-timer.C:
	}

	if err := c.Refresh(ctx); err != nil {
		return models.QueueEntry{}, c.fail(err)
	}
	c.mu.Lock()
	next := c.parts.Next()
	c.mu.Unlock()
	if next == nil {
		return models.QueueEntry{}, c.fail(queue.ErrNoWaiting)
	}
	if err := c.Call(ctx, next.QueueID); err != nil {
		return models.QueueEntry{}, err
	}
	return *next, nil
}

// CreateQueue issues a ticket for a visit number. Short forms are expanded
// against today's date.
func (c *Controller) CreateQueue(ctx context.Context, input string) (models.APIResponse, error) {
	visit, err := vn.Normalize(input, c.opts.Now())
	if err != nil {
		return models.APIResponse{}, c.fail(err)
	}
	ctx, span := c.tracer.Start(ctx, "staff.create_queue", trace.WithAttributes(attribute.String("vn", visit)))
	defer span.End()

	resp, err := c.svc.CreateQueue(ctx, visit, c.staff.StaffID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.APIResponse{}, c.fail(err)
	}
	c.opts.Logger.Info().Str("vn", visit).Str("queue_number", resp.QueueNumber).Msg("queue created")
	c.afterCommand(ctx)
	return resp, nil
}

func (c *Controller) command(ctx context.Context, queueID int64, action queue.Action) (models.APIResponse, error) {
	ctx, span := c.tracer.Start(ctx, "staff."+string(action), trace.WithAttributes(
		attribute.Int64("queue_id", queueID),
		attribute.Int64("department_id", c.staff.DepartmentID),
	))
	defer span.End()

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return models.APIResponse{}, c.fail(ErrCommandInFlight)
	}
	entry, ok := c.findLocked(queueID)
	if !ok {
		c.mu.Unlock()
		return models.APIResponse{}, c.fail(queue.ErrEntryNotFound)
	}
	noop, err := queue.Check(action, entry, c.active)
	if err != nil {
		c.mu.Unlock()
		span.SetStatus(codes.Error, err.Error())
		return models.APIResponse{}, c.fail(err)
	}
	if noop {
		c.mu.Unlock()
		c.opts.Logger.Debug().Int64("queue_id", queueID).Str("action", string(action)).Msg("command already satisfied")
		return models.APIResponse{Success: true, Message: "no change"}, nil
	}
	c.busy = true
	view := c.viewLocked()
	c.mu.Unlock()
	c.changed(view)

	start := c.opts.Now()
	resp, err := c.svc.Command(ctx, queueID, action, c.staff.StaffName)

	c.mu.Lock()
	c.busy = false
	if err == nil {
		c.epoch++
		c.applyLocked(entry, action)
	}
	view = c.viewLocked()
	c.mu.Unlock()
	c.changed(view)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.opts.Logger.Warn().Err(err).Int64("queue_id", queueID).Str("action", string(action)).Msg("staff command failed")
		return models.APIResponse{}, c.fail(err)
	}
	c.opts.Logger.Info().
		Int64("queue_id", queueID).
		Str("queue_number", entry.QueueNumber).
		Str("action", string(action)).
		Int64("duration_ms", c.opts.Now().Sub(start).Milliseconds()).
		Msg("staff command")
	c.afterCommand(ctx)
	return resp, nil
}

// findLocked prefers the optimistic active entry over the last refresh.
func (c *Controller) findLocked(queueID int64) (models.QueueEntry, bool) {
	if c.active != nil && c.active.QueueID == queueID {
		return *c.active, true
	}
	return c.parts.Find(queueID)
}

func (c *Controller) applyLocked(entry models.QueueEntry, action queue.Action) {
	switch action {
	case queue.ActionCall:
		called := entry
		called.Status = models.StatusCalled
		called.Position = 0
		c.active = &called
	case queue.ActionArrived:
		if c.active != nil && c.active.QueueID == entry.QueueID {
			c.active.Status = models.StatusInProgress
		}
	case queue.ActionSkip, queue.ActionComplete:
		if c.active != nil && c.active.QueueID == entry.QueueID {
			c.active = nil
		}
	}
}

func (c *Controller) afterCommand(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.opts.Logger.Warn().Err(err).Msg("refresh after command failed")
	}
}

func (c *Controller) fail(err error) error {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
	return err
}

func (c *Controller) changed(view View) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(view)
	}
}

// Describe renders an entry for operator messages.
func Describe(entry models.QueueEntry) string {
	if entry.PatientName == "" {
		return fmt.Sprintf("%s (%s)", entry.QueueNumber, entry.VN)
	}
	return fmt.Sprintf("%s %s (%s)", entry.QueueNumber, entry.PatientName, entry.VN)
}

// Package tracker follows one patient's queue entry. Updates arrive over the
// realtime channel while it is connected and from a fixed-interval poll
// while it is not; both feed the same apply path.
package tracker

import (
	"context"
	"errors"
	"expvar"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/notify"
	"qms/visit-queue/internal/realtime"
	"qms/visit-queue/internal/vn"
)

const DefaultPollInterval = 5 * time.Second

var (
	ErrNotFound = errors.New("queue entry not found")
	ErrClosed   = errors.New("tracker closed")
)

var (
	pollsTotal        = expvar.NewInt("tracker_polls_total")
	pollFailuresTotal = expvar.NewInt("tracker_poll_failures_total")
	staleTotal        = expvar.NewInt("tracker_stale_snapshots_total")
)

// Fetcher is the read side of the Queue Service.
type Fetcher interface {
	GetQueueByVN(ctx context.Context, vn string) (*models.QueueEntry, error)
	GetQueueByPhone(ctx context.Context, phone string) (*models.QueueEntry, error)
}

type Options struct {
	WSURL          string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Notifier       *notify.Notifier
	Logger         zerolog.Logger
	Now            func() time.Time

	// OnUpdate and OnConnectivity run serialized with each other. They must
	// not call back into the Tracker.
	OnUpdate       func(models.QueueEntry)
	OnConnectivity func(connected bool)
}

type Tracker struct {
	fetcher Fetcher
	opts    Options

	// deliverMu serializes apply so callbacks observe snapshots in order.
	deliverMu sync.Mutex
	mu        sync.Mutex
	sess      *session
	gen       uint64
	closed    bool
}

// session is everything tied to one tracked visit number. Replacing it is
// the only way latches are reset.
type session struct {
	vn         string
	gen        uint64
	last       models.QueueEntry
	latches    notify.Latches
	channel    *realtime.Channel
	connected  bool
	pollGen    uint64
	pollCancel context.CancelFunc
}

func New(fetcher Fetcher, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{fetcher: fetcher, opts: opts}
}

// LookupAndTrack resolves a visit number (short forms included) and starts
// tracking it.
func (t *Tracker) LookupAndTrack(ctx context.Context, input string) (models.QueueEntry, error) {
	visit, err := vn.Normalize(input, t.opts.Now())
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry, err := t.fetcher.GetQueueByVN(ctx, visit)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if entry == nil {
		return models.QueueEntry{}, ErrNotFound
	}
	if err := t.Track(*entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry.Normalize(), nil
}

func (t *Tracker) LookupByPhone(ctx context.Context, phone string) (models.QueueEntry, error) {
	entry, err := t.fetcher.GetQueueByPhone(ctx, phone)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if entry == nil {
		return models.QueueEntry{}, ErrNotFound
	}
	if err := t.Track(*entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry.Normalize(), nil
}

// Track makes entry the tracked visit. The same visit number is treated as
// a fresh snapshot; a different one replaces the session.
func (t *Tracker) Track(entry models.QueueEntry) error {
	entry = entry.Normalize()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.sess != nil && t.sess.vn == entry.VN {
		gen := t.sess.gen
		t.mu.Unlock()
		t.apply(gen, 0, entry)
		return nil
	}
	old := t.sess
	t.gen++
	s := &session{vn: entry.VN, gen: t.gen, last: entry}
	t.sess = s
	t.startPoll(s)
	t.mu.Unlock()

	t.teardown(old)

	t.opts.Logger.Info().Str("vn", entry.VN).Msg("tracking visit")
	t.deliverMu.Lock()
	if t.opts.OnUpdate != nil {
		t.opts.OnUpdate(entry)
	}
	t.deliverMu.Unlock()

	gen := s.gen
	channel := realtime.Open(entry.VN,
		func(snapshot models.QueueEntry) { t.apply(gen, 0, snapshot) },
		realtime.Options{
			URL:            t.opts.WSURL,
			ReconnectDelay: t.opts.ReconnectDelay,
			Dialer:         t.opts.Dialer,
			Logger:         t.opts.Logger,
			OnState:        func(state realtime.State) { t.connectivity(gen, state) },
		})

	t.mu.Lock()
	if t.sess != s {
		t.mu.Unlock()
		_ = channel.Close()
		return nil
	}
	s.channel = channel
	t.mu.Unlock()
	return nil
}

// Clear stops tracking. No callback runs once Clear returns.
func (t *Tracker) Clear() {
	t.mu.Lock()
	old := t.sess
	t.sess = nil
	t.mu.Unlock()
	t.teardown(old)
	if t.opts.Notifier != nil {
		t.opts.Notifier.Dismiss()
	}
}

func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Clear()
}

func (t *Tracker) Current() (models.QueueEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return models.QueueEntry{}, false
	}
	return t.sess.last, true
}

func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil && t.sess.connected
}

// Polling reports whether the fallback poll loop is the active delivery path.
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil && t.sess.pollCancel != nil
}

func (t *Tracker) teardown(s *session) {
	if s == nil {
		return
	}
	t.mu.Lock()
	s.stopPoll()
	channel := s.channel
	t.mu.Unlock()
	if channel != nil {
		_ = channel.Close()
	}
	// Wait out an apply that passed its session check before the swap.
	t.deliverMu.Lock()
	t.deliverMu.Unlock()
}

// apply is the single entry point for snapshots from every source. pollGen
// is zero for pushed and explicit snapshots.
func (t *Tracker) apply(gen, pollGen uint64, entry models.QueueEntry) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	entry = entry.Normalize()
	t.mu.Lock()
	s := t.sess
	if s == nil || s.gen != gen {
		t.mu.Unlock()
		return
	}
	if pollGen != 0 && (s.connected || s.pollGen != pollGen || s.pollCancel == nil) {
		t.mu.Unlock()
		return
	}
	if entry.VN != s.vn {
		t.mu.Unlock()
		t.opts.Logger.Debug().Str("vn", s.vn).Str("other_vn", entry.VN).Msg("discarding snapshot for another visit")
		return
	}
	if entry.Version != 0 && entry.Version < s.last.Version {
		t.mu.Unlock()
		staleTotal.Add(1)
		t.opts.Logger.Debug().Str("vn", s.vn).Int64("version", entry.Version).Int64("held", s.last.Version).Msg("discarding stale snapshot")
		return
	}
	prev := s.last
	alert, fire := notify.Evaluate(&prev, entry, &s.latches)
	s.last = entry
	t.mu.Unlock()

	if fire && t.opts.Notifier != nil {
		t.opts.Notifier.Show(alert)
	}
	if t.opts.OnUpdate != nil {
		t.opts.OnUpdate(entry)
	}
}

func (t *Tracker) connectivity(gen uint64, state realtime.State) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	s := t.sess
	if s == nil || s.gen != gen {
		t.mu.Unlock()
		return
	}
	s.connected = state == realtime.Connected
	if s.connected {
		s.stopPoll()
	} else {
		t.startPoll(s)
	}
	t.mu.Unlock()

	t.opts.Logger.Info().Str("vn", s.vn).Str("state", state.String()).Msg("update channel state")
	if t.opts.OnConnectivity != nil {
		t.opts.OnConnectivity(state == realtime.Connected)
	}
}

// startPoll must be called with t.mu held.
func (t *Tracker) startPoll(s *session) {
	if s.pollCancel != nil {
		return
	}
	s.pollGen++
	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	go t.poll(ctx, s.gen, s.pollGen, s.vn)
}

// stopPoll must be called with t.mu held.
func (s *session) stopPoll() {
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
}

func (t *Tracker) poll(ctx context.Context, gen, pollGen uint64, visit string) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pollsTotal.Add(1)
		entry, err := t.fetcher.GetQueueByVN(ctx, visit)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			pollFailuresTotal.Add(1)
			t.opts.Logger.Warn().Err(err).Str("vn", visit).Msg("queue poll failed")
			continue
		}
		if entry == nil {
			t.opts.Logger.Debug().Str("vn", visit).Msg("queue poll found no entry")
			continue
		}
		t.apply(gen, pollGen, *entry)
	}
}

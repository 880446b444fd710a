package notify

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultDuration = 15 * time.Second

var (
	alertsTotal       = expvar.NewMap("notify_alerts_total")
	soundFailureTotal = expvar.NewInt("notify_sound_failures_total")
)

type Banner struct {
	Alert     Alert
	ShownAt   time.Time
	ExpiresAt time.Time
}

type NotifierOptions struct {
	Duration     time.Duration
	Provider     Provider
	SoundEnabled bool
	Logger       zerolog.Logger
	// OnChange receives the visible banner, or nil once it is cleared.
	OnChange func(*Banner)
	Now      func() time.Time
}

// Notifier holds at most one visible banner. A new alert replaces the
// visible one and restarts the expiry clock.
type Notifier struct {
	opts NotifierOptions

	mu      sync.Mutex
	sound   bool
	current *Banner
	timer   *time.Timer
	gen     uint64
	closed  bool
	sends   sync.WaitGroup
}

func NewNotifier(opts NotifierOptions) *Notifier {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Provider == nil {
		opts.Provider = noopProvider{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{opts: opts, sound: opts.SoundEnabled}
}

func (n *Notifier) Show(alert Alert) {
	now := n.opts.Now()
	banner := &Banner{Alert: alert, ShownAt: now, ExpiresAt: now.Add(n.opts.Duration)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.current = banner
	n.timer = time.AfterFunc(n.opts.Duration, func() { n.expire(gen) })
	sound := n.sound
	if sound {
		n.sends.Add(1)
	}
	n.mu.Unlock()

	alertsTotal.Add(string(alert.Kind), 1)
	n.opts.Logger.Info().
		Str("kind", string(alert.Kind)).
		Str("vn", alert.VN).
		Str("queue_number", alert.QueueNumber).
		Msg(alert.Title)
	n.changed(banner)

	if sound {
		go n.play(alert)
	}
}

func (n *Notifier) play(alert Alert) {
	defer n.sends.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.opts.Provider.Send(ctx, alert); err != nil {
		soundFailureTotal.Add(1)
		n.opts.Logger.Warn().Err(err).Str("kind", string(alert.Kind)).Msg("alert sound failed")
	}
}

func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	if n.closed || gen != n.gen || n.current == nil {
		n.mu.Unlock()
		return
	}
	n.current = nil
	n.timer = nil
	n.mu.Unlock()
	n.changed(nil)
}

// Dismiss clears the visible banner early.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	if n.current == nil {
		n.mu.Unlock()
		return
	}
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.current = nil
	closed := n.closed
	n.mu.Unlock()
	if !closed {
		n.changed(nil)
	}
}

func (n *Notifier) Current() (Banner, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Banner{}, false
	}
	return *n.current, true
}

// SetSoundEnabled only gates the provider. Banners and latches are unaffected.
func (n *Notifier) SetSoundEnabled(enabled bool) {
	n.mu.Lock()
	n.sound = enabled
	n.mu.Unlock()
}

func (n *Notifier) SoundEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sound
}

// Close cancels the expiry timer and waits for in-flight sounds.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.current = nil
	n.mu.Unlock()
	n.sends.Wait()
}

func (n *Notifier) changed(banner *Banner) {
	if n.opts.OnChange != nil {
		n.opts.OnChange(banner)
	}
}

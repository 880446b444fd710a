package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []Alert
}

func (p *recordingProvider) Send(ctx context.Context, alert Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, alert)
	return nil
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestBannerExpires(t *testing.T) {
	var mu sync.Mutex
	var changes []*Banner
	n := NewNotifier(NotifierOptions{
		Duration: 30 * time.Millisecond,
		OnChange: func(b *Banner) {
			mu.Lock()
			changes = append(changes, b)
			mu.Unlock()
		},
	})
	defer n.Close()

	n.Show(Alert{Kind: KindCalled, Title: "It's your turn"})
	banner, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, KindCalled, banner.Alert.Kind)
	assert.Equal(t, 30*time.Millisecond, banner.ExpiresAt.Sub(banner.ShownAt))

	require.Eventually(t, func() bool {
		_, ok := n.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.NotNil(t, changes[0])
	assert.Nil(t, changes[1])
}

func TestNewAlertReplacesVisible(t *testing.T) {
	n := NewNotifier(NotifierOptions{Duration: 200 * time.Millisecond})
	defer n.Close()

	n.Show(Alert{Kind: KindNear})
	time.Sleep(120 * time.Millisecond)
	n.Show(Alert{Kind: KindCalled})

	// The first alert's timer must not clear its replacement.
	time.Sleep(110 * time.Millisecond)
	banner, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, KindCalled, banner.Alert.Kind)
}

func TestDismiss(t *testing.T) {
	n := NewNotifier(NotifierOptions{Duration: time.Minute})
	defer n.Close()

	n.Show(Alert{Kind: KindSkipped})
	n.Dismiss()
	_, ok := n.Current()
	assert.False(t, ok)
	n.Dismiss()
}

func TestMuteGatesOnlySound(t *testing.T) {
	provider := &recordingProvider{}
	n := NewNotifier(NotifierOptions{Duration: time.Minute, Provider: provider, SoundEnabled: true})

	n.Show(Alert{Kind: KindCalled})
	require.Eventually(t, func() bool { return provider.count() == 1 }, time.Second, 5*time.Millisecond)

	n.SetSoundEnabled(false)
	assert.False(t, n.SoundEnabled())
	n.Show(Alert{Kind: KindSkipped})
	banner, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, KindSkipped, banner.Alert.Kind)

	n.Close()
	assert.Equal(t, 1, provider.count())
}

func TestShowAfterCloseIsIgnored(t *testing.T) {
	n := NewNotifier(NotifierOptions{})
	n.Close()
	n.Show(Alert{Kind: KindCalled})
	_, ok := n.Current()
	assert.False(t, ok)
}

func TestNewProvider(t *testing.T) {
	logger := zerolog.Nop()
	assert.IsType(t, logProvider{}, NewProvider("", "", logger))
	assert.IsType(t, noopProvider{}, NewProvider("noop", "", logger))
	assert.IsType(t, bellProvider{}, NewProvider("bell", "", logger))
	assert.IsType(t, logProvider{}, NewProvider("webhook", "", logger))
	assert.IsType(t, webhookProvider{}, NewProvider("webhook", "http://example.test/hook", logger))
	assert.IsType(t, webhookProvider{}, NewProvider("https://example.test/hook", "", logger))
	assert.Error(t, NewProvider("fail", "", logger).Send(context.Background(), Alert{}))
}

func TestBellRingsPerPulse(t *testing.T) {
	var buf bytes.Buffer
	p := bellProvider{w: &buf}
	require.NoError(t, p.Send(context.Background(), Alert{Kind: KindCalled, Vibrate: []time.Duration{1, 1, 1}}))
	assert.Equal(t, "\a\a", buf.String())

	buf.Reset()
	require.NoError(t, p.Send(context.Background(), Alert{Kind: KindNear}))
	assert.Equal(t, "\a", buf.String())
}

func TestWebhookProvider(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := webhookProvider{url: srv.URL, client: srv.Client()}
	err := p.Send(context.Background(), Alert{
		Kind:        KindSkipped,
		VN:          "VN260112-0001",
		QueueNumber: "A001",
		Vibrate:     []time.Duration{500 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.Equal(t, "skipped", got["kind"])
	assert.Equal(t, []any{float64(500)}, got["vibrate"])

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rejecting.Close()
	assert.Error(t, webhookProvider{url: rejecting.URL}.Send(context.Background(), Alert{}))
}

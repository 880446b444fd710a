package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider produces the audible/haptic side effect of an alert. The visual
// banner is owned by Notifier and never depends on a provider.
type Provider interface {
	Send(ctx context.Context, alert Alert) error
}

// NewProvider resolves an ALERT_PROVIDER setting. Unknown kinds fall back to
// logging; a bare URL selects the webhook provider.
func NewProvider(kind, webhookURL string, logger zerolog.Logger) Provider {
	switch kind {
	case "", "log":
		return logProvider{logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "bell":
		return bellProvider{w: os.Stderr}
	case "webhook":
		if webhookURL == "" {
			return logProvider{logger: logger}
		}
		return webhookProvider{url: webhookURL}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind}
		}
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, alert Alert) error {
	p.logger.Info().
		Str("kind", string(alert.Kind)).
		Str("vn", alert.VN).
		Str("queue_number", alert.QueueNumber).
		Msg("alert sound")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, alert Alert) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, alert Alert) error {
	return errors.New("provider failure")
}

// bellProvider rings the terminal bell, once per vibration pulse.
type bellProvider struct {
	w io.Writer
}

func (p bellProvider) Send(ctx context.Context, alert Alert) error {
	rings := 1
	if alert.Kind == KindCalled && len(alert.Vibrate) > 1 {
		rings = (len(alert.Vibrate) + 1) / 2
	}
	_, err := io.WriteString(p.w, strings.Repeat("\a", rings))
	return err
}

type webhookProvider struct {
	url    string
	client *http.Client
}

func (p webhookProvider) Send(ctx context.Context, alert Alert) error {
	vibrate := make([]int64, 0, len(alert.Vibrate))
	for _, d := range alert.Vibrate {
		vibrate = append(vibrate, d.Milliseconds())
	}
	body, err := json.Marshal(map[string]any{
		"kind":        alert.Kind,
		"vn":          alert.VN,
		"queueNumber": alert.QueueNumber,
		"title":       alert.Title,
		"message":     alert.Message,
		"vibrate":     vibrate,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := p.client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook rejected request: %d", resp.StatusCode)
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type Client struct {
	APIURL           string  `mapstructure:"API_URL"`
	WSURL            string  `mapstructure:"WS_URL"`
	PollSeconds      int     `mapstructure:"POLL_SECONDS"`
	ReconnectSeconds int     `mapstructure:"RECONNECT_SECONDS"`
	AlertSeconds     int     `mapstructure:"ALERT_SECONDS"`
	RefreshSeconds   int     `mapstructure:"REFRESH_SECONDS"`
	DisplaySeconds   int     `mapstructure:"DISPLAY_SECONDS"`
	CallNextDelayMS  int     `mapstructure:"CALL_NEXT_DELAY_MS"`
	SoundEnabled     bool    `mapstructure:"SOUND_ENABLED"`
	AlertProvider    string  `mapstructure:"ALERT_PROVIDER"`
	AlertWebhookURL  string  `mapstructure:"ALERT_WEBHOOK_URL"`
	StaffUsername    string  `mapstructure:"STAFF_USERNAME"`
	StaffPassword    string  `mapstructure:"STAFF_PASSWORD"`
	LogLevel         string  `mapstructure:"LOG_LEVEL"`
	LogFormat        string  `mapstructure:"LOG_FORMAT"`
	OTelEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure     bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelSampleRatio  float64 `mapstructure:"OTEL_SAMPLE_RATIO"`
}

type Server struct {
	Port               string  `mapstructure:"PORT"`
	SeedFile           string  `mapstructure:"SEED_FILE"`
	RateLimitPerMinute int     `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
	AvgServiceMinutes  int     `mapstructure:"AVG_SERVICE_MINUTES"`
	LogLevel           string  `mapstructure:"LOG_LEVEL"`
	LogFormat          string  `mapstructure:"LOG_FORMAT"`
	OTelEndpoint       string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure       bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelSampleRatio    float64 `mapstructure:"OTEL_SAMPLE_RATIO"`
}

var clientDefaults = map[string]any{
	"API_URL":                     "http://localhost:3000",
	"WS_URL":                      "ws://localhost:3000/ws/websocket",
	"POLL_SECONDS":                5,
	"RECONNECT_SECONDS":           3,
	"ALERT_SECONDS":               15,
	"REFRESH_SECONDS":             10,
	"DISPLAY_SECONDS":             3,
	"CALL_NEXT_DELAY_MS":          500,
	"SOUND_ENABLED":               true,
	"ALERT_PROVIDER":              "bell",
	"ALERT_WEBHOOK_URL":           "",
	"STAFF_USERNAME":              "",
	"STAFF_PASSWORD":              "",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "console",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SAMPLE_RATIO":           1.0,
}

var serverDefaults = map[string]any{
	"PORT":                        "3000",
	"SEED_FILE":                   "",
	"RATE_LIMIT_PER_MIN":          600,
	"RATE_LIMIT_BURST":            120,
	"AVG_SERVICE_MINUTES":         5,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "console",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SAMPLE_RATIO":           1.0,
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := load(clientDefaults, &cfg); err != nil {
		return Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := load(serverDefaults, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func load(defaults map[string]any, target any) error {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c Client) Validate() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		return fmt.Errorf("API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	ws, err := url.Parse(c.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") || ws.Host == "" {
		return fmt.Errorf("WS_URL must be a ws(s) URL, got %q", c.WSURL)
	}
	return nil
}

func (c Client) PollInterval() time.Duration {
	return seconds(c.PollSeconds, 5)
}

func (c Client) ReconnectDelay() time.Duration {
	return seconds(c.ReconnectSeconds, 3)
}

func (c Client) AlertDuration() time.Duration {
	return seconds(c.AlertSeconds, 15)
}

func (c Client) RefreshInterval() time.Duration {
	return seconds(c.RefreshSeconds, 10)
}

// DisplayInterval paces the department display board.
func (c Client) DisplayInterval() time.Duration {
	return seconds(c.DisplaySeconds, 3)
}

func (c Client) CallNextDelay() time.Duration {
	if c.CallNextDelayMS < 0 {
		return 0
	}
	return time.Duration(c.CallNextDelayMS) * time.Millisecond
}

func (s Server) Addr() string {
	return ":" + s.Port
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

package tracker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := tracker.ParseConfig(map[string]string{"apikey": "abc"}, "https://example.com/")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	want := tracker.Config{
		APIKey:            "abc",
		Endpoint:          tracker.DefaultEndpoint,
		IntervalStart:     5 * time.Second,
		IntervalIncrement: 2 * time.Second,
		BatchSize:         50,
		SessionTimeout:    30,
		AutoIdentify:      true,
	}
	if cfg != want {
		t.Errorf("config = %+v\nwant     %+v", cfg, want)
	}
}

func TestParseConfigAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		attrs map[string]string
		url   string
		check func(tracker.Config) bool
	}{
		{
			name:  "data-apikey",
			attrs: map[string]string{"data-apikey": "k2"},
			check: func(c tracker.Config) bool { return c.APIKey == "k2" },
		},
		{
			name:  "server url wins over endpoint",
			attrs: map[string]string{"apikey": "k", "data-endpoint": "https://a.example/collect", "data-server-url": "https://b.example/collect"},
			check: func(c tracker.Config) bool { return c.Endpoint == "https://b.example/collect" },
		},
		{
			name:  "intervals",
			attrs: map[string]string{"apikey": "k", "data-interval-start": "1000", "data-interval-increment": "250"},
			check: func(c tracker.Config) bool {
				return c.IntervalStart == time.Second && c.IntervalIncrement == 250*time.Millisecond
			},
		},
		{
			name:  "invalid numbers fall back",
			attrs: map[string]string{"apikey": "k", "data-batch-size": "many", "data-session-timeout": "-3"},
			check: func(c tracker.Config) bool { return c.BatchSize == 50 && c.SessionTimeout == 30 },
		},
		{
			name: "flags",
			attrs: map[string]string{
				"apikey": "k", "data-cookieless": "true", "data-privacy-mode": "true",
				"data-auto-identify": "false", "data-only-identify": "true", "data-cross-domain": "true",
			},
			check: func(c tracker.Config) bool {
				return c.Cookieless && c.PrivacyMode && !c.AutoIdentify && c.OnlyIdentify && c.CrossDomain
			},
		},
		{
			name:  "debug from url",
			attrs: map[string]string{"apikey": "k"},
			url:   "https://example.com/?debug=true",
			check: func(c tracker.Config) bool { return c.Debug },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := tracker.ParseConfig(tt.attrs, tt.url)
			if err != nil {
				t.Fatalf("ParseConfig: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestParseConfigMissingKey(t *testing.T) {
	t.Parallel()
	if _, err := tracker.ParseConfig(map[string]string{"data-debug": "true"}, ""); !errors.Is(err, tracker.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

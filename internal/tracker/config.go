package tracker

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is used when the script tag names no collector.
const DefaultEndpoint = "http://localhost:3000/api/v1/collect/optimized"

var ErrMissingAPIKey = errors.New("no API key provided")

// Config is the resolved tag configuration. It is read-only once the tracker
// is built.
type Config struct {
	APIKey            string
	Endpoint          string
	IntervalStart     time.Duration
	IntervalIncrement time.Duration
	BatchSize         int
	// SessionTimeout is the configured timeout in minutes. It is reported
	// through the config getter only; the session window is fixed.
	SessionTimeout int
	Cookieless     bool
	PrivacyMode    bool
	AutoIdentify   bool
	OnlyIdentify   bool
	CrossDomain    bool
	Debug          bool
}

// ParseConfig resolves the tag configuration from the attributes of the
// embedding script element and the page URL.
func ParseConfig(attrs map[string]string, pageURL string) (Config, error) {
	cfg := Config{
		APIKey:            attrs["apikey"],
		Endpoint:          DefaultEndpoint,
		IntervalStart:     time.Duration(intAttr(attrs, "data-interval-start", 5000)) * time.Millisecond,
		IntervalIncrement: time.Duration(intAttr(attrs, "data-interval-increment", 2000)) * time.Millisecond,
		BatchSize:         intAttr(attrs, "data-batch-size", 50),
		SessionTimeout:    intAttr(attrs, "data-session-timeout", 30),
		Cookieless:        attrs["data-cookieless"] == "true",
		PrivacyMode:       attrs["data-privacy-mode"] == "true",
		AutoIdentify:      attrs["data-auto-identify"] != "false",
		OnlyIdentify:      attrs["data-only-identify"] == "true",
		CrossDomain:       attrs["data-cross-domain"] == "true",
		Debug:             attrs["data-debug"] == "true",
	}
	if cfg.APIKey == "" {
		cfg.APIKey = attrs["data-apikey"]
	}
	if v := attrs["data-endpoint"]; v != "" {
		cfg.Endpoint = v
	}
	if v := attrs["data-server-url"]; v != "" {
		cfg.Endpoint = v
	}
	if u, err := url.Parse(pageURL); err == nil && strings.Contains(u.RawQuery, "debug=true") {
		cfg.Debug = true
	}

	if cfg.APIKey == "" {
		return cfg, ErrMissingAPIKey
	}
	return cfg, nil
}

// intAttr parses a positive integer attribute, falling back to def.
func intAttr(attrs map[string]string, name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(attrs[name]))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

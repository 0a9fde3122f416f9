package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const sendTimeout = 10 * time.Second

var attributionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?.*utm_.*=`),
	regexp.MustCompile(`(\?|&)ref=`),
	regexp.MustCompile(`(\?|&)(gclid|fbclid|msclkid)=`),
}

// referrerFor returns the page URL itself when it carries campaign
// parameters, otherwise the document referrer.
func referrerFor(pageURL, docReferrer string) string {
	for _, p := range attributionPatterns {
		if p.MatchString(pageURL) {
			return pageURL
		}
	}
	return docReferrer
}

// transport delivers payloads, preferring the beacon path.
type transport struct {
	host   Host
	apiKey string
	log    zerolog.Logger
}

// Send delivers payload to endpoint and reports whether it left the page.
// A beacon failure falls back to a regular request within the same call.
func (t *transport) Send(endpoint string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		t.log.Error().Err(err).Str("operation", "encode").Msg("payload not serializable")
		return false
	}

	if err := t.host.Beacon(t.beaconURL(endpoint), body); err != nil {
		t.log.Debug().Err(err).Msg("beacon failed, falling back to request")
		return t.post(endpoint, body)
	}
	t.log.Debug().Int("bytes", len(body)).Msg("beacon sent")
	return true
}

// SendRequest skips the beacon path.
func (t *transport) SendRequest(endpoint string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		t.log.Error().Err(err).Str("operation", "encode").Msg("payload not serializable")
		return false
	}
	return t.post(endpoint, body)
}

func (t *transport) post(endpoint string, body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", t.apiKey)
	if err := t.host.Send(ctx, endpoint, header, body); err != nil {
		t.log.Error().Err(err).Str("operation", "request").Msg("send failed")
		return false
	}
	return true
}

// beaconURL appends the API key as a query parameter because beacons cannot
// carry custom headers.
func (t *transport) beaconURL(endpoint string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "api_key=" + url.QueryEscape(t.apiKey)
}

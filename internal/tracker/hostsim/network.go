package hostsim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// Network carries the page's outbound traffic.
type Network interface {
	Beacon(url string, body []byte) error
	Send(ctx context.Context, url string, header http.Header, body []byte) error
}

// Request is one delivery seen by a Recorder.
type Request struct {
	Beacon bool
	URL    string
	Header http.Header
	Body   []byte
}

// Payload decodes the request body.
func (r Request) Payload() (wire.Payload, error) {
	var p wire.Payload
	err := json.Unmarshal(r.Body, &p)
	return p, err
}

// Recorder is an in-memory Network that records every delivery that
// succeeded. Failures are switched on per path.
type Recorder struct {
	mu          sync.Mutex
	requests    []Request
	attempts    int
	noBeacon    bool
	failBeacon  bool
	failRequest bool
}

// DisableBeacon makes the beacon path report that the capability is missing.
func (r *Recorder) DisableBeacon(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noBeacon = v
}

// FailBeacon makes beacon calls report failure.
func (r *Recorder) FailBeacon(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failBeacon = v
}

// FailRequest makes request calls return an error.
func (r *Recorder) FailRequest(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failRequest = v
}

func (r *Recorder) Beacon(url string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	switch {
	case r.noBeacon:
		return tracker.ErrBeaconUnavailable
	case r.failBeacon:
		return errors.New("beacon rejected")
	}
	r.requests = append(r.requests, Request{Beacon: true, URL: url, Body: append([]byte(nil), body...)})
	return nil
}

func (r *Recorder) Send(_ context.Context, url string, header http.Header, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failRequest {
		return errors.New("network unreachable")
	}
	r.requests = append(r.requests, Request{URL: url, Header: header.Clone(), Body: append([]byte(nil), body...)})
	return nil
}

// Requests returns the successful deliveries in order.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Attempts counts every delivery attempt, including failed ones.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Actions returns every delivered action in order.
func (r *Recorder) Actions() ([]wire.ActionRecord, error) {
	var out []wire.ActionRecord
	for _, req := range r.Requests() {
		p, err := req.Payload()
		if err != nil {
			return nil, err
		}
		out = append(out, p.ActionLog...)
	}
	return out, nil
}

// HTTPNetwork delivers over real HTTP. Beacons are posted in the background
// and only logged, as a browser would.
type HTTPNetwork struct {
	Client *http.Client
}

// NewHTTPNetwork returns an HTTPNetwork with a bounded client timeout.
func NewHTTPNetwork() *HTTPNetwork {
	return &HTTPNetwork{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *HTTPNetwork) Beacon(url string, body []byte) error {
	go func() {
		header := http.Header{}
		header.Set("Content-Type", "text/plain;charset=UTF-8")
		if err := n.Send(context.Background(), url, header, body); err != nil {
			log.Error().Err(err).Str("url", url).Msg("beacon delivery failed")
		}
	}()
	return nil
}

func (n *HTTPNetwork) Send(ctx context.Context, url string, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = header.Clone()

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Debug().Int("status", resp.StatusCode).Str("url", url).RawJSON("response", jsonOrQuoted(msg)).Msg("collector response")
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}

func jsonOrQuoted(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	q, _ := json.Marshal(string(b))
	return q
}

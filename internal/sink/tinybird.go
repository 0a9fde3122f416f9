package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

// TinybirdClient posts rows to the Tinybird Events API as NDJSON.
type TinybirdClient struct {
	baseURL    string
	token      string
	events     string
	identities string
	maxRetries uint64
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

func NewTinybirdClient(cfg config.TinybirdConfig) (*TinybirdClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("tinybird token is required")
	}

	return &TinybirdClient{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		events:     cfg.EventsDatasource,
		identities: cfg.IdentitiesDatasource,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

func (c *TinybirdClient) Name() string { return config.SinkTinybird }

// Send writes events then identities. Empty sets are skipped.
func (c *TinybirdClient) Send(ctx context.Context, batch Batch) error {
	if len(batch.Events) > 0 {
		if err := c.post(ctx, c.events, toAny(batch.Events)); err != nil {
			return fmt.Errorf("send events: %w", err)
		}
	}
	if len(batch.Identities) > 0 {
		if err := c.post(ctx, c.identities, toAny(batch.Identities)); err != nil {
			return fmt.Errorf("send identities: %w", err)
		}
	}
	return nil
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}

// statusError is a non-2xx response from Tinybird.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tinybird API error: %d %s - %s", e.status, http.StatusText(e.status), e.body)
}

func (c *TinybirdClient) post(ctx context.Context, datasource string, rows []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	body := buf.Bytes()
	endpoint := c.baseURL + "/v0/events?name=" + url.QueryEscape(datasource)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/x-ndjson")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("datasource", datasource).Int("attempt", attempt).Msg("Tinybird request failed")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 300 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			log.Warn().Int("status", resp.StatusCode).Str("datasource", datasource).Int("attempt", attempt).Msg("Tinybird rejected batch, retrying")
			return serr
		}
		return backoff.Permanent(serr)
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.maxRetries > 0 {
		b = backoff.WithMaxRetries(c.newBackOff(), c.maxRetries)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Ping checks that the token can list datasources.
func (c *TinybirdClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v0/datasources", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}

func (c *TinybirdClient) Close() error { return nil }

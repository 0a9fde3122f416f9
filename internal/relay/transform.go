// Package relay moves normalized events from Kafka into ClickHouse and keeps
// per-session aggregates in Redis.
package relay

import (
	"net/url"
	"time"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/sink"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/storage"
)

// EventRow converts a forwarded event into its ClickHouse row.
func EventRow(e sink.Event) storage.EventRow {
	received := time.UnixMilli(e.ReceivedAt).UTC()
	return storage.EventRow{
		EventID:     e.EventID,
		WorkspaceID: e.WorkspaceID,
		VisitorID:   e.VisitorID,
		SessionID:   e.SessionID,
		ActionType:  e.ActionType,
		Timestamp:   parseTime(e.Timestamp, received),
		ReceivedAt:  received,
		URL:         e.URL,
		Path:        pathOf(e.URL),
		Element:     e.Element,
		Text:        e.Text,
		Value:       e.Value,
		Properties:  e.Properties,
		Referrer:    e.Referrer,
		UserAgent:   e.UserAgent,
		Website:     e.Website,
		EmailHash:   e.EmailHash,
		EmailDomain: e.EmailDomain,
		Browser:     e.Browser,
		OS:          e.OS,
		DeviceType:  e.DeviceType,
		Country:     e.Country,
		City:        e.City,
	}
}

func IdentityRow(i sink.Identity) storage.IdentityRow {
	return storage.IdentityRow{
		WorkspaceID:  i.WorkspaceID,
		VisitorID:    i.VisitorID,
		EmailHash:    i.EmailHash,
		EmailDomain:  i.EmailDomain,
		IdentifiedAt: parseTime(i.IdentifiedAt, time.Now().UTC()),
		Properties:   i.Properties,
	}
}

// parseTime reads an RFC 3339 timestamp, using fallback when it is malformed.
func parseTime(s string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Package sink normalizes collected payloads into analytics rows and forwards
// them to the configured event stores.
package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/enricher"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

const unknown = "unknown"

// Event is one normalized action row.
type Event struct {
	EventID     string `json:"event_id"`
	Timestamp   string `json:"timestamp"`
	WorkspaceID string `json:"workspace_id"`
	VisitorID   string `json:"visitor_id"`
	SessionID   string `json:"session_id"`
	ActionType  string `json:"action_type"`
	URL         string `json:"url"`
	Element     string `json:"element,omitempty"`
	Text        string `json:"text,omitempty"`
	Value       string `json:"value,omitempty"`
	Properties  string `json:"properties,omitempty"`
	UserAgent   string `json:"user_agent"`
	Referrer    string `json:"referrer"`
	EmailHash   string `json:"email_hash,omitempty"`
	EmailDomain string `json:"email_domain,omitempty"`

	Website     string `json:"website,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`
	ReceivedAt  int64  `json:"received_at"`
}

// Identity links a visitor to a hashed email address.
type Identity struct {
	WorkspaceID  string `json:"workspace_id"`
	VisitorID    string `json:"visitor_id"`
	EmailHash    string `json:"email_hash"`
	EmailDomain  string `json:"email_domain"`
	IdentifiedAt string `json:"identified_at"`
	Properties   string `json:"properties,omitempty"`
}

// Batch is everything derived from one collection request.
type Batch struct {
	Events     []Event
	Identities []Identity
}

func (b Batch) Empty() bool {
	return len(b.Events) == 0 && len(b.Identities) == 0
}

// Transform turns a validated payload into event and identity rows.
func Transform(workspaceID string, p *wire.Payload, enr enricher.Enrichment) Batch {
	visitorID := orUnknown(p.User.UUID)
	sessionID := unknown
	landing := ""
	if p.User.SessionData != nil {
		sessionID = orUnknown(p.User.SessionData.ID)
		landing = p.User.SessionData.LandingPage
	}
	userAgent := orUnknown(p.User.Platform)

	batch := Batch{Events: make([]Event, 0, len(p.ActionLog))}

	for _, action := range p.ActionLog {
		ev := Event{
			EventID:     ulid.Make().String(),
			Timestamp:   action.Timestamp,
			WorkspaceID: workspaceID,
			VisitorID:   visitorID,
			SessionID:   sessionID,
			ActionType:  action.ActionType,
			URL:         action.URL,
			Element:     action.Element,
			Text:        action.Text,
			Value:       action.Value,
			UserAgent:   userAgent,
			Referrer:    p.Referrer,
			Website:     p.Customer.Website,
			LandingPage: landing,
			Browser:     enr.Browser,
			OS:          enr.OS,
			DeviceType:  enr.DeviceType,
			Country:     enr.Country,
			City:        enr.City,
			ReceivedAt:  enr.ServerTimestamp,
		}
		if ev.Timestamp == "" {
			ev.Timestamp = time.UnixMilli(enr.ServerTimestamp).UTC().Format("2006-01-02T15:04:05.000Z")
		}

		var props string
		if action.Properties != nil {
			if data, err := json.Marshal(action.Properties); err == nil {
				props = string(data)
				ev.Properties = props
			}
		}

		hash, domain, ok := identityOf(action, p.User.Identity)
		if ok {
			ev.EmailHash = hash
			ev.EmailDomain = domain
			batch.Identities = append(batch.Identities, Identity{
				WorkspaceID:  workspaceID,
				VisitorID:    visitorID,
				EmailHash:    hash,
				EmailDomain:  domain,
				IdentifiedAt: ev.Timestamp,
				Properties:   props,
			})
		}

		batch.Events = append(batch.Events, ev)
	}

	return batch
}

// identityOf finds the email an action carries. properties.email wins. An
// identify action falls back to the user's identity, which privacy mode has
// already replaced with a digest.
func identityOf(action wire.ActionRecord, identity *string) (hash, domain string, ok bool) {
	if email, _ := action.Properties["email"].(string); email != "" {
		return HashEmail(email), EmailDomain(email), true
	}
	if action.ActionType != wire.ActionIdentify || identity == nil || *identity == "" {
		return "", "", false
	}
	if strings.Contains(*identity, "@") {
		return HashEmail(*identity), EmailDomain(*identity), true
	}
	return *identity, "", true
}

// HashEmail is the hex SHA-256 of the trimmed, lowercased address.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// EmailDomain returns the lowercased part after the first '@', or "".
func EmailDomain(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

//go:embed schema.sql
var schema string

// Statements splits the bundled schema into individual DDL statements.
func Statements() []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

type ClickHouse struct {
	conn driver.Conn
}

// EventRow represents a row in the events table
type EventRow struct {
	EventID     string
	WorkspaceID string
	VisitorID   string
	SessionID   string
	ActionType  string
	Timestamp   time.Time
	ReceivedAt  time.Time
	URL         string
	Path        string
	Element     string
	Text        string
	Value       string
	Properties  string
	Referrer    string
	UserAgent   string
	Website     string
	EmailHash   string
	EmailDomain string
	Browser     string
	OS          string
	DeviceType  string
	Country     string
	City        string
}

// IdentityRow represents a row in the identities table
type IdentityRow struct {
	WorkspaceID  string
	VisitorID    string
	EmailHash    string
	EmailDomain  string
	IdentifiedAt time.Time
	Properties   string
}

// SessionRow represents a row in the sessions table
type SessionRow struct {
	SessionID    string
	WorkspaceID  string
	VisitorID    string
	StartedAt    time.Time
	EndedAt      time.Time
	DurationMs   uint64
	Referrer     string
	Browser      string
	OS           string
	DeviceType   string
	Country      string
	City         string
	PageViews    uint32
	EventsCount  uint32
	ClicksCount  uint32
	EntryPage    string
	ExitPage     string
	ScrollDepth  uint8
	IsIdentified uint8
	IsBounced    uint8
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) InsertEvents(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			event_id, workspace_id, visitor_id, session_id, action_type,
			timestamp, received_at,
			url, path, element, text, value, properties,
			referrer, user_agent, website, email_hash, email_domain,
			browser, os, device_type, country, city
		)
	`)
	if err != nil {
		return err
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, e.WorkspaceID, e.VisitorID, e.SessionID, e.ActionType,
			e.Timestamp, e.ReceivedAt,
			e.URL, e.Path, e.Element, e.Text, e.Value, e.Properties,
			e.Referrer, e.UserAgent, e.Website, e.EmailHash, e.EmailDomain,
			e.Browser, e.OS, e.DeviceType, e.Country, e.City,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertIdentities(ctx context.Context, identities []IdentityRow) error {
	if len(identities) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO identities (
			workspace_id, visitor_id, email_hash, email_domain,
			identified_at, properties
		)
	`)
	if err != nil {
		return err
	}

	for _, i := range identities {
		err := batch.Append(
			i.WorkspaceID, i.VisitorID, i.EmailHash, i.EmailDomain,
			i.IdentifiedAt, i.Properties,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// UpsertSession inserts a session row. The sessions table is a
// ReplacingMergeTree keyed by session_id, so a later row for the same session
// supersedes an earlier one.
func (c *ClickHouse) UpsertSession(ctx context.Context, session SessionRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO sessions (
			session_id, workspace_id, visitor_id,
			started_at, ended_at, duration_ms,
			referrer, browser, os, device_type,
			country, city,
			page_views, events_count, clicks_count,
			entry_page, exit_page, scroll_depth,
			is_identified, is_bounced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.SessionID, session.WorkspaceID, session.VisitorID,
		session.StartedAt, session.EndedAt, session.DurationMs,
		session.Referrer, session.Browser, session.OS, session.DeviceType,
		session.Country, session.City,
		session.PageViews, session.EventsCount, session.ClicksCount,
		session.EntryPage, session.ExitPage, session.ScrollDepth,
		session.IsIdentified, session.IsBounced,
	)
}

// Migrate creates the tables the relay writes to when they are missing.
func (c *ClickHouse) Migrate(ctx context.Context) error {
	for _, stmt := range Statements() {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

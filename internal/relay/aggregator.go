package relay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/storage"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

const sessionPrefix = "session:"

// HashUpdate is one batch of field changes applied to a session hash. Max and
// Min only replace a field when the new value is larger or smaller.
type HashUpdate struct {
	Set   map[string]any
	SetNX map[string]any
	Incr  map[string]int64
	Max   map[string]int64
	Min   map[string]int64
}

// HashStore holds the session hashes.
type HashStore interface {
	Apply(ctx context.Context, key string, u HashUpdate, ttl time.Duration) error
	GetAll(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// SessionWriter persists finished sessions.
type SessionWriter interface {
	UpsertSession(ctx context.Context, session storage.SessionRow) error
}

// Aggregator aggregates session data in Redis
type Aggregator struct {
	writer SessionWriter
	hashes HashStore
	ttl    time.Duration
}

func NewAggregator(writer SessionWriter, hashes HashStore, ttl time.Duration) *Aggregator {
	return &Aggregator{
		writer: writer,
		hashes: hashes,
		ttl:    ttl,
	}
}

// UpdateSession folds event into its session hash. An end-session event
// writes the session to ClickHouse.
func (a *Aggregator) UpdateSession(ctx context.Context, event storage.EventRow) error {
	if event.SessionID == "" || event.SessionID == "unknown" {
		return nil
	}

	// Actions recorded after a session ended carry its start time, so the
	// bounds are kept as extremes rather than last writes.
	ts := event.Timestamp.UnixMilli()
	u := HashUpdate{
		Set:  map[string]any{},
		Incr: map[string]int64{"events_count": 1},
		Max:  map[string]int64{"ended_at": ts},
		Min:  map[string]int64{"started_at": ts},
		SetNX: map[string]any{
			"workspace_id": event.WorkspaceID,
			"visitor_id":   event.VisitorID,
			"referrer":     event.Referrer,
			"browser":      event.Browser,
			"os":           event.OS,
			"device_type":  event.DeviceType,
			"country":      event.Country,
			"city":         event.City,
		},
	}

	switch event.ActionType {
	case wire.ActionEnterPage:
		u.Incr["page_views"] = 1
		u.SetNX["entry_page"] = event.Path
		u.Set["exit_page"] = event.Path
	case wire.ActionClick:
		u.Incr["clicks_count"] = 1
	case wire.ActionScrollDepth:
		if pct, err := strconv.Atoi(event.Value); err == nil {
			u.Set["scroll_depth"] = pct
		}
	case wire.ActionIdentify:
		u.Set["is_identified"] = 1
	}
	if event.EmailHash != "" {
		u.Set["is_identified"] = 1
	}

	key := sessionPrefix + event.SessionID
	if err := a.hashes.Apply(ctx, key, u, a.ttl); err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("Failed to update session in Redis")
		return err
	}

	if event.ActionType == wire.ActionEndSession {
		return a.FlushSession(ctx, event.SessionID)
	}
	return nil
}

// FlushSession writes session data to ClickHouse
func (a *Aggregator) FlushSession(ctx context.Context, sessionID string) error {
	key := sessionPrefix + sessionID

	data, err := a.hashes.GetAll(ctx, key)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	session := parseSessionData(sessionID, data)

	if err := a.writer.UpsertSession(ctx, session); err != nil {
		return err
	}

	return a.hashes.Delete(ctx, key)
}

func parseSessionData(sessionID string, data map[string]string) storage.SessionRow {
	session := storage.SessionRow{
		SessionID:   sessionID,
		WorkspaceID: data["workspace_id"],
		VisitorID:   data["visitor_id"],
		Referrer:    data["referrer"],
		Browser:     data["browser"],
		OS:          data["os"],
		DeviceType:  data["device_type"],
		Country:     data["country"],
		City:        data["city"],
		EntryPage:   data["entry_page"],
		ExitPage:    data["exit_page"],
	}

	if ms, err := strconv.ParseInt(data["started_at"], 10, 64); err == nil {
		session.StartedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(data["ended_at"], 10, 64); err == nil {
		session.EndedAt = time.UnixMilli(ms).UTC()
	}
	if !session.StartedAt.IsZero() && session.EndedAt.After(session.StartedAt) {
		session.DurationMs = uint64(session.EndedAt.Sub(session.StartedAt).Milliseconds())
	}

	session.PageViews = parseUint32(data["page_views"])
	session.EventsCount = parseUint32(data["events_count"])
	session.ClicksCount = parseUint32(data["clicks_count"])
	if n, err := strconv.ParseUint(data["scroll_depth"], 10, 8); err == nil && n <= 100 {
		session.ScrollDepth = uint8(n)
	}
	if data["is_identified"] == "1" {
		session.IsIdentified = 1
	}

	if session.PageViews <= 1 {
		session.IsBounced = 1
	}

	return session
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// FlushAllSessions flushes all pending sessions to ClickHouse
func (a *Aggregator) FlushAllSessions(ctx context.Context) error {
	keys, err := a.hashes.Keys(ctx, sessionPrefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		sessionID := strings.TrimPrefix(key, sessionPrefix)
		if err := a.FlushSession(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to flush session")
		}
	}

	return nil
}

func (a *Aggregator) Close() error {
	return a.hashes.Close()
}

var (
	hsetMax = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur or tonumber(ARGV[2]) > tonumber(cur) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 1`)
	hsetMin = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur or tonumber(ARGV[2]) < tonumber(cur) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 1`)
)

// RedisHashes implements HashStore with one pipeline per update.
type RedisHashes struct {
	client *redis.Client
}

func NewRedisHashes(client *redis.Client) *RedisHashes {
	return &RedisHashes{client: client}
}

func (r *RedisHashes) Apply(ctx context.Context, key string, u HashUpdate, ttl time.Duration) error {
	pipe := r.client.Pipeline()

	for field, v := range u.Set {
		pipe.HSet(ctx, key, field, v)
	}
	for field, n := range u.Incr {
		pipe.HIncrBy(ctx, key, field, n)
	}
	for field, v := range u.SetNX {
		pipe.HSetNX(ctx, key, field, v)
	}
	for field, n := range u.Max {
		hsetMax.Eval(ctx, pipe, []string{key}, field, n)
	}
	for field, n := range u.Min {
		hsetMin.Eval(ctx, pipe, []string{key}, field, n)
	}
	pipe.Expire(ctx, key, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisHashes) GetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisHashes) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisHashes) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisHashes) Close() error {
	return r.client.Close()
}

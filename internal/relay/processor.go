package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/sink"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/storage"
)

// Store is the columnar destination for buffered rows.
type Store interface {
	InsertEvents(ctx context.Context, events []storage.EventRow) error
	InsertIdentities(ctx context.Context, identities []storage.IdentityRow) error
}

// SessionUpdater receives every event after it is buffered.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, event storage.EventRow) error
}

// EventProcessor buffers forwarded rows and writes them to ClickHouse in
// batches, flushing on size or on a timer.
type EventProcessor struct {
	store      Store
	sessionAgg SessionUpdater
	batchCfg   config.BatchConfig

	eventBuffer    []storage.EventRow
	identityBuffer []storage.IdentityRow

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewEventProcessor starts the flush loop. sessionAgg may be nil.
func NewEventProcessor(store Store, sessionAgg SessionUpdater, batchCfg config.BatchConfig) *EventProcessor {
	p := &EventProcessor{
		store:          store,
		sessionAgg:     sessionAgg,
		batchCfg:       batchCfg,
		eventBuffer:    make([]storage.EventRow, 0, batchCfg.Size),
		identityBuffer: make([]storage.IdentityRow, 0, 100),
		done:           make(chan struct{}),
	}

	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// Process handles one message from the events topic.
func (p *EventProcessor) Process(ctx context.Context, value []byte) error {
	var ev sink.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.EventID == "" || ev.WorkspaceID == "" {
		return fmt.Errorf("event missing id or workspace")
	}

	row := EventRow(ev)

	p.mu.Lock()
	p.eventBuffer = append(p.eventBuffer, row)
	shouldFlush := len(p.eventBuffer) >= p.batchCfg.Size
	p.mu.Unlock()

	if p.sessionAgg != nil {
		if err := p.sessionAgg.UpdateSession(ctx, row); err != nil {
			log.Warn().Err(err).Str("session_id", row.SessionID).Msg("Session aggregation failed")
		}
	}

	if shouldFlush {
		p.Flush()
	}

	return nil
}

// ProcessIdentity handles one message from the identities topic.
func (p *EventProcessor) ProcessIdentity(_ context.Context, value []byte) error {
	var id sink.Identity
	if err := json.Unmarshal(value, &id); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}

	p.mu.Lock()
	p.identityBuffer = append(p.identityBuffer, IdentityRow(id))
	shouldFlush := len(p.identityBuffer) >= p.batchCfg.Size
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
	return nil
}

// Identities adapts the processor to the identities topic consumer.
func (p *EventProcessor) Identities() MessageProcessor {
	return identityStream{p}
}

type identityStream struct {
	p *EventProcessor
}

func (s identityStream) Process(ctx context.Context, value []byte) error {
	return s.p.ProcessIdentity(ctx, value)
}

func (s identityStream) Flush() { s.p.Flush() }

func (p *EventProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
		}
	}
}

// Pending reports the number of buffered rows.
func (p *EventProcessor) Pending() (events, identities int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.eventBuffer), len(p.identityBuffer)
}

// Flush writes all buffered rows to ClickHouse
func (p *EventProcessor) Flush() {
	p.mu.Lock()
	if len(p.eventBuffer) == 0 && len(p.identityBuffer) == 0 {
		p.mu.Unlock()
		return
	}

	events := p.eventBuffer
	identities := p.identityBuffer
	p.eventBuffer = make([]storage.EventRow, 0, p.batchCfg.Size)
	p.identityBuffer = make([]storage.IdentityRow, 0, 100)
	p.mu.Unlock()

	ctx := context.Background()
	start := time.Now()

	if len(events) > 0 {
		if err := p.store.InsertEvents(ctx, events); err != nil {
			log.Error().Err(err).Int("count", len(events)).Msg("Failed to insert events")
		} else {
			log.Info().
				Int("count", len(events)).
				Dur("duration", time.Since(start)).
				Msg("Flushed events to ClickHouse")
		}
	}

	if len(identities) > 0 {
		if err := p.store.InsertIdentities(ctx, identities); err != nil {
			log.Error().Err(err).Int("count", len(identities)).Msg("Failed to insert identities")
		} else {
			log.Debug().Int("count", len(identities)).Msg("Flushed identities to ClickHouse")
		}
	}
}

// Stop stops the flush loop and writes what is left.
func (p *EventProcessor) Stop() {
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.done)
		p.Flush()
	})
}

package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Querier is the subset of pgx used by PGStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists events in the domain_events table.
type PGStore struct {
	DB Querier
}

const insertDomainEvent = `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING occurred_at`

// InsertDomainEvent implements EventStore.
func (s PGStore) InsertDomainEvent(ctx context.Context, arg NewEvent) (Event, error) {
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
	}
	if err := s.DB.QueryRow(ctx, insertDomainEvent, ev.ID, ev.Topic, ev.AggregateID, arg.Payload).Scan(&ev.OccurredAt); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// MemoryStore keeps events in memory. Used when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// InsertDomainEvent implements EventStore.
func (s *MemoryStore) InsertDomainEvent(_ context.Context, arg NewEvent) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     append([]byte(nil), arg.Payload...),
		OccurredAt:  now().UTC(),
	}
	s.events = append(s.events, ev)
	return ev, nil
}

// Events returns a copy of the stored events.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("domain_event")
	return nil
}

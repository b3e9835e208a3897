package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncline-io/syncline/internal/models"
)

// PostgresStore persists events in an append-only table. Insertion order is
// captured by a bigserial sequence and used to break occurred_at ties.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// wrapUnavailable maps transport-level failures to ErrStoreUnavailable.
// Errors the server itself reported (constraint violations etc.) pass through.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Append persists a new event and returns its ID. The event is visible to
// queries as soon as this returns.
func (s *PostgresStore) Append(ctx context.Context, event *models.Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if event.ID == "" {
		id, _ := uuid.NewV7()
		event.ID = id.String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, event_type, payload, occurred_at, processed_by)
		VALUES ($1, $2, $3, $4, '{}')
	`

	if _, err := s.pool.Exec(ctx, query, event.ID, string(event.Type), payload, event.OccurredAt); err != nil {
		return "", fmt.Errorf("failed to append event: %w", wrapUnavailable(err))
	}

	return event.ID, nil
}

// AllEventsSince returns events with occurred_at >= since, ascending, with
// ties broken by insertion order. The result is a finite materialized batch.
func (s *PostgresStore) AllEventsSince(ctx context.Context, since time.Time) ([]models.Event, error) {
	query := `
		SELECT id, event_type, payload, occurred_at, processed_by
		FROM events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			event       models.Event
			eventType   string
			payloadJSON []byte
		)
		if err := rows.Scan(&event.ID, &eventType, &payloadJSON, &event.OccurredAt, &event.ProcessedBy); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Type, err = models.ParseEventType(eventType)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", event.ID, err)
		}

		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", event.ID, err)
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", wrapUnavailable(err))
	}

	return events, nil
}

// EventCount returns the number of events of the given type.
func (s *PostgresStore) EventCount(ctx context.Context, eventType models.EventType) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`, string(eventType),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", wrapUnavailable(err))
	}
	return count, nil
}

// MarkProcessed adds projectionName to the event's processed_by set.
// Adding the same name twice is a no-op. Returns ErrEventNotFound when the
// event does not exist; callers treat that as a logged non-failure.
func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID, projectionName string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE events
		SET processed_by = array_append(processed_by, $2)
		WHERE id = $1 AND NOT (processed_by @> ARRAY[$2])
	`

	tag, err := s.pool.Exec(ctx, query, eventID, projectionName)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", wrapUnavailable(err))
	}

	if tag.RowsAffected() == 0 {
		// Either already marked (fine) or the event is missing.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check event existence: %w", wrapUnavailable(err))
		}
		if !exists {
			return fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
		}
	}

	return nil
}

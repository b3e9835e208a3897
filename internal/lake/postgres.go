package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncline-io/syncline/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// UpsertRaw appends or replaces by (source, source_id). On conflict the
// stored raw_data and sync_batch_id are replaced but the original
// ingested_at is kept. Records without a source_id are always appended.
func (r *PostgresRepository) UpsertRaw(ctx context.Context, rec *models.RawRecord) (*models.RawRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if rec.RawID == "" {
		id, _ := uuid.NewV7()
		rec.RawID = id.String()
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}

	rawJSON, err := json.Marshal(rec.RawData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}

	stored := *rec
	if rec.SourceID == "" {
		query := `
			INSERT INTO raw_records (raw_id, source, source_id, entity_type, raw_data, ingested_at, sync_batch_id)
			VALUES ($1, $2, '', $3, $4, $5, $6)
		`
		if _, err := r.pool.Exec(ctx, query,
			rec.RawID, string(rec.Source), string(rec.EntityType), rawJSON, rec.IngestedAt, rec.SyncBatchID,
		); err != nil {
			return nil, fmt.Errorf("failed to insert raw record: %w", err)
		}
		return &stored, nil
	}

	query := `
		INSERT INTO raw_records (raw_id, source, source_id, entity_type, raw_data, ingested_at, sync_batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, source_id) WHERE source_id <> ''
		DO UPDATE SET raw_data = EXCLUDED.raw_data, sync_batch_id = EXCLUDED.sync_batch_id
		RETURNING raw_id, ingested_at
	`
	err = r.pool.QueryRow(ctx, query,
		rec.RawID, string(rec.Source), rec.SourceID, string(rec.EntityType), rawJSON, rec.IngestedAt, rec.SyncBatchID,
	).Scan(&stored.RawID, &stored.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert raw record (%s, %s): %w", rec.Source, rec.SourceID, err)
	}

	return &stored, nil
}

func (r *PostgresRepository) RawRecords(ctx context.Context, filter RawFilter) ([]models.RawRecord, error) {
	query := `
		SELECT raw_id, source, source_id, entity_type, raw_data, ingested_at, sync_batch_id
		FROM raw_records
		WHERE ($1 = '' OR source = $1)
		  AND ($2 = '' OR entity_type = $2)
		ORDER BY ingested_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query,
		string(filter.Source), string(filter.EntityType), clampLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw records: %w", err)
	}
	defer rows.Close()

	var out []models.RawRecord
	for rows.Next() {
		var (
			rec                models.RawRecord
			source, entityType string
			rawJSON            []byte
		)
		if err := rows.Scan(&rec.RawID, &source, &rec.SourceID, &entityType, &rawJSON, &rec.IngestedAt, &rec.SyncBatchID); err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		if rec.Source, err = models.ParseIntegrationType(source); err != nil {
			return nil, fmt.Errorf("raw record %s: %w", rec.RawID, err)
		}
		if rec.EntityType, err = models.ParseEntityType(entityType); err != nil {
			return nil, fmt.Errorf("raw record %s: %w", rec.RawID, err)
		}
		if err := json.Unmarshal(rawJSON, &rec.RawData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw data for %s: %w", rec.RawID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindCanonicalBySourceRef(ctx context.Context, source models.IntegrationType, sourceID string) (*models.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	refJSON, err := json.Marshal([]map[string]string{
		{"source": string(source), "source_id": sourceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal source ref: %w", err)
	}

	query := `
		SELECT canonical_id, entity_type, fields, provenance, source_refs, validation_status, updated_at
		FROM canonical_records
		WHERE source_refs @> $1::jsonb
		LIMIT 1
	`

	rec, err := r.scanCanonicalRow(r.pool.QueryRow(ctx, query, refJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCanonicalNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) GetCanonical(ctx context.Context, canonicalID string) (*models.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT canonical_id, entity_type, fields, provenance, source_refs, validation_status, updated_at
		FROM canonical_records
		WHERE canonical_id = $1
	`

	rec, err := r.scanCanonicalRow(r.pool.QueryRow(ctx, query, canonicalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCanonicalNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) InsertCanonical(ctx context.Context, rec *models.CanonicalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fieldsJSON, provJSON, refsJSON, err := marshalCanonical(rec)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO canonical_records (canonical_id, entity_type, fields, provenance, source_refs, validation_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	if _, err := tx.Exec(ctx, query,
		rec.CanonicalID, string(rec.EntityType), fieldsJSON, provJSON, refsJSON, string(rec.ValidationStatus),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("canonical %s: %w", rec.CanonicalID, ErrDuplicateIdentity)
		}
		return fmt.Errorf("failed to insert canonical record: %w", err)
	}

	if err := claimSourceRefs(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// claimSourceRefs asserts ownership of each (source, source_id) pair. A
// pair already claimed by a different canonical record means this writer
// lost an identity race; the caller re-resolves against the winner.
func claimSourceRefs(ctx context.Context, tx pgx.Tx, rec *models.CanonicalRecord) error {
	// The no-op DO UPDATE makes RETURNING yield the existing owner on
	// conflict instead of suppressing the row.
	query := `
		INSERT INTO canonical_source_refs (source, source_id, canonical_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, source_id) DO UPDATE SET canonical_id = canonical_source_refs.canonical_id
		RETURNING canonical_id
	`

	for _, ref := range rec.SourceRefs {
		if ref.SourceID == "" {
			continue
		}
		var owner string
		if err := tx.QueryRow(ctx, query, string(ref.Source), ref.SourceID, rec.CanonicalID).Scan(&owner); err != nil {
			return fmt.Errorf("failed to claim source ref (%s, %s): %w", ref.Source, ref.SourceID, err)
		}
		if owner != rec.CanonicalID {
			return fmt.Errorf("source ref (%s, %s) claimed by canonical %s: %w",
				ref.Source, ref.SourceID, owner, ErrDuplicateIdentity)
		}
	}
	return nil
}

func (r *PostgresRepository) UpdateCanonical(ctx context.Context, rec *models.CanonicalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fieldsJSON, provJSON, refsJSON, err := marshalCanonical(rec)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE canonical_records
		SET fields = $2, provenance = $3, source_refs = $4, validation_status = $5, updated_at = NOW()
		WHERE canonical_id = $1
	`

	tag, err := tx.Exec(ctx, query,
		rec.CanonicalID, fieldsJSON, provJSON, refsJSON, string(rec.ValidationStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to update canonical record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canonical %s: %w", rec.CanonicalID, ErrCanonicalNotFound)
	}

	if err := claimSourceRefs(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) CanonicalRecords(ctx context.Context, filter CanonicalFilter) ([]models.CanonicalRecord, error) {
	query := `
		SELECT canonical_id, entity_type, fields, provenance, source_refs, validation_status, updated_at
		FROM canonical_records
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR validation_status = $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query,
		string(filter.EntityType), string(filter.ValidationStatus), clampLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical records: %w", err)
	}
	defer rows.Close()

	var out []models.CanonicalRecord
	for rows.Next() {
		rec, err := r.scanCanonicalRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertServing(ctx context.Context, rec *models.ServingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal serving data: %w", err)
	}

	query := `
		INSERT INTO serving_records (serving_id, entity_type, data, last_aggregated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, serving_id)
		DO UPDATE SET data = EXCLUDED.data, last_aggregated = EXCLUDED.last_aggregated
	`

	if _, err := r.pool.Exec(ctx, query,
		rec.ServingID, string(rec.EntityType), dataJSON, rec.LastAggregated,
	); err != nil {
		return fmt.Errorf("failed to upsert serving record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteServingByEntity(ctx context.Context, entityType models.EntityType) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := r.pool.Exec(ctx,
		`DELETE FROM serving_records WHERE entity_type = $1`, string(entityType),
	); err != nil {
		return fmt.Errorf("failed to clear serving records for %s: %w", entityType, err)
	}
	return nil
}

func (r *PostgresRepository) ServingRecords(ctx context.Context, filter ServingFilter) ([]models.ServingRecord, error) {
	query := `
		SELECT serving_id, entity_type, data, last_aggregated
		FROM serving_records
		WHERE ($1 = '' OR entity_type = $1)
		ORDER BY last_aggregated DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, string(filter.EntityType), clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query serving records: %w", err)
	}
	defer rows.Close()

	var out []models.ServingRecord
	for rows.Next() {
		var (
			rec        models.ServingRecord
			entityType string
			dataJSON   []byte
		)
		if err := rows.Scan(&rec.ServingID, &entityType, &dataJSON, &rec.LastAggregated); err != nil {
			return nil, fmt.Errorf("failed to scan serving record: %w", err)
		}
		if rec.EntityType, err = models.ParseEntityType(entityType); err != nil {
			return nil, fmt.Errorf("serving record %s: %w", rec.ServingID, err)
		}
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal serving data for %s: %w", rec.ServingID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Stats(ctx context.Context) (*models.ZoneStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT
			(SELECT COUNT(*) FROM raw_records),
			(SELECT COUNT(*) FROM canonical_records),
			(SELECT COUNT(*) FROM serving_records),
			(SELECT MAX(ingested_at) FROM raw_records),
			(SELECT MAX(updated_at) FROM canonical_records),
			(SELECT MAX(last_aggregated) FROM serving_records)
	`

	var stats models.ZoneStats
	if err := r.pool.QueryRow(ctx, query).Scan(
		&stats.RawCount, &stats.CanonicalCount, &stats.ServingCount,
		&stats.LastIngestedAt, &stats.LastCanonicalAt, &stats.LastAggregatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to query zone stats: %w", err)
	}
	return &stats, nil
}

func marshalCanonical(rec *models.CanonicalRecord) (fields, provenance, refs []byte, err error) {
	if fields, err = json.Marshal(rec.Fields); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	if provenance, err = json.Marshal(rec.Provenance); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}
	if refs, err = json.Marshal(rec.SourceRefs); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal source refs: %w", err)
	}
	return fields, provenance, refs, nil
}

func (r *PostgresRepository) scanCanonicalRow(row pgx.Row) (*models.CanonicalRecord, error) {
	var (
		rec                            models.CanonicalRecord
		entityType, validationStatus   string
		fieldsJSON, provJSON, refsJSON []byte
	)
	err := row.Scan(&rec.CanonicalID, &entityType, &fieldsJSON, &provJSON, &refsJSON, &validationStatus, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if rec.EntityType, err = models.ParseEntityType(entityType); err != nil {
		return nil, fmt.Errorf("canonical record %s: %w", rec.CanonicalID, err)
	}
	if rec.ValidationStatus, err = models.ParseValidationStatus(validationStatus); err != nil {
		return nil, fmt.Errorf("canonical record %s: %w", rec.CanonicalID, err)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields for %s: %w", rec.CanonicalID, err)
	}
	if err := json.Unmarshal(provJSON, &rec.Provenance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provenance for %s: %w", rec.CanonicalID, err)
	}
	if err := json.Unmarshal(refsJSON, &rec.SourceRefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source refs for %s: %w", rec.CanonicalID, err)
	}
	return &rec, nil
}

package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quietstack/telemetry-ingester/internal/db"
)

// schemaSQL is embedded so the service can bootstrap its own table. The
// statements are idempotent and safe to run on every start.
//
//go:embed schema.sql
var schemaSQL string

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertEvent persists a validated event. The insert conflicts on event_id
// and does nothing, so redelivery of an already-stored event is a successful
// no-op: callers cannot distinguish a fresh insert from a duplicate, and do
// not need to. Each insert is its own atomic unit; there is no cross-event
// transaction.
func (r *Repository) InsertEvent(ctx context.Context, event *db.Event) error {
	meta := event.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal event meta: %w", err)
	}

	query := `
		INSERT INTO events (
			event_id, device_id, schema, event_type,
			value_num, value_text, unit, ts_device, meta
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err = r.pool.Exec(ctx, query,
		event.EventID,
		event.DeviceID,
		event.Schema,
		event.EventType,
		event.ValueNum,
		event.ValueText,
		event.Unit,
		event.TsDevice,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"hubclient/internal/types"
)

// WatermarkRepository stores, per poller name, the creation time of the
// newest notification already processed.
type WatermarkRepository struct {
	db DBTX
}

// NewWatermarkRepository creates a new WatermarkRepository.
func NewWatermarkRepository(db DBTX) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns the watermark of name. found is false when the poller has
// never completed a run.
func (r *WatermarkRepository) Get(ctx context.Context, name string) (watermark time.Time, found bool, err error) {
	row := r.db.QueryRow(ctx,
		`SELECT watermark FROM poll_watermarks WHERE name = $1`,
		name,
	)
	if err := row.Scan(&watermark); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read poll watermark", err)
	}
	return watermark.UTC(), true, nil
}

// Set moves the watermark of name forward to at. An older value never
// replaces a newer one.
func (r *WatermarkRepository) Set(ctx context.Context, name string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO poll_watermarks (name, watermark, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE
		 SET watermark  = GREATEST(poll_watermarks.watermark, EXCLUDED.watermark),
		     updated_at = NOW()`,
		name, at.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store poll watermark", err)
	}
	return nil
}

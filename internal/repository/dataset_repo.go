package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dailydrive/internal/model"
)

// DatasetRepository persists the per-user cloud document: one row per
// (user, year, month) with server-assigned updated_at.
type DatasetRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDatasetRepository(db *pgxpool.Pool, logger *zap.Logger) *DatasetRepository {
	return &DatasetRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the month_datasets table if it does not exist.
func (r *DatasetRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS month_datasets (
            user_id    TEXT        NOT NULL,
            year       INTEGER     NOT NULL,
            month      INTEGER     NOT NULL,
            habits     JSONB       NOT NULL,
            days       JSONB       NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (user_id, year, month)
        )
    `
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensuring month_datasets schema: %w", err)
	}
	return nil
}

// Fetch reads the user's document for (year, month). Returns (nil, nil)
// when no document exists yet.
func (r *DatasetRepository) Fetch(ctx context.Context, userID string, year, month int) (*model.MonthDataset, error) {
	r.logger.Debug("Fetching remote dataset",
		zap.String("user_id", userID),
		zap.Int("year", year),
		zap.Int("month", month),
	)

	query := `
        SELECT habits, days
        FROM month_datasets
        WHERE user_id = $1 AND year = $2 AND month = $3
    `
	var habitsJSON, daysJSON []byte
	err := r.db.QueryRow(ctx, query, userID, year, month).Scan(&habitsJSON, &daysJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching remote dataset: %w", err)
	}

	var ds model.MonthDataset
	if err := json.Unmarshal(habitsJSON, &ds.Habits); err != nil {
		return nil, fmt.Errorf("decoding remote habits: %w", err)
	}
	if err := json.Unmarshal(daysJSON, &ds.Days); err != nil {
		return nil, fmt.Errorf("decoding remote days: %w", err)
	}
	return &ds, nil
}

// Save merge-upserts the user's document: only habits and days are written,
// updated_at is assigned by the server, any other columns stay untouched.
func (r *DatasetRepository) Save(ctx context.Context, userID string, year, month int, ds *model.MonthDataset) error {
	habitsJSON, err := json.Marshal(ds.Habits)
	if err != nil {
		return fmt.Errorf("encoding habits: %w", err)
	}
	daysJSON, err := json.Marshal(ds.Days)
	if err != nil {
		return fmt.Errorf("encoding days: %w", err)
	}

	query := `
        INSERT INTO month_datasets (user_id, year, month, habits, days, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (user_id, year, month)
        DO UPDATE SET habits = EXCLUDED.habits, days = EXCLUDED.days, updated_at = now()
    `
	if _, err := r.db.Exec(ctx, query, userID, year, month, habitsJSON, daysJSON); err != nil {
		return fmt.Errorf("saving remote dataset: %w", err)
	}

	r.logger.Debug("Remote dataset saved",
		zap.String("user_id", userID),
		zap.Int("year", year),
		zap.Int("month", month),
	)
	return nil
}

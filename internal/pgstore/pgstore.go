// Package pgstore reads meter data and writes predictions directly against
// the Postgres database behind the Supabase project.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bill_predictor/internal/model"
)

const (
	latestReadingQuery = `
		SELECT current, voltage, power, total_kwh, time
		FROM meter_data
		ORDER BY time DESC
		LIMIT 1`

	insertPredictionQuery = `
		INSERT INTO predictions (created_at, predicted_kwh, predicted_bill)
		VALUES ($1, $2, $3)`
)

type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing handle. Close closes it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LatestReading(ctx context.Context) (model.MeterReading, bool, error) {
	r, err := scanReading(s.db.QueryRowContext(ctx, latestReadingQuery))
	if errors.Is(err, sql.ErrNoRows) {
		return model.MeterReading{}, false, nil
	}
	if err != nil {
		return model.MeterReading{}, false, fmt.Errorf("query meter_data: %w", err)
	}
	return r, true, nil
}

func (s *Store) InsertPrediction(ctx context.Context, rec model.PredictionRecord) error {
	_, err := s.db.ExecContext(ctx, insertPredictionQuery,
		rec.CreatedAt.UTC(), rec.PredictedKWh, rec.PredictedBill)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReading maps a meter_data row. NULL voltage, current and power read as
// zero. A NULL or non-finite total_kwh is an error wrapping model.ErrBadTotal.
func scanReading(row rowScanner) (model.MeterReading, error) {
	var current, voltage, power, total sql.NullFloat64
	var ts sql.NullTime
	if err := row.Scan(&current, &voltage, &power, &total, &ts); err != nil {
		return model.MeterReading{}, err
	}
	if !total.Valid {
		return model.MeterReading{}, fmt.Errorf("%w: NULL at %v", model.ErrBadTotal, ts.Time)
	}
	if err := model.CheckTotal(total.Float64); err != nil {
		return model.MeterReading{}, err
	}
	return model.MeterReading{
		Current:  current.Float64,
		Voltage:  voltage.Float64,
		Power:    power.Float64,
		TotalKWh: total.Float64,
		Time:     ts.Time,
	}, nil
}

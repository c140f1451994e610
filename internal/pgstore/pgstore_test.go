package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bill_predictor/internal/model"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *sql.NullFloat64:
			if v, ok := r.values[i].(float64); ok {
				*p = sql.NullFloat64{Float64: v, Valid: true}
			}
		case *sql.NullTime:
			if v, ok := r.values[i].(time.Time); ok {
				*p = sql.NullTime{Time: v, Valid: true}
			}
		}
	}
	return nil
}

func TestScanReading(t *testing.T) {
	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	r, err := scanReading(fakeRow{values: []any{4.2, 231.5, 972.3, 118.23, ts}})
	require.NoError(t, err)

	assert.Equal(t, model.MeterReading{
		Current:  4.2,
		Voltage:  231.5,
		Power:    972.3,
		TotalKWh: 118.23,
		Time:     ts,
	}, r)
}

func TestScanReading_Nulls(t *testing.T) {
	r, err := scanReading(fakeRow{values: []any{nil, nil, nil, 55.0, nil}})
	require.NoError(t, err)
	assert.Equal(t, 55.0, r.TotalKWh)
	assert.Zero(t, r.Voltage)
	assert.True(t, r.Time.IsZero())
}

func TestScanReading_BadTotal(t *testing.T) {
	_, err := scanReading(fakeRow{values: []any{4.2, 231.5, 972.3, nil, time.Now()}})
	assert.ErrorIs(t, err, model.ErrBadTotal)

	_, err = scanReading(fakeRow{values: []any{4.2, 231.5, 972.3, math.NaN(), time.Now()}})
	assert.ErrorIs(t, err, model.ErrBadTotal)
}

func TestScanReading_Error(t *testing.T) {
	_, err := scanReading(fakeRow{err: sql.ErrNoRows})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

var readingColumns = []string{"current", "voltage", "power", "total_kwh", "time"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewWithDB(db)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return s, mock
}

func TestStore_LatestReading(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT current, voltage, power, total_kwh, time\s+FROM meter_data\s+ORDER BY time DESC\s+LIMIT 1`).
		WillReturnRows(sqlmock.NewRows(readingColumns).AddRow(4.2, 231.5, 972.3, 118.23, ts))

	r, ok, err := s.LatestReading(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 118.23, r.TotalKWh)
	assert.True(t, r.Time.Equal(ts))
}

func TestStore_LatestReading_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM meter_data`).WillReturnRows(sqlmock.NewRows(readingColumns))

	_, ok, err := s.LatestReading(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LatestReading_NullTotal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM meter_data`).
		WillReturnRows(sqlmock.NewRows(readingColumns).AddRow(4.2, 231.5, 972.3, nil, time.Now()))

	_, ok, err := s.LatestReading(context.Background())
	assert.ErrorIs(t, err, model.ErrBadTotal)
	assert.False(t, ok)
}

func TestStore_LatestReading_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM meter_data`).WillReturnError(errors.New("relation does not exist"))

	_, _, err := s.LatestReading(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestStore_InsertPrediction(t *testing.T) {
	s, mock := newMockStore(t)
	rec := model.NewPredictionRecord(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), 120, 560)
	mock.ExpectExec(`INSERT INTO predictions \(created_at, predicted_kwh, predicted_bill\)`).
		WithArgs(rec.CreatedAt, "120", 560.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.InsertPrediction(context.Background(), rec))
}

func TestStore_InsertPrediction_Error(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO predictions`).WillReturnError(errors.New("permission denied"))

	err := s.InsertPrediction(context.Background(), model.NewPredictionRecord(time.Now(), 80, 240))
	assert.ErrorContains(t, err, "insert prediction")
}

// TestStore_Postgres runs against a real database when PGSTORE_TEST_DSN is set.
// The database needs meter_data and predictions tables.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PGSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGSTORE_TEST_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.LatestReading(ctx)
	require.NoError(t, err)

	rec := model.NewPredictionRecord(time.Now(), 120, 560)
	require.NoError(t, s.InsertPrediction(ctx, rec))
}

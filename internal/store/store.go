package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bill_predictor/internal/model"
)

// Store holds meter readings and prediction records in memory. It serves as
// the meter source for CSV replays, as the memory prediction sink, and as the
// prediction history behind the dashboard feed.
type Store struct {
	mu          sync.RWMutex
	readings    []model.MeterReading // sorted by Time
	predictions []model.PredictionRecord
	limit       int // max readings and predictions kept, 0 = unbounded
}

func New() *Store {
	return &Store{}
}

// NewBounded returns a store that keeps only the newest limit readings and
// the newest limit predictions.
func NewBounded(limit int) *Store {
	return &Store{limit: limit}
}

// AddReadings adds meter readings, then sorts by time.
func (s *Store) AddReadings(readings []model.MeterReading) {
	if len(readings) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.readings = append(s.readings, readings...)
	sort.SliceStable(s.readings, func(i, j int) bool {
		return s.readings[i].Time.Before(s.readings[j].Time)
	})
	if s.limit > 0 && len(s.readings) > s.limit {
		s.readings = append([]model.MeterReading(nil), s.readings[len(s.readings)-s.limit:]...)
	}
}

// ReadingCount returns the number of stored meter readings.
func (s *Store) ReadingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// LatestReading returns the most recent reading. ok is false when the store
// holds no readings.
func (s *Store) LatestReading(ctx context.Context) (model.MeterReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.MeterReading{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return model.MeterReading{}, false, nil
	}
	return s.readings[len(s.readings)-1], true, nil
}

// TimeRange returns the time range covered by the stored readings.
func (s *Store) TimeRange() (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return model.TimeRange{}, false
	}
	return model.TimeRange{
		Start: s.readings[0].Time,
		End:   s.readings[len(s.readings)-1].Time,
	}, true
}

// ReadingsInRange returns readings between start (inclusive) and end (exclusive).
func (s *Store) ReadingsInRange(start, end time.Time) []model.MeterReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.readings
	startIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Time.Before(start)
	})
	endIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Time.Before(end)
	})

	if startIdx >= endIdx {
		return nil
	}

	result := make([]model.MeterReading, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// ReadingAt returns the most recent reading at or before the given time.
func (s *Store) ReadingAt(t time.Time) (model.MeterReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.readings), func(i int) bool {
		return s.readings[i].Time.After(t)
	})
	if idx == 0 {
		return model.MeterReading{}, false
	}
	return s.readings[idx-1], true
}

// InsertPrediction stores a record, assigning it a UUID when it has no ID.
func (s *Store) InsertPrediction(ctx context.Context, rec model.PredictionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions = append(s.predictions, rec)
	if s.limit > 0 && len(s.predictions) > s.limit {
		s.predictions = append([]model.PredictionRecord(nil), s.predictions[len(s.predictions)-s.limit:]...)
	}
	return nil
}

// Predictions returns all stored predictions, oldest first.
func (s *Store) Predictions() []model.PredictionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PredictionRecord, len(s.predictions))
	copy(out, s.predictions)
	return out
}

// RecentPredictions returns up to n of the newest predictions, oldest first.
func (s *Store) RecentPredictions(n int) []model.PredictionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.predictions) {
		n = len(s.predictions)
	}
	out := make([]model.PredictionRecord, n)
	copy(out, s.predictions[len(s.predictions)-n:])
	return out
}

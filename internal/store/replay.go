package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"bill_predictor/internal/model"
)

var ErrNoReadings = errors.New("store: no readings to replay")

// Replay walks through the stored readings as if they were arriving live.
// Each LatestReading call returns the reading current at the cursor and
// then moves the cursor forward by one step. Once past the last reading
// it keeps returning that reading.
type Replay struct {
	store *Store
	step  time.Duration

	mu     sync.Mutex
	cursor time.Time
	end    time.Time
}

func NewReplay(s *Store, step time.Duration) (*Replay, error) {
	tr, ok := s.TimeRange()
	if !ok {
		return nil, ErrNoReadings
	}
	if step <= 0 {
		step = time.Second
	}
	return &Replay{store: s, step: step, cursor: tr.Start, end: tr.End}, nil
}

func (r *Replay) LatestReading(ctx context.Context) (model.MeterReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.MeterReading{}, false, err
	}

	r.mu.Lock()
	at := r.cursor
	if r.cursor.Before(r.end) {
		r.cursor = r.cursor.Add(r.step)
	}
	r.mu.Unlock()

	reading, ok := r.store.ReadingAt(at)
	return reading, ok, nil
}

// Position returns the replay cursor.
func (r *Replay) Position() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Package updater runs the periodic fetch, predict and store cycle.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"bill_predictor/internal/model"
)

const DefaultInterval = 3 * time.Second

var ErrMissingDependency = errors.New("updater: missing dependency")

// Source returns the newest meter reading. ok is false when there is none.
type Source interface {
	LatestReading(ctx context.Context) (reading model.MeterReading, ok bool, err error)
}

type Sink interface {
	InsertPrediction(ctx context.Context, rec model.PredictionRecord) error
}

type Predictor interface {
	Predict(kwh float64) float64
}

// Notifier receives each fetched reading and each stored prediction.
type Notifier interface {
	OnReading(r model.MeterReading)
	OnPrediction(rec model.PredictionRecord)
}

type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome describes how a single iteration ended.
type Outcome int

const (
	Stored Outcome = iota
	Skipped
	FetchFailed
	StoreFailed
	Panicked
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Skipped:
		return "skipped"
	case FetchFailed:
		return "fetch_failed"
	case StoreFailed:
		return "store_failed"
	case Panicked:
		return "panicked"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// State is the loop phase. Every iteration passes through Fetching and ends in
// Waiting; Predicting and Storing are reached only when a reading was found.
type State int32

const (
	Fetching State = iota
	Predicting
	Storing
	Waiting
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "FETCHING"
	case Predicting:
		return "PREDICTING"
	case Storing:
		return "STORING"
	case Waiting:
		return "WAITING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Config struct {
	Source    Source
	Sink      Sink
	Predictor Predictor

	Clock    Clock
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *Metrics

	Interval time.Duration
	// RequestTimeout bounds each source and sink call. Zero means no bound.
	RequestTimeout time.Duration
}

type Loop struct {
	cfg   Config
	state atomic.Int32
}

func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil || cfg.Sink == nil || cfg.Predictor == nil {
		return nil, ErrMissingDependency
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	l := &Loop{cfg: cfg}
	l.state.Store(int32(Waiting))
	return l, nil
}

// State reports the phase the loop is in. Safe to call from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) enter(s State) {
	l.state.Store(int32(s))
	l.cfg.Logger.Debug("state", "state", s.String())
}

// Run repeats RunOnce with the configured pause until ctx is cancelled.
// An iteration in progress is allowed to finish. Cancellation is not an error.
func (l *Loop) Run(ctx context.Context) error {
	l.cfg.Logger.Info("update_loop_started", "interval", l.cfg.Interval)
	for {
		if ctx.Err() != nil {
			break
		}
		l.RunOnce(ctx)
		if err := l.cfg.Clock.Sleep(ctx, l.cfg.Interval); err != nil {
			break
		}
	}
	l.cfg.Logger.Info("update_loop_stopped")
	return nil
}

// RunOnce fetches the latest reading, predicts its bill and stores the
// result. Failures are logged and reported through the returned Outcome.
func (l *Loop) RunOnce(ctx context.Context) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.cfg.Logger.Error("update_panicked", "panic", r)
			out = Panicked
		}
		l.cfg.Metrics.observe(out, time.Since(start))
		l.enter(Waiting)
	}()

	// Calls run detached from ctx so shutdown lets the current iteration complete.
	callCtx := context.WithoutCancel(ctx)

	l.enter(Fetching)
	reading, ok, err := l.fetch(callCtx)
	if err != nil {
		l.cfg.Logger.Error("fetch_failed", "error", err)
		return FetchFailed
	}
	if !ok {
		l.cfg.Logger.Info("no_meter_data")
		return Skipped
	}
	if err := model.CheckTotal(reading.TotalKWh); err != nil {
		l.cfg.Logger.Error("fetch_failed", "error", err, "time", reading.Time)
		return FetchFailed
	}
	l.cfg.Logger.Info("reading_fetched",
		"voltage", reading.Voltage,
		"current", reading.Current,
		"power", reading.Power,
		"total_kwh", reading.TotalKWh,
		"time", reading.Time,
	)
	if l.cfg.Notifier != nil {
		l.cfg.Notifier.OnReading(reading)
	}

	l.enter(Predicting)
	bill := l.cfg.Predictor.Predict(reading.TotalKWh)
	rec := model.NewPredictionRecord(l.cfg.Clock.Now(), reading.TotalKWh, bill)

	l.enter(Storing)
	if err := l.store(callCtx, rec); err != nil {
		l.cfg.Logger.Error("store_failed", "error", err, "kwh", reading.TotalKWh)
		return StoreFailed
	}
	l.cfg.Metrics.record(reading.TotalKWh, rec.PredictedBill)
	if l.cfg.Notifier != nil {
		l.cfg.Notifier.OnPrediction(rec)
	}

	l.cfg.Logger.Info("prediction_stored",
		"kwh", reading.TotalKWh,
		"bill", rec.PredictedBill,
	)
	return Stored
}

func (l *Loop) fetch(ctx context.Context) (model.MeterReading, bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	return l.cfg.Source.LatestReading(ctx)
}

func (l *Loop) store(ctx context.Context, rec model.PredictionRecord) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	return l.cfg.Sink.InsertPrediction(ctx, rec)
}

func (l *Loop) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, l.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

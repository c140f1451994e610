package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bill_predictor/internal/config"
	"bill_predictor/internal/ingest"
	"bill_predictor/internal/mqttsource"
	"bill_predictor/internal/pgstore"
	"bill_predictor/internal/predictor"
	"bill_predictor/internal/store"
	"bill_predictor/internal/supabase"
	"bill_predictor/internal/tariff"
	"bill_predictor/internal/updater"
	"bill_predictor/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	m, err := loadModel(cfg)
	if err != nil {
		log.Fatalf("Model: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Backends: %v", err)
	}
	defer b.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub()
	history := store.NewBounded(ws.DefaultHistoryLimit)
	bridge := ws.NewBridge(hub, history)

	loop, err := updater.New(updater.Config{
		Source:         b.source,
		Sink:           b.sink,
		Predictor:      m,
		Notifier:       bridge,
		Logger:         logger,
		Metrics:        updater.NewMetrics(reg),
		Interval:       cfg.Interval,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		log.Fatalf("Update loop: %v", err)
	}

	var srv *http.Server
	if cfg.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           newRouter(reg, ws.NewHandler(hub, history, m)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("Starting server on %s", cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("HTTP server: %v", err)
			}
		}()
	}

	log.Printf("Predicting from %s into %s every %s", cfg.Source, cfg.Sink, cfg.Interval)
	if err := loop.Run(ctx); err != nil {
		log.Printf("Update loop: %v", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		hub.CloseAll()
	}
	log.Printf("Stopped")
}

// loadModel reads a saved model when one is configured, otherwise trains on
// freshly generated tariff data.
func loadModel(cfg config.Config) (*predictor.Model, error) {
	if cfg.ModelPath != "" {
		data, err := os.ReadFile(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfg.ModelPath, err)
		}
		m, err := predictor.Load(data)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", cfg.ModelPath, err)
		}
		log.Printf("Loaded model from %s: bill = %.2f + %.2f * kWh", cfg.ModelPath, m.Intercept, m.Slope)
		return m, nil
	}

	m, split, err := tariff.TrainPredictor(cfg.TrainSamples, cfg.TrainSeed, predictor.DefaultFitConfig())
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	metrics := predictor.Evaluate(m, split.Test)
	log.Printf("Trained on %d samples (seed %d): bill = %.2f + %.2f * kWh, test RMSE %.2f, R2 %.3f",
		len(split.Train), cfg.TrainSeed, m.Intercept, m.Slope, metrics.RMSE, metrics.R2)
	return m, nil
}

type backends struct {
	source  updater.Source
	sink    updater.Sink
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends connects the configured source and sink. Source and sink on
// the same back end share one connection.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	var sb *supabase.Client
	if cfg.Source == config.BackendSupabase || cfg.Sink == config.BackendSupabase {
		sb = supabase.New(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	}

	var pg *pgstore.Store
	if cfg.Source == config.BackendPostgres || cfg.Sink == config.BackendPostgres {
		var err error
		pg, err = pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { pg.Close() })
	}

	switch cfg.Source {
	case config.BackendSupabase:
		b.source = sb
	case config.BackendPostgres:
		b.source = pg
	case config.BackendMQTT:
		src := mqttsource.New(cfg.MQTTTopic, logger)
		clientID := fmt.Sprintf("bill-predictor-%d", os.Getpid())
		if err := src.Connect(cfg.MQTTBroker, clientID); err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, src.Close)
		b.source = src
	case config.BackendCSV:
		replay, err := loadReplay(cfg.ReadingsCSV, cfg.Interval)
		if err != nil {
			b.close()
			return nil, err
		}
		b.source = replay
	default:
		b.close()
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}

	switch cfg.Sink {
	case config.BackendSupabase:
		b.sink = sb
	case config.BackendPostgres:
		b.sink = pg
	case config.BackendMemory:
		b.sink = store.NewBounded(1000)
	default:
		b.close()
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
	return b, nil
}

// loadReplay parses a meter_data export and replays it one step per update.
func loadReplay(path string, step time.Duration) (*store.Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	readings, err := (&ingest.MeterDataParser{}).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	s := store.New()
	s.AddReadings(readings)
	replay, err := store.NewReplay(s, step)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tr, _ := s.TimeRange()
	log.Printf("Loaded %d readings from %s (%s to %s)", s.ReadingCount(), path,
		tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
	return replay, nil
}

func newRouter(reg *prometheus.Registry, wsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/ws", wsHandler)
	return mux
}

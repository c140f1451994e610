package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMQTT     = "mqtt"
	BackendCSV      = "csv"
	BackendMemory   = "memory"
)

// Config holds everything the prediction service needs at startup.
type Config struct {
	Source string
	Sink   string

	SupabaseURL string
	SupabaseKey string
	DatabaseURL string
	MQTTBroker  string
	MQTTTopic   string
	ReadingsCSV string

	ModelPath    string
	TrainSamples int
	TrainSeed    uint64

	Interval       time.Duration
	RequestTimeout time.Duration

	Addr     string
	LogLevel string
	LogJSON  bool
}

// Load parses args with defaults taken from the environment. A .env file in
// the working directory is read first; it never overrides variables that are
// already set.
func Load(args []string) (Config, error) {
	LoadDotEnv(".env")
	return parse(args, os.Getenv)
}

func parse(args []string, getenv func(string) string) (Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	var cfg Config
	fs := flag.NewFlagSet("bill-predictor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Source, "source", env("SOURCE", BackendSupabase), "meter source: supabase, postgres, mqtt, csv")
	fs.StringVar(&cfg.Sink, "sink", env("SINK", BackendSupabase), "prediction sink: supabase, postgres, memory")
	fs.StringVar(&cfg.SupabaseURL, "supabase-url", env("SUPABASE_URL", ""), "Supabase project URL")
	fs.StringVar(&cfg.SupabaseKey, "supabase-key", env("SUPABASE_KEY", ""), "Supabase API key")
	fs.StringVar(&cfg.DatabaseURL, "database-url", env("DATABASE_URL", ""), "Postgres DSN")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", env("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", env("MQTT_TOPIC", "smartmeter/readings"), "MQTT topic carrying meter readings")
	fs.StringVar(&cfg.ReadingsCSV, "readings-csv", env("READINGS_CSV", ""), "meter_data CSV export for the csv source")
	fs.StringVar(&cfg.ModelPath, "model", env("MODEL_PATH", ""), "load a trained model JSON instead of training at startup")
	fs.IntVar(&cfg.TrainSamples, "samples", envInt(getenv, "TRAIN_SAMPLES", 200), "synthetic training samples")
	fs.Uint64Var(&cfg.TrainSeed, "seed", envUint(getenv, "TRAIN_SEED", 42), "synthetic data seed")
	fs.DurationVar(&cfg.Interval, "interval", envDuration(getenv, "UPDATE_INTERVAL", 3*time.Second), "wait between updates")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", envDuration(getenv, "REQUEST_TIMEOUT", 0), "per-call timeout for source and sink (0 = none)")
	fs.StringVar(&cfg.Addr, "addr", env("HTTP_ADDR", ":8080"), "HTTP listen address for /health, /metrics and /ws (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.BoolVar(&cfg.LogJSON, "log-json", envBool(getenv, "LOG_JSON", false), "emit JSON logs")

	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected back ends have what they need.
func (c Config) Validate() error {
	var errs []error

	switch c.Source {
	case BackendSupabase, BackendPostgres, BackendMQTT, BackendCSV:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	switch c.Sink {
	case BackendSupabase, BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink))
	}

	if c.uses(BackendSupabase) && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		errs = append(errs, errors.New("supabase back end needs SUPABASE_URL and SUPABASE_KEY"))
	}
	if c.uses(BackendPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("postgres back end needs DATABASE_URL"))
	}
	if c.Source == BackendMQTT && (c.MQTTBroker == "" || c.MQTTTopic == "") {
		errs = append(errs, errors.New("mqtt source needs MQTT_BROKER and MQTT_TOPIC"))
	}
	if c.Source == BackendCSV && c.ReadingsCSV == "" {
		errs = append(errs, errors.New("csv source needs READINGS_CSV"))
	}

	if c.ModelPath == "" && c.TrainSamples < 2 {
		errs = append(errs, fmt.Errorf("samples must be at least 2, got %d", c.TrainSamples))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c Config) uses(backend string) bool {
	return c.Source == backend || c.Sink == backend
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// NewLogger builds the service logger.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LoadDotEnv reads a .env file and sets variables not already in the environment.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // silently skip if .env doesn't exist
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, val)
		}
	}
}

func envInt(getenv func(string) string, key string, fallback int) int {
	n, err := strconv.Atoi(getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func envUint(getenv func(string) string, key string, fallback uint64) uint64 {
	n, err := strconv.ParseUint(getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(getenv func(string) string, key string, fallback bool) bool {
	b, err := strconv.ParseBool(getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(key))
	if err != nil {
		return fallback
	}
	return d
}

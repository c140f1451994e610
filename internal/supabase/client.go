// Package supabase talks to the meter_data and predictions tables through the
// Supabase REST (PostgREST) endpoint.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"

	"bill_predictor/internal/ingest"
	"bill_predictor/internal/model"
)

const (
	readingsTable    = "meter_data"
	predictionsTable = "predictions"
	readingColumns   = "current,voltage,power,total_kwh,time"

	// DefaultTimeout bounds a call whose context carries no deadline.
	DefaultTimeout = 30 * time.Second
)

var ErrEmptyInsert = errors.New("supabase: insert returned no rows")

// APIError is a non-2xx response from the REST endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: (%s) %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client wraps a postgrest client. Calls are serialized because the request
// context travels through the shared transport.
type Client struct {
	mu   sync.Mutex
	rest *postgrest.Client
	rt   *roundTripper
}

// New returns a client for the project at baseURL authenticated with key.
// A nil transport means http.DefaultTransport.
func New(baseURL, key string, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	rest := postgrest.NewClient(strings.TrimRight(baseURL, "/")+"/rest/v1/", "", nil)
	rt := &roundTripper{base: transport}
	// A malformed URL leaves ClientError set and Transport nil; every call
	// then returns ClientError.
	if rest.ClientError == nil {
		rest.SetApiKey(key).SetAuthToken(key)
		rest.Transport.Parent = rt
	}
	return &Client{rest: rest, rt: rt}
}

type meterRow struct {
	Current  flexFloat  `json:"current"`
	Voltage  flexFloat  `json:"voltage"`
	Power    flexFloat  `json:"power"`
	TotalKWh *flexFloat `json:"total_kwh"`
	Time     string     `json:"time"`
}

// LatestReading returns the meter_data row with the greatest time.
// A row without total_kwh is an error wrapping model.ErrBadTotal.
func (c *Client) LatestReading(ctx context.Context) (model.MeterReading, bool, error) {
	var rows []meterRow
	err := c.call(ctx, func(rest *postgrest.Client) error {
		_, err := rest.From(readingsTable).
			Select(readingColumns, "", false).
			Order("time", &postgrest.OrderOpts{Ascending: false}).
			Limit(1, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return model.MeterReading{}, false, fmt.Errorf("fetching latest reading: %w", err)
	}
	if len(rows) == 0 {
		return model.MeterReading{}, false, nil
	}

	row := rows[0]
	if row.TotalKWh == nil {
		return model.MeterReading{}, false, fmt.Errorf("%s row at %q: %w", readingsTable, row.Time, model.ErrBadTotal)
	}
	r := model.MeterReading{
		Voltage:  float64(row.Voltage),
		Current:  float64(row.Current),
		Power:    float64(row.Power),
		TotalKWh: float64(*row.TotalKWh),
	}
	if err := model.CheckTotal(r.TotalKWh); err != nil {
		return model.MeterReading{}, false, err
	}
	if row.Time != "" {
		ts, err := ingest.ParseTimestamp(row.Time)
		if err != nil {
			return model.MeterReading{}, false, fmt.Errorf("reading time %q: %w", row.Time, err)
		}
		r.Time = ts
	}
	return r, true, nil
}

type predictionRow struct {
	ID            string  `json:"id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	PredictedKWh  string  `json:"predicted_kwh"`
	PredictedBill float64 `json:"predicted_bill"`
}

// InsertPrediction adds one row to predictions. The row ID is left to the table default.
func (c *Client) InsertPrediction(ctx context.Context, rec model.PredictionRecord) error {
	row := predictionRow{
		CreatedAt:     rec.CreatedAtISO(),
		PredictedKWh:  rec.PredictedKWh,
		PredictedBill: rec.PredictedBill,
	}

	var rows []predictionRow
	err := c.call(ctx, func(rest *postgrest.Client) error {
		_, err := rest.From(predictionsTable).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting prediction: %w", err)
	}
	if len(rows) == 0 {
		return ErrEmptyInsert
	}
	return nil
}

func (c *Client) call(ctx context.Context, fn func(*postgrest.Client) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.ctx = ctx
	defer func() { c.rt.ctx = nil }()

	return fn(c.rest)
}

// roundTripper binds outgoing requests to the caller's context and turns
// error responses into *APIError. postgrest-go builds its requests without a
// context and reports failures without the status code.
type roundTripper struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ctx != nil {
		req = req.WithContext(t.ctx)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return nil, newAPIError(resp.StatusCode, body)
}

func newAPIError(status int, body []byte) *APIError {
	if status == http.StatusUnauthorized {
		return &APIError{StatusCode: status, Message: "authentication failed, check SUPABASE_KEY"}
	}
	var pgErr postgrest.ExecuteError
	if err := json.Unmarshal(body, &pgErr); err == nil && pgErr.Message != "" {
		return &APIError{StatusCode: status, Code: pgErr.Code, Message: pgErr.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// flexFloat accepts a JSON number or a numeric string. A JSON null leaves the
// zero value, or a nil pointer for *flexFloat fields.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}

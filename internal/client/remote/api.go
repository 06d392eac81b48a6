package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/storage"
	"github.com/atinyakov/glucosync/internal/models"
)

const measurementsPath = "/v1/measurements"

// APIStore talks to the relational API backend. The server scopes every row
// by the user behind the bearer token.
type APIStore struct {
	client   *http.Client
	baseURL  string
	sessions SessionProvider
	log      *zap.Logger
	now      func() time.Time
}

// NewAPIStore creates an APIStore. A nil client selects one with DefaultTimeout.
func NewAPIStore(client *http.Client, baseURL string, sessions SessionProvider, log *zap.Logger) *APIStore {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &APIStore{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

// GetMeasurements fetches every row of the user. Rows that fail validation
// are logged and skipped.
func (s *APIStore) GetMeasurements(ctx context.Context) ([]models.Measurement, error) {
	snap, err := s.FetchMeasurements(ctx)
	return snap.Measurements, err
}

// FetchMeasurements fetches every row of the user and reports the ids of
// rows it had to skip.
func (s *APIStore) FetchMeasurements(ctx context.Context) (Snapshot, error) {
	resp, err := s.do(ctx, http.MethodGet, measurementsPath, nil, "list measurements")
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "list measurements", http.StatusOK); err != nil {
		return Snapshot{}, err
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return Snapshot{}, &apperr.NetworkError{Op: "list measurements", Err: fmt.Errorf("decode response: %w", err)}
	}

	snap := Snapshot{Measurements: make([]models.Measurement, 0, len(rows))}
	for i, raw := range rows {
		var m models.Measurement
		if err := json.Unmarshal(raw, &m); err != nil {
			s.log.Warn("skipping unreadable row", zap.Int("index", i), zap.Error(err))
			if m.ID != "" {
				snap.Skipped = append(snap.Skipped, m.ID)
			}
			continue
		}
		if err := m.Validate(); err != nil {
			s.log.Warn("skipping invalid row", zap.String("id", m.ID), zap.Error(err))
			if m.ID != "" {
				snap.Skipped = append(snap.Skipped, m.ID)
			}
			continue
		}
		snap.Measurements = append(snap.Measurements, m)
	}
	storage.SortByTimestampDesc(snap.Measurements)
	return snap, nil
}

// AddMeasurement upserts m. Invalid measurements are rejected before any
// request is made.
func (s *APIStore) AddMeasurement(ctx context.Context, m models.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal measurement: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPost, measurementsPath, body, "add measurement")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "add measurement", http.StatusCreated, http.StatusOK)
}

// DeleteMeasurement removes id. The server answers 204 whether or not the row existed.
func (s *APIStore) DeleteMeasurement(ctx context.Context, id string) error {
	if id == "" {
		return apperr.Invalid("id", "must not be empty")
	}
	resp, err := s.do(ctx, http.MethodDelete, measurementsPath+"/"+url.PathEscape(id), nil, "delete measurement")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "delete measurement", http.StatusNoContent, http.StatusOK, http.StatusNotFound)
}

func (s *APIStore) do(ctx context.Context, method, path string, body []byte, op string) (*http.Response, error) {
	sess, err := activeSession(s.sessions, s.now())
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Err: err}
	}
	return resp, nil
}

// checkStatus maps an unexpected response status onto the error taxonomy.
func checkStatus(resp *http.Response, op string, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}

	msg := readErrorBody(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.ErrAuthentication
	case resp.StatusCode == http.StatusBadRequest:
		return apperr.Invalid("request", msg)
	case resp.StatusCode == http.StatusConflict:
		return apperr.ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return apperr.ErrNotFound
	case resp.StatusCode >= 500:
		return &apperr.NetworkError{Op: op, Err: fmt.Errorf("server returned %s: %s", resp.Status, msg)}
	default:
		return fmt.Errorf("%s: unexpected status %s: %s", op, resp.Status, msg)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(data))
}

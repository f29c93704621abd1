package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"climate-explorer/internal/ingest"
	"climate-explorer/internal/models"
	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/repository"
	"climate-explorer/internal/services"
	"climate-explorer/internal/summary"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

const testOrigin = "https://explorer.example"

type fixture struct {
	handler  http.Handler
	h        *ExplorerHandler
	sessions *services.SessionStore
	metrics  *metrics.Collector
}

type fixtureConfig struct {
	repo       repository.DatasetRepository
	summarizer summary.Summarizer
	maxUpload  int64
}

type fixtureOption func(*fixtureConfig)

func withRepo(repo repository.DatasetRepository) fixtureOption {
	return func(c *fixtureConfig) { c.repo = repo }
}

func withSummarizer(s summary.Summarizer) fixtureOption {
	return func(c *fixtureConfig) { c.summarizer = s }
}

func withMaxUpload(n int64) fixtureOption {
	return func(c *fixtureConfig) { c.maxUpload = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{maxUpload: 32 << 20}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := logging.NewNopLogger()
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("test", reg)

	store := services.NewSessionStore(services.SessionOptions{MaxSessions: 3}, logger, m)
	datasets := services.NewDatasetService(cfg.repo, ingest.NewReader(nil, logger), logger, m)
	explorer := services.NewExplorerService(store, pipeline.New(nil), logger, m)
	summaries := services.NewSummaryService(cfg.summarizer, explorer, logger, m)

	h := NewExplorerHandler(store, datasets, explorer, summaries, logger, m, cfg.maxUpload)
	router := NewRouter(h, RouterOptions{
		AllowedOrigins: []string{testOrigin},
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &fixture{handler: router, h: h, sessions: store, metrics: m}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, target string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return f.do(t, method, target, body)
}

// session creates a session through the API and returns its ID.
func (f *fixture) session(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SessionResponse
	decode(t, rec, &resp)
	return resp.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp
}

// stubRepo keeps datasets in memory.
type stubRepo struct {
	mu       sync.Mutex
	datasets map[string]*models.Dataset
}

func newStubRepo() *stubRepo {
	return &stubRepo{datasets: make(map[string]*models.Dataset)}
}

func (s *stubRepo) CreateDataset(ctx context.Context, ds *models.Dataset) (models.DatasetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := ds.WithID(uuid.NewString())
	s.datasets[stored.ID()] = stored
	return stored.Info(), nil
}

func (s *stubRepo) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "dataset", ID: id}
	}
	return ds, nil
}

func (s *stubRepo) GetDatasetInfo(ctx context.Context, id string) (*models.DatasetInfo, error) {
	ds, err := s.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	info := ds.Info()
	return &info, nil
}

func (s *stubRepo) ListDatasets(ctx context.Context, limit, offset int) ([]models.DatasetInfo, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DatasetInfo, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds.Info())
	}
	return out, len(out), nil
}

func (s *stubRepo) DeleteDataset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return &repository.NotFoundError{Resource: "dataset", ID: id}
	}
	delete(s.datasets, id)
	return nil
}

func (s *stubRepo) HealthCheck(ctx context.Context) error { return nil }

type fakeSummarizer struct {
	content string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, payload json.RawMessage) (string, error) {
	return f.content, f.err
}

package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"climate-explorer/internal/models"
	"climate-explorer/internal/repository"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

func testDeps(t *testing.T) (*logging.StructuredLogger, *metrics.Collector) {
	t.Helper()
	return logging.NewNopLogger(), metrics.NewCollector("test", prometheus.NewRegistry())
}

// memRepo is an in-memory DatasetRepository.
type memRepo struct {
	mu       sync.Mutex
	datasets map[string]*models.Dataset
	failOn   string
}

func newMemRepo() *memRepo {
	return &memRepo{datasets: make(map[string]*models.Dataset)}
}

func (m *memRepo) CreateDataset(ctx context.Context, ds *models.Dataset) (models.DatasetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && ds.Info().Name == m.failOn {
		return models.DatasetInfo{}, errors.New("disk full")
	}
	id := ds.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored := ds.WithID(id)
	m.datasets[id] = stored
	return stored.Info(), nil
}

func (m *memRepo) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "dataset", ID: id}
	}
	return ds, nil
}

func (m *memRepo) GetDatasetInfo(ctx context.Context, id string) (*models.DatasetInfo, error) {
	ds, err := m.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	info := ds.Info()
	return &info, nil
}

func (m *memRepo) ListDatasets(ctx context.Context, limit, offset int) ([]models.DatasetInfo, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DatasetInfo, 0, len(m.datasets))
	for _, ds := range m.datasets {
		out = append(out, ds.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memRepo) DeleteDataset(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[id]; !ok {
		return &repository.NotFoundError{Resource: "dataset", ID: id}
	}
	delete(m.datasets, id)
	return nil
}

func (m *memRepo) HealthCheck(ctx context.Context) error { return nil }

func constant(key string, v float64) func(month, day, hour, doy int) map[string]float64 {
	return func(month, day, hour, doy int) map[string]float64 {
		return map[string]float64{key: v}
	}
}

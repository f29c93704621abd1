package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"climate-explorer/internal/ingest"
	"climate-explorer/internal/models"
	"climate-explorer/internal/repository"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

// ErrPersistenceDisabled is returned by operations that need the database
// when the service runs without one.
var ErrPersistenceDisabled = errors.New("dataset persistence is disabled")

// DatasetService parses, stores and loads weather datasets
type DatasetService struct {
	repo    repository.DatasetRepository
	reader  *ingest.Reader
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDatasetService creates a new dataset service. repo may be nil, in which
// case uploads stay in memory and persisted datasets are unavailable.
func NewDatasetService(repo repository.DatasetRepository, reader *ingest.Reader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DatasetService {
	return &DatasetService{
		repo:    repo,
		reader:  reader,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Persistent reports whether datasets can be stored.
func (s *DatasetService) Persistent() bool {
	return s.repo != nil
}

// Import parses a CSV stream. With persist set and a repository available the
// dataset is stored; otherwise it only gets a fresh in-memory ID.
func (s *DatasetService) Import(ctx context.Context, src io.Reader, info models.DatasetInfo, persist bool) (*models.Dataset, error) {
	timer := s.metrics.NewTimer(s.metrics.IngestionDuration)

	ds, err := s.reader.Read(ctx, src, info)
	if err != nil {
		s.metrics.RecordIngestionError("parse_error")
		return nil, err
	}

	if !persist || s.repo == nil {
		ds = ds.WithID(uuid.NewString())
	} else {
		saved, err := s.repo.CreateDataset(ctx, ds)
		if err != nil {
			s.metrics.RecordIngestionError("store_error")
			return nil, fmt.Errorf("failed to store dataset: %w", err)
		}
		ds = ds.WithID(saved.ID)
	}

	d := timer.ObserveDuration()
	s.logger.Info(ctx, "[DATASET_IMPORT] Dataset imported", logging.Fields{
		"dataset_id":  ds.ID(),
		"name":        ds.Info().Name,
		"rows":        ds.Len(),
		"columns":     len(ds.Info().Columns),
		"persisted":   persist && s.repo != nil,
		"duration_ms": d.Milliseconds(),
	})
	return ds, nil
}

// Load retrieves a stored dataset
func (s *DatasetService) Load(ctx context.Context, id string) (*models.Dataset, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.GetDataset(ctx, id)
}

// Info retrieves a stored dataset header
func (s *DatasetService) Info(ctx context.Context, id string) (*models.DatasetInfo, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.GetDatasetInfo(ctx, id)
}

// List retrieves stored dataset headers with pagination
func (s *DatasetService) List(ctx context.Context, limit, offset int) ([]models.DatasetInfo, int, error) {
	if s.repo == nil {
		return nil, 0, ErrPersistenceDisabled
	}
	return s.repo.ListDatasets(ctx, limit, offset)
}

// Delete removes a stored dataset
func (s *DatasetService) Delete(ctx context.Context, id string) error {
	if s.repo == nil {
		return ErrPersistenceDisabled
	}
	return s.repo.DeleteDataset(ctx, id)
}

// IngestionResult contains directory ingestion statistics
type IngestionResult struct {
	TotalFiles int
	Imported   []models.DatasetInfo
	TotalRows  int
	Duration   time.Duration
	Errors     []string
}

// Failed returns the number of files that could not be imported.
func (r *IngestionResult) Failed() int {
	return len(r.Errors)
}

// IngestDirectory imports every file matching pattern in dataDir, up to
// workers files at a time. A bad file is recorded and skipped.
func (s *DatasetService) IngestDirectory(ctx context.Context, dataDir, pattern string, workers int) (*IngestionResult, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	startTime := time.Now()
	log := s.logger.WithFields(logging.Fields{"data_dir": dataDir, "pattern": pattern})

	log.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"workers": workers,
		"stage":   "INITIALIZATION",
	})

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found in %s", dataDir)
	}
	sort.Strings(files)

	log.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	result := &IngestionResult{TotalFiles: len(files)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range files {
		g.Go(func() error {
			info, err := s.ingestFile(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", path, err))
				log.Error(gctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
					"file_path": path,
					"stage":     "FILE_PROCESSING",
				}, err)
				s.metrics.RecordIngestionError("file_error")
				return nil
			}
			result.Imported = append(result.Imported, info)
			result.TotalRows += info.RowCount
			log.Info(gctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
				"file_path":  path,
				"dataset_id": info.ID,
				"rows":       info.RowCount,
				"stage":      "FILE_COMPLETE",
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Imported, func(i, j int) bool { return result.Imported[i].Name < result.Imported[j].Name })
	sort.Strings(result.Errors)
	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	log.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"total_files":      result.TotalFiles,
		"imported":         len(result.Imported),
		"failed":           result.Failed(),
		"total_rows":       result.TotalRows,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}

func (s *DatasetService) ingestFile(ctx context.Context, path string) (models.DatasetInfo, error) {
	ds, err := s.reader.ReadFile(ctx, path)
	if err != nil {
		s.metrics.RecordIngestionError("parse_error")
		return models.DatasetInfo{}, err
	}
	return s.repo.CreateDataset(ctx, ds)
}

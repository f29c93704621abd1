package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"climate-explorer/internal/models"
	"climate-explorer/pkg/database"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

// DatasetRepository provides data access for persisted weather datasets
type DatasetRepository interface {
	// CreateDataset stores ds and returns its header. A dataset without an
	// ID is assigned a new one.
	CreateDataset(ctx context.Context, ds *models.Dataset) (models.DatasetInfo, error)
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
	GetDatasetInfo(ctx context.Context, id string) (*models.DatasetInfo, error)
	ListDatasets(ctx context.Context, limit, offset int) ([]models.DatasetInfo, int, error)
	DeleteDataset(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
}

// datasetRecord is the datasets table row
type datasetRecord struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	City      string         `db:"city"`
	Country   string         `db:"country"`
	Latitude  float64        `db:"latitude"`
	Longitude float64        `db:"longitude"`
	TimeZone  float64        `db:"time_zone"`
	RowCount  int            `db:"row_count"`
	Columns   pq.StringArray `db:"columns"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r datasetRecord) info() models.DatasetInfo {
	return models.DatasetInfo{
		ID:   r.ID,
		Name: r.Name,
		Location: models.Location{
			City:      r.City,
			Country:   r.Country,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			TimeZone:  r.TimeZone,
		},
		RowCount:  r.RowCount,
		Columns:   []string(r.Columns),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// rowRecord is the dataset_rows table row
type rowRecord struct {
	RowIndex  int            `db:"row_index"`
	Month     int            `db:"month"`
	Day       int            `db:"day"`
	Hour      int            `db:"hour"`
	MonthName string         `db:"month_name"`
	Values    types.JSONText `db:"observation_values"`
}

const datasetColumns = `id, name, city, country, latitude, longitude, time_zone, row_count, columns, created_at`

// datasetRepository implements DatasetRepository
type datasetRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) DatasetRepository {
	return &datasetRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateDataset writes the header and every hourly row in one transaction.
// Rows are streamed with COPY.
func (r *datasetRepository) CreateDataset(ctx context.Context, ds *models.Dataset) (models.DatasetInfo, error) {
	info := ds.Info()
	if info.ID == "" {
		info.ID = uuid.NewString()
	} else if _, err := uuid.Parse(info.ID); err != nil {
		return models.DatasetInfo{}, &models.ValidationError{Field: "id", Value: info.ID, Message: "dataset id must be a UUID"}
	}

	start := time.Now()
	defer func() {
		r.metrics.IngestionBatchSize.Observe(float64(info.RowCount))
		r.logger.Debug(ctx, "[REPO_CREATE_DATASET] Dataset insert finished", logging.Fields{
			"dataset_id":  info.ID,
			"rows":        info.RowCount,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return models.DatasetInfo{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		info.ID,
		info.Name,
		info.Location.City,
		info.Location.Country,
		info.Location.Latitude,
		info.Location.Longitude,
		info.Location.TimeZone,
		info.RowCount,
		pq.StringArray(info.Columns),
		info.CreatedAt,
	)
	if err != nil {
		r.metrics.RecordDBError("insert_dataset")
		return models.DatasetInfo{}, fmt.Errorf("failed to insert dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("dataset_rows",
		"dataset_id", "row_index", "month", "day", "hour", "month_name", "observation_values"))
	if err != nil {
		return models.DatasetInfo{}, fmt.Errorf("failed to prepare copy: %w", err)
	}
	defer stmt.Close()

	for i, obs := range ds.Observations() {
		values, err := encodeValues(obs.Values)
		if err != nil {
			return models.DatasetInfo{}, fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, info.ID, i, obs.Month, obs.Day, obs.Hour, obs.MonthName, string(values)); err != nil {
			r.metrics.RecordDBError("copy_rows")
			return models.DatasetInfo{}, fmt.Errorf("failed to copy row %d: %w", i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		r.metrics.RecordDBError("copy_rows")
		return models.DatasetInfo{}, fmt.Errorf("failed to flush rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.DatasetInfo{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRowsTotal.Add(float64(info.RowCount))
	return info, nil
}

// GetDatasetInfo retrieves a dataset header by ID
func (r *datasetRepository) GetDatasetInfo(ctx context.Context, id string) (*models.DatasetInfo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &NotFoundError{Resource: "dataset", ID: id}
	}

	var rec datasetRecord
	err := r.db.GetContext(ctx, "get_dataset", &rec, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "dataset", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	info := rec.info()
	return &info, nil
}

// GetDataset loads a dataset with all its rows and re-validates it
func (r *datasetRepository) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	info, err := r.GetDatasetInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	var recs []rowRecord
	err = r.db.SelectContext(ctx, "get_dataset_rows", &recs, `
		SELECT row_index, month, day, hour, month_name, observation_values
		FROM dataset_rows
		WHERE dataset_id = $1
		ORDER BY row_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset rows: %w", err)
	}

	rows, err := decodeRows(recs)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}

	ds, err := models.NewDataset(*info, rows)
	if err != nil {
		return nil, fmt.Errorf("stored dataset %s is invalid: %w", id, err)
	}
	return ds, nil
}

// ListDatasets retrieves dataset headers with pagination, newest first
func (r *datasetRepository) ListDatasets(ctx context.Context, limit, offset int) ([]models.DatasetInfo, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_datasets", &total, `SELECT COUNT(*) FROM datasets`); err != nil {
		return nil, 0, fmt.Errorf("failed to count datasets: %w", err)
	}

	var recs []datasetRecord
	err := r.db.SelectContext(ctx, "list_datasets", &recs, `
		SELECT `+datasetColumns+`
		FROM datasets
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list datasets: %w", err)
	}

	out := make([]models.DatasetInfo, len(recs))
	for i, rec := range recs {
		out[i] = rec.info()
	}
	return out, total, nil
}

// DeleteDataset removes a dataset and, by cascade, its rows
func (r *datasetRepository) DeleteDataset(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &NotFoundError{Resource: "dataset", ID: id}
	}

	res, err := r.db.ExecContext(ctx, "delete_dataset", `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Resource: "dataset", ID: id}
	}

	r.logger.Info(ctx, "[REPO_DELETE_DATASET] Dataset deleted", logging.Fields{
		"dataset_id": id,
	})
	return nil
}

// HealthCheck performs a repository health check
func (r *datasetRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func encodeValues(values map[string]float64) (types.JSONText, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode values: %w", err)
	}
	return types.JSONText(b), nil
}

// decodeRows rebuilds observations from stored rows, which must be
// contiguous from index 0.
func decodeRows(recs []rowRecord) ([]models.Observation, error) {
	rows := make([]models.Observation, len(recs))
	for i, rec := range recs {
		if rec.RowIndex != i {
			return nil, fmt.Errorf("row index %d found at position %d", rec.RowIndex, i)
		}
		var values map[string]float64
		if err := rec.Values.Unmarshal(&values); err != nil {
			return nil, fmt.Errorf("row %d: failed to decode values: %w", i, err)
		}
		rows[i] = models.Observation{
			Month:     rec.Month,
			Day:       rec.Day,
			Hour:      rec.Hour,
			MonthName: rec.MonthName,
			Values:    values,
		}
	}
	return rows, nil
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

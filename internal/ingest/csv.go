// Package ingest turns tabular hourly weather files into validated datasets.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/models"
	"climate-explorer/pkg/logging"
)

// Calendar columns every file must carry.
const (
	ColumnMonth      = "month"
	ColumnDay        = "day"
	ColumnHour       = "hour"
	ColumnMonthNames = "month_names"
)

// Reader parses CSV files against a variable catalog.
type Reader struct {
	catalog *catalog.Catalog
	logger  *logging.StructuredLogger
}

// NewReader creates a CSV dataset reader. Nil arguments select the built-in
// catalog and a silent logger.
func NewReader(cat *catalog.Catalog, logger *logging.StructuredLogger) *Reader {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reader{catalog: cat, logger: logger}
}

// layout maps header names to record positions.
type layout struct {
	month, day, hour int
	monthName        int
	vars             map[string]int
	keys             []string
	ignored          []string
}

func (r *Reader) parseHeader(header []string) (*layout, error) {
	l := &layout{month: -1, day: -1, hour: -1, monthName: -1, vars: make(map[string]int)}
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		switch strings.ToLower(name) {
		case ColumnMonth:
			l.month = i
			continue
		case ColumnDay:
			l.day = i
			continue
		case ColumnHour:
			l.hour = i
			continue
		case ColumnMonthNames, "month_name":
			l.monthName = i
			continue
		}
		if _, ok := r.catalog.Lookup(name); !ok {
			l.ignored = append(l.ignored, name)
			continue
		}
		if _, dup := l.vars[name]; dup {
			return nil, &models.ValidationError{Field: "header", Value: name, Message: "duplicate column " + name}
		}
		l.vars[name] = i
		l.keys = append(l.keys, name)
	}

	required := []struct {
		name string
		idx  int
	}{{ColumnMonth, l.month}, {ColumnDay, l.day}, {ColumnHour, l.hour}}
	for _, c := range required {
		if c.idx < 0 {
			return nil, &models.ValidationError{Field: "header", Value: c.name, Message: "missing required column " + c.name}
		}
	}
	if len(l.vars) == 0 {
		return nil, &models.ValidationError{Field: "header", Message: "no known variable columns"}
	}
	sort.Strings(l.keys)
	return l, nil
}

// Read parses a CSV stream into a dataset named info.Name.
func (r *Reader) Read(ctx context.Context, src io.Reader, info models.DatasetInfo) (*models.Dataset, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &models.ValidationError{Field: "header", Message: "file is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	l, err := r.parseHeader(header)
	if err != nil {
		return nil, err
	}
	if len(l.ignored) > 0 {
		r.logger.Debug(ctx, "[INGEST_COLUMNS] Ignoring unknown columns", logging.Fields{
			"dataset": info.Name,
			"columns": l.ignored,
		})
	}

	rows := make([]models.Observation, 0, models.HoursPerLeapYear)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obs, err := l.observation(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, obs)
		if len(rows) > models.HoursPerLeapYear {
			return nil, &models.ValidationError{
				Field:   "rows",
				Value:   strconv.Itoa(len(rows)),
				Message: fmt.Sprintf("file has more than %d hourly rows", models.HoursPerLeapYear),
			}
		}
	}

	ds, err := models.NewDataset(info, rows)
	if err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "[INGEST_PARSED] Dataset parsed", logging.Fields{
		"dataset":   info.Name,
		"rows":      ds.Len(),
		"variables": len(l.keys),
		"ignored":   len(l.ignored),
	})
	return ds, nil
}

// ReadFile opens path and reads it as a dataset named after the file.
func (r *Reader) ReadFile(ctx context.Context, path string) (*models.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return r.Read(ctx, f, models.DatasetInfo{Name: DatasetName(path)})
}

// DatasetName derives a dataset name from a file path.
func DatasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (l *layout) observation(rec []string) (models.Observation, error) {
	var obs models.Observation
	var err error

	if obs.Month, err = parseInt(rec, l.month, ColumnMonth); err != nil {
		return obs, err
	}
	if obs.Day, err = parseInt(rec, l.day, ColumnDay); err != nil {
		return obs, err
	}
	if obs.Hour, err = parseInt(rec, l.hour, ColumnHour); err != nil {
		return obs, err
	}
	if l.monthName >= 0 && l.monthName < len(rec) {
		obs.MonthName = strings.TrimSpace(rec[l.monthName])
	}

	obs.Values = make(map[string]float64, len(l.keys))
	for _, key := range l.keys {
		idx := l.vars[key]
		if idx >= len(rec) {
			return obs, &models.ValidationError{Field: key, Message: "missing value"}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
		if err != nil {
			return obs, &models.ValidationError{Field: key, Value: rec[idx], Message: "value is not a number"}
		}
		obs.Values[key] = v
	}
	return obs, nil
}

func parseInt(rec []string, idx int, field string) (int, error) {
	if idx >= len(rec) {
		return 0, &models.ValidationError{Field: field, Message: "missing value"}
	}
	raw := strings.TrimSpace(rec[idx])
	n, err := strconv.Atoi(raw)
	if err != nil {
		// some exports write calendar fields as floats ("1.0")
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, &models.ValidationError{Field: field, Value: raw, Message: "value is not an integer"}
		}
		n = int(f)
	}
	return n, nil
}

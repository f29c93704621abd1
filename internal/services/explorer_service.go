package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/models"
	"climate-explorer/internal/pipeline"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

// WidgetState mirrors the explorer controls. Disabled filters are ignored
// entirely, including any half-filled inputs. Every numeric input (filter
// bounds, bin range) is in the unit system named by Units.
type WidgetState struct {
	Variable string        `json:"variable"`
	Kind     pipeline.Kind `json:"kind"`
	Units    string        `json:"units"`

	ApplyTimeFilter bool           `json:"apply_time_filter"`
	Months          pipeline.Range `json:"months"`
	Hours           pipeline.Range `json:"hours"`

	ApplyDataFilter bool     `json:"apply_data_filter"`
	FilterVariable  string   `json:"filter_variable"`
	FilterMin       *float64 `json:"filter_min"`
	FilterMax       *float64 `json:"filter_max"`

	Band          *pipeline.Band `json:"band,omitempty"`
	Axis          string         `json:"axis,omitempty"`
	Bins          int            `json:"bins,omitempty"`
	BinRange      *[2]float64    `json:"bin_range,omitempty"`
	Normalize     bool           `json:"normalize"`
	ByMonth       bool           `json:"by_month"`
	YVariable     string         `json:"y_variable,omitempty"`
	ColorVariable string         `json:"color_variable,omitempty"`
}

// Request converts the widget state into a pipeline request. Filter bounds
// are converted to metric with cat; a nil cat selects the built-in catalog.
func (w WidgetState) Request(cat *catalog.Catalog) (pipeline.Request, error) {
	units, err := catalog.ParseUnitSystem(w.Units)
	if err != nil {
		return pipeline.Request{}, &pipeline.Error{Code: pipeline.CodeInvalidRequest, Field: "units", Message: err.Error()}
	}

	req := pipeline.Request{
		Variable:      w.Variable,
		Kind:          w.Kind,
		Units:         units,
		Band:          w.Band,
		Axis:          pipeline.HeatmapAxis(w.Axis),
		Bins:          w.Bins,
		BinRange:      w.BinRange,
		Normalize:     w.Normalize,
		ByMonth:       w.ByMonth,
		YVariable:     w.YVariable,
		ColorVariable: w.ColorVariable,
	}
	if w.ApplyTimeFilter {
		req.Time = &pipeline.TimeWindow{Months: w.Months, Hours: w.Hours}
	}
	if w.ApplyDataFilter {
		if cat == nil {
			cat = catalog.Default()
		}
		req.Filter = &pipeline.ValueFilter{
			Variable: w.FilterVariable,
			Min:      toMetric(cat, w.FilterVariable, w.FilterMin, units),
			Max:      toMetric(cat, w.FilterVariable, w.FilterMax, units),
		}
	}
	return req, nil
}

func toMetric(cat *catalog.Catalog, key string, v *float64, units catalog.UnitSystem) *float64 {
	if v == nil {
		return nil
	}
	m := cat.ToMetric(key, *v, units)
	return &m
}

// Overview is the default set of charts for one variable.
type Overview struct {
	DatasetID string           `json:"dataset_id"`
	Yearly    *pipeline.Result `json:"yearly"`
	Daily     *pipeline.Result `json:"daily"`
	Heatmap   *pipeline.Result `json:"heatmap"`
}

// VariableView is a catalog entry rendered for one unit system.
type VariableView struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Unit      string     `json:"unit"`
	Range     [2]float64 `json:"range"`
	Available *bool      `json:"available,omitempty"`
}

// ExplorerService runs aggregations against session datasets
type ExplorerService struct {
	sessions *SessionStore
	pipeline *pipeline.Pipeline
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewExplorerService creates a new explorer service
func NewExplorerService(sessions *SessionStore, p *pipeline.Pipeline, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ExplorerService {
	return &ExplorerService{
		sessions: sessions,
		pipeline: p,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Aggregate evaluates state against the session's current dataset.
func (s *ExplorerService) Aggregate(ctx context.Context, sessionID string, state WidgetState) (*pipeline.Result, error) {
	ds, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	req, err := state.Request(s.pipeline.Catalog())
	if err != nil {
		s.recordError(ctx, state.Kind, err)
		return nil, err
	}
	return s.run(logging.WithSessionID(ctx, sessionID), ds, req)
}

// Overview computes the yearly, daily and heatmap charts of variable
// concurrently from a single dataset snapshot.
func (s *ExplorerService) Overview(ctx context.Context, sessionID, variable, units string) (*Overview, error) {
	ds, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	out := &Overview{DatasetID: ds.ID()}
	kinds := []struct {
		kind pipeline.Kind
		dst  **pipeline.Result
	}{
		{pipeline.KindYearlyProfile, &out.Yearly},
		{pipeline.KindDailyProfile, &out.Daily},
		{pipeline.KindHeatmap, &out.Heatmap},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range kinds {
		g.Go(func() error {
			req, err := WidgetState{Variable: variable, Kind: k.kind, Units: units}.Request(s.pipeline.Catalog())
			if err != nil {
				return err
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.run(gctx, ds, req)
			if err != nil {
				return err
			}
			*k.dst = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Variables lists the catalog in the requested units. With a session, each
// entry also reports whether the loaded dataset carries usable data for it.
func (s *ExplorerService) Variables(sessionID, units string) ([]VariableView, error) {
	sys, err := catalog.ParseUnitSystem(units)
	if err != nil {
		return nil, &pipeline.Error{Code: pipeline.CodeInvalidRequest, Field: "units", Message: err.Error()}
	}

	var ds *models.Dataset
	if sessionID != "" {
		if ds, err = s.sessions.Snapshot(sessionID); err != nil {
			return nil, err
		}
	}

	cat := s.pipeline.Catalog()
	vars := cat.Variables()
	out := make([]VariableView, len(vars))
	for i, v := range vars {
		out[i] = VariableView{
			Key:  v.Key,
			Name: v.Name,
			Unit: cat.UnitLabel(v.Key, sys),
			Range: [2]float64{
				cat.Convert(v.Key, v.Range[0], sys),
				cat.Convert(v.Key, v.Range[1], sys),
			},
		}
		if ds != nil {
			mean, ok := ds.ColumnMean(v.Key)
			available := ok && mean != models.NotAvailable
			out[i].Available = &available
		}
	}
	return out, nil
}

func (s *ExplorerService) run(ctx context.Context, ds *models.Dataset, req pipeline.Request) (*pipeline.Result, error) {
	start := time.Now()
	res, err := s.pipeline.Aggregate(ds, req)
	if err != nil {
		s.recordError(ctx, req.Kind, err)
		return nil, err
	}

	d := time.Since(start)
	s.metrics.RecordAggregation(string(req.Kind), res.Rows, d)
	s.logger.Debug(ctx, "[EXPLORE_AGGREGATE] Aggregation computed", logging.Fields{
		"dataset_id":  ds.ID(),
		"kind":        req.Kind,
		"variable":    req.Variable,
		"units":       req.Units,
		"rows":        res.Rows,
		"duration_ms": d.Milliseconds(),
	})
	return res, nil
}

func (s *ExplorerService) recordError(ctx context.Context, kind pipeline.Kind, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		return
	}
	s.metrics.RecordAggregationError(string(perr.Code))
	s.logger.Info(ctx, "[EXPLORE_REJECTED] Aggregation rejected", logging.Fields{
		"kind":  kind,
		"code":  perr.Code,
		"field": perr.Field,
		"error": perr.Message,
	})
}

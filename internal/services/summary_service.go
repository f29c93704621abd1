package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"climate-explorer/internal/models"
	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/summary"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

// ErrSummaryDisabled is returned when no summary endpoint is configured.
var ErrSummaryDisabled = errors.New("AI summary is not configured")

// SummaryPayload is the document sent to the summary endpoint.
type SummaryPayload struct {
	Dataset     string                   `json:"dataset"`
	Location    models.Location          `json:"location"`
	Variable    string                   `json:"variable"`
	DisplayName string                   `json:"display_name"`
	Unit        string                   `json:"unit"`
	Rows        int                      `json:"rows"`
	Monthly     *pipeline.MonthlySummary `json:"monthly"`
}

// SummaryResult is the narrative returned to the client.
type SummaryResult struct {
	DatasetID string         `json:"dataset_id"`
	Variable  string         `json:"variable"`
	Content   string         `json:"content"`
	Payload   SummaryPayload `json:"payload"`
}

// SummaryService asks the summary endpoint to describe a variable
type SummaryService struct {
	client   summary.Summarizer
	explorer *ExplorerService
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewSummaryService creates a summary service. A nil client disables it.
func NewSummaryService(client summary.Summarizer, explorer *ExplorerService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SummaryService {
	return &SummaryService{
		client:   client,
		explorer: explorer,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Enabled reports whether summaries can be requested.
func (s *SummaryService) Enabled() bool {
	return s.client != nil
}

// Summarize builds the monthly summary of state's variable, honouring its
// filters, and asks the endpoint for a narrative.
func (s *SummaryService) Summarize(ctx context.Context, sessionID string, state WidgetState) (*SummaryResult, error) {
	if s.client == nil {
		return nil, ErrSummaryDisabled
	}
	ds, err := s.explorer.sessions.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	state.Kind = pipeline.KindMonthlySummary
	req, err := state.Request(s.explorer.pipeline.Catalog())
	if err != nil {
		return nil, err
	}
	res, err := s.explorer.run(ctx, ds, req)
	if err != nil {
		return nil, err
	}

	info := ds.Info()
	payload := SummaryPayload{
		Dataset:     info.Name,
		Location:    info.Location,
		Variable:    res.Variable,
		DisplayName: res.DisplayName,
		Unit:        res.Unit,
		Rows:        res.Rows,
		Monthly:     res.Monthly,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary payload: %w", err)
	}

	start := time.Now()
	content, err := s.client.Summarize(ctx, raw)
	d := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.Is(err, summary.ErrEmptyContent) {
			outcome = "empty"
		}
		s.metrics.RecordSummary(outcome, d)
		s.logger.Error(ctx, "[SUMMARY_ERROR] Summary request failed", logging.Fields{
			"dataset_id":  ds.ID(),
			"variable":    res.Variable,
			"duration_ms": d.Milliseconds(),
		}, err)
		return nil, err
	}

	s.metrics.RecordSummary("ok", d)
	s.logger.Info(ctx, "[SUMMARY_OK] Summary generated", logging.Fields{
		"dataset_id":    ds.ID(),
		"variable":      res.Variable,
		"payload_bytes": len(raw),
		"content_chars": len(content),
		"duration_ms":   d.Milliseconds(),
	})

	return &SummaryResult{
		DatasetID: ds.ID(),
		Variable:  res.Variable,
		Content:   content,
		Payload:   payload,
	}, nil
}

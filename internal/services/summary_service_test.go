package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/summary"
	"climate-explorer/internal/testutil"
)

type fakeSummarizer struct {
	payload json.RawMessage
	content string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, payload json.RawMessage) (string, error) {
	f.payload = payload
	return f.content, f.err
}

func newSummaryService(t *testing.T, client summary.Summarizer) (*SummaryService, string) {
	t.Helper()
	explorer, id := newExplorer(t, testutil.Dataset(t, false, testutil.Climate).WithID("ds"))
	return NewSummaryService(client, explorer, explorer.logger, explorer.metrics), id
}

func TestSummarizeDisabled(t *testing.T) {
	svc, id := newSummaryService(t, nil)
	assert.False(t, svc.Enabled())

	_, err := svc.Summarize(context.Background(), id, WidgetState{Variable: "DBT"})
	assert.ErrorIs(t, err, ErrSummaryDisabled)
}

func TestSummarize(t *testing.T) {
	fake := &fakeSummarizer{content: "Warm summers."}
	svc, id := newSummaryService(t, fake)

	res, err := svc.Summarize(context.Background(), id, WidgetState{
		Variable:        "DBT",
		Kind:            pipeline.KindHeatmap,
		ApplyTimeFilter: true,
		Months:          pipeline.IntRange(6, 8),
		Hours:           pipeline.IntRange(1, 24),
	})
	require.NoError(t, err)
	assert.Equal(t, "Warm summers.", res.Content)
	assert.Equal(t, "ds", res.DatasetID)
	assert.Equal(t, 92*24, res.Payload.Rows)
	require.NotNil(t, res.Payload.Monthly)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.payload, &sent))
	assert.Equal(t, "DBT", sent["variable"])
	assert.Contains(t, sent, "monthly")
	assert.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.SummaryRequestsTotal.WithLabelValues("ok")))
}

func TestSummarizeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"empty content", summary.ErrEmptyContent, "empty"},
		{"endpoint failure", &summary.Error{Status: 500, Err: errors.New("boom")}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, id := newSummaryService(t, &fakeSummarizer{err: tt.err})
			_, err := svc.Summarize(context.Background(), id, WidgetState{Variable: "DBT"})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.SummaryRequestsTotal.WithLabelValues(tt.outcome)))
		})
	}
}

func TestSummarizePropagatesPipelineErrors(t *testing.T) {
	fake := &fakeSummarizer{content: "unused"}
	svc, id := newSummaryService(t, fake)

	_, err := svc.Summarize(context.Background(), id, WidgetState{Variable: "NOPE"})
	assert.Error(t, err)
	assert.Nil(t, fake.payload)
}

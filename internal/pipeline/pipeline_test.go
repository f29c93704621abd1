package pipeline

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/models"
	"climate-explorer/internal/testutil"
)

func newPipeline() *Pipeline {
	return New(catalog.Default())
}

func TestYearlyProfileCoversEveryDay(t *testing.T) {
	p := newPipeline()

	for _, leap := range []bool{false, true} {
		ds := testutil.Dataset(t, leap, testutil.Climate)

		res, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindYearlyProfile})
		require.NoError(t, err)

		want := 365
		if leap {
			want = 366
		}
		require.Len(t, res.Yearly, want)
		assert.Equal(t, ds.Len(), res.Rows)
		for i, d := range res.Yearly {
			assert.Equal(t, i+1, d.DayOfYear)
			require.NotNil(t, d.Mean, "day %d", d.DayOfYear)
			assert.False(t, math.IsNaN(*d.Mean) || math.IsInf(*d.Mean, 0), "day %d mean not finite", d.DayOfYear)
			assert.Equal(t, 24, d.Count)
			assert.LessOrEqual(t, *d.Min, *d.Low)
			assert.LessOrEqual(t, *d.Low, *d.High)
			assert.LessOrEqual(t, *d.High, *d.Max)
		}
	}
}

func TestYearlyProfileDayMean(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	res, err := newPipeline().Aggregate(ds, Request{Variable: "DBT", Kind: KindYearlyProfile})
	require.NoError(t, err)

	sum := 0.0
	for h := 1; h <= 24; h++ {
		sum += testutil.Climate(1, 1, h, 1)["DBT"]
	}
	assert.InDelta(t, sum/24, *res.Yearly[0].Mean, 1e-9)
	assert.Equal(t, "Jan", res.Yearly[0].MonthName)
	assert.Equal(t, 12, res.Yearly[364].Month)
	assert.Equal(t, 31, res.Yearly[364].Day)
}

func TestYearlyProfileKeepsFilteredDays(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	res, err := newPipeline().Aggregate(ds, Request{
		Variable: "DBT",
		Kind:     KindYearlyProfile,
		Time:     Window(6, 6, 1, 24),
	})
	require.NoError(t, err)

	require.Len(t, res.Yearly, 365)
	for _, d := range res.Yearly {
		if d.Month == 6 {
			assert.Equal(t, 24, d.Count)
			assert.NotNil(t, d.Mean)
		} else {
			assert.Equal(t, 0, d.Count)
			assert.Nil(t, d.Mean, "day %d outside window should be missing", d.DayOfYear)
		}
	}
}

func TestUnrestrictedWindowMatchesNoWindow(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			base := Request{
				Variable:      "RH",
				Kind:          kind,
				YVariable:     "DBT",
				ColorVariable: "GHrad",
				Normalize:     true,
			}
			windowed := base
			windowed.Time = Window(1, 12, 1, 24)

			a, err := p.Aggregate(ds, base)
			require.NoError(t, err)
			b, err := p.Aggregate(ds, windowed)
			require.NoError(t, err)

			assert.Equal(t, a, b)
		})
	}
}

func TestJuneWindowRowCount(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	res, err := newPipeline().Aggregate(ds, Request{
		Variable: "RH",
		Kind:     KindDailyProfile,
		Time:     Window(6, 6, 1, 24),
	})
	require.NoError(t, err)

	assert.Equal(t, 720, res.Rows)
	for _, h := range res.Daily.Hours {
		assert.Equal(t, 30, h.Count, "hour %d", h.Hour)
	}
	for _, m := range res.Daily.Months {
		for h, v := range m.Means {
			if m.Month == 6 {
				assert.NotNil(t, v, "June hour %d", h+1)
			} else {
				assert.Nil(t, v, "month %d hour %d", m.Month, h+1)
			}
		}
	}
}

func TestTimeWindowIsConjunctive(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	res, err := newPipeline().Aggregate(ds, Request{
		Variable: "DBT",
		Kind:     KindMonthlySummary,
		Time:     Window(1, 2, 9, 17),
	})
	require.NoError(t, err)

	assert.Equal(t, (31+28)*9, res.Rows)
	assert.Equal(t, 31*9, res.Monthly.Months[0].Count)
	assert.Equal(t, 28*9, res.Monthly.Months[1].Count)
	assert.Equal(t, 0, res.Monthly.Months[2].Count)
	assert.Nil(t, res.Monthly.Months[2].Mean)
}

func TestValueFilterOutsideDataIsEmpty(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	col, _ := ds.Column("RH")
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range col {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}

	filters := []*ValueFilter{
		Between("RH", hi+0.001, hi+50),
		Between("RH", lo-50, lo-0.001),
		Between("GHrad", 500, 500),
	}
	for _, f := range filters {
		for _, kind := range Kinds() {
			_, err := p.Aggregate(ds, Request{
				Variable:      "DBT",
				Kind:          kind,
				YVariable:     "RH",
				ColorVariable: "GHrad",
				Filter:        f,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEmptyResult), "%s %v-%v: got %v", kind, *f.Min, *f.Max, err)
		}
	}
}

func TestValueFilterAfterTimeFilter(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	res, err := newPipeline().Aggregate(ds, Request{
		Variable:  "DBT",
		Kind:      KindBivariateScatter,
		YVariable: "GHrad",
		Time:      Window(3, 3, 1, 24),
		Filter:    Between("GHrad", 1, 2000),
	})
	require.NoError(t, err)

	// daylight hours 7..18 only, March only
	assert.Equal(t, 31*12, res.Rows)
	for _, pt := range res.Scatter.Points {
		assert.Equal(t, 3, pt.Month)
		assert.GreaterOrEqual(t, pt.Y, 1.0)
	}
}

func TestValueFilterUsesNativeUnits(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	// 20 °C is 68 °F; the bound must be read in °C even for an imperial result.
	res, err := newPipeline().Aggregate(ds, Request{
		Variable: "DBT",
		Kind:     KindMonthlySummary,
		Units:    catalog.Imperial,
		Filter:   Between("DBT", 20, 100),
	})
	require.NoError(t, err)

	require.NotNil(t, res.Monthly.Annual.Min)
	assert.GreaterOrEqual(t, *res.Monthly.Annual.Min, 68.0-1e-9)
	assert.Equal(t, "°F", res.Unit)
}

func TestImperialConversion(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	metric, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindDailyProfile})
	require.NoError(t, err)
	imperial, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindDailyProfile, Units: catalog.Imperial})
	require.NoError(t, err)

	for h := range metric.Daily.Hours {
		m := *metric.Daily.Hours[h].Mean
		i := *imperial.Daily.Hours[h].Mean
		assert.InDelta(t, m*1.8+32, i, 1e-9)
		assert.InDelta(t, m, p.Catalog().ToMetric("DBT", i, catalog.Imperial), 1e-9)
	}
	assert.Equal(t, catalog.Metric, metric.Units)
	assert.Equal(t, "°C", metric.Unit)
}

func TestHeatmapGrid(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	t.Run("by day", func(t *testing.T) {
		res, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindHeatmap, Time: Window(1, 12, 1, 12)})
		require.NoError(t, err)

		hm := res.Heatmap
		require.Len(t, hm.Cells, 24)
		require.Len(t, hm.Columns, 365)
		for h, row := range hm.Cells {
			require.Len(t, row, 365)
			for _, c := range row {
				if h < 12 {
					assert.NotNil(t, c)
				} else {
					assert.Nil(t, c, "hour %d should be missing, not zero", h+1)
				}
			}
		}
		want := testutil.Climate(1, 1, 3, 1)["DBT"]
		assert.InDelta(t, want, *hm.Cells[2][0], 1e-9)
		assert.LessOrEqual(t, *hm.Min, *hm.Max)
	})

	t.Run("by month", func(t *testing.T) {
		res, err := p.Aggregate(ds, Request{Variable: "RH", Kind: KindHeatmap, Axis: AxisMonth})
		require.NoError(t, err)

		hm := res.Heatmap
		require.Len(t, hm.Columns, 12)
		assert.Equal(t, AxisMonth, hm.Axis)
		sum := 0.0
		for d := 1; d <= 31; d++ {
			sum += testutil.Climate(1, d, 5, d)["RH"]
		}
		assert.InDelta(t, sum/31, *hm.Cells[4][0], 1e-9)
	})
}

func TestBinnedSummaryNormalization(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	cases := []Request{
		{Variable: "DBT", Kind: KindBinnedSummary, Normalize: true},
		{Variable: "DBT", Kind: KindBinnedSummary, Normalize: true, Bins: 37, ByMonth: true},
		{Variable: "RH", Kind: KindBinnedSummary, Normalize: true, Time: Window(7, 8, 10, 14)},
		{Variable: "GHrad", Kind: KindBinnedSummary, Normalize: true, Filter: Between("GHrad", 100, 300), Units: catalog.Imperial},
		{Variable: "wind_speed", Kind: KindBinnedSummary, Normalize: true, Bins: 1},
	}
	for _, req := range cases {
		res, err := p.Aggregate(ds, req)
		require.NoError(t, err)

		h := res.Histogram
		sum := 0.0
		for _, c := range h.Counts {
			sum += c
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "%+v", req)
		assert.True(t, h.Normalized)
		assert.Len(t, h.Edges, len(h.Counts)+1)

		if req.ByMonth {
			grid := 0.0
			for _, m := range h.ByMonth {
				for _, c := range m {
					grid += c
				}
			}
			assert.InDelta(t, 1.0, grid, 1e-6)
		}
	}
}

func TestBinnedSummaryCounts(t *testing.T) {
	ds := testutil.Dataset(t, false, func(month, day, hour, doy int) map[string]float64 {
		return map[string]float64{"X": float64(hour - 1)}
	})

	res, err := newPipeline().Aggregate(ds, Request{Variable: "X", Kind: KindBinnedSummary, Bins: 4, BinRange: &[2]float64{0, 12}})
	require.NoError(t, err)

	h := res.Histogram
	assert.Equal(t, []float64{0, 3, 6, 9, 12}, h.Edges)
	// hours 0..11 inside, 12 on the last edge, 13..23 outside
	assert.Equal(t, []float64{3 * 365, 3 * 365, 3 * 365, 4 * 365}, h.Counts)
	assert.Equal(t, 11*365, h.Outside)
	assert.False(t, h.Normalized)
}

func TestBinnedSummaryConstantColumn(t *testing.T) {
	ds := testutil.Dataset(t, false, func(month, day, hour, doy int) map[string]float64 {
		return map[string]float64{"X": 7}
	})

	res, err := newPipeline().Aggregate(ds, Request{Variable: "X", Kind: KindBinnedSummary, Bins: 3, Normalize: true})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Histogram.Outside)
	assert.InDelta(t, 1.0, res.Histogram.Counts[1], 1e-12)
}

func TestBinnedSummaryRangeExcludesEverything(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)

	_, err := newPipeline().Aggregate(ds, Request{Variable: "RH", Kind: KindBinnedSummary, BinRange: &[2]float64{500, 600}})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestScatter(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)

	bi, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindBivariateScatter, YVariable: "RH", Time: Window(1, 1, 1, 24)})
	require.NoError(t, err)
	require.Len(t, bi.Scatter.Points, 31*24)
	assert.Nil(t, bi.Scatter.Color)
	assert.Nil(t, bi.Scatter.Points[0].Color)
	assert.Equal(t, "Relative humidity", bi.Scatter.Y.DisplayName)

	first := testutil.Climate(1, 1, 1, 1)
	assert.InDelta(t, first["DBT"], bi.Scatter.Points[0].X, 1e-12)
	assert.InDelta(t, first["RH"], bi.Scatter.Points[0].Y, 1e-12)

	tri, err := p.Aggregate(ds, Request{
		Variable:      "DBT",
		Kind:          KindTrivariateScatter,
		YVariable:     "RH",
		ColorVariable: "wind_speed",
		Units:         catalog.Imperial,
	})
	require.NoError(t, err)
	require.Len(t, tri.Scatter.Points, ds.Len())
	require.NotNil(t, tri.Scatter.Color)
	assert.Equal(t, "fpm", tri.Scatter.Color.Unit)
	assert.InDelta(t, first["wind_speed"]*196.8504, *tri.Scatter.Points[0].Color, 1e-9)
}

func TestMonthlySummary(t *testing.T) {
	ds := testutil.Dataset(t, false, func(month, day, hour, doy int) map[string]float64 {
		return map[string]float64{"X": float64(hour)}
	})

	res, err := newPipeline().Aggregate(ds, Request{Variable: "X", Kind: KindMonthlySummary})
	require.NoError(t, err)

	jan := res.Monthly.Months[0]
	assert.Equal(t, 31*24, jan.Count)
	assert.InDelta(t, 12.5, *jan.Mean, 1e-9)
	assert.InDelta(t, 12.5, *jan.Median, 1e-9)
	assert.Equal(t, 1.0, *jan.Min)
	assert.Equal(t, 24.0, *jan.Max)
	assert.Equal(t, ds.Len(), res.Monthly.Annual.Count)
	assert.Equal(t, "Year", res.Monthly.Annual.MonthName)
	assert.InDelta(t, *jan.Std, *res.Monthly.Annual.Std, 0.01)
}

func TestVariableUnavailable(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, func(month, day, hour, doy int) map[string]float64 {
		return map[string]float64{"DBT": 10, "SnowD": models.NotAvailable}
	})

	requests := []Request{
		{Variable: "SnowD", Kind: KindYearlyProfile},
		{Variable: "SnowD", Kind: KindHeatmap, Time: Window(6, 6, 1, 24)},
		{Variable: "SnowD", Kind: KindBinnedSummary, Filter: Between("DBT", 100, 200)},
		{Variable: "SnowD", Kind: KindDailyProfile, Filter: &ValueFilter{Variable: "DBT"}},
		{Variable: "SnowD", Kind: KindMonthlySummary, Time: &TimeWindow{}},
		{Variable: "DBT", Kind: KindBivariateScatter, YVariable: "SnowD"},
	}
	for _, req := range requests {
		_, err := p.Aggregate(ds, req)
		assert.ErrorIs(t, err, ErrVariableUnavailable, "%+v", req)
	}
}

func TestRequestErrors(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)
	one := 1

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown variable", Request{Variable: "nope", Kind: KindYearlyProfile}, ErrUnknownVariable},
		{"unknown filter variable", Request{Variable: "DBT", Kind: KindYearlyProfile, Filter: Between("nope", 0, 1)}, ErrUnknownVariable},
		{"unknown y variable", Request{Variable: "DBT", Kind: KindBivariateScatter, YVariable: "nope"}, ErrUnknownVariable},
		{"missing y variable", Request{Variable: "DBT", Kind: KindBivariateScatter}, ErrInvalidRequest},
		{"missing colour variable", Request{Variable: "DBT", Kind: KindTrivariateScatter, YVariable: "RH"}, ErrInvalidRequest},
		{"unknown kind", Request{Variable: "DBT", Kind: "pie"}, ErrInvalidRequest},
		{"unknown units", Request{Variable: "DBT", Kind: KindHeatmap, Units: "kelvin"}, ErrInvalidRequest},
		{"unknown axis", Request{Variable: "DBT", Kind: KindHeatmap, Axis: "week"}, ErrInvalidRequest},
		{"filter min missing", Request{Variable: "DBT", Kind: KindHeatmap, Filter: &ValueFilter{Variable: "RH", Max: new(float64)}}, ErrMissingRequiredBound},
		{"filter max missing", Request{Variable: "DBT", Kind: KindHeatmap, Filter: &ValueFilter{Variable: "RH", Min: new(float64)}}, ErrMissingRequiredBound},
		{"filter variable missing", Request{Variable: "DBT", Kind: KindHeatmap, Filter: &ValueFilter{}}, ErrMissingRequiredBound},
		{"month bound missing", Request{Variable: "DBT", Kind: KindHeatmap, Time: &TimeWindow{Months: Range{From: &one}, Hours: IntRange(1, 24)}}, ErrMissingRequiredBound},
		{"hour bound missing", Request{Variable: "DBT", Kind: KindHeatmap, Time: &TimeWindow{Months: IntRange(1, 12)}}, ErrMissingRequiredBound},
		{"crossed months", Request{Variable: "DBT", Kind: KindHeatmap, Time: Window(11, 2, 1, 24)}, ErrInvalidRange},
		{"crossed hours", Request{Variable: "DBT", Kind: KindHeatmap, Time: Window(1, 12, 20, 6)}, ErrInvalidRange},
		{"month out of axis", Request{Variable: "DBT", Kind: KindHeatmap, Time: Window(0, 12, 1, 24)}, ErrInvalidRange},
		{"hour out of axis", Request{Variable: "DBT", Kind: KindHeatmap, Time: Window(1, 12, 1, 25)}, ErrInvalidRange},
		{"crossed filter", Request{Variable: "DBT", Kind: KindHeatmap, Filter: Between("RH", 80, 20)}, ErrInvalidRange},
		{"bad band", Request{Variable: "DBT", Kind: KindYearlyProfile, Band: &Band{Low: 90, High: 10}}, ErrInvalidRange},
		{"too many bins", Request{Variable: "DBT", Kind: KindBinnedSummary, Bins: MaxBins + 1}, ErrInvalidRange},
		{"empty bin range", Request{Variable: "DBT", Kind: KindBinnedSummary, BinRange: &[2]float64{5, 5}}, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Aggregate(ds, tt.req)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.False(t, perr.IsTransient())
		})
	}
}

func TestNilDataset(t *testing.T) {
	_, err := newPipeline().Aggregate(nil, Request{Variable: "DBT", Kind: KindYearlyProfile})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAggregateDoesNotMutateDataset(t *testing.T) {
	ds := testutil.Dataset(t, false, testutil.Climate)
	before, _ := ds.Column("DBT")
	snapshot := append([]float64(nil), before...)

	p := newPipeline()
	for _, kind := range Kinds() {
		_, err := p.Aggregate(ds, Request{
			Variable:      "DBT",
			Kind:          kind,
			Units:         catalog.Imperial,
			YVariable:     "RH",
			ColorVariable: "GHrad",
			Filter:        Between("RH", 40, 70),
		})
		require.NoError(t, err)
	}

	after, _ := ds.Column("DBT")
	assert.Equal(t, snapshot, after)
}

func TestAggregateIsSafeForConcurrentUse(t *testing.T) {
	p := newPipeline()
	ds := testutil.Dataset(t, false, testutil.Climate)
	want, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindHeatmap})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Aggregate(ds, Request{Variable: "DBT", Kind: KindHeatmap})
			if err != nil {
				errs <- err
				return
			}
			if !assert.ObjectsAreEqual(want, got) {
				errs <- errors.New("concurrent result differs")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := newError(CodeInvalidRange, "time.months", "range %d-%d is crossed", 11, 2)
	assert.Equal(t, "time.months: range 11-2 is crossed", err.Error())
	assert.Equal(t, "no data left after filtering", ErrEmptyResult.Error())
}

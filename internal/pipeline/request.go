package pipeline

import (
	"math"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/models"
)

// Kind selects the shape of the aggregation result.
type Kind string

const (
	KindYearlyProfile     Kind = "yearly-profile"
	KindDailyProfile      Kind = "daily-profile"
	KindHeatmap           Kind = "heatmap-grid"
	KindBinnedSummary     Kind = "custom-binned-summary"
	KindBivariateScatter  Kind = "bivariate-scatter"
	KindTrivariateScatter Kind = "trivariate-scatter"
	KindMonthlySummary    Kind = "monthly-summary"
)

// Kinds lists every supported aggregation kind.
func Kinds() []Kind {
	return []Kind{
		KindYearlyProfile,
		KindDailyProfile,
		KindHeatmap,
		KindBinnedSummary,
		KindBivariateScatter,
		KindTrivariateScatter,
		KindMonthlySummary,
	}
}

func (k Kind) valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// HeatmapAxis selects the column axis of a heatmap grid.
type HeatmapAxis string

const (
	AxisDay   HeatmapAxis = "day"
	AxisMonth HeatmapAxis = "month"
)

const (
	DefaultBins = 10
	MaxBins     = 200
)

// DefaultBand is the percentile band used by profiles when none is requested.
var DefaultBand = Band{Low: 10, High: 90}

// Range is an inclusive integer range. A nil end is a missing bound.
type Range struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

// IntRange builds a fully bounded Range.
func IntRange(from, to int) Range {
	return Range{From: &from, To: &to}
}

// TimeWindow restricts rows to a month range and an hour range.
type TimeWindow struct {
	Months Range `json:"months"`
	Hours  Range `json:"hours"`
}

// Window builds a fully bounded TimeWindow.
func Window(monthFrom, monthTo, hourFrom, hourTo int) *TimeWindow {
	return &TimeWindow{Months: IntRange(monthFrom, monthTo), Hours: IntRange(hourFrom, hourTo)}
}

// ValueFilter keeps rows whose Variable lies within [Min, Max] in native units.
type ValueFilter struct {
	Variable string   `json:"variable"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
}

// Between builds a fully bounded ValueFilter.
func Between(variable string, min, max float64) *ValueFilter {
	return &ValueFilter{Variable: variable, Min: &min, Max: &max}
}

// Band is a pair of percentiles in [0, 100].
type Band struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Request is the immutable input of Aggregate. Filter bounds are in native
// (metric) units, the same units the dataset stores. BinRange and every
// value in the Result are in Units. Callers holding user input in Units
// convert filter bounds with catalog.ToMetric first.
type Request struct {
	Variable string
	Kind     Kind
	Units    catalog.UnitSystem

	Time   *TimeWindow
	Filter *ValueFilter

	// Profiles
	Band *Band

	// Heatmap
	Axis HeatmapAxis

	// Binned summary
	Bins      int
	BinRange  *[2]float64
	Normalize bool
	ByMonth   bool

	// Scatter
	YVariable     string
	ColorVariable string
}

// variables returns the columns whose availability must be checked.
func (r Request) variables() []string {
	vars := []string{r.Variable}
	switch r.Kind {
	case KindBivariateScatter:
		vars = append(vars, r.YVariable)
	case KindTrivariateScatter:
		vars = append(vars, r.YVariable, r.ColorVariable)
	}
	return vars
}

// checkShape validates the parts of a request that do not depend on filters.
func checkShape(ds *models.Dataset, r *Request) error {
	if ds == nil || ds.Len() == 0 {
		return newError(CodeInvalidRequest, "dataset", "dataset is empty")
	}
	if !r.Kind.valid() {
		return newError(CodeInvalidRequest, "kind", "unsupported aggregation kind %q", r.Kind)
	}
	switch r.Units {
	case "":
		r.Units = catalog.Metric
	case catalog.Metric, catalog.Imperial:
	default:
		return newError(CodeInvalidRequest, "units", "unsupported unit system %q", r.Units)
	}

	if r.Kind == KindBivariateScatter || r.Kind == KindTrivariateScatter {
		if r.YVariable == "" {
			return newError(CodeInvalidRequest, "y_variable", "scatter requires a y variable")
		}
		if r.Kind == KindTrivariateScatter && r.ColorVariable == "" {
			return newError(CodeInvalidRequest, "color_variable", "trivariate scatter requires a colour variable")
		}
	}

	for _, v := range r.variables() {
		if !ds.HasColumn(v) {
			return newError(CodeUnknownVariable, "variable", "dataset has no column %q", v)
		}
	}
	return nil
}

// checkOptions validates filters and kind-specific options, filling defaults.
func checkOptions(ds *models.Dataset, r *Request) error {
	if r.Time != nil {
		if err := checkRange("time.months", r.Time.Months, 1, 12); err != nil {
			return err
		}
		if err := checkRange("time.hours", r.Time.Hours, 1, 24); err != nil {
			return err
		}
	}

	if f := r.Filter; f != nil {
		if f.Variable == "" {
			return newError(CodeMissingRequiredBound, "filter.variable", "value filter needs a variable")
		}
		if !ds.HasColumn(f.Variable) {
			return newError(CodeUnknownVariable, "filter.variable", "dataset has no column %q", f.Variable)
		}
		if f.Min == nil {
			return newError(CodeMissingRequiredBound, "filter.min", "value filter is enabled but min is missing")
		}
		if f.Max == nil {
			return newError(CodeMissingRequiredBound, "filter.max", "value filter is enabled but max is missing")
		}
		if math.IsNaN(*f.Min) || math.IsNaN(*f.Max) {
			return newError(CodeInvalidRange, "filter", "bounds must be numbers")
		}
		if *f.Min > *f.Max {
			return newError(CodeInvalidRange, "filter", "min %g is greater than max %g", *f.Min, *f.Max)
		}
	}

	if r.Band == nil {
		b := DefaultBand
		r.Band = &b
	} else if b := r.Band; b.Low < 0 || b.High > 100 || b.Low > b.High {
		return newError(CodeInvalidRange, "band", "percentiles must satisfy 0 <= low <= high <= 100")
	}

	switch r.Axis {
	case "":
		r.Axis = AxisDay
	case AxisDay, AxisMonth:
	default:
		return newError(CodeInvalidRequest, "axis", "heatmap axis must be %q or %q", AxisDay, AxisMonth)
	}

	if r.Bins == 0 {
		r.Bins = DefaultBins
	}
	if r.Bins < 0 || r.Bins > MaxBins {
		return newError(CodeInvalidRange, "bins", "bins must be between 1 and %d", MaxBins)
	}
	if br := r.BinRange; br != nil && !(br[0] < br[1]) {
		return newError(CodeInvalidRange, "bin_range", "bin range lower edge must be below the upper edge")
	}
	return nil
}

func checkRange(field string, rg Range, lo, hi int) error {
	if rg.From == nil || rg.To == nil {
		return newError(CodeMissingRequiredBound, field, "range is enabled but a bound is missing")
	}
	from, to := *rg.From, *rg.To
	if from < lo || to > hi {
		return newError(CodeInvalidRange, field, "range must lie within [%d, %d]", lo, hi)
	}
	if from > to {
		return newError(CodeInvalidRange, field, "range %d-%d is crossed", from, to)
	}
	return nil
}

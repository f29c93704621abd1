// Package pipeline filters an hourly weather dataset and reduces it into the
// numeric shapes the dashboard charts consume: yearly and daily profiles,
// heatmap grids, binned distributions, scatter point clouds and monthly
// descriptive tables.
//
// Aggregate is a pure function of its inputs. It never mutates the dataset
// and holds no state, so one Pipeline may serve concurrent requests.
package pipeline

import (
	"climate-explorer/internal/catalog"
	"climate-explorer/internal/models"
)

// Pipeline binds the variable catalog used for unit conversion and labels.
type Pipeline struct {
	catalog *catalog.Catalog
}

// New returns a Pipeline using cat. A nil cat selects the built-in catalog.
func New(cat *catalog.Catalog) *Pipeline {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Pipeline{catalog: cat}
}

// Catalog returns the catalog the pipeline converts with.
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// sample is the set of rows that survived filtering, with the primary
// variable already converted to the requested units.
type sample struct {
	ds     *models.Dataset
	rows   []int
	values []float64
}

// Aggregate filters ds according to req and reduces the surviving rows.
//
// Order of evaluation: request shape, variable availability, filter
// validation, time filter, value filter, unit conversion, reduction.
func (p *Pipeline) Aggregate(ds *models.Dataset, req Request) (*Result, error) {
	if err := checkShape(ds, &req); err != nil {
		return nil, err
	}

	for _, v := range req.variables() {
		if m, _ := ds.ColumnMean(v); m == models.NotAvailable {
			return nil, newError(CodeVariableUnavailable, "variable", "%s is not available in this dataset", p.catalog.DisplayName(v))
		}
	}

	if err := checkOptions(ds, &req); err != nil {
		return nil, err
	}

	rows := selectRows(ds, req.Time, req.Filter)
	if len(rows) == 0 {
		return nil, newError(CodeEmptyResult, "", "no data left after filtering for %s", p.catalog.DisplayName(req.Variable))
	}

	s := sample{
		ds:     ds,
		rows:   rows,
		values: p.convert(ds, req.Variable, rows, req.Units),
	}

	res := &Result{
		Kind:        req.Kind,
		Variable:    req.Variable,
		DisplayName: p.catalog.DisplayName(req.Variable),
		Unit:        p.catalog.UnitLabel(req.Variable, req.Units),
		Units:       req.Units,
		Rows:        len(rows),
	}

	switch req.Kind {
	case KindYearlyProfile:
		res.Yearly = yearlyProfile(s, *req.Band)
	case KindDailyProfile:
		res.Daily = dailyProfile(s, *req.Band)
	case KindHeatmap:
		res.Heatmap = heatmapGrid(s, req.Axis)
	case KindBinnedSummary:
		h, err := histogram(s, req.Bins, req.BinRange, req.Normalize, req.ByMonth)
		if err != nil {
			return nil, err
		}
		res.Histogram = h
	case KindBivariateScatter, KindTrivariateScatter:
		res.Scatter = p.scatter(s, req)
	case KindMonthlySummary:
		res.Monthly = monthlySummary(s)
	}
	return res, nil
}

// selectRows applies the time window and then the value filter. Both are
// inclusive and either may be nil.
func selectRows(ds *models.Dataset, tw *TimeWindow, vf *ValueFilter) []int {
	stamps := ds.Stamps()

	var filterCol []float64
	var lo, hi float64
	if vf != nil {
		filterCol, _ = ds.Column(vf.Variable)
		lo, hi = *vf.Min, *vf.Max
	}

	rows := make([]int, 0, len(stamps))
	for i, st := range stamps {
		if tw != nil {
			if st.Month < *tw.Months.From || st.Month > *tw.Months.To {
				continue
			}
			if st.Hour < *tw.Hours.From || st.Hour > *tw.Hours.To {
				continue
			}
		}
		if filterCol != nil {
			if v := filterCol[i]; v < lo || v > hi {
				continue
			}
		}
		rows = append(rows, i)
	}
	return rows
}

func (p *Pipeline) convert(ds *models.Dataset, key string, rows []int, units catalog.UnitSystem) []float64 {
	col, _ := ds.Column(key)
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = p.catalog.Convert(key, col[r], units)
	}
	return out
}

package pipeline

import (
	"math"

	"climate-explorer/internal/models"
)

// yearlyProfile emits one entry per calendar day of the dataset. Days whose
// hours were all filtered out keep their slot with nil statistics.
func yearlyProfile(s sample, band Band) []DayStat {
	stamps := s.ds.Stamps()
	days := make([]DayStat, s.ds.Days())
	for _, st := range stamps {
		d := &days[st.DayOfYear-1]
		if d.DayOfYear == 0 {
			d.DayOfYear = st.DayOfYear
			d.Month = st.Month
			d.Day = st.Day
			d.MonthName = st.MonthName
		}
	}

	groups := make([][]float64, len(days))
	for i, r := range s.rows {
		doy := stamps[r].DayOfYear - 1
		groups[doy] = append(groups[doy], s.values[i])
	}
	for i := range days {
		days[i].Stat = summarize(groups[i], band)
	}
	return days
}

func dailyProfile(s sample, band Band) *DailyProfile {
	stamps := s.ds.Stamps()

	var byHour [24][]float64
	var sums [12][24]float64
	var counts [12][24]int
	for i, r := range s.rows {
		st := stamps[r]
		v := s.values[i]
		byHour[st.Hour-1] = append(byHour[st.Hour-1], v)
		sums[st.Month-1][st.Hour-1] += v
		counts[st.Month-1][st.Hour-1]++
	}

	dp := &DailyProfile{
		Band:   band,
		Hours:  make([]HourStat, 24),
		Months: make([]MonthHours, 12),
	}
	for h := 0; h < 24; h++ {
		dp.Hours[h] = HourStat{Hour: h + 1, Stat: summarize(byHour[h], band)}
	}
	for m := 0; m < 12; m++ {
		mh := MonthHours{Month: m + 1, MonthName: models.MonthNames[m]}
		for h := 0; h < 24; h++ {
			if counts[m][h] > 0 {
				mh.Means[h] = ptr(sums[m][h] / float64(counts[m][h]))
			}
		}
		dp.Months[m] = mh
	}
	return dp
}

func heatmapGrid(s sample, axis HeatmapAxis) *Heatmap {
	stamps := s.ds.Stamps()

	cols := s.ds.Days()
	column := func(st models.Stamp) int { return st.DayOfYear - 1 }
	if axis == AxisMonth {
		cols = 12
		column = func(st models.Stamp) int { return st.Month - 1 }
	}

	sums := make([][]float64, 24)
	counts := make([][]int, 24)
	for h := range sums {
		sums[h] = make([]float64, cols)
		counts[h] = make([]int, cols)
	}
	for i, r := range s.rows {
		st := stamps[r]
		c := column(st)
		sums[st.Hour-1][c] += s.values[i]
		counts[st.Hour-1][c]++
	}

	hm := &Heatmap{
		Axis:    axis,
		Hours:   make([]int, 24),
		Columns: make([]int, cols),
		Cells:   make([][]*float64, 24),
	}
	for c := range hm.Columns {
		hm.Columns[c] = c + 1
	}
	for h := 0; h < 24; h++ {
		hm.Hours[h] = h + 1
		row := make([]*float64, cols)
		for c := 0; c < cols; c++ {
			if counts[h][c] == 0 {
				continue
			}
			v := sums[h][c] / float64(counts[h][c])
			row[c] = ptr(v)
			if hm.Min == nil || v < *hm.Min {
				hm.Min = ptr(v)
			}
			if hm.Max == nil || v > *hm.Max {
				hm.Max = ptr(v)
			}
		}
		hm.Cells[h] = row
	}
	return hm
}

// histogram bins values into equal-width bins. Without an explicit range the
// observed min and max are used; a degenerate range is widened by half a unit
// on each side so that every value still lands in a bin.
func histogram(s sample, bins int, binRange *[2]float64, normalize, byMonth bool) (*Histogram, error) {
	var lo, hi float64
	if binRange != nil {
		lo, hi = binRange[0], binRange[1]
	} else {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range s.values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if lo == hi {
			lo -= 0.5
			hi += 0.5
		}
	}

	width := (hi - lo) / float64(bins)
	h := &Histogram{
		Edges:      make([]float64, bins+1),
		Counts:     make([]float64, bins),
		Normalized: normalize,
	}
	for i := range h.Edges {
		h.Edges[i] = lo + float64(i)*width
	}
	h.Edges[bins] = hi
	if byMonth {
		h.ByMonth = make([][]float64, 12)
		for m := range h.ByMonth {
			h.ByMonth[m] = make([]float64, bins)
		}
	}

	stamps := s.ds.Stamps()
	total := 0.0
	for i, v := range s.values {
		if v < lo || v > hi {
			h.Outside++
			continue
		}
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		h.Counts[b]++
		if byMonth {
			h.ByMonth[stamps[s.rows[i]].Month-1][b]++
		}
		total++
	}

	if total == 0 {
		return nil, newError(CodeEmptyResult, "bin_range", "no values fall inside the bin range [%g, %g]", lo, hi)
	}

	if normalize {
		for b := range h.Counts {
			h.Counts[b] /= total
		}
		for m := range h.ByMonth {
			for b := range h.ByMonth[m] {
				h.ByMonth[m][b] /= total
			}
		}
	}
	return h, nil
}

func (p *Pipeline) scatter(s sample, req Request) *Scatter {
	stamps := s.ds.Stamps()
	ys := p.convert(s.ds, req.YVariable, s.rows, req.Units)

	var colors []float64
	sc := &Scatter{
		X:      p.axis(req.Variable, req),
		Y:      p.axis(req.YVariable, req),
		Points: make([]Point, len(s.rows)),
	}
	if req.Kind == KindTrivariateScatter {
		colors = p.convert(s.ds, req.ColorVariable, s.rows, req.Units)
		ax := p.axis(req.ColorVariable, req)
		sc.Color = &ax
	}

	for i, r := range s.rows {
		st := stamps[r]
		pt := Point{
			Month:     st.Month,
			Day:       st.Day,
			Hour:      st.Hour,
			DayOfYear: st.DayOfYear,
			X:         s.values[i],
			Y:         ys[i],
		}
		if colors != nil {
			pt.Color = ptr(colors[i])
		}
		sc.Points[i] = pt
	}
	return sc
}

func (p *Pipeline) axis(key string, req Request) Axis {
	return Axis{
		Variable:    key,
		DisplayName: p.catalog.DisplayName(key),
		Unit:        p.catalog.UnitLabel(key, req.Units),
	}
}

func monthlySummary(s sample) *MonthlySummary {
	stamps := s.ds.Stamps()

	var groups [12][]float64
	for i, r := range s.rows {
		m := stamps[r].Month - 1
		groups[m] = append(groups[m], s.values[i])
	}

	ms := &MonthlySummary{Months: make([]Summary, 12)}
	for m := 0; m < 12; m++ {
		sm := describe(groups[m])
		sm.Month = m + 1
		sm.MonthName = models.MonthNames[m]
		ms.Months[m] = sm
	}
	ms.Annual = describe(s.values)
	ms.Annual.MonthName = "Year"
	return ms
}

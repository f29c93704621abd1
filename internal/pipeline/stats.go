package pipeline

import (
	"math"
	"sort"
)

func ptr(v float64) *float64 { return &v }

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile interpolates linearly between closest ranks of an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func sortedCopy(values []float64) []float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	return s
}

func summarize(values []float64, band Band) Stat {
	st := Stat{Count: len(values)}
	if len(values) == 0 {
		return st
	}
	s := sortedCopy(values)
	st.Mean = ptr(mean(s))
	st.Min = ptr(s[0])
	st.Max = ptr(s[len(s)-1])
	st.Low = ptr(percentile(s, band.Low))
	st.High = ptr(percentile(s, band.High))
	return st
}

func describe(values []float64) Summary {
	sm := Summary{Count: len(values)}
	if len(values) == 0 {
		return sm
	}
	s := sortedCopy(values)
	m := mean(s)
	sm.Mean = ptr(m)
	sm.Min = ptr(s[0])
	sm.Max = ptr(s[len(s)-1])
	sm.P25 = ptr(percentile(s, 25))
	sm.Median = ptr(percentile(s, 50))
	sm.P75 = ptr(percentile(s, 75))

	// sample standard deviation, undefined for a single value
	if len(s) > 1 {
		ss := 0.0
		for _, v := range s {
			ss += (v - m) * (v - m)
		}
		sm.Std = ptr(math.Sqrt(ss / float64(len(s)-1)))
	}
	return sm
}

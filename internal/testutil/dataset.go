// Package testutil builds synthetic hourly datasets for package tests.
package testutil

import (
	"bytes"
	"math"
	"sort"
	"strconv"
	"strings"
	"testing"

	"climate-explorer/internal/models"
)

// Generator produces the variable values of one synthetic row.
type Generator func(month, day, hour, dayOfYear int) map[string]float64

// DaysInMonth returns the month lengths of a standard or leap year.
func DaysInMonth(leap bool) [12]int {
	d := [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	if leap {
		d[1] = 29
	}
	return d
}

// Year builds a full year of hourly observations.
func Year(leap bool, gen Generator) []models.Observation {
	rows := make([]models.Observation, 0, models.HoursPerLeapYear)
	doy := 0
	for m, days := range DaysInMonth(leap) {
		for d := 1; d <= days; d++ {
			doy++
			for h := 1; h <= 24; h++ {
				rows = append(rows, models.Observation{
					Month:     m + 1,
					Day:       d,
					Hour:      h,
					MonthName: models.MonthNames[m],
					Values:    gen(m+1, d, h, doy),
				})
			}
		}
	}
	return rows
}

// Climate is a smooth generator covering the variables most tests touch.
// DBT swings daily and seasonally, RH mirrors it, GHrad is zero at night and
// never exactly 500.
func Climate(month, day, hour, doy int) map[string]float64 {
	season := math.Sin(2 * math.Pi * float64(doy-80) / 365)
	diurnal := math.Sin(2 * math.Pi * float64(hour-9) / 24)
	dbt := 12 + 10*season + 5*diurnal
	rh := 60 - 20*diurnal + float64(month)
	gh := 0.0
	if hour >= 7 && hour <= 18 {
		gh = 450*math.Sin(math.Pi*float64(hour-6)/13) + 3.3
	}
	return map[string]float64{
		"DBT":        dbt,
		"RH":         rh,
		"GHrad":      gh,
		"wind_speed": 3 + float64(hour%5),
	}
}

// Dataset builds a validated dataset or fails the test.
func Dataset(t testing.TB, leap bool, gen Generator) *models.Dataset {
	t.Helper()
	ds, err := models.NewDataset(models.DatasetInfo{ID: "test", Name: "synthetic"}, Year(leap, gen))
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	return ds
}

// CSV renders a synthetic year as an upload body with month, day, hour and
// the generator's columns in key order.
func CSV(leap bool, gen Generator) []byte {
	rows := Year(leap, gen)
	keys := make([]string, 0, len(rows[0].Values))
	for k := range rows[0].Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("month,day,hour," + strings.Join(keys, ",") + "\n")
	for _, r := range rows {
		buf.WriteString(strconv.Itoa(r.Month) + "," + strconv.Itoa(r.Day) + "," + strconv.Itoa(r.Hour))
		for _, k := range keys {
			buf.WriteByte(',')
			buf.WriteString(strconv.FormatFloat(r.Values[k], 'g', -1, 64))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

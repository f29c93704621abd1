package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NotAvailable is the value a whole column carries when the source file does
// not provide that variable.
const NotAvailable = 99990.0

const (
	HoursPerYear     = 8760
	HoursPerLeapYear = 8784
)

// MonthNames holds the month labels used when a source omits month_names.
var MonthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Observation is one hourly row of a weather dataset as produced by a loader.
type Observation struct {
	Month     int                `json:"month" db:"month"`
	Day       int                `json:"day" db:"day"`
	Hour      int                `json:"hour" db:"hour"`
	MonthName string             `json:"month_name" db:"month_name"`
	Values    map[string]float64 `json:"values"`
}

// Stamp is the calendar position of a dataset row.
type Stamp struct {
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	Hour      int    `json:"hour"`
	MonthName string `json:"month_name"`
	DayOfYear int    `json:"day_of_year"`
}

// Location describes where a dataset was recorded
type Location struct {
	City      string  `json:"city,omitempty" db:"city"`
	Country   string  `json:"country,omitempty" db:"country"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	TimeZone  float64 `json:"time_zone" db:"time_zone"`
}

// DatasetInfo is the persisted header of a dataset
type DatasetInfo struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Location  Location  `json:"location"`
	RowCount  int       `json:"row_count" db:"row_count"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Dataset is an immutable hourly annual time series stored column-wise.
// Slices returned by Column and Stamps are shared and must not be modified.
type Dataset struct {
	info    DatasetInfo
	stamps  []Stamp
	columns map[string][]float64
	days    int
}

// NewDataset validates rows and builds a Dataset. The rows and their value maps
// are copied, so the caller may reuse them afterwards.
func NewDataset(info DatasetInfo, rows []Observation) (*Dataset, error) {
	if len(rows) != HoursPerYear && len(rows) != HoursPerLeapYear {
		return nil, &ValidationError{
			Field:   "rows",
			Value:   fmt.Sprintf("%d", len(rows)),
			Message: fmt.Sprintf("dataset must contain %d or %d hourly rows, got %d", HoursPerYear, HoursPerLeapYear, len(rows)),
		}
	}

	keys := make([]string, 0, len(rows[0].Values))
	for k := range rows[0].Values {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, &ValidationError{Field: "columns", Message: "dataset has no variable columns"}
	}
	sort.Strings(keys)

	columns := make(map[string][]float64, len(keys))
	for _, k := range keys {
		columns[k] = make([]float64, len(rows))
	}

	stamps := make([]Stamp, len(rows))
	doy := 0
	prevKey := -1
	prevMonth, prevDay := 0, 0

	for i, row := range rows {
		if err := checkCalendar(i, row); err != nil {
			return nil, err
		}

		key := row.Month*10000 + row.Day*100 + row.Hour
		if key <= prevKey {
			return nil, &ValidationError{
				Field:   "rows",
				Value:   fmt.Sprintf("%d", i),
				Message: fmt.Sprintf("row %d (%02d-%02d h%02d) is out of order", i, row.Month, row.Day, row.Hour),
			}
		}
		prevKey = key

		if row.Month != prevMonth || row.Day != prevDay {
			doy++
			prevMonth, prevDay = row.Month, row.Day
		}

		name := row.MonthName
		if name == "" {
			name = MonthNames[row.Month-1]
		}
		stamps[i] = Stamp{
			Month:     row.Month,
			Day:       row.Day,
			Hour:      row.Hour,
			MonthName: name,
			DayOfYear: doy,
		}

		if len(row.Values) != len(keys) {
			return nil, &ValidationError{
				Field:   "values",
				Value:   fmt.Sprintf("%d", i),
				Message: fmt.Sprintf("row %d has %d columns, expected %d", i, len(row.Values), len(keys)),
			}
		}
		for _, k := range keys {
			v, ok := row.Values[k]
			if !ok {
				return nil, &ValidationError{
					Field:   "values",
					Value:   k,
					Message: fmt.Sprintf("row %d is missing column %q", i, k),
				}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ValidationError{
					Field:   "values",
					Value:   k,
					Message: fmt.Sprintf("row %d column %q is not a finite number", i, k),
				}
			}
			columns[k][i] = v
		}
	}

	info.Columns = keys
	info.RowCount = len(rows)
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}

	return &Dataset{
		info:    info,
		stamps:  stamps,
		columns: columns,
		days:    doy,
	}, nil
}

func checkCalendar(i int, row Observation) error {
	switch {
	case row.Month < 1 || row.Month > 12:
		return &ValidationError{Field: "month", Value: fmt.Sprintf("%d", row.Month), Message: fmt.Sprintf("row %d: month must be 1-12", i)}
	case row.Day < 1 || row.Day > 31:
		return &ValidationError{Field: "day", Value: fmt.Sprintf("%d", row.Day), Message: fmt.Sprintf("row %d: day must be 1-31", i)}
	case row.Hour < 1 || row.Hour > 24:
		return &ValidationError{Field: "hour", Value: fmt.Sprintf("%d", row.Hour), Message: fmt.Sprintf("row %d: hour must be 1-24", i)}
	}
	return nil
}

// Info returns a copy of the dataset header.
func (d *Dataset) Info() DatasetInfo {
	info := d.info
	info.Columns = append([]string(nil), d.info.Columns...)
	return info
}

// ID returns the dataset identifier.
func (d *Dataset) ID() string { return d.info.ID }

// WithID returns a dataset sharing d's rows under a new identifier.
func (d *Dataset) WithID(id string) *Dataset {
	cp := *d
	cp.info = d.Info()
	cp.info.ID = id
	return &cp
}

// Len returns the number of hourly rows.
func (d *Dataset) Len() int { return len(d.stamps) }

// Days returns the number of distinct calendar days (365 or 366).
func (d *Dataset) Days() int { return d.days }

// Stamps returns the calendar position of every row.
func (d *Dataset) Stamps() []Stamp { return d.stamps }

// HasColumn reports whether key is a variable column.
func (d *Dataset) HasColumn(key string) bool {
	_, ok := d.columns[key]
	return ok
}

// Column returns the values of key in row order.
func (d *Dataset) Column(key string) ([]float64, bool) {
	c, ok := d.columns[key]
	return c, ok
}

// ColumnMean returns the arithmetic mean of a column.
func (d *Dataset) ColumnMean(key string) (float64, bool) {
	c, ok := d.columns[key]
	if !ok || len(c) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range c {
		sum += v
	}
	return sum / float64(len(c)), true
}

// Observations rebuilds the row form, used when persisting a dataset.
func (d *Dataset) Observations() []Observation {
	rows := make([]Observation, len(d.stamps))
	for i, s := range d.stamps {
		values := make(map[string]float64, len(d.columns))
		for k, c := range d.columns {
			values[k] = c[i]
		}
		rows[i] = Observation{
			Month:     s.Month,
			Day:       s.Day,
			Hour:      s.Hour,
			MonthName: s.MonthName,
			Values:    values,
		}
	}
	return rows
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

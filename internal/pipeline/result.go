package pipeline

import "climate-explorer/internal/catalog"

// Result is the aggregated view of one request. Exactly one of the
// kind-specific fields is set. Missing statistics are nil, never zero.
type Result struct {
	Kind        Kind               `json:"kind"`
	Variable    string             `json:"variable"`
	DisplayName string             `json:"display_name"`
	Unit        string             `json:"unit"`
	Units       catalog.UnitSystem `json:"units"`
	Rows        int                `json:"rows"`

	Yearly    []DayStat       `json:"yearly,omitempty"`
	Daily     *DailyProfile   `json:"daily,omitempty"`
	Heatmap   *Heatmap        `json:"heatmap,omitempty"`
	Histogram *Histogram      `json:"histogram,omitempty"`
	Scatter   *Scatter        `json:"scatter,omitempty"`
	Monthly   *MonthlySummary `json:"monthly,omitempty"`
}

// Stat summarises one group of values.
type Stat struct {
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Low   *float64 `json:"low"`
	High  *float64 `json:"high"`
}

// DayStat is one day of a yearly profile.
type DayStat struct {
	DayOfYear int    `json:"day_of_year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	MonthName string `json:"month_name"`
	Stat
}

// HourStat is one hour-of-day group of a daily profile.
type HourStat struct {
	Hour int `json:"hour"`
	Stat
}

// MonthHours holds the hourly means of one month.
type MonthHours struct {
	Month     int          `json:"month"`
	MonthName string       `json:"month_name"`
	Means     [24]*float64 `json:"means"`
}

// DailyProfile groups values by hour of day, overall and per month.
type DailyProfile struct {
	Band   Band         `json:"band"`
	Hours  []HourStat   `json:"hours"`
	Months []MonthHours `json:"months"`
}

// Heatmap holds mean values indexed [hour-1][column].
type Heatmap struct {
	Axis    HeatmapAxis  `json:"axis"`
	Hours   []int        `json:"hours"`
	Columns []int        `json:"columns"`
	Cells   [][]*float64 `json:"cells"`
	Min     *float64     `json:"min"`
	Max     *float64     `json:"max"`
}

// Histogram is a 1-D distribution with an optional month x bin breakdown.
type Histogram struct {
	Edges      []float64   `json:"edges"`
	Counts     []float64   `json:"counts"`
	ByMonth    [][]float64 `json:"by_month,omitempty"`
	Normalized bool        `json:"normalized"`
	Outside    int         `json:"outside"`
}

// Axis names one scatter coordinate.
type Axis struct {
	Variable    string `json:"variable"`
	DisplayName string `json:"display_name"`
	Unit        string `json:"unit"`
}

// Point is one scatter row.
type Point struct {
	Month     int      `json:"month"`
	Day       int      `json:"day"`
	Hour      int      `json:"hour"`
	DayOfYear int      `json:"day_of_year"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Color     *float64 `json:"color,omitempty"`
}

// Scatter passes filtered rows through as coordinates.
type Scatter struct {
	X      Axis    `json:"x"`
	Y      Axis    `json:"y"`
	Color  *Axis   `json:"color,omitempty"`
	Points []Point `json:"points"`
}

// Summary is a row of descriptive statistics.
type Summary struct {
	Month     int      `json:"month"`
	MonthName string   `json:"month_name"`
	Count     int      `json:"count"`
	Mean      *float64 `json:"mean"`
	Std       *float64 `json:"std"`
	Min       *float64 `json:"min"`
	P25       *float64 `json:"p25"`
	Median    *float64 `json:"median"`
	P75       *float64 `json:"p75"`
	Max       *float64 `json:"max"`
}

// MonthlySummary holds twelve month rows and the annual row.
type MonthlySummary struct {
	Months []Summary `json:"months"`
	Annual Summary   `json:"annual"`
}

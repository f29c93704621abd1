// Command explore runs one aggregation over a local CSV dataset without a
// server or database:
//
//	explore -file lisbon.csv -variable DBT -kind monthly-summary -units imperial -months 6-8
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"climate-explorer/internal/catalog"
	"climate-explorer/internal/ingest"
	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/services"
	"climate-explorer/pkg/logging"
)

func main() {
	file := flag.String("file", "", "CSV dataset to explore")
	catalogPath := flag.String("catalog", "", "Replacement variable catalog (YAML)")
	variable := flag.String("variable", "DBT", "Variable to aggregate")
	kind := flag.String("kind", string(pipeline.KindMonthlySummary), "Aggregation kind")
	units := flag.String("units", "metric", "metric or imperial")
	months := flag.String("months", "", "Month window, e.g. 6-8")
	hours := flag.String("hours", "", "Hour window, e.g. 8-18")
	filterVar := flag.String("filter", "", "Value filter variable")
	filterMin := flag.String("filter-min", "", "Value filter lower bound, in the chosen units")
	filterMax := flag.String("filter-max", "", "Value filter upper bound, in the chosen units")
	axis := flag.String("axis", "", "Heatmap axis: day or month")
	bins := flag.Int("bins", 0, "Histogram bin count")
	normalize := flag.Bool("normalize", false, "Normalize histogram counts")
	byMonth := flag.Bool("by-month", false, "Break histograms down by month")
	yVar := flag.String("y", "", "Scatter y variable")
	colorVar := flag.String("color", "", "Scatter color variable")
	format := flag.String("format", "table", "Output format: table or json")
	verbose := flag.Bool("v", false, "Log progress to stderr")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "explore: -file is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.NewNopLogger()
	if *verbose {
		logger = logging.NewStructuredLogger("climate-explore", "1.0.0", logging.DebugLevel)
		logger.SetOutput(os.Stderr)
	}

	state := services.WidgetState{
		Variable:      *variable,
		Kind:          pipeline.Kind(*kind),
		Units:         *units,
		Axis:          *axis,
		Bins:          *bins,
		Normalize:     *normalize,
		ByMonth:       *byMonth,
		YVariable:     *yVar,
		ColorVariable: *colorVar,
	}
	var err error
	if *months != "" || *hours != "" {
		state.ApplyTimeFilter = true
		if state.Months, err = parseRange(*months, 1, 12); err != nil {
			exit(fmt.Errorf("months: %w", err))
		}
		if state.Hours, err = parseRange(*hours, 1, 24); err != nil {
			exit(fmt.Errorf("hours: %w", err))
		}
	}
	if *filterVar != "" {
		state.ApplyDataFilter = true
		state.FilterVariable = *filterVar
		if state.FilterMin, err = parseBound(*filterMin); err != nil {
			exit(fmt.Errorf("filter-min: %w", err))
		}
		if state.FilterMax, err = parseBound(*filterMax); err != nil {
			exit(fmt.Errorf("filter-max: %w", err))
		}
	}

	cat := catalog.Default()
	if *catalogPath != "" {
		if cat, err = catalog.Load(*catalogPath); err != nil {
			exit(err)
		}
	}

	ctx := context.Background()
	ds, err := ingest.NewReader(cat, logger).ReadFile(ctx, *file)
	if err != nil {
		exit(err)
	}

	req, err := state.Request(cat)
	if err != nil {
		exit(err)
	}
	res, err := pipeline.New(cat).Aggregate(ds, req)
	if err != nil {
		exit(err)
	}

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			exit(err)
		}
		return
	}
	fmt.Printf("%s (%s) from %s, %s rows\n", res.DisplayName, res.Unit, ds.Info().Name, humanize.Comma(int64(res.Rows)))
	printTable(os.Stdout, res)
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "explore: %v\n", err)
	os.Exit(1)
}

// parseRange reads "a-b" or "a". An empty string is the full [lo, hi] range.
func parseRange(s string, lo, hi int) (pipeline.Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pipeline.IntRange(lo, hi), nil
	}
	from, to, found := strings.Cut(s, "-")
	a, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return pipeline.Range{}, err
	}
	b := a
	if found {
		if b, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return pipeline.Range{}, err
		}
	}
	return pipeline.IntRange(a, b), nil
}

func parseBound(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func cell(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// printTable renders the compact kinds as aligned columns and falls back to
// a short description for the rest.
func printTable(out io.Writer, res *pipeline.Result) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()

	switch {
	case res.Monthly != nil:
		fmt.Fprintln(tw, "month\tcount\tmean\tstd\tmin\tp25\tmedian\tp75\tmax\t")
		rows := make([]pipeline.Summary, 0, len(res.Monthly.Months)+1)
		rows = append(append(rows, res.Monthly.Months...), res.Monthly.Annual)
		for _, s := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", s.MonthName, humanize.Comma(int64(s.Count)),
				cell(s.Mean), cell(s.Std), cell(s.Min), cell(s.P25), cell(s.Median), cell(s.P75), cell(s.Max))
		}
	case res.Daily != nil:
		fmt.Fprintf(tw, "hour\tcount\tmean\tp%g\tp%g\tmin\tmax\t\n", res.Daily.Band.Low, res.Daily.Band.High)
		for _, h := range res.Daily.Hours {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t\n", h.Hour, h.Count,
				cell(h.Mean), cell(h.Low), cell(h.High), cell(h.Min), cell(h.Max))
		}
	case res.Histogram != nil:
		fmt.Fprintln(tw, "from\tto\tcount\t")
		for i, c := range res.Histogram.Counts {
			fmt.Fprintf(tw, "%.2f\t%.2f\t%g\t\n", res.Histogram.Edges[i], res.Histogram.Edges[i+1], c)
		}
		if res.Histogram.Outside > 0 {
			fmt.Fprintf(tw, "outside\t\t%d\t\n", res.Histogram.Outside)
		}
	case res.Yearly != nil:
		fmt.Fprintln(tw, "day\tdate\tcount\tmean\tmin\tmax\t")
		for _, d := range res.Yearly {
			fmt.Fprintf(tw, "%d\t%s %d\t%d\t%s\t%s\t%s\t\n", d.DayOfYear, d.MonthName, d.Day, d.Count,
				cell(d.Mean), cell(d.Min), cell(d.Max))
		}
	case res.Heatmap != nil:
		fmt.Fprintf(tw, "heatmap\t%d hours x %d %s columns, range %s .. %s\t\n",
			len(res.Heatmap.Hours), len(res.Heatmap.Columns), res.Heatmap.Axis, cell(res.Heatmap.Min), cell(res.Heatmap.Max))
	case res.Scatter != nil:
		fmt.Fprintf(tw, "scatter\t%s points, x=%s y=%s\t\n", humanize.Comma(int64(len(res.Scatter.Points))),
			res.Scatter.X.Variable, res.Scatter.Y.Variable)
	}
}

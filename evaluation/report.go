package evaluation

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/hloc/codec"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a sample. All values are zero for an empty sample.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes the summary of xs, ignoring NaN values.
func Summarize(xs []float64) Summary {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return Summary{}
	}
	slices.Sort(vals)
	return Summary{
		Count:  len(vals),
		Mean:   stat.Mean(vals, nil),
		Median: median(vals),
		Min:    floats.Min(vals),
		Max:    floats.Max(vals),
	}
}

// median of sorted values; the mean of the two middle values for even n.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Split summarizes a quantity over all queries, the correctly localized ones
// and the failed ones.
type Split struct {
	All       Summary `json:"all"`
	Correct   Summary `json:"correct"`
	Incorrect Summary `json:"incorrect"`
}

func split(records []Record, value func(Record) float64) Split {
	var all, correct, incorrect []float64
	for _, r := range records {
		v := value(r)
		all = append(all, v)
		if r.Failed() {
			incorrect = append(incorrect, v)
		} else {
			correct = append(correct, v)
		}
	}
	return Split{All: Summarize(all), Correct: Summarize(correct), Incorrect: Summarize(incorrect)}
}

// Group aggregates the records of one query subset.
type Group struct {
	Name      string `json:"name"`
	Queries   int    `json:"queries"`
	Localized int    `json:"localized"`
	Fine      int    `json:"fine"`
	Failed    int    `json:"failed"`

	Translation        Split       `json:"translation_error_m"`
	Rotation           Split       `json:"rotation_error_deg"`
	Inliers            Split       `json:"inliers"`
	InlierRate         Split       `json:"inlier_rate_pct"`
	CorrectMatchRate   Split       `json:"correct_match_rate_pct"`
	NeighborsWithMatch Split       `json:"neighbors_with_match"`
	Percentages        Percentages `json:"percentages"`
}

func newGroup(name string, records []Record) Group {
	g := Group{Name: name, Queries: len(records)}
	for _, r := range records {
		if r.Localized {
			g.Localized++
		}
		if r.Fine() {
			g.Fine++
		}
		if r.Failed() {
			g.Failed++
		}
	}

	errOrNaN := func(v func(Record) float64) func(Record) float64 {
		return func(r Record) float64 {
			if !r.Localized {
				return math.NaN()
			}
			return v(r)
		}
	}
	g.Translation = split(records, errOrNaN(func(r Record) float64 { return r.TranslationError }))
	g.Rotation = split(records, errOrNaN(func(r Record) float64 { return r.RotationError }))
	g.Inliers = split(records, func(r Record) float64 { return float64(r.NumInliers) })
	g.InlierRate = split(records, func(r Record) float64 { return 100 * r.InlierRatio })
	g.CorrectMatchRate = split(records, Record.CorrectMatchRate)
	g.NeighborsWithMatch = split(records, func(r Record) float64 { return float64(r.NeighborsWithMatch()) })
	g.Percentages = ComputePercentages(records)
	return g
}

// CauseCount lists the failed queries attributed to one cause.
type CauseCount struct {
	Cause   Cause    `json:"cause"`
	Count   int      `json:"count"`
	Queries []string `json:"queries"`
}

// Timing summarizes processing time.
type Timing struct {
	Setup  time.Duration `json:"setup"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	Max    time.Duration `json:"max"`
}

// Report is the verification report of one batch.
type Report struct {
	Queries  int          `json:"queries"`
	Failures int          `json:"failures"`
	Timing   Timing       `json:"timing"`
	Groups   []Group      `json:"groups"`
	Causes   []CauseCount `json:"causes"`
}

// Group names.
const (
	GroupAll           = "All"
	GroupDay           = "Day"
	GroupNight         = "Night"
	GroupGoodNeighbors = "Good neighbors"
	GroupBadNeighbors  = "Bad neighbors"
	GroupFine          = "Fine localized"
	GroupWrong         = "Wrongly localized"
)

// NewReport aggregates records. Every failed query is attributed to exactly
// one cause, so cause counts sum to Failures.
func NewReport(records []Record, setup time.Duration) *Report {
	rep := &Report{Queries: len(records)}

	durations := make([]float64, len(records))
	for i, r := range records {
		durations[i] = r.Duration.Seconds()
	}
	d := Summarize(durations)
	rep.Timing = Timing{
		Setup:  setup,
		Mean:   seconds(d.Mean),
		Median: seconds(d.Median),
		Max:    seconds(d.Max),
	}

	subsets := []struct {
		name string
		keep func(Record) bool
	}{
		{GroupAll, func(Record) bool { return true }},
		{GroupDay, func(r Record) bool { return !r.Night }},
		{GroupNight, func(r Record) bool { return r.Night }},
		{GroupGoodNeighbors, Record.GoodNeighbors},
		{GroupBadNeighbors, func(r Record) bool { return !r.GoodNeighbors() }},
		{GroupFine, Record.Fine},
		{GroupWrong, Record.Failed},
	}
	for _, s := range subsets {
		var sub []Record
		for _, r := range records {
			if s.keep(r) {
				sub = append(sub, r)
			}
		}
		if len(sub) > 0 || s.name == GroupAll {
			rep.Groups = append(rep.Groups, newGroup(s.name, sub))
		}
	}

	byCause := make(map[Cause]*CauseCount, len(Causes))
	for _, c := range Causes {
		cc := &CauseCount{Cause: c, Queries: []string{}}
		byCause[c] = cc
	}
	for _, r := range records {
		c := r.Cause()
		if c == CauseNone {
			continue
		}
		rep.Failures++
		byCause[c].Count++
		byCause[c].Queries = append(byCause[c].Queries, r.Name)
	}
	for _, c := range Causes {
		rep.Causes = append(rep.Causes, *byCause[c])
	}
	return rep
}

// Group returns the group with the given name.
func (rep *Report) Group(name string) (Group, bool) {
	for _, g := range rep.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// WriteJSON writes the report with the default codec.
func (rep *Report) WriteJSON(w io.Writer) error {
	b, err := codec.Default.Marshal(rep)
	if err != nil {
		return fmt.Errorf("evaluation: encode report: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

const (
	leftColumn     = 44
	separatorWidth = 72
)

// textWriter keeps the first write error.
type textWriter struct {
	w   io.Writer
	err error
}

func (tw *textWriter) printf(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func (tw *textWriter) row(left string, right string) {
	tw.printf("\t%-*s: %s\n", leftColumn, left, right)
}

func (tw *textWriter) separator() {
	tw.printf("%s\n", strings.Repeat("-", separatorWidth))
}

// WriteText writes the report as aligned two-column text.
func (rep *Report) WriteText(w io.Writer) error {
	tw := &textWriter{w: w}

	tw.printf("Stats\n")
	tw.row("Setup time", FormatDuration(rep.Timing.Setup))
	tw.row("Average time per image", FormatDuration(rep.Timing.Mean))
	tw.row("Median time per image", FormatDuration(rep.Timing.Median))
	tw.row("Max image time", FormatDuration(rep.Timing.Max))

	for _, g := range rep.Groups {
		tw.separator()
		tw.row(g.Name, fmt.Sprintf("%d images", g.Queries))
		tw.row("Localized / Fine / Failed", fmt.Sprintf("%d / %d / %d", g.Localized, g.Fine, g.Failed))
		tw.row("Mean translational error", triple(g.Translation, func(s Summary) float64 { return s.Mean }, "%.4f m"))
		tw.row("Median translational error", triple(g.Translation, func(s Summary) float64 { return s.Median }, "%.4f m"))
		tw.row("Max translational error", triple(g.Translation, func(s Summary) float64 { return s.Max }, "%.4f m"))
		tw.row("Mean angular error", triple(g.Rotation, func(s Summary) float64 { return s.Mean }, "%.4f °"))
		tw.row("Median angular error", triple(g.Rotation, func(s Summary) float64 { return s.Median }, "%.4f °"))
		tw.row("Max angular error", triple(g.Rotation, func(s Summary) float64 { return s.Max }, "%.4f °"))
		tw.row("Average inlier rate", triple(g.InlierRate, func(s Summary) float64 { return s.Mean }, "%.1f%%"))
		tw.row("Min inlier rate", triple(g.InlierRate, func(s Summary) float64 { return s.Min }, "%.1f%%"))
		tw.row("Max inlier rate", triple(g.InlierRate, func(s Summary) float64 { return s.Max }, "%.1f%%"))
		tw.row("Average inliers", triple(g.Inliers, func(s Summary) float64 { return s.Mean }, "%.1f"))
		if g.CorrectMatchRate.All.Count > 0 {
			tw.row("Average correct match rate", triple(g.CorrectMatchRate, func(s Summary) float64 { return s.Mean }, "%.1f%%"))
		}
		tw.row("Average neighbors with match", triple(g.NeighborsWithMatch, func(s Summary) float64 { return s.Mean }, "%.1f"))
		tw.row("Percentage results", g.Percentages.String())
	}

	tw.separator()
	tw.row("Identifying reasons", fmt.Sprintf("%d total", rep.Failures))
	for _, c := range rep.Causes {
		names := "None"
		if len(c.Queries) > 0 {
			names = strings.Join(c.Queries, ", ")
		}
		tw.row(" - by "+c.Cause.String(), fmt.Sprintf("%d (%s)", c.Count, names))
	}
	tw.separator()
	return tw.err
}

func triple(s Split, pick func(Summary) float64, format string) string {
	f := func(sum Summary) string {
		if sum.Count == 0 {
			return "-"
		}
		return fmt.Sprintf(format, pick(sum))
	}
	return f(s.All) + " / " + f(s.Correct) + " / " + f(s.Incorrect)
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// FormatDuration renders d as days, hours, minutes and seconds, omitting
// leading zero units, e.g. "2 minutes 3.5 seconds".
func FormatDuration(d time.Duration) string {
	t := d.Seconds()
	var sb strings.Builder
	units := []struct {
		name string
		size float64
	}{
		{"days", 86400},
		{"hours", 3600},
		{"minutes", 60},
	}
	for _, u := range units {
		if t > u.size {
			fmt.Fprintf(&sb, "%d %s ", int(t/u.size), u.name)
			t = math.Mod(t, u.size)
		}
	}
	fmt.Fprintf(&sb, "%.1f seconds", t)
	return sb.String()
}

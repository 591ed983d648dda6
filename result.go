package hloc

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/hloc/evaluation"
	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
	"github.com/hupe1980/hloc/retrieval"
)

// StageTimings records the time spent per pipeline stage of one query.
// Retrieval is the query's share of the batch search.
type StageTimings struct {
	Retrieval  time.Duration
	Clustering time.Duration
	Matching   time.Duration
	Pose       time.Duration
}

// Result is the outcome of one query. Err is nil iff the query localized.
type Result struct {
	Index int
	Name  string

	Estimate  pose.Estimate
	Err       error
	Neighbors []retrieval.Neighbor
	Clusters  int
	Matches   match.Result

	// IntrinsicsFallback is true when the median map calibration was used.
	IntrinsicsFallback bool

	Duration time.Duration
	Stages   StageTimings

	// Record is set for queries with ground truth.
	Record *evaluation.Record
}

// Localized reports whether the query produced a pose.
func (r Result) Localized() bool { return r.Err == nil }

// Line formats a localized result as "name qw qx qy qz tx ty tz", the
// world→camera rotation followed by the world→camera translation.
func (r Result) Line() string {
	q := r.Estimate.Rotation
	t := r.Estimate.Translation
	vals := []float64{q.Real, q.Imag, q.Jmag, q.Kmag, t[0], t[1], t[2]}

	var sb strings.Builder
	sb.WriteString(r.Name)
	for _, v := range vals {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}

// ResultWriter writes result lines in query order while results arrive out
// of order. A line is written as soon as every earlier query has finished.
// Failed queries produce no line. It is safe for concurrent use.
type ResultWriter struct {
	mu      sync.Mutex
	w       io.Writer
	next    int
	pending map[int]Result
	written int
	err     error
}

// NewResultWriter creates a ResultWriter.
func NewResultWriter(w io.Writer) *ResultWriter {
	return &ResultWriter{w: w, pending: make(map[int]Result)}
}

// Add hands over the result with index r.Index.
func (rw *ResultWriter) Add(r Result) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pending[r.Index] = r
	for {
		res, ok := rw.pending[rw.next]
		if !ok {
			return
		}
		delete(rw.pending, rw.next)
		rw.next++

		if !res.Localized() || rw.err != nil {
			continue
		}
		if _, err := fmt.Fprintln(rw.w, res.Line()); err != nil {
			rw.err = fmt.Errorf("hloc: write result %d: %w", res.Index, err)
			continue
		}
		rw.written++
	}
}

// Written returns the number of lines written.
func (rw *ResultWriter) Written() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.written
}

// Err returns the first write error.
func (rw *ResultWriter) Err() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.err
}

// WriteResults writes the lines of all localized results in order.
func WriteResults(w io.Writer, results []Result) error {
	rw := NewResultWriter(w)
	for _, r := range results {
		rw.Add(r)
	}
	return rw.Err()
}

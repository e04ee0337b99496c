package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// CostEfficiency summarizes the spend needed to produce a successful run.
// Values are only defined when at least one run of the kind succeeded.
type CostEfficiency struct {
	TokensPerSuccess      float64
	AvgDurationPerSuccess time.Duration
}

// Comparison is a point-in-time view across everything recorded so far.
type Comparison struct {
	VLMRuns        int
	DOMRuns        int
	VLMSuccessRate float64
	DOMSuccessRate float64
	VLMAvgTokens   float64
	VLMAvgDuration time.Duration
	DOMAvgDuration time.Duration
}

// Tracker records run outcomes for both crawler kinds and answers aggregate
// queries over them. Appends are serialized; every read computes directly from
// the recorded history so aggregates can never drift from the records.
type Tracker struct {
	mu      sync.RWMutex
	records []*RunOutcome
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends an outcome. Safe for concurrent use.
func (t *Tracker) Record(o *RunOutcome) {
	if o == nil {
		return
	}
	t.mu.Lock()
	t.records = append(t.records, o)
	t.mu.Unlock()
}

// Len returns the number of recorded outcomes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Tracker) filtered(kind CrawlerKind, perturbedOnly bool) []*RunOutcome {
	var out []*RunOutcome
	for _, r := range t.records {
		if r.Kind != kind {
			continue
		}
		if perturbedOnly && !r.Perturbed {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SuccessRate returns successes/total for a crawler kind, 0.0 when nothing
// has been recorded for that kind.
func (t *Tracker) SuccessRate(kind CrawlerKind) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	recs := t.filtered(kind, false)
	if len(recs) == 0 {
		return 0.0
	}
	succ := 0
	for _, r := range recs {
		if r.Success {
			succ++
		}
	}
	return float64(succ) / float64(len(recs))
}

// CostEfficiency computes token and duration spend per successful run. The
// second return is false when the kind has no successful runs yet.
func (t *Tracker) CostEfficiency(kind CrawlerKind) (CostEfficiency, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var (
		succ     int
		tokens   int
		duration time.Duration
	)
	for _, r := range t.filtered(kind, false) {
		if !r.Success {
			continue
		}
		succ++
		tokens += r.TotalTokens
		duration += r.Duration
	}
	if succ == 0 {
		return CostEfficiency{}, false
	}
	return CostEfficiency{
		TokensPerSuccess:      float64(tokens) / float64(succ),
		AvgDurationPerSuccess: duration / time.Duration(succ),
	}, true
}

// ResilienceScore is the fraction of perturbed-DOM runs of the given kind that
// still succeeded. Returns 0.0 when no perturbed runs are recorded.
func (t *Tracker) ResilienceScore(kind CrawlerKind) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	recs := t.filtered(kind, true)
	if len(recs) == 0 {
		return 0.0
	}
	succ := 0
	for _, r := range recs {
		if r.Success {
			succ++
		}
	}
	return float64(succ) / float64(len(recs))
}

// Compare snapshots both crawler kinds side by side.
func (t *Tracker) Compare() Comparison {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := Comparison{}
	var vlmTokens int
	var vlmDur, domDur time.Duration
	vlmSucc, domSucc := 0, 0

	for _, r := range t.records {
		switch r.Kind {
		case KindVLM:
			c.VLMRuns++
			vlmTokens += r.TotalTokens
			vlmDur += r.Duration
			if r.Success {
				vlmSucc++
			}
		case KindDOM:
			c.DOMRuns++
			domDur += r.Duration
			if r.Success {
				domSucc++
			}
		}
	}
	if c.VLMRuns > 0 {
		c.VLMSuccessRate = float64(vlmSucc) / float64(c.VLMRuns)
		c.VLMAvgTokens = float64(vlmTokens) / float64(c.VLMRuns)
		c.VLMAvgDuration = vlmDur / time.Duration(c.VLMRuns)
	}
	if c.DOMRuns > 0 {
		c.DOMSuccessRate = float64(domSucc) / float64(c.DOMRuns)
		c.DOMAvgDuration = domDur / time.Duration(c.DOMRuns)
	}
	return c
}

// csvHeader is the fixed column set of the tabular export.
var csvHeader = []string{
	"crawlerKind", "goal", "startUrl", "success", "pagesVisited",
	"duration", "apiCalls", "totalTokens", "timestamp",
}

// Rows returns the tabular export: one ordered row per recorded outcome, in
// record order, with the fixed csvHeader columns.
func (t *Tracker) Rows() [][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([][]string, 0, len(t.records))
	for _, r := range t.records {
		rows = append(rows, []string{
			string(r.Kind),
			r.Goal,
			r.StartURL,
			strconv.FormatBool(r.Success),
			strconv.Itoa(r.PagesVisited),
			fmt.Sprintf("%.2f", r.Duration.Seconds()),
			strconv.Itoa(r.APICalls),
			strconv.Itoa(r.TotalTokens),
			r.Timestamp.Format(time.RFC3339),
		})
	}
	return rows
}

// WriteCSV writes the header plus all rows to w.
func (t *Tracker) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows() {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

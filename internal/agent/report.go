package agent

import (
	"time"

	"github.com/v0xg/webduel/internal/metrics"
)

// RunReport is the finalized result of one navigation run: terminal status,
// full step history, and resource accounting.
type RunReport struct {
	Goal         string
	StartURL     string
	Status       Status
	History      []StepRecord
	Steps        int
	PagesVisited int
	FinalURL     string
	FinalTitle   string
	Duration     time.Duration
	APICalls     int
	TotalTokens  int
	errors       []string
}

func (r *RunReport) addError(err error) {
	if err != nil {
		r.errors = append(r.errors, err.Error())
	}
}

// Errors lists run-level errors plus per-step execution errors, in order.
func (r *RunReport) Errors() []string {
	out := append([]string{}, r.errors...)
	for _, rec := range r.History {
		if rec.Result.Err != nil {
			out = append(out, rec.Result.Err.Error())
		}
	}
	return out
}

// Success reports whether the run reached its goal.
func (r *RunReport) Success() bool {
	return r.Status == StatusCompleted
}

// Outcome normalizes the report for the metrics tracker.
func (r *RunReport) Outcome() *metrics.RunOutcome {
	o := metrics.NewOutcome(metrics.KindVLM, r.Goal, r.StartURL)
	o.Success = r.Success()
	o.PagesVisited = r.PagesVisited
	o.Steps = r.Steps
	o.Duration = r.Duration
	o.APICalls = r.APICalls
	o.TotalTokens = r.TotalTokens
	o.Errors = r.Errors()
	o.ExtractedData = map[string][]string{}
	if r.FinalURL != "" {
		o.ExtractedData["final_url"] = []string{r.FinalURL}
	}
	if r.FinalTitle != "" {
		o.ExtractedData["final_title"] = []string{r.FinalTitle}
	}
	return o
}

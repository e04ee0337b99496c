package metrics

import (
	"time"

	"github.com/google/uuid"
)

// CrawlerKind identifies which crawler produced a RunOutcome.
type CrawlerKind string

const (
	KindVLM CrawlerKind = "vlm"
	KindDOM CrawlerKind = "dom"
)

// RunOutcome is the normalized result of a single crawler run. It is created
// once when the run finishes and never mutated afterwards.
type RunOutcome struct {
	ID            string              `json:"id"`
	Kind          CrawlerKind         `json:"crawlerKind"`
	Goal          string              `json:"goal"`
	StartURL      string              `json:"startUrl"`
	Success       bool                `json:"success"`
	PagesVisited  int                 `json:"pagesVisited"`
	Steps         int                 `json:"stepsOrRequests"`
	ExtractedData map[string][]string `json:"extractedData,omitempty"`
	Duration      time.Duration       `json:"durationSeconds"`
	APICalls      int                 `json:"apiCalls"`
	TotalTokens   int                 `json:"totalTokens"`
	Errors        []string            `json:"errors,omitempty"`
	Perturbed     bool                `json:"perturbed,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// NewOutcome creates a RunOutcome with a fresh ID and timestamp.
func NewOutcome(kind CrawlerKind, goal, startURL string) *RunOutcome {
	return &RunOutcome{
		ID:        uuid.NewString(),
		Kind:      kind,
		Goal:      goal,
		StartURL:  startURL,
		Timestamp: time.Now(),
	}
}

// FailedOutcome builds an outcome for a run that could not produce its own
// result (crash, panic, setup failure). Used by the duel orchestrator so one
// broken crawler never aborts the comparison.
func FailedOutcome(kind CrawlerKind, goal, startURL string, duration time.Duration, cause error) *RunOutcome {
	o := NewOutcome(kind, goal, startURL)
	o.Duration = duration
	if cause != nil {
		o.Errors = append(o.Errors, cause.Error())
	}
	return o
}

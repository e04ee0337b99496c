package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/v0xg/webduel/internal/vision"
)

// ActionKind enumerates the structured actions the agent can take.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionScroll   ActionKind = "scroll"
	ActionWait     ActionKind = "wait"
	ActionNavigate ActionKind = "navigate"
	ActionComplete ActionKind = "complete"
	ActionGiveUp   ActionKind = "give_up"
)

// ScrollDirection for scroll actions.
type ScrollDirection string

const (
	ScrollDown ScrollDirection = "down"
	ScrollUp   ScrollDirection = "up"
)

// Action is one structured browser action. Exactly one variant's fields are
// meaningful, selected by Kind. Complete and GiveUp are terminal: they end
// the run instead of being executed against the page.
type Action struct {
	Kind      ActionKind               `json:"kind"`
	Target    *vision.DetectedElement  `json:"target,omitempty"`    // click, type
	Text      string                   `json:"text,omitempty"`      // type
	Direction ScrollDirection          `json:"direction,omitempty"` // scroll
	Amount    int                      `json:"amount,omitempty"`    // scroll, page pixels
	Duration  time.Duration            `json:"duration,omitempty"`  // wait
	URL       string                   `json:"url,omitempty"`       // navigate
	Reason    string                   `json:"reason,omitempty"`    // complete, give_up
}

// Terminal reports whether the action ends the run.
func (a Action) Terminal() bool {
	return a.Kind == ActionComplete || a.Kind == ActionGiveUp
}

// SameTarget reports whether two actions are identical in kind and target,
// which is what the oscillation guard compares.
func (a Action) SameTarget(b Action) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Target == nil || b.Target == nil {
		return a.Target == b.Target
	}
	return a.Target.Description == b.Target.Description && a.Target.Box == b.Target.Box
}

func (a Action) String() string {
	switch a.Kind {
	case ActionClick, ActionType:
		desc := "?"
		if a.Target != nil {
			desc = a.Target.Description
		}
		return fmt.Sprintf("%s(%s)", a.Kind, desc)
	case ActionScroll:
		return fmt.Sprintf("scroll(%s, %dpx)", a.Direction, a.Amount)
	case ActionWait:
		return fmt.Sprintf("wait(%s)", a.Duration)
	case ActionNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	case ActionComplete, ActionGiveUp:
		return fmt.Sprintf("%s: %s", a.Kind, a.Reason)
	default:
		return string(a.Kind)
	}
}

// PageState is what the executor observed after its last operation.
type PageState struct {
	URL        string
	Title      string
	Screenshot []byte
}

// ExecutionResult reports whether an executed action took effect.
type ExecutionResult struct {
	Success bool
	Err     error
}

// StepRecord is the immutable evidence for one loop iteration.
type StepRecord struct {
	Step       int
	URL        string
	Candidates []vision.DetectedElement
	Action     Action
	Rationale  string
	Result     ExecutionResult
	Timestamp  time.Time
}

// Status of a navigation run. Transitions are strictly forward; a terminal
// status is never left.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExhausted Status = "exhausted"
)

// TerminalStatus reports whether the status ends the run.
func (s Status) TerminalStatus() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExhausted
}

// NavigationState is owned by exactly one running loop instance and mutated
// only by it. history length equals StepCount at every observation point.
type NavigationState struct {
	Goal       string
	StepCount  int
	History    []StepRecord
	CurrentURL string
	Status     Status
}

// Executor performs actions against a live page.
type Executor interface {
	// Observe captures the current page state without side effects.
	Observe(ctx context.Context) (PageState, error)
	// Execute performs one action. Failures are reported in the result, not
	// as Go errors, because they are run evidence rather than run enders.
	Execute(ctx context.Context, action Action) ExecutionResult
}

// DecisionInput is everything a policy may consider.
type DecisionInput struct {
	Goal       string
	CurrentURL string
	Step       int
	MaxSteps   int
	History    []StepRecord
	Candidates []vision.DetectedElement
}

// Decision is a policy's proposal for the next action.
type Decision struct {
	Action    Action
	Rationale string
	Tokens    int
}

// Policy selects the next action. It proposes only; execution and state
// mutation stay in the loop.
type Policy interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

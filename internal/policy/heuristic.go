package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/v0xg/webduel/internal/agent"
	"github.com/v0xg/webduel/internal/vision"
)

// Heuristic is a deterministic policy that needs no model backend: it acts on
// the ranked best candidate using the perception client's suggested action.
// It never declares the goal complete on its own; runs under it end by step
// budget or the loop's guards. Useful without API keys and as a predictable
// baseline in tests.
type Heuristic struct {
	ConfidenceEpsilon float64
}

// Decide proposes an action for the best-ranked candidate.
func (h *Heuristic) Decide(_ context.Context, in agent.DecisionInput) (agent.Decision, error) {
	idx := Best(in.Candidates, in.Goal, h.ConfidenceEpsilon)
	if idx < 0 {
		return agent.Decision{
			Action:    agent.Action{Kind: agent.ActionWait, Duration: time.Second},
			Rationale: "no candidates to act on",
		}, nil
	}

	el := in.Candidates[idx]
	return agent.Decision{
		Action:    actionFor(el),
		Rationale: fmt.Sprintf("highest ranked candidate: %s (%.2f)", el.Description, el.Confidence),
	}, nil
}

// actionFor maps a candidate to a concrete action based on its suggested
// action, falling back on its element type.
func actionFor(el vision.DetectedElement) agent.Action {
	target := el
	switch el.SuggestedAction {
	case "type":
		return agent.Action{Kind: agent.ActionType, Target: &target}
	case "scroll":
		return agent.Action{Kind: agent.ActionScroll, Direction: agent.ScrollDown, Amount: 600}
	case "click":
		return agent.Action{Kind: agent.ActionClick, Target: &target}
	}
	if el.Type == vision.ElementInput {
		return agent.Action{Kind: agent.ActionType, Target: &target}
	}
	return agent.Action{Kind: agent.ActionClick, Target: &target}
}

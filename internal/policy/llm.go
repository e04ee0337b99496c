package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/agent"
	"github.com/v0xg/webduel/internal/vision"
)

const reasonSystemPrompt = "You are an expert web navigation assistant."

const reasonReplyFormat = `Based on the goal and current state, decide:
1. Which element should we interact with next? (provide its index, or -1 if none is suitable)
2. Is the goal achieved, unachievable, or should we continue?
3. Your reasoning

Respond in exactly this format:
ELEMENT_INDEX: <number or -1>
STATUS: continue/achieved/failed
TYPE_TEXT: <text to type, only when the chosen element is an input field>
REASONING: <your reasoning>`

// LLM is the production decision policy: it asks a chat model to pick the
// next element and detect goal completion, in the ELEMENT_INDEX/STATUS reply
// protocol. Malformed replies fall back to the shared heuristic ranking
// rather than erroring.
type LLM struct {
	reasoner          vision.Reasoner
	confidenceEpsilon float64
	logger            *zap.Logger
}

// NewLLM builds an LLM policy on top of a model backend.
func NewLLM(reasoner vision.Reasoner, confidenceEpsilon float64, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{
		reasoner:          reasoner,
		confidenceEpsilon: confidenceEpsilon,
		logger:            logger.Named("policy"),
	}
}

// Decide asks the reasoner for the next action. A backend error is returned
// to the loop, which retries once before escalating to give-up.
func (p *LLM) Decide(ctx context.Context, in agent.DecisionInput) (agent.Decision, error) {
	reply, tokens, err := p.reasoner.Complete(ctx, reasonSystemPrompt, buildReasonPrompt(in))
	if err != nil {
		return agent.Decision{}, fmt.Errorf("reasoning backend: %w", err)
	}

	parsed := parseReply(reply)
	decision := agent.Decision{Rationale: parsed.reasoning, Tokens: tokens}

	switch parsed.status {
	case "achieved":
		decision.Action = agent.Action{Kind: agent.ActionComplete, Reason: parsed.reasoning}
		return decision, nil
	case "failed":
		decision.Action = agent.Action{Kind: agent.ActionGiveUp, Reason: parsed.reasoning}
		return decision, nil
	}

	idx := parsed.elementIndex
	if idx < 0 || idx >= len(in.Candidates) {
		// Model declined to pick or picked out of range; use the ranking
		// rules instead of burning a retry.
		idx = Best(in.Candidates, in.Goal, p.confidenceEpsilon)
		p.logger.Debug("reply had no usable element index, ranked instead",
			zap.Int("chosen", idx))
	}
	if idx < 0 {
		decision.Action = agent.Action{Kind: agent.ActionScroll, Direction: agent.ScrollDown, Amount: 600}
		if decision.Rationale == "" {
			decision.Rationale = "no suitable candidate, scrolling"
		}
		return decision, nil
	}

	decision.Action = actionFor(in.Candidates[idx])
	if decision.Action.Kind == agent.ActionType {
		decision.Action.Text = parsed.typeText
	}
	return decision, nil
}

type parsedReply struct {
	elementIndex int
	status       string
	typeText     string
	reasoning    string
}

// parseReply reads the ELEMENT_INDEX/STATUS/TYPE_TEXT/REASONING lines
// leniently; anything unparseable defaults to "continue with no index".
func parseReply(reply string) parsedReply {
	out := parsedReply{elementIndex: -1, status: "continue"}
	for _, line := range strings.Split(reply, "\n") {
		switch {
		case strings.HasPrefix(line, "ELEMENT_INDEX:"):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "ELEMENT_INDEX:"))); err == nil {
				out.elementIndex = n
			}
		case strings.HasPrefix(line, "STATUS:"):
			s := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "STATUS:")))
			if s == "achieved" || s == "failed" || s == "continue" {
				out.status = s
			}
		case strings.HasPrefix(line, "TYPE_TEXT:"):
			out.typeText = strings.TrimSpace(strings.TrimPrefix(line, "TYPE_TEXT:"))
		case strings.HasPrefix(line, "REASONING:"):
			out.reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		}
	}
	return out
}

// buildReasonPrompt summarizes the run for the model: goal, position, the
// last few actions, and the top candidates with confidences.
func buildReasonPrompt(in agent.DecisionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a web navigation assistant working towards a goal.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", in.Goal)
	fmt.Fprintf(&b, "Current URL: %s\n", in.CurrentURL)
	fmt.Fprintf(&b, "Step: %d/%d\n\n", in.Step+1, in.MaxSteps)

	b.WriteString("Recent actions:\n")
	history := in.History
	if len(history) > 3 {
		history = history[len(history)-3:]
	}
	if len(history) == 0 {
		b.WriteString("None yet\n")
	}
	for _, rec := range history {
		outcome := "ok"
		if rec.Result.Err != nil {
			outcome = fmt.Sprintf("FAILED: %v", rec.Result.Err)
		}
		fmt.Fprintf(&b, "Step %d: %s (%s)\n", rec.Step, rec.Action, outcome)
	}

	b.WriteString("\nDetected elements:\n")
	candidates := in.Candidates
	if len(candidates) > 8 {
		candidates = candidates[:8]
	}
	for i, el := range candidates {
		fmt.Fprintf(&b, "[%d] %s: %s (confidence: %.2f, action: %s)\n",
			i, el.Type, el.Description, el.Confidence, el.SuggestedAction)
	}

	b.WriteString("\n")
	b.WriteString(reasonReplyFormat)
	return b.String()
}

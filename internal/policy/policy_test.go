package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/webduel/internal/agent"
	"github.com/v0xg/webduel/internal/vision"
)

func el(desc string, conf float64, suggested string) vision.DetectedElement {
	return vision.DetectedElement{
		Type:            vision.ElementButton,
		Description:     desc,
		Box:             vision.BoundingBox{X: 10, Y: 10, Width: 100, Height: 30},
		Confidence:      conf,
		SuggestedAction: suggested,
	}
}

func TestBestEmptyIsNegative(t *testing.T) {
	assert.Equal(t, -1, Best(nil, "anything", 0))
}

func TestBestPicksHighestConfidence(t *testing.T) {
	candidates := []vision.DetectedElement{
		el("random banner", 0.5, "click"),
		el("checkout button", 0.95, "click"),
		el("search box", 0.7, "type"),
	}
	assert.Equal(t, 1, Best(candidates, "buy the book", 0.05))
}

func TestBestTieGoesToGoalOverlap(t *testing.T) {
	candidates := []vision.DetectedElement{
		el("newsletter signup", 0.90, "click"),
		el("cheapest laptop deal", 0.88, "click"),
	}
	// Within epsilon the description overlapping the goal wins.
	assert.Equal(t, 1, Best(candidates, "find the cheapest laptop", 0.05))
	// With a tight epsilon raw confidence decides again.
	assert.Equal(t, 0, Best(candidates, "find the cheapest laptop", 0.01))
}

func TestBestEqualOverlapPrefersConfidence(t *testing.T) {
	// Neither description overlaps the goal; inside the epsilon band the
	// higher confidence must still win regardless of listing order.
	candidates := []vision.DetectedElement{
		el("newsletter signup", 0.87, "click"),
		el("cookie banner", 0.90, "click"),
	}
	assert.Equal(t, 1, Best(candidates, "find the cheapest laptop", 0.05))
}

func TestWordOverlapIgnoresShortWordsAndCase(t *testing.T) {
	assert.Equal(t, 3, wordOverlap("The Cheapest LAPTOP on sale.", "find the cheapest laptop"))
	assert.Equal(t, 0, wordOverlap("a an to of", "a an to of"))
}

func TestParseReplyWellFormed(t *testing.T) {
	p := parseReply("ELEMENT_INDEX: 2\nSTATUS: continue\nTYPE_TEXT: blue jeans\nREASONING: the search box matches")
	assert.Equal(t, 2, p.elementIndex)
	assert.Equal(t, "continue", p.status)
	assert.Equal(t, "blue jeans", p.typeText)
	assert.Equal(t, "the search box matches", p.reasoning)
}

func TestParseReplyLenientDefaults(t *testing.T) {
	p := parseReply("I think we should click somewhere, probably.")
	assert.Equal(t, -1, p.elementIndex)
	assert.Equal(t, "continue", p.status)

	p = parseReply("ELEMENT_INDEX: not-a-number\nSTATUS: MAYBE\nREASONING: confused")
	assert.Equal(t, -1, p.elementIndex)
	assert.Equal(t, "continue", p.status)
	assert.Equal(t, "confused", p.reasoning)
}

type stubReasoner struct {
	reply string
	err   error
	calls int
}

func (s *stubReasoner) Complete(ctx context.Context, system, user string) (string, int, error) {
	s.calls++
	if s.err != nil {
		return "", 0, s.err
	}
	return s.reply, 42, nil
}

func decisionInput(candidates ...vision.DetectedElement) agent.DecisionInput {
	return agent.DecisionInput{
		Goal:       "find the cheapest laptop",
		CurrentURL: "https://shop.test/catalog",
		Step:       2,
		MaxSteps:   20,
		Candidates: candidates,
	}
}

func TestLLMAchievedCompletes(t *testing.T) {
	r := &stubReasoner{reply: "ELEMENT_INDEX: -1\nSTATUS: achieved\nREASONING: price is on screen"}
	p := NewLLM(r, 0, nil)

	d, err := p.Decide(context.Background(), decisionInput(el("price label", 0.9, "click")))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionComplete, d.Action.Kind)
	assert.Equal(t, "price is on screen", d.Action.Reason)
	assert.Equal(t, 42, d.Tokens)
}

func TestLLMFailedGivesUp(t *testing.T) {
	r := &stubReasoner{reply: "STATUS: failed\nREASONING: page requires a paid account"}
	p := NewLLM(r, 0, nil)

	d, err := p.Decide(context.Background(), decisionInput(el("paywall", 0.9, "click")))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionGiveUp, d.Action.Kind)
}

func TestLLMPicksIndexedElement(t *testing.T) {
	r := &stubReasoner{reply: "ELEMENT_INDEX: 1\nSTATUS: continue\nREASONING: laptops category"}
	p := NewLLM(r, 0, nil)

	laptops := el("laptops category link", 0.8, "click")
	d, err := p.Decide(context.Background(), decisionInput(el("banner", 0.9, "click"), laptops))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionClick, d.Action.Kind)
	require.NotNil(t, d.Action.Target)
	assert.Equal(t, laptops.Description, d.Action.Target.Description)
}

func TestLLMTypeActionCarriesText(t *testing.T) {
	r := &stubReasoner{reply: "ELEMENT_INDEX: 0\nSTATUS: continue\nTYPE_TEXT: cheapest laptop\nREASONING: search for it"}
	p := NewLLM(r, 0, nil)

	d, err := p.Decide(context.Background(), decisionInput(el("search box", 0.9, "type")))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionType, d.Action.Kind)
	assert.Equal(t, "cheapest laptop", d.Action.Text)
}

func TestLLMOutOfRangeIndexFallsBackToRanking(t *testing.T) {
	r := &stubReasoner{reply: "ELEMENT_INDEX: 9\nSTATUS: continue\nREASONING: hmm"}
	p := NewLLM(r, 0, nil)

	best := el("cheapest laptop deal", 0.9, "click")
	d, err := p.Decide(context.Background(), decisionInput(el("footer", 0.4, "click"), best))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionClick, d.Action.Kind)
	require.NotNil(t, d.Action.Target)
	assert.Equal(t, best.Description, d.Action.Target.Description)
}

func TestLLMNoCandidatesScrolls(t *testing.T) {
	r := &stubReasoner{reply: "ELEMENT_INDEX: -1\nSTATUS: continue\nREASONING: nothing useful"}
	p := NewLLM(r, 0, nil)

	d, err := p.Decide(context.Background(), decisionInput())
	require.NoError(t, err)
	assert.Equal(t, agent.ActionScroll, d.Action.Kind)
}

func TestLLMPropagatesBackendError(t *testing.T) {
	r := &stubReasoner{err: errors.New("rate limited")}
	p := NewLLM(r, 0, nil)

	_, err := p.Decide(context.Background(), decisionInput(el("button", 0.9, "click")))
	assert.Error(t, err)
}

func TestHeuristicActsOnBestCandidate(t *testing.T) {
	h := &Heuristic{}
	d, err := h.Decide(context.Background(), decisionInput(
		el("newsletter signup", 0.5, "click"),
		el("cheapest laptop deal", 0.9, "click"),
	))
	require.NoError(t, err)
	assert.Equal(t, agent.ActionClick, d.Action.Kind)
	require.NotNil(t, d.Action.Target)
	assert.Equal(t, "cheapest laptop deal", d.Action.Target.Description)
}

func TestHeuristicWaitsWithoutCandidates(t *testing.T) {
	h := &Heuristic{}
	d, err := h.Decide(context.Background(), decisionInput())
	require.NoError(t, err)
	assert.Equal(t, agent.ActionWait, d.Action.Kind)
}

func TestActionForInputTypeFallback(t *testing.T) {
	input := vision.DetectedElement{Type: vision.ElementInput, Description: "email field", Confidence: 0.8}
	a := actionFor(input)
	assert.Equal(t, agent.ActionType, a.Kind)

	link := vision.DetectedElement{Type: vision.ElementLink, Description: "next page", Confidence: 0.8}
	assert.Equal(t, agent.ActionClick, actionFor(link).Kind)
}

func TestBuildReasonPromptShape(t *testing.T) {
	in := decisionInput(el("cheapest laptop deal", 0.9, "click"))
	in.History = []agent.StepRecord{
		{Step: 1, Action: agent.Action{Kind: agent.ActionScroll, Direction: agent.ScrollDown, Amount: 600}},
		{Step: 2, Action: agent.Action{Kind: agent.ActionWait}, Result: agent.ExecutionResult{Err: errors.New("timed out")}},
	}
	prompt := buildReasonPrompt(in)

	assert.Contains(t, prompt, "Goal: find the cheapest laptop")
	assert.Contains(t, prompt, "Step: 3/20")
	assert.Contains(t, prompt, "FAILED: timed out")
	assert.Contains(t, prompt, "[0] button: cheapest laptop deal")
	assert.Contains(t, prompt, "ELEMENT_INDEX:")
}

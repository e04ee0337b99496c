package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/webduel/internal/vision"
)

type stubExecutor struct {
	page       PageState
	observeErr error
	executed   []Action
}

func (s *stubExecutor) Observe(ctx context.Context) (PageState, error) {
	if s.observeErr != nil {
		return PageState{}, s.observeErr
	}
	return s.page, nil
}

func (s *stubExecutor) Execute(ctx context.Context, a Action) ExecutionResult {
	s.executed = append(s.executed, a)
	return ExecutionResult{Success: true}
}

type stubPerceptor struct {
	elements []vision.DetectedElement
	err      error
	calls    int
}

func (s *stubPerceptor) DetectElements(ctx context.Context, screenshot []byte, goal, pageContext string) (*vision.Detection, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &vision.Detection{Elements: s.elements, Tokens: 100}, nil
}

type stubPolicy struct {
	decide func(in DecisionInput) (Decision, error)
	calls  int
}

func (s *stubPolicy) Decide(ctx context.Context, in DecisionInput) (Decision, error) {
	s.calls++
	return s.decide(in)
}

func newTestExecutor() *stubExecutor {
	return &stubExecutor{page: PageState{
		URL:        "https://shop.test/catalog",
		Title:      "Catalog",
		Screenshot: []byte{0x89, 0x50, 0x4e, 0x47},
	}}
}

func buttonElement(desc string) vision.DetectedElement {
	return vision.DetectedElement{
		Type:        vision.ElementButton,
		Description: desc,
		Box:         vision.BoundingBox{X: 100, Y: 200, Width: 120, Height: 40},
		Confidence:  0.9,
	}
}

func assertHistoryInvariant(t *testing.T, rep *RunReport) {
	t.Helper()
	assert.Len(t, rep.History, rep.Steps, "history length must equal step count")
	for i, rec := range rep.History {
		assert.Equal(t, i+1, rec.Step)
	}
}

func TestLoopStopsAtStepBudget(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("next page")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionScroll, Direction: ScrollDown, Amount: 600}}, nil
	}}

	loop := NewLoop("find the cheapest laptop", perceptor, policy, exec, Config{MaxSteps: 5}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusExhausted, rep.Status)
	assert.Equal(t, 5, rep.Steps)
	assert.False(t, rep.Success())
	assertHistoryInvariant(t, rep)
}

func TestLoopCompletesOnFirstStep(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("price label")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionComplete, Reason: "price is visible"}}, nil
	}}

	loop := NewLoop("find the price", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, 1, rep.Steps)
	assert.True(t, rep.Success())
	assertHistoryInvariant(t, rep)
}

func TestLoopEmptyPerceptionEscalates(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: nil}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		t.Fatal("policy must not be consulted when there are no candidates")
		return Decision{}, nil
	}}

	loop := NewLoop("find anything", perceptor, policy, exec, Config{MaxSteps: 20, EmptyLimit: 3}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, 0, policy.calls)
	require.Equal(t, 3, rep.Steps)
	assert.Equal(t, ActionWait, rep.History[0].Action.Kind)
	assert.Equal(t, ActionScroll, rep.History[1].Action.Kind)
	assert.Equal(t, ActionGiveUp, rep.History[2].Action.Kind)
	assertHistoryInvariant(t, rep)
}

func TestLoopBreaksOscillation(t *testing.T) {
	exec := newTestExecutor()
	target := buttonElement("Add to cart")
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{target}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionClick, Target: &target}}, nil
	}}

	loop := NewLoop("buy the item", perceptor, policy, exec, Config{MaxSteps: 20, LoopWindow: 4}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	// The guard never lets LoopWindow identical clicks stand in a row.
	longest, run := 0, 0
	for _, rec := range rep.History {
		if rec.Action.Kind == ActionClick {
			run++
		} else {
			run = 0
		}
		if run > longest {
			longest = run
		}
	}
	assert.LessOrEqual(t, longest, 3)

	// One forced scroll, then the resumed oscillation ends the run.
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, ActionGiveUp, rep.History[len(rep.History)-1].Action.Kind)
	assertHistoryInvariant(t, rep)
}

// targetlessExecutor rejects clicks and typing with no target, the way the
// real executor does, while everything else succeeds.
type targetlessExecutor struct {
	stubExecutor
}

func (s *targetlessExecutor) Execute(ctx context.Context, a Action) ExecutionResult {
	s.executed = append(s.executed, a)
	if (a.Kind == ActionClick || a.Kind == ActionType) && a.Target == nil {
		return ExecutionResult{Success: false, Err: errors.New("action has no target")}
	}
	return ExecutionResult{Success: true}
}

func TestLoopBreaksTargetlessClickOscillation(t *testing.T) {
	exec := &targetlessExecutor{stubExecutor: *newTestExecutor()}
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("ghost button")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionClick}}, nil
	}}

	loop := NewLoop("click something", perceptor, policy, exec, Config{MaxSteps: 20, LoopWindow: 4}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	require.NotEmpty(t, rep.History)
	assert.Equal(t, ActionGiveUp, rep.History[len(rep.History)-1].Action.Kind)
	assert.NotEmpty(t, rep.Errors())
	assertHistoryInvariant(t, rep)
}

func TestLoopGivesUpAfterTwoPolicyFailures(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("login")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{}, errors.New("model backend down")
	}}

	loop := NewLoop("log in", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, 2, policy.calls, "one retry, then give up")
	require.NotEmpty(t, rep.History)
	assert.Equal(t, ActionGiveUp, rep.History[len(rep.History)-1].Action.Kind)
	assertHistoryInvariant(t, rep)
}

func TestLoopFailsAfterConsecutivePerceptionErrors(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{err: errors.New("vision API unavailable")}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionWait}}, nil
	}}

	loop := NewLoop("find anything", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, 2, rep.Steps)
	assert.Equal(t, 0, policy.calls)
	assert.Equal(t, 2, rep.APICalls, "failed model calls still count as calls")
	assert.NotEmpty(t, rep.Errors())
	assertHistoryInvariant(t, rep)
}

func TestLoopObserveFailureIsNotAModelCall(t *testing.T) {
	exec := newTestExecutor()
	exec.observeErr = errors.New("page crashed")
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("next")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionWait}}, nil
	}}

	loop := NewLoop("find anything", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, 0, perceptor.calls)
	assert.Equal(t, 0, rep.APICalls, "no screenshot means no model call to account for")
}

func TestLoopHonorsCancellation(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("next")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionScroll, Direction: ScrollDown, Amount: 600}}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop("find anything", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(ctx, "https://shop.test")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, 0, rep.Steps)
	assert.NotEmpty(t, rep.Errors())
}

func TestLoopOutcomeReflectsReport(t *testing.T) {
	exec := newTestExecutor()
	perceptor := &stubPerceptor{elements: []vision.DetectedElement{buttonElement("price")}}
	policy := &stubPolicy{decide: func(in DecisionInput) (Decision, error) {
		return Decision{Action: Action{Kind: ActionComplete, Reason: "done"}, Tokens: 50}, nil
	}}

	loop := NewLoop("find the price", perceptor, policy, exec, Config{MaxSteps: 20}, nil)
	rep := loop.Run(context.Background(), "https://shop.test")
	out := rep.Outcome()

	assert.True(t, out.Success)
	assert.Equal(t, rep.Steps, out.Steps)
	assert.Equal(t, rep.TotalTokens, out.TotalTokens)
	assert.Equal(t, "https://shop.test/catalog", out.ExtractedData["final_url"][0])
	assert.Greater(t, out.TotalTokens, 0)
	assert.WithinDuration(t, time.Now(), out.Timestamp, time.Minute)
}

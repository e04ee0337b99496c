package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/vision"
)

// Config bounds a navigation loop instance. Zero values pick the defaults.
type Config struct {
	MaxSteps          int           // step budget, default 20
	EmptyLimit        int           // consecutive empty observations before giving up, default 3
	LoopWindow        int           // identical-action window for oscillation breaking, default 4
	PerceptionTimeout time.Duration // default 60s
	DecisionTimeout   time.Duration // default 30s
	ExecutionTimeout  time.Duration // default 30s
	DebugDir          string        // when set, annotated screenshots are written per step
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 20
	}
	if c.EmptyLimit <= 0 {
		c.EmptyLimit = 3
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = 4
	}
	if c.PerceptionTimeout <= 0 {
		c.PerceptionTimeout = 60 * time.Second
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 30 * time.Second
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Second
	}
	return c
}

// Loop drives one goal-directed navigation run: observe, perceive, decide,
// execute, repeat. Strictly sequential; at most one external call is in
// flight at any time, because each step's perception depends on the previous
// step's executed side effect.
type Loop struct {
	goal      string
	perceptor vision.Client
	policy    Policy
	executor  Executor
	cfg       Config
	logger    *zap.Logger
}

// NewLoop assembles a navigation loop. The executor's browser context is
// owned exclusively by this loop for the lifetime of the run.
func NewLoop(goal string, perceptor vision.Client, policy Policy, executor Executor, cfg Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		goal:      goal,
		perceptor: perceptor,
		policy:    policy,
		executor:  executor,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("loop"),
	}
}

// Run executes the navigation loop until the goal completes, the policy gives
// up, the step budget is exhausted, or perception fails twice in a row. It
// never returns an error: every failure becomes report data, because the
// system's purpose is to measure and report failure.
func (l *Loop) Run(ctx context.Context, startURL string) *RunReport {
	start := time.Now()
	state := &NavigationState{Goal: l.goal, CurrentURL: startURL, Status: StatusRunning}
	rep := &RunReport{Goal: l.goal, StartURL: startURL}
	seenURLs := map[string]struct{}{}

	navRes := l.execute(ctx, Action{Kind: ActionNavigate, URL: startURL})
	if !navRes.Success {
		rep.addError(fmt.Errorf("initial navigation: %v", navRes.Err))
		state.Status = StatusFailed
	}

	var (
		perceptFailures int
		emptyStreak     int
		brokeLoopFor    string
	)

	for state.Status == StatusRunning {
		// Cancellation takes effect between steps; an in-flight call has
		// already resolved by the time we get here.
		if err := ctx.Err(); err != nil {
			rep.addError(fmt.Errorf("cancelled: %v", err))
			state.Status = StatusFailed
			break
		}

		page, elements, tokens, calls, err := l.perceive(ctx, state)
		rep.APICalls += calls
		rep.TotalTokens += tokens
		if err != nil {
			perceptFailures++
			l.logger.Warn("perception failed",
				zap.Int("consecutive", perceptFailures), zap.Error(err))
			l.appendStep(state, StepRecord{
				URL:       state.CurrentURL,
				Action:    Action{Kind: ActionWait},
				Rationale: "perception failed",
				Result:    ExecutionResult{Success: false, Err: err},
			})
			if perceptFailures >= 2 {
				rep.addError(fmt.Errorf("perception failed twice in a row: %v", err))
				state.Status = StatusFailed
			}
			l.checkBudget(state)
			continue
		}
		perceptFailures = 0

		state.CurrentURL = page.URL
		seenURLs[page.URL] = struct{}{}
		rep.FinalURL = page.URL
		rep.FinalTitle = page.Title
		l.writeDebugFrame(state.StepCount+1, page.Screenshot, elements)

		var decision Decision
		if len(elements) == 0 {
			emptyStreak++
			decision = l.emptyDecision(emptyStreak)
		} else {
			emptyStreak = 0
			var calls int
			decision, calls = l.decide(ctx, state, elements)
			rep.APICalls += calls
			rep.TotalTokens += decision.Tokens
		}

		decision = l.breakOscillation(state, decision, &brokeLoopFor)

		if decision.Action.Terminal() {
			l.appendStep(state, StepRecord{
				URL:        state.CurrentURL,
				Candidates: elements,
				Action:     decision.Action,
				Rationale:  decision.Rationale,
				Result:     ExecutionResult{Success: true},
			})
			if decision.Action.Kind == ActionComplete {
				state.Status = StatusCompleted
			} else {
				rep.addError(fmt.Errorf("gave up: %s", decision.Action.Reason))
				state.Status = StatusFailed
			}
			break
		}

		res := l.execute(ctx, decision.Action)
		if res.Err != nil {
			// Recoverable: the policy sees the failure in history next step
			// and can pick a different element.
			l.logger.Warn("action failed",
				zap.Stringer("action", decision.Action), zap.Error(res.Err))
		}
		l.appendStep(state, StepRecord{
			URL:        state.CurrentURL,
			Candidates: elements,
			Action:     decision.Action,
			Rationale:  decision.Rationale,
			Result:     res,
		})
		l.checkBudget(state)
	}

	if state.Status == StatusExhausted {
		rep.addError(fmt.Errorf("step budget of %d exhausted", l.cfg.MaxSteps))
	}

	rep.Status = state.Status
	rep.History = state.History
	rep.Steps = state.StepCount
	rep.PagesVisited = len(seenURLs)
	rep.Duration = time.Since(start)

	l.logger.Info("navigation finished",
		zap.String("status", string(rep.Status)),
		zap.Int("steps", rep.Steps),
		zap.Int("tokens", rep.TotalTokens),
		zap.Duration("duration", rep.Duration))
	return rep
}

// perceive observes the page and asks the perception client for candidates.
// Both halves share the failure path: no screenshot means no perception. The
// calls count reports model calls actually made, so a failed screenshot does
// not inflate the API accounting.
func (l *Loop) perceive(ctx context.Context, state *NavigationState) (PageState, []vision.DetectedElement, int, int, error) {
	octx, cancel := context.WithTimeout(ctx, l.cfg.ExecutionTimeout)
	page, err := l.executor.Observe(octx)
	cancel()
	if err != nil {
		return PageState{}, nil, 0, 0, fmt.Errorf("observe: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, l.cfg.PerceptionTimeout)
	defer cancel()
	det, err := l.perceptor.DetectElements(pctx, page.Screenshot, state.Goal, l.contextSummary(state))
	if err != nil {
		return page, nil, 0, 1, err
	}
	return page, det.Elements, det.Tokens, 1, nil
}

// decide asks the policy once, retries once on error, and gives up after the
// second failure.
func (l *Loop) decide(ctx context.Context, state *NavigationState, elements []vision.DetectedElement) (Decision, int) {
	in := DecisionInput{
		Goal:       state.Goal,
		CurrentURL: state.CurrentURL,
		Step:       state.StepCount,
		MaxSteps:   l.cfg.MaxSteps,
		History:    state.History,
		Candidates: elements,
	}

	calls := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, l.cfg.DecisionTimeout)
		decision, err := l.policy.Decide(dctx, in)
		cancel()
		calls++
		if err == nil {
			return decision, calls
		}
		lastErr = err
		l.logger.Warn("policy error", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return Decision{
		Action: Action{
			Kind:   ActionGiveUp,
			Reason: fmt.Sprintf("decision policy failed twice: %v", lastErr),
		},
		Rationale: "policy backend unavailable",
	}, calls
}

// emptyDecision handles steps where perception saw nothing actionable:
// wait first, scroll second, give up at the configured limit.
func (l *Loop) emptyDecision(streak int) Decision {
	switch {
	case streak >= l.cfg.EmptyLimit:
		return Decision{
			Action: Action{
				Kind:   ActionGiveUp,
				Reason: fmt.Sprintf("no actionable elements after %d observations", streak),
			},
			Rationale: "perception repeatedly found nothing",
		}
	case streak == 1:
		return Decision{
			Action:    Action{Kind: ActionWait, Duration: 2 * time.Second},
			Rationale: "no elements detected, waiting for the page to settle",
		}
	default:
		return Decision{
			Action:    Action{Kind: ActionScroll, Direction: ScrollDown, Amount: 600},
			Rationale: "still no elements, scrolling to reveal more of the page",
		}
	}
}

// breakOscillation overrides a proposal that would extend a run of identical
// actions to the configured window: scroll once to change the view, give up
// if the same oscillation resumes right after.
func (l *Loop) breakOscillation(state *NavigationState, decision Decision, brokeLoopFor *string) Decision {
	a := decision.Action
	if a.Terminal() || (a.Kind != ActionClick && a.Kind != ActionType) {
		return decision
	}
	trailing := 0
	for i := len(state.History) - 1; i >= 0; i-- {
		if !state.History[i].Action.SameTarget(a) {
			break
		}
		trailing++
	}
	if trailing < l.cfg.LoopWindow-1 {
		return decision
	}

	// A policy may propose clicks with no target at all; SameTarget treats
	// those as identical, so the key must tolerate them too.
	desc := ""
	if a.Target != nil {
		desc = a.Target.Description
	}
	key := string(a.Kind) + "|" + desc
	if *brokeLoopFor == key {
		return Decision{
			Action: Action{
				Kind:   ActionGiveUp,
				Reason: fmt.Sprintf("stuck repeating %s with no effect", a),
			},
			Rationale: "oscillation resumed after a forced break",
		}
	}
	*brokeLoopFor = key
	l.logger.Info("breaking repeated-action loop", zap.Stringer("action", a))
	return Decision{
		Action:    Action{Kind: ActionScroll, Direction: ScrollDown, Amount: 600},
		Rationale: fmt.Sprintf("breaking repeated %s", a),
	}
}

func (l *Loop) execute(ctx context.Context, action Action) ExecutionResult {
	ectx, cancel := context.WithTimeout(ctx, l.cfg.ExecutionTimeout)
	defer cancel()
	return l.executor.Execute(ectx, action)
}

// appendStep records one iteration. History length and StepCount move
// together, always.
func (l *Loop) appendStep(state *NavigationState, rec StepRecord) {
	rec.Step = state.StepCount + 1
	rec.Timestamp = time.Now()
	state.History = append(state.History, rec)
	state.StepCount++
	l.logger.Debug("step",
		zap.Int("n", rec.Step),
		zap.Stringer("action", rec.Action),
		zap.Bool("ok", rec.Result.Success || rec.Result.Err == nil))
}

func (l *Loop) checkBudget(state *NavigationState) {
	if state.Status == StatusRunning && state.StepCount >= l.cfg.MaxSteps {
		state.Status = StatusExhausted
	}
}

// contextSummary gives the perception client a short view of where the run
// stands, mirroring what a human operator would glance at.
func (l *Loop) contextSummary(state *NavigationState) string {
	s := fmt.Sprintf("Step %d/%d | URL: %s", state.StepCount+1, l.cfg.MaxSteps, state.CurrentURL)
	if n := len(state.History); n > 0 {
		s += fmt.Sprintf(" | Last action: %s", state.History[n-1].Action)
	}
	return s
}

func (l *Loop) writeDebugFrame(step int, screenshot []byte, elements []vision.DetectedElement) {
	if l.cfg.DebugDir == "" || len(elements) == 0 {
		return
	}
	annotated, err := vision.Annotate(screenshot, elements)
	if err != nil {
		l.logger.Debug("annotate failed", zap.Error(err))
		return
	}
	path := filepath.Join(l.cfg.DebugDir, fmt.Sprintf("step_%02d.png", step))
	if err := os.WriteFile(path, annotated, 0o644); err != nil {
		l.logger.Debug("write debug frame failed", zap.Error(err))
	}
}

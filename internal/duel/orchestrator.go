// Package duel runs the vision-driven agent and the selector baseline against
// the same target and declares a winner.
package duel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/metrics"
)

// Winner of a duel.
type Winner string

const (
	WinnerVLM Winner = "vlm"
	WinnerDOM Winner = "dom"
	WinnerTie Winner = "tie"
)

// RunSpec describes one crawler run inside a duel.
type RunSpec struct {
	URL        string
	Goal       string
	Selectors  map[string]string
	InitScript string // DOM perturbation, set by resilience tests
	Perturbed  bool
}

// VisionRunner runs the navigation-loop crawler.
type VisionRunner interface {
	Run(ctx context.Context, spec RunSpec) *metrics.RunOutcome
}

// BaselineRunner runs the selector-driven crawler.
type BaselineRunner interface {
	Run(ctx context.Context, spec RunSpec) *metrics.RunOutcome
}

// Dimensions is the per-axis comparison behind a verdict.
type Dimensions struct {
	VLMSuccess  bool          `json:"vlmSuccess"`
	DOMSuccess  bool          `json:"domSuccess"`
	VLMDuration time.Duration `json:"vlmDuration"`
	DOMDuration time.Duration `json:"domDuration"`
	VLMTokens   int           `json:"vlmTokens"`
	DOMTokens   int           `json:"domTokens"`
}

// Verdict is the outcome of one duel. Recomputed fresh each time, never
// shared mutable state.
type Verdict struct {
	Winner     Winner              `json:"winner"`
	VLM        *metrics.RunOutcome `json:"vlm"`
	DOM        *metrics.RunOutcome `json:"dom"`
	VLMScore   float64             `json:"vlmScore"`
	DOMScore   float64             `json:"domScore"`
	Dimensions Dimensions          `json:"dimensions"`
}

// Config tunes verdict scoring.
type Config struct {
	// CostWeight converts tokens into seconds of penalty. The default makes
	// 1,000 tokens cost one second.
	CostWeight float64
	// ScoreEpsilon is the score distance below which a duel is a tie.
	ScoreEpsilon float64
}

func (c Config) withDefaults() Config {
	if c.CostWeight <= 0 {
		c.CostWeight = 0.001
	}
	if c.ScoreEpsilon <= 0 {
		c.ScoreEpsilon = 0.05
	}
	return c
}

// Orchestrator pairs the two crawlers, collects both outcomes, and scores
// them. Both crawlers get their own browser context; the only join point is
// waiting for both outcomes.
type Orchestrator struct {
	vision  VisionRunner
	dom     BaselineRunner
	tracker *metrics.Tracker
	cfg     Config
	logger  *zap.Logger
}

func NewOrchestrator(vision VisionRunner, dom BaselineRunner, tracker *metrics.Tracker, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		vision:  vision,
		dom:     dom,
		tracker: tracker,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("duel"),
	}
}

// Run executes one duel. The only error it returns is pre-flight validation
// of the target URL; once the crawlers start, every failure is absorbed into
// the losing side's outcome.
func (o *Orchestrator) Run(ctx context.Context, targetURL, goal string, selectors map[string]string) (*Verdict, error) {
	if err := validateTarget(targetURL); err != nil {
		return nil, err
	}

	spec := RunSpec{URL: targetURL, Goal: goal, Selectors: selectors}
	vlmOut, domOut := o.runPair(ctx, spec)

	o.tracker.Record(vlmOut)
	o.tracker.Record(domOut)

	v := o.verdict(vlmOut, domOut)
	o.logger.Info("duel finished",
		zap.String("winner", string(v.Winner)),
		zap.Bool("vlm_success", vlmOut.Success),
		zap.Bool("dom_success", domOut.Success),
		zap.Float64("vlm_score", v.VLMScore),
		zap.Float64("dom_score", v.DOMScore))
	return v, nil
}

// runPair runs both crawlers concurrently and waits for both. A crawler that
// panics or returns nothing is marked failed; it never takes the duel down.
func (o *Orchestrator) runPair(ctx context.Context, spec RunSpec) (vlm, dom *metrics.RunOutcome) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		vlm = o.safeRun(ctx, metrics.KindVLM, spec, o.vision.Run)
	}()
	go func() {
		defer wg.Done()
		dom = o.safeRun(ctx, metrics.KindDOM, spec, o.dom.Run)
	}()
	wg.Wait()
	return vlm, dom
}

func (o *Orchestrator) safeRun(ctx context.Context, kind metrics.CrawlerKind, spec RunSpec, run func(context.Context, RunSpec) *metrics.RunOutcome) (out *metrics.RunOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("crawler crashed", zap.String("kind", string(kind)), zap.Any("panic", r))
			out = metrics.FailedOutcome(kind, spec.Goal, spec.URL, time.Since(start), fmt.Errorf("crawler crashed: %v", r))
			out.Perturbed = spec.Perturbed
		}
	}()
	out = run(ctx, spec)
	if out == nil {
		out = metrics.FailedOutcome(kind, spec.Goal, spec.URL, time.Since(start), fmt.Errorf("crawler returned no outcome"))
		out.Perturbed = spec.Perturbed
	}
	return out
}

// verdict scores the pair. Success is the primary axis; between two successes
// the cheaper composite of duration and token spend wins.
func (o *Orchestrator) verdict(vlm, dom *metrics.RunOutcome) *Verdict {
	v := &Verdict{
		VLM:      vlm,
		DOM:      dom,
		VLMScore: o.score(vlm),
		DOMScore: o.score(dom),
		Dimensions: Dimensions{
			VLMSuccess:  vlm.Success,
			DOMSuccess:  dom.Success,
			VLMDuration: vlm.Duration,
			DOMDuration: dom.Duration,
			VLMTokens:   vlm.TotalTokens,
			DOMTokens:   dom.TotalTokens,
		},
	}

	switch {
	case vlm.Success && !dom.Success:
		v.Winner = WinnerVLM
	case dom.Success && !vlm.Success:
		v.Winner = WinnerDOM
	case !vlm.Success && !dom.Success:
		v.Winner = WinnerTie
	default:
		diff := v.VLMScore - v.DOMScore
		switch {
		case diff < -o.cfg.ScoreEpsilon:
			v.Winner = WinnerVLM
		case diff > o.cfg.ScoreEpsilon:
			v.Winner = WinnerDOM
		default:
			v.Winner = WinnerTie
		}
	}
	return v
}

func (o *Orchestrator) score(out *metrics.RunOutcome) float64 {
	return out.Duration.Seconds() + o.cfg.CostWeight*float64(out.TotalTokens)
}

// validateTarget rejects malformed URLs before either crawler starts.
func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid target URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid target URL %q: need an absolute http(s) URL", raw)
	}
	return nil
}

package duel

import (
	"context"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/agent"
	"github.com/v0xg/webduel/internal/baseline"
	"github.com/v0xg/webduel/internal/browser"
	"github.com/v0xg/webduel/internal/metrics"
	"github.com/v0xg/webduel/internal/policy"
	"github.com/v0xg/webduel/internal/vision"
)

// AgentRunner is the production VisionRunner: a fresh browser plus a
// navigation loop per run, all driven by one model provider.
type AgentRunner struct {
	provider          vision.Provider
	agentCfg          agent.Config
	browserOpts       browser.Options
	confidenceEpsilon float64
	logger            *zap.Logger
}

func NewAgentRunner(provider vision.Provider, agentCfg agent.Config, browserOpts browser.Options, confidenceEpsilon float64, logger *zap.Logger) *AgentRunner {
	return &AgentRunner{
		provider:          provider,
		agentCfg:          agentCfg,
		browserOpts:       browserOpts,
		confidenceEpsilon: confidenceEpsilon,
		logger:            logger,
	}
}

// Run executes one navigation-loop crawl and normalizes it into an outcome.
func (r *AgentRunner) Run(ctx context.Context, spec RunSpec) *metrics.RunOutcome {
	opts := r.browserOpts
	opts.InitScript = spec.InitScript

	b, err := browser.New(opts, r.logger)
	if err != nil {
		out := metrics.FailedOutcome(metrics.KindVLM, spec.Goal, spec.URL, 0, err)
		out.Perturbed = spec.Perturbed
		return out
	}
	defer b.Close()

	pol := policy.NewLLM(r.provider, r.confidenceEpsilon, r.logger)
	loop := agent.NewLoop(spec.Goal, r.provider, pol, b, r.agentCfg, r.logger)

	out := loop.Run(ctx, spec.URL).Outcome()
	out.Perturbed = spec.Perturbed
	return out
}

// DOMRunner is the production BaselineRunner.
type DOMRunner struct {
	opts   baseline.Options
	logger *zap.Logger
}

func NewDOMRunner(opts baseline.Options, logger *zap.Logger) *DOMRunner {
	return &DOMRunner{opts: opts, logger: logger}
}

// Run executes one selector-driven crawl.
func (r *DOMRunner) Run(ctx context.Context, spec RunSpec) *metrics.RunOutcome {
	opts := r.opts
	opts.InitScript = spec.InitScript

	out := baseline.New(opts, r.logger).Extract(ctx, spec.URL, spec.Goal, spec.Selectors)
	out.Perturbed = spec.Perturbed
	return out
}

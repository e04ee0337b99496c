package duel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/metrics"
)

// Perturbation is a named DOM mutation applied to the target page before each
// run, simulating the markup churn that breaks selector-based crawlers.
type Perturbation struct {
	Name   string
	Script string // runs on every document load
}

// perturbationWrapper defers the mutation until the DOM exists.
const perturbationWrapper = `(() => {
	const mutate = () => { %MUTATE% };
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', mutate);
	} else {
		mutate();
	}
})();`

// DefaultPerturbations are the stock class/id renames from the resilience
// scenario: semantically identical pages, structurally renamed.
func DefaultPerturbations() []Perturbation {
	return []Perturbation{
		{
			Name: "class-rename",
			Script: wrapMutation(`
				document.querySelectorAll('[class]').forEach(el => {
					el.className = String(el.className).split(/\s+/)
						.map(c => c ? c + '-v2' : c).join(' ');
				});`),
		},
		{
			Name: "id-rename",
			Script: wrapMutation(`
				document.querySelectorAll('[id]').forEach(el => {
					el.id = 'r-' + el.id;
				});`),
		},
		{
			Name: "class-strip",
			Script: wrapMutation(`
				document.querySelectorAll('[class]').forEach(el => {
					el.removeAttribute('class');
				});`),
		},
	}
}

func wrapMutation(body string) string {
	return strings.Replace(perturbationWrapper, "%MUTATE%", body, 1)
}

// ResilienceReport summarizes a perturbation sweep.
type ResilienceReport struct {
	Perturbations int     `json:"perturbations"`
	VLMScore      float64 `json:"vlmScore"` // fraction of perturbed runs that still succeeded
	DOMScore      float64 `json:"domScore"`
}

// RunResilience reruns both crawlers once per perturbation and reports the
// fraction of perturbed runs each crawler still wins through. Outcomes are
// recorded in the tracker with the perturbed flag set.
func (o *Orchestrator) RunResilience(ctx context.Context, targetURL, goal string, selectors map[string]string, perturbations []Perturbation) (*ResilienceReport, error) {
	if err := validateTarget(targetURL); err != nil {
		return nil, err
	}
	if len(perturbations) == 0 {
		perturbations = DefaultPerturbations()
	}

	for _, p := range perturbations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.logger.Info("resilience run", zap.String("perturbation", p.Name))
		spec := RunSpec{
			URL:        targetURL,
			Goal:       goal,
			Selectors:  selectors,
			InitScript: p.Script,
			Perturbed:  true,
		}
		vlmOut, domOut := o.runPair(ctx, spec)
		o.tracker.Record(vlmOut)
		o.tracker.Record(domOut)
	}

	return &ResilienceReport{
		Perturbations: len(perturbations),
		VLMScore:      o.tracker.ResilienceScore(metrics.KindVLM),
		DOMScore:      o.tracker.ResilienceScore(metrics.KindDOM),
	}, nil
}

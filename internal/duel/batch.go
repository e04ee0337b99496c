package duel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Target is one URL/goal pair in a batch.
type Target struct {
	URL       string
	Goal      string
	Selectors map[string]string
}

// RunBatch runs several duels with bounded concurrency. Individual crawler
// failures stay inside their verdicts; only pre-flight validation errors stop
// the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, targets []Target, concurrency int) ([]*Verdict, error) {
	if concurrency <= 0 {
		concurrency = 2
	}

	verdicts := make([]*Verdict, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, t := range targets {
		g.Go(func() error {
			v, err := o.Run(ctx, t.URL, t.Goal, t.Selectors)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

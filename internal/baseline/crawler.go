// Package baseline is the selector-driven comparison crawler: a single
// deterministic extraction pass with no perception calls, used as the DOM
// side of a duel.
package baseline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/browser"
	"github.com/v0xg/webduel/internal/metrics"
)

// Options configures a baseline run.
type Options struct {
	Headless   bool
	MaxPages   int           // pagination ceiling, default 1 (single pass)
	InitScript string        // DOM perturbation hook, shared with the vision side
	Timeout    time.Duration // per-navigation timeout
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Crawler extracts data by CSS selector. Given the same URL and selectors it
// produces the same extraction, absent external page changes.
type Crawler struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{opts: opts.withDefaults(), logger: logger.Named("baseline")}
}

// extractJS pulls text (or href, for bare links) for every selector match.
// Invalid selectors report an error string instead of throwing.
const extractJS = `(selectors) => {
	const out = {};
	for (const [field, selector] of Object.entries(selectors)) {
		try {
			const values = [];
			document.querySelectorAll(selector).forEach(el => {
				const text = (el.textContent || '').trim() || el.getAttribute('href') || '';
				if (text) values.push(text.slice(0, 200));
			});
			out[field] = values.slice(0, 50);
		} catch (e) {
			out[field] = ['__error__: ' + e.message];
		}
	}
	return out;
}`

// nextPageJS finds a pagination link, if any.
const nextPageJS = `() => {
	const el = document.querySelector('a[rel="next"], li.next > a, a.next');
	return el ? el.href : '';
}`

// Extract runs the crawl and always returns an outcome; failures, including
// selectors that match nothing, become outcome data so the duel can compare
// them fairly against a vision run that also found nothing.
func (c *Crawler) Extract(ctx context.Context, url, goal string, selectors map[string]string) *metrics.RunOutcome {
	start := time.Now()
	outcome := metrics.NewOutcome(metrics.KindDOM, goal, url)
	outcome.ExtractedData = map[string][]string{}

	if len(selectors) == 0 {
		selectors = SelectorsForGoal(goal)
	}

	b, err := browser.New(browser.Options{
		Headless:          c.opts.Headless,
		InitScript:        c.opts.InitScript,
		NavigationTimeout: c.opts.Timeout,
	}, c.logger)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("browser launch: %v", err))
		outcome.Duration = time.Since(start)
		return outcome
	}
	defer b.Close()

	pageURL := url
	for page := 0; page < c.opts.MaxPages && pageURL != ""; page++ {
		if err := ctx.Err(); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("cancelled: %v", err))
			break
		}
		next, err := c.extractPage(ctx, b, pageURL, selectors, outcome)
		if err != nil {
			outcome.Errors = append(outcome.Errors, err.Error())
			break
		}
		outcome.PagesVisited++
		outcome.Steps++
		pageURL = next
	}

	// Selectors that matched nothing anywhere get a descriptive error; the
	// run fails only when nothing at all was extracted.
	total := 0
	for _, field := range sortedFields(selectors) {
		if len(outcome.ExtractedData[field]) == 0 {
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("selector %q (%s) matched no elements", selectors[field], field))
		}
		total += len(outcome.ExtractedData[field])
	}
	outcome.Success = total > 0
	outcome.Duration = time.Since(start)

	c.logger.Info("baseline crawl finished",
		zap.Bool("success", outcome.Success),
		zap.Int("pages", outcome.PagesVisited),
		zap.Int("values", total),
		zap.Duration("duration", outcome.Duration))
	return outcome
}

func (c *Crawler) extractPage(ctx context.Context, b *browser.Browser, url string, selectors map[string]string, outcome *metrics.RunOutcome) (string, error) {
	page := b.Page().Context(ctx).Timeout(c.opts.Timeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	page.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	obj, err := page.Eval(extractJS, selectors)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	for field := range selectors {
		for _, v := range obj.Value.Get(field).Arr() {
			s := v.Str()
			if len(s) > 11 && s[:11] == "__error__: " {
				outcome.Errors = append(outcome.Errors,
					fmt.Sprintf("selector %q (%s): %s", selectors[field], field, s[11:]))
				continue
			}
			outcome.ExtractedData[field] = append(outcome.ExtractedData[field], s)
		}
	}

	if c.opts.MaxPages <= 1 {
		return "", nil
	}
	nextObj, err := page.Eval(nextPageJS)
	if err != nil {
		return "", nil
	}
	return nextObj.Value.Str(), nil
}

func sortedFields(selectors map[string]string) []string {
	fields := make([]string, 0, len(selectors))
	for f := range selectors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

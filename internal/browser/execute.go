package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/webduel/internal/agent"
)

// Execute performs one structured action against the live page. Failures are
// returned in the result rather than stopping anything; the navigation loop
// records them and lets the policy adapt on the next step.
func (b *Browser) Execute(ctx context.Context, action agent.Action) agent.ExecutionResult {
	var err error
	switch action.Kind {
	case agent.ActionClick:
		err = b.click(ctx, action)
	case agent.ActionType:
		err = b.typeText(ctx, action)
	case agent.ActionScroll:
		err = b.scroll(ctx, action)
	case agent.ActionWait:
		err = sleep(ctx, action.Duration)
	case agent.ActionNavigate:
		err = b.navigate(ctx, action.URL)
	default:
		err = fmt.Errorf("unsupported action kind: %s", action.Kind)
	}

	err = classify(err)
	if err != nil {
		b.logger.Debug("action failed", zap.Stringer("action", action), zap.Error(err))
	}
	return agent.ExecutionResult{Success: err == nil, Err: err}
}

// click moves the mouse to the target's bounding-box center and clicks.
// Vision gives coordinates, not selectors, so the click is purely positional.
func (b *Browser) click(ctx context.Context, action agent.Action) error {
	x, y, err := targetPoint(action)
	if err != nil {
		return err
	}
	page := b.page.Context(ctx)

	if err := page.Mouse.MoveTo(proto.NewPoint(x, y)); err != nil {
		return fmt.Errorf("move to (%0.f,%0.f): %w", x, y, err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click at (%0.f,%0.f): %w", x, y, err)
	}
	b.settle(ctx)
	return nil
}

// typeText clicks the target field to focus it, then inserts the text.
func (b *Browser) typeText(ctx context.Context, action agent.Action) error {
	if err := b.click(ctx, action); err != nil {
		return err
	}
	if action.Text == "" {
		return nil
	}
	if err := b.page.Context(ctx).InsertText(action.Text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

func (b *Browser) scroll(ctx context.Context, action agent.Action) error {
	amount := float64(action.Amount)
	if amount == 0 {
		amount = 600
	}
	if action.Direction == agent.ScrollUp {
		amount = -amount
	}
	if err := b.page.Context(ctx).Mouse.Scroll(0, amount, 5); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (b *Browser) navigate(ctx context.Context, url string) error {
	page := b.page.Context(ctx).Timeout(b.opts.NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	b.settle(ctx)
	return nil
}

// settle waits briefly for the network to go idle after an interaction.
// Bounded so persistent connections (websockets, polling) cannot hang us.
func (b *Browser) settle(ctx context.Context) {
	b.page.Context(ctx).Timeout(5*time.Second).
		WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
}

func targetPoint(action agent.Action) (float64, float64, error) {
	if action.Target == nil {
		return 0, 0, fmt.Errorf("%w: action has no target", ErrTargetNotFound)
	}
	box := action.Target.Box
	if box.Width <= 0 || box.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: %s has an empty bounding box", ErrTargetNotFound, action.Target.Description)
	}
	cx, cy := box.Center()
	return float64(cx), float64(cy), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

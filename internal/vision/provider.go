package vision

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client turns a screenshot plus a goal into candidate elements.
type Client interface {
	DetectElements(ctx context.Context, screenshot []byte, goal, pageContext string) (*Detection, error)
}

// Reasoner runs a plain text completion against the same model backend.
// Used by the decision policy so perception and reasoning share one provider.
type Reasoner interface {
	Complete(ctx context.Context, system, user string) (reply string, tokens int, err error)
}

// Provider is a full model backend: perception plus text reasoning.
type Provider interface {
	Client
	Reasoner
}

// estTokensPerCall is the fallback accounting when the backend omits usage
// data (roughly one screenshot plus prompt per call).
const estTokensPerCall = 1500

// NewProvider creates a model backend by name. An empty model selects the
// provider's default.
func NewProvider(name, model string, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "claude", "anthropic":
		return NewClaudeProvider(model, logger)
	case "openai", "gpt":
		return NewOpenAIProvider(model, logger)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}

// newCallLimiter paces outbound model calls. One request per second with a
// small burst keeps a duel batch under typical API rate limits.
func newCallLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(1), 2)
}

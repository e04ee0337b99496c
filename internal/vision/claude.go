package vision

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClaudeProvider implements Provider using Anthropic's Claude vision models.
type ClaudeProvider struct {
	client  *anthropic.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClaudeProvider creates a Claude-backed provider.
func NewClaudeProvider(model string, logger *zap.Logger) (*ClaudeProvider, error) {
	apiKey := os.Getenv("WEBDUEL_ANTHROPIC_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("WEBDUEL_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeProvider{
		client:  &client,
		model:   model,
		limiter: newCallLimiter(),
		logger:  logger.Named("claude"),
	}, nil
}

// DetectElements sends the screenshot and goal to Claude and parses the
// returned element array.
func (p *ClaudeProvider) DetectElements(ctx context.Context, screenshot []byte, goal, pageContext string) (*Detection, error) {
	b64, err := prepareScreenshot(screenshot)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: detectSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", b64),
				anthropic.NewTextBlock(buildDetectPrompt(goal, pageContext)),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: claude: %v", ErrUnavailable, err)
	}

	responseText := firstTextBlock(resp)
	if responseText == "" {
		return nil, fmt.Errorf("empty response from Claude")
	}

	elements, err := parseElementsJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Claude response as JSON: %w\nResponse: %s", err, responseText)
	}

	tokens := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	if tokens == 0 {
		tokens = estTokensPerCall
	}
	p.logger.Debug("detect elements",
		zap.Int("elements", len(elements)),
		zap.Int("tokens", tokens))

	return &Detection{Elements: elements, Tokens: tokens}, nil
}

// Complete runs a plain text exchange against the same model.
func (p *ClaudeProvider) Complete(ctx context.Context, system, user string) (string, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("claude API error: %w", err)
	}

	responseText := firstTextBlock(resp)
	if responseText == "" {
		return "", 0, fmt.Errorf("empty response from Claude")
	}

	tokens := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	if tokens == 0 {
		tokens = estTokensPerCall
	}
	return responseText, tokens, nil
}

func firstTextBlock(resp *anthropic.Message) string {
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

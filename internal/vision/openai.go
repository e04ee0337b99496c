package vision

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIProvider implements Provider using OpenAI's vision-capable models.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(model string, logger *zap.Logger) (*OpenAIProvider, error) {
	apiKey := os.Getenv("WEBDUEL_OPENAI_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("WEBDUEL_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: newCallLimiter(),
		logger:  logger.Named("openai"),
	}, nil
}

// DetectElements sends the screenshot and goal to OpenAI and parses the
// returned element array.
func (p *OpenAIProvider) DetectElements(ctx context.Context, screenshot []byte, goal, pageContext string) (*Detection, error) {
	b64, err := prepareScreenshot(screenshot)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: detectSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildDetectPrompt(goal, pageContext),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + b64,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}
	responseText := resp.Choices[0].Message.Content

	elements, err := parseElementsJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response as JSON: %w\nResponse: %s", err, responseText)
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = estTokensPerCall
	}
	p.logger.Debug("detect elements",
		zap.Int("elements", len(elements)),
		zap.Int("tokens", tokens))

	return &Detection{Elements: elements, Tokens: tokens}, nil
}

// Complete runs a plain text exchange against the same model.
func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (string, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: user,
			},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", 0, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("empty response from OpenAI")
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = estTokensPerCall
	}
	return resp.Choices[0].Message.Content, tokens, nil
}

package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-5-mini"

var errMissingAPIKey = errors.New("extraction: api key is required")

// Config describes an OpenAI-compatible chat endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

type plan struct {
	Names         []string `json:"names"`
	TwitterHandle string   `json:"twitterHandle"`
}

// LLMExtractor implements Extractor on top of a langchaingo chat model in JSON mode.
type LLMExtractor struct {
	model  llms.Model
	logger *zap.Logger
}

// NewOpenAIExtractor builds an extractor backed by an OpenAI-compatible API.
func NewOpenAIExtractor(cfg Config, logger *zap.Logger) (*LLMExtractor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}
	options := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(modelName),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		options = append(options, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(options...)
	if err != nil {
		return nil, fmt.Errorf("extraction: create openai client: %w", err)
	}
	return NewLLMExtractor(client, logger), nil
}

// NewLLMExtractor wraps an arbitrary langchaingo model.
func NewLLMExtractor(model llms.Model, logger *zap.Logger) *LLMExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{model: model, logger: logger}
}

// Extract asks the model for names and a handle. A failed call or an unparseable answer is an error.
func (e *LLMExtractor) Extract(ctx context.Context, request Request) (Extraction, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildUserPrompt(request)),
	}
	response, err := e.model.GenerateContent(ctx, content, llms.WithJSONMode())
	if err != nil {
		e.logger.Error("extraction request failed", zap.Error(err))
		return Extraction{}, fmt.Errorf("extraction: generate content: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return Extraction{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	raw := repairJSON(stripCodeFences(response.Choices[0].Content))
	var decoded plan
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		e.logger.Warn("extraction response is not valid JSON", zap.String("response", raw), zap.Error(err))
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	extraction := Extraction{
		Names:  make([]string, 0, len(decoded.Names)),
		Handle: normalizeHandle(decoded.TwitterHandle),
	}
	for _, name := range decoded.Names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			extraction.Names = append(extraction.Names, trimmed)
		}
	}
	e.logger.Debug("extraction completed",
		zap.Int("names", len(extraction.Names)),
		zap.Bool("handle", extraction.Handle != ""))
	return extraction, nil
}

func normalizeHandle(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "@")
}

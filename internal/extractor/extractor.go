// Package extractor provides the criteria-extraction collaborator backed by
// the OpenAI API.
//
// It converts a raw user utterance plus the running conversation context
// into a structured TripPlanningRequest and a flag indicating whether
// criteria-gathering is complete. The session treats it as fail-closed: any
// error here leaves session state untouched.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/swellmates/tripmatch/internal/models"
)

// Error variables for better error handling and testability
var (
	ErrAPIKeyNotSet        = errors.New("OPENAI_API_KEY not set")
	ErrNoChoicesReturned   = errors.New("no choices returned")
	ErrMalformedExtraction = errors.New("extractor returned malformed data")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration for the extractor client.
type Opts struct {
	APIKey string
	Model  string
}

// Option configures the extractor client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for extraction.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// ExtractionResult is the structured contract the session depends on: the
// assistant's free-text reply, whether criteria-gathering is complete, and
// the structured request when it is.
type ExtractionResult struct {
	Reply      string                      `json:"reply"`
	IsFinished bool                        `json:"is_finished"`
	Request    *models.TripPlanningRequest `json:"request,omitempty"`
}

// Extractor wraps the OpenAI chat completion service for criteria extraction.
type Extractor struct {
	chat  chatService
	model openai.ChatModel
}

// NewExtractor initializes an extractor client. The API key comes from
// options or the OPENAI_API_KEY environment variable.
func NewExtractor(opts ...Option) (*Extractor, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Extractor.NewExtractor: API key not configured")
		return nil, ErrAPIKeyNotSet
	}
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("Extractor.NewExtractor: client created", "model", model)
	return &Extractor{chat: &cli.Chat.Completions, model: model}, nil
}

// Extract sends the conversation history plus the new user turn to the
// model and parses the structured extraction result.
func (e *Extractor) Extract(ctx context.Context, history []models.ConversationMessage, userText string) (*ExtractionResult, error) {
	slog.Debug("Extractor.Extract: requesting extraction", "historyLength", len(history), "userTextLength", len(userText))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(m.Text))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	resp, err := e.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    e.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "trip_planning_extraction",
					Description: openai.String("Trip-planning criteria extracted from the conversation"),
					Schema:      extractionSchema,
				},
			},
		},
	})
	if err != nil {
		slog.Error("Extractor.Extract: chat completion failed", "error", err)
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("Extractor.Extract: response contained no choices")
		return nil, ErrNoChoicesReturned
	}

	var result ExtractionResult
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		slog.Error("Extractor.Extract: failed to parse structured output", "error", err, "contentLength", len(content))
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	if result.IsFinished && result.Request == nil {
		slog.Error("Extractor.Extract: finished extraction missing structured request")
		return nil, ErrMalformedExtraction
	}
	if result.Request != nil {
		if err := result.Request.Validate(); err != nil {
			slog.Error("Extractor.Extract: structured request failed validation", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
		}
	}

	slog.Debug("Extractor.Extract: extraction succeeded", "isFinished", result.IsFinished, "hasRequest", result.Request != nil)
	return &result, nil
}

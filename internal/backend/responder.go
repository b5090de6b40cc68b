package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"aichat/internal/types"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// =============================================================================
// RESPONDERS
// =============================================================================

// Request is one turn to answer.
type Request struct {
	SessionID string
	History   []types.HistoryEntry // prior turns, oldest first, excluding Message
	Message   string
}

// Responder produces the assistant reply for a user message.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
	Name() string
}

// ErrEmptyReply is returned when a model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// EchoResponder answers with the user's own message. It needs no credentials.
type EchoResponder struct{}

func (EchoResponder) Respond(ctx context.Context, req Request) (string, error) {
	return "Echo: " + req.Message, nil
}

func (EchoResponder) Name() string { return "echo" }

// -----------------------------------------------------------------------------
// Gemini
// -----------------------------------------------------------------------------

// GeminiResponder answers with Google's Gemini models, replaying the session
// history as a multi-turn conversation.
type GeminiResponder struct {
	client *genai.Client
	model  string
}

// GeminiOptions configures NewGeminiResponder.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string // override for proxies and tests
	HTTPClient *http.Client
}

// NewGeminiResponder creates a Gemini-backed responder.
func NewGeminiResponder(ctx context.Context, opts GeminiOptions) (*GeminiResponder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiResponder{client: client, model: opts.Model}, nil
}

func (g *GeminiResponder) Respond(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, h := range req.History {
		role := genai.Role(genai.RoleUser)
		if h.Role != types.SenderUser {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (g *GeminiResponder) Name() string { return "gemini:" + g.model }

// -----------------------------------------------------------------------------
// OpenAI
// -----------------------------------------------------------------------------

// OpenAIResponder answers with an OpenAI-compatible chat completion API.
type OpenAIResponder struct {
	client      *openai.Client
	model       string
	temperature float32
}

// OpenAIOptions configures NewOpenAIResponder.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIResponder creates an OpenAI-backed responder.
func NewOpenAIResponder(opts OpenAIOptions) (*OpenAIResponder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = openai.GPT3Dot5Turbo
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &OpenAIResponder{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: 0.7,
	}, nil
}

func (o *OpenAIResponder) Respond(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, h := range req.History {
		role := openai.ChatMessageRoleUser
		if h.Role != types.SenderUser {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIResponder) Name() string { return "openai:" + o.model }

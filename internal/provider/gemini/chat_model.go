// Package gemini adapts the Google Gen AI client to eino's chat model
// interface so it can sit in the same chain as the Ark model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config holds the Gemini credentials and default sampling options.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// ErrBlocked reports that Gemini refused the prompt or stopped the reply on
// safety grounds.
var ErrBlocked = errors.New("gemini: content blocked")

// ChatModel implements model.BaseChatModel on top of genai.
type ChatModel struct {
	models generator
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel dials the Gemini API backend.
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil || cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("gemini: api key and model are required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &ChatModel{models: client.Models, cfg: *cfg}, nil
}

// Generate returns the full reply in one message.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName, contents, config, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if err := blocked(resp); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(resp.Text(), nil), nil
}

// Stream forwards each non-empty text fragment as an assistant message chunk.
// The request is bound to ctx, so cancelling ctx stops the upstream call.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	modelName, contents, config, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		for resp, err := range m.models.GenerateContentStream(ctx, modelName, contents, config) {
			if err != nil {
				sw.Send(nil, fmt.Errorf("gemini: stream content: %w", err))
				return
			}
			if err := blocked(resp); err != nil {
				sw.Send(nil, err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(text, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// blocked returns ErrBlocked when resp carries a prompt block or a safety stop.
// Such responses have no text and would otherwise read as an empty reply.
func blocked(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		if fb.BlockReasonMessage != "" {
			return fmt.Errorf("%w: prompt %s: %s", ErrBlocked, fb.BlockReason, fb.BlockReasonMessage)
		}
		return fmt.Errorf("%w: prompt %s", ErrBlocked, fb.BlockReason)
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		switch cand.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
			return fmt.Errorf("%w: reply stopped with %s", ErrBlocked, cand.FinishReason)
		}
	}
	return nil
}

// GetType names the component for eino callbacks.
func (m *ChatModel) GetType() string { return "Gemini" }

func (m *ChatModel) prepare(input []*schema.Message, opts ...model.Option) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.cfg.Model,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	system, contents, err := toContents(input)
	if err != nil {
		return "", nil, nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:   options.Temperature,
		TopP:          options.TopP,
		StopSequences: options.Stop,
	}
	if options.MaxTokens != nil {
		config.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	modelName := m.cfg.Model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}
	return modelName, contents, config, nil
}

// toContents splits eino messages into a Gemini system instruction and the
// ordered user/model turns.
func toContents(input []*schema.Message) (string, []*genai.Content, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))

	for i, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			return "", nil, fmt.Errorf("gemini: message %d has unsupported role %q", i, msg.Role)
		}
	}

	if len(contents) == 0 {
		return "", nil, errors.New("gemini: no user or assistant turns to send")
	}
	return strings.Join(system, "\n\n"), contents, nil
}

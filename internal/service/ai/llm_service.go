package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/persona"
)

// Options tunes how the service talks to the chat model.
type Options struct {
	// SystemPrompt replaces the persona-derived prompt when non-empty.
	SystemPrompt string
	// Streaming selects token streaming; when false replies are generated in
	// one call and delivered as a single chunk.
	Streaming bool
}

// Service turns a conversation into a completion request for the configured model.
type Service struct {
	chatModel    model.BaseChatModel
	persona      persona.Persona
	systemPrompt string
	streaming    bool
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt chain for the given persona.
func NewService(ctx context.Context, chatModel model.BaseChatModel, p persona.Persona, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = NewPersonaPromptManager().BuildSystemPrompt(&p)
	}

	return &Service{
		chatModel:    chatModel,
		persona:      p,
		systemPrompt: systemPrompt,
		streaming:    opts.Streaming,
		chain:        runnable,
	}, nil
}

// StreamingEnabled 指示是否开启逐 token 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Persona returns the companion the service speaks as.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// GenerateReply runs the chain once and returns the complete assistant message.
func (s *Service) GenerateReply(ctx context.Context, messages []chat.Message) (*schema.Message, error) {
	input, err := s.buildChainInput(messages)
	if err != nil {
		return nil, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated reply persona=%s turns=%d length=%d", s.persona.ID, len(messages), len(response.Content))
	return response, nil
}

// StreamReply streams the assistant reply for the conversation. Cancelling ctx
// cancels the upstream call.
func (s *Service) StreamReply(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		response, err := s.GenerateReply(ctx, messages)
		if err != nil {
			return nil, err
		}
		return schema.StreamReaderFromArray([]*schema.Message{response}), nil
	}

	input, err := s.buildChainInput(messages)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(messages []chat.Message) (map[string]any, error) {
	history, err := toSchemaMessages(messages)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"system":  s.systemPrompt,
		"history": history,
	}, nil
}

// toSchemaMessages maps conversation turns onto the model's wire format.
func toSchemaMessages(messages []chat.Message) ([]*schema.Message, error) {
	history := make([]*schema.Message, 0, len(messages))
	for i, msg := range messages {
		text := msg.Text()
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(text, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(text))
		default:
			return nil, fmt.Errorf("message %d has unsupported role %q", i, msg.Role)
		}
	}
	return history, nil
}

package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	chunks    []string
	streamErr error
	final     *genai.GenerateContentResponse

	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func (f *fakeGenerator) GenerateContent(_ context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel, f.gotContents, f.gotConfig = modelName, contents, config
	if f.final != nil {
		return f.final, nil
	}
	return textResponse(strings.Join(f.chunks, "")), nil
}

func (f *fakeGenerator) GenerateContentStream(_ context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.gotModel, f.gotContents, f.gotConfig = modelName, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range f.chunks {
			if !yield(textResponse(c), nil) {
				return
			}
		}
		if f.final != nil && !yield(f.final, nil) {
			return
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func conversation() []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage("You are Zen."),
		schema.UserMessage("I feel anxious today"),
		schema.AssistantMessage("I'm here for you.", nil),
		schema.UserMessage("What can I do?"),
	}
}

func TestToContentsMapsRoles(t *testing.T) {
	system, contents, err := toContents(conversation())
	if err != nil {
		t.Fatalf("toContents err: %v", err)
	}
	if system != "You are Zen." {
		t.Fatalf("unexpected system %q", system)
	}

	wantRoles := []string{string(genai.RoleUser), string(genai.RoleModel), string(genai.RoleUser)}
	if len(contents) != len(wantRoles) {
		t.Fatalf("expected %d contents, got %d", len(wantRoles), len(contents))
	}
	for i, role := range wantRoles {
		if contents[i].Role != role {
			t.Fatalf("content %d role = %s, want %s", i, contents[i].Role, role)
		}
	}
	if contents[0].Parts[0].Text != "I feel anxious today" {
		t.Fatalf("unexpected first text %q", contents[0].Parts[0].Text)
	}
}

func TestToContentsRequiresTurns(t *testing.T) {
	if _, _, err := toContents([]*schema.Message{schema.SystemMessage("only system")}); err == nil {
		t.Fatal("expected error without user turns")
	}
}

func TestStreamForwardsChunks(t *testing.T) {
	fake := &fakeGenerator{chunks: []string{"Take ", "", "a deep ", "breath."}}
	temp := float32(0.4)
	cm := &ChatModel{models: fake, cfg: Config{Model: "gemini-2.5-flash", Temperature: &temp}}

	sr, err := cm.Stream(context.Background(), conversation(), model.WithMaxTokens(128))
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer sr.Close()

	var got strings.Builder
	count := 0
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		count++
		got.WriteString(msg.Content)
	}

	if got.String() != "Take a deep breath." || count != 3 {
		t.Fatalf("unexpected stream %q (%d chunks)", got.String(), count)
	}
	if fake.gotModel != "gemini-2.5-flash" {
		t.Fatalf("unexpected model %q", fake.gotModel)
	}
	if fake.gotConfig.MaxOutputTokens != 128 {
		t.Fatalf("unexpected max tokens %d", fake.gotConfig.MaxOutputTokens)
	}
	if fake.gotConfig.Temperature == nil || *fake.gotConfig.Temperature != temp {
		t.Fatal("expected default temperature to be forwarded")
	}
	if fake.gotConfig.SystemInstruction == nil {
		t.Fatal("expected system instruction")
	}
}

func TestStreamSurfacesUpstreamError(t *testing.T) {
	fake := &fakeGenerator{chunks: []string{"partial"}, streamErr: errors.New("quota exceeded")}
	cm := &ChatModel{models: fake, cfg: Config{Model: "m"}}

	sr, err := cm.Stream(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer sr.Close()

	if _, err := sr.Recv(); err != nil {
		t.Fatalf("first Recv err: %v", err)
	}
	if _, err := sr.Recv(); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestGenerateUsesOptionModel(t *testing.T) {
	fake := &fakeGenerator{chunks: []string{"ok"}}
	cm := &ChatModel{models: fake, cfg: Config{Model: "default"}}

	msg, err := cm.Generate(context.Background(), conversation(), model.WithModel("override"))
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "ok" || msg.Role != schema.Assistant {
		t.Fatalf("unexpected message %+v", msg)
	}
	if fake.gotModel != "override" {
		t.Fatalf("expected override model, got %q", fake.gotModel)
	}
}

func TestBlockedResponsesBecomeErrors(t *testing.T) {
	cases := map[string]*genai.GenerateContentResponse{
		"prompt blocked": {
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		},
		"safety stop": {
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		},
	}

	for name, final := range cases {
		t.Run(name, func(t *testing.T) {
			fake := &fakeGenerator{final: final}
			cm := &ChatModel{models: fake, cfg: Config{Model: "m"}}

			if _, err := cm.Generate(context.Background(), conversation()); !errors.Is(err, ErrBlocked) {
				t.Fatalf("Generate: expected ErrBlocked, got %v", err)
			}

			sr, err := cm.Stream(context.Background(), conversation())
			if err != nil {
				t.Fatalf("Stream err: %v", err)
			}
			defer sr.Close()
			if _, err := sr.Recv(); !errors.Is(err, ErrBlocked) {
				t.Fatalf("Stream: expected ErrBlocked, got %v", err)
			}
		})
	}
}

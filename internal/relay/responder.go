package relay

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/amora-labs/amora/client/internal/config"
	"github.com/amora-labs/amora/client/internal/history"
	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/model/profile"
)

// Responder produces the coach side of a conversation turn.
type Responder interface {
	Reply(ctx context.Context, coach profile.CoachProfile, transcript []chat.Message, userMessage string) (string, error)
}

// ModelResponder drives an LLM chain: system prompt from the coach profile,
// prior turns trimmed to the token budget, then the new user message.
type ModelResponder struct {
	chain            compose.Runnable[map[string]any, *schema.Message]
	historyMaxTokens int
}

// NewModelResponder compiles the chat chain from the AI configuration.
func NewModelResponder(ctx context.Context, cfg config.AIConfig) (*ModelResponder, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ModelResponder{
		chain:            runnable,
		historyMaxTokens: cfg.HistoryMaxTokens,
	}, nil
}

// Reply generates one coach turn for the conversation.
func (r *ModelResponder) Reply(ctx context.Context, coach profile.CoachProfile, transcript []chat.Message, userMessage string) (string, error) {
	input := map[string]any{
		"system":  buildSystemPrompt(coach),
		"history": r.buildHistory(transcript),
		"query":   userMessage,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	log.Printf("[relay] generated reply coach=%s length=%d", coach.ID, len(response.Content))
	return response.Content, nil
}

// buildHistory converts the transcript into model messages and trims it to
// the configured token budget, newest turns first.
func (r *ModelResponder) buildHistory(transcript []chat.Message) []*schema.Message {
	if len(transcript) == 0 {
		return nil
	}

	msgs := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		switch msg.Sender {
		case chat.SenderUser:
			msgs = append(msgs, schema.UserMessage(msg.Content))
		case chat.SenderAI:
			msgs = append(msgs, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history.Build(msgs, r.historyMaxTokens)
}

// CannedResponder answers without a model. It keeps local development and
// tests working when no ark credentials are configured.
type CannedResponder struct{}

func (CannedResponder) Reply(_ context.Context, coach profile.CoachProfile, transcript []chat.Message, _ string) (string, error) {
	if len(transcript) == 0 && coach.OpeningLine != "" {
		return coach.OpeningLine, nil
	}
	return fmt.Sprintf("I hear you. Tell me more about how that made you feel. — %s", coach.Name), nil
}

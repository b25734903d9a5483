package history

import (
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// EstimateTokens approximates the token cost of a text as its whitespace
// delimited word count. Deliberately not a real tokenizer: the budget is an
// upper-bound heuristic, not an accounting tool.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

// Build trims a message list to a token budget before it is handed to the
// model. System messages are always retained regardless of budget. The
// remaining messages are walked newest to oldest, keeping each one while the
// running estimate stays within maxTokens; once the budget would be exceeded
// everything older is discarded. A single message larger than the whole
// budget is dropped, never included partially.
//
// Build never fails the conversation: on any internal panic it returns the
// input unchanged.
func Build(messages []*schema.Message, maxTokens int) (result []*schema.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[history] window build panicked, passing history through unchanged: %v", r)
			result = messages
		}
	}()

	if len(messages) == 0 {
		return []*schema.Message{}
	}

	system := make([]*schema.Message, 0, 1)
	rest := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	total := 0
	kept := make([]*schema.Message, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		estimate := EstimateTokens(rest[i].Content)
		if total+estimate > maxTokens {
			break
		}
		kept = append(kept, rest[i])
		total += estimate
	}

	// kept was accumulated newest-first; emit system messages followed by
	// the retained tail in chronological order.
	result = make([]*schema.Message, 0, len(system)+len(kept))
	result = append(result, system...)
	for i := len(kept) - 1; i >= 0; i-- {
		result = append(result, kept[i])
	}
	return result
}

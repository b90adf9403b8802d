package research

import (
	"context"
	"regexp"
	"strings"

	"github.com/inquestai/inquest/provider"
)

// Intent classification outcomes.
const (
	IntentResearch = "research"
	IntentChat     = "chat"
)

const intentSystemPrompt = `You classify user messages into exactly one category.

- "research": The user is asking for factual, multi-source research. Examples: "What do you know about X?", "Compare A and B", "Latest developments in X", "Why does X happen?", topic questions that benefit from searching multiple sources.
- "chat": Greetings, small talk, thanks, goodbye, simple clarifications, or questions that do not need external research. Examples: "Hello", "How are you?", "Thanks", "What can you do?", "Tell me a joke".

Reply with exactly one word: research or chat. No other text.`

const chatSystemPrompt = `You are a helpful assistant. Answer concisely and clearly. For greetings and small talk, keep it brief and friendly.`

var smallTalkRe = regexp.MustCompile(`^(hi|hey|hello|howdy|yo|sup|thanks|thank you|bye|goodbye|good morning|good night|how are you|what('s|s) up|what can you do|tell me a joke)\b`)

// ClassifyIntent decides whether a message needs the research pipeline or a
// direct reply. Short greetings skip the model call; classification failure
// defaults to research.
func ClassifyIntent(ctx context.Context, llm provider.Provider, message string) string {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return IntentChat
	}
	if len(text) < 80 && smallTalkRe.MatchString(text) {
		return IntentChat
	}
	reply, err := llm.Generate(ctx, intentSystemPrompt, message)
	if err != nil {
		return IntentResearch
	}
	if strings.Contains(strings.ToLower(reply), IntentResearch) {
		return IntentResearch
	}
	return IntentChat
}

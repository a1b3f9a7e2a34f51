package engine

import (
	"slices"
	"unicode/utf8"

	"github.com/ragline/ragline/internal/llm"
)

// defaultHistoryTokens bounds how much conversation history rides along
// with each completion request.
const defaultHistoryTokens = 8000

// estimateTokens approximates the token count of text. Two runes per
// token is a workable average across English and CJK prose.
func estimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	tokens := runes / 2
	if tokens == 0 && runes > 0 {
		tokens = 1
	}
	return tokens
}

// trimHistory drops the oldest messages until the conversation fits
// maxTokens. A leading system message always survives, and newer
// messages are kept in preference to older ones.
func trimHistory(messages []llm.Message, maxTokens int) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	var system *llm.Message
	rest := messages
	if messages[0].Role == llm.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	budget := maxTokens
	if system != nil {
		budget -= estimateTokens(system.Content)
	}

	var kept []llm.Message
	for i := len(rest) - 1; i >= 0; i-- {
		cost := estimateTokens(rest[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, rest[i])
	}
	slices.Reverse(kept)

	if system != nil {
		return append([]llm.Message{*system}, kept...)
	}
	return kept
}

// Package budget estimates token counts for the development backend. The
// backend reports token usage in its META_DATA event even when the model
// does not, and trims per-conversation memory to fit the prompt window.
//
// Estimation is a character heuristic: 1 token ≈ 4 characters. It is
// tokenizer-independent and deliberately rough.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs charge.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget for remembered
	// conversation turns plus the fixed messages of a request.
	DefaultMaxContextTokens = 6000
)

// Usage is an estimated token count for one request.
type Usage struct {
	Prompt     int
	Completion int
}

// Total is Prompt + Completion.
func (u Usage) Total() int { return u.Prompt + u.Completion }

// Estimate returns a rough token count for s. Any non-empty string costs at
// least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, charging
// role, content and a fixed overhead for each.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// EstimateUsage estimates the usage of a request that sent prompt and
// produced completion.
func EstimateUsage(prompt []*schema.Message, completion string) Usage {
	return Usage{
		Prompt:     EstimateMessages(prompt),
		Completion: Estimate(completion),
	}
}

// TrimHistory drops the oldest remembered messages until fixed + history
// fits within maxTokens. fixed (system prompt, retrieved context, current
// user message) is never trimmed; when fixed alone exceeds the budget the
// returned history is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
	}
	return history
}

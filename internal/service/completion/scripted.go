package completion

import (
	"context"
	"fmt"
	"strings"

	"ai-voice-relay-service/internal/models"
)

// ScriptedBackend answers without a completion service, for local runs.
// It echoes the caller, ends the call on a goodbye and transfers when a
// person is asked for.
type ScriptedBackend struct{}

var (
	farewells     = []string{"goodbye", "bye", "hang up"}
	transferWords = []string{"human", "representative", "real person", "transfer me"}
)

// Complete implements Backend.
func (ScriptedBackend) Complete(ctx context.Context, p Prompt) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	var last string
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == models.RoleUser {
			last = p.Messages[i].Text
			break
		}
	}
	lower := strings.ToLower(last)

	if containsAny(lower, farewells) {
		return Reply{Text: DefaultEndCallText, EndCall: true}, nil
	}
	if containsAny(lower, transferWords) {
		return Reply{Text: DefaultTransferText, Transfer: true}, nil
	}
	return Reply{Text: fmt.Sprintf("You said: %s. What else can I help with?", strings.TrimSpace(last))}, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

package turn

import "ai-voice-relay-service/internal/models"

// History is the bounded conversation of a session; the oldest message is
// dropped first.
type History struct {
	limit int
	msgs  []models.ConversationMessage
}

// NewHistory returns a history keeping at most limit messages. A
// non-positive limit keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

func (h *History) Append(msg models.ConversationMessage) {
	h.msgs = append(h.msgs, msg)
	if h.limit > 0 && len(h.msgs) > h.limit {
		h.msgs = append(h.msgs[:0:0], h.msgs[len(h.msgs)-h.limit:]...)
	}
}

// Messages returns a copy, oldest first.
func (h *History) Messages() []models.ConversationMessage {
	return append([]models.ConversationMessage(nil), h.msgs...)
}

func (h *History) Len() int {
	return len(h.msgs)
}

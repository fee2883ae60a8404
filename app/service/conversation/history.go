package conversation

import (
	"fmt"
	"strings"
	"time"
)

const historySize = 20

// History is the buffered turn log of a single user, feeding both the
// completion prompt and the inactivity summary.
type History struct {
	messages []Message
}

func (h *History) add(role, text string) {
	msg := Message{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}

	if len(h.messages) >= historySize {
		h.messages = append(h.messages[1:], msg)
	} else {
		h.messages = append(h.messages, msg)
	}
}

func (h *History) snapshot() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) empty() bool {
	return len(h.messages) == 0
}

func formatHistory(messages []Message) string {
	if len(messages) == 0 {
		return "No recent messages"
	}

	var builder strings.Builder

	for _, msg := range messages {
		builder.WriteString(fmt.Sprintf("%s - %s: %s\n", formatTime(msg.Timestamp), msg.Role, msg.Text))
	}

	return builder.String()
}

package conversation

import (
	"context"
	"time"

	"serena/app/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Transport delivers text back to a user. Implemented by the telegram
// client; tests substitute fakes.
type Transport interface {
	Deliver(userID, text string) error
	DeliverPlans(userID, text string, plans []config.Plan) error
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []Message) (string, error)
	Summarize(ctx context.Context, history []Message) (string, error)
}

type MoodClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

type MoodResponse struct {
	Mood       string  `json:"mood"`
	Confidence float32 `json:"confidence"`
}

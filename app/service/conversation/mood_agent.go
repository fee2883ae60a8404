package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/sashabaranov/go-openai"
)

//go:embed mood_prompt.txt
var moodPromptTemplate string

const minMoodConfidence = 0.5

var _ MoodClassifier = (*MoodAgent)(nil)

// MoodAgent runs the optional secondary model pass that labels the
// emotional tone of an inbound message before the reply prompt is composed.
type MoodAgent struct {
	client *openai.Client
	model  string
}

func NewMoodAgent(client *openai.Client, model string) *MoodAgent {
	return &MoodAgent{
		client: client,
		model:  model,
	}
}

func (a *MoodAgent) Classify(ctx context.Context, text string) (string, error) {
	prompt := strings.ReplaceAll(moodPromptTemplate, "{message}", text)

	ctx, cancel := context.WithTimeout(ctx, maxReasonDuration)
	defer cancel()

	aiResponse, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxCompletionTokens: 100,
			Temperature:         0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return "", fmt.Errorf("no chat completion found")
	}

	result := aiResponse.Choices[0].Message.Content
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	var response MoodResponse
	if err = json.Unmarshal([]byte(result), &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if response.Confidence < minMoodConfidence {
		return "", nil
	}

	return strings.TrimSpace(response.Mood), nil
}

package classifier

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI completes prompts with the chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model}
}

func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", errs.New("openai completion failed").Arg("model", c.model).Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.New("openai returned no choices").Arg("model", c.model)
	}
	return resp.Choices[0].Message.Content, nil
}

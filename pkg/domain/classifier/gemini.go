package classifier

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini completes prompts with Google's Gemini API.
type Gemini struct {
	client  *genai.Client
	modelID string
}

func NewGemini(ctx context.Context, apiKey, modelID string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errs.New("gemini api key is required")
	}
	if modelID == "" {
		modelID = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.New("failed to create gemini client").Wrap(err)
	}
	return &Gemini{client: client, modelID: modelID}, nil
}

func (c *Gemini) Complete(ctx context.Context, system, user string) (string, error) {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", errs.New("gemini completion failed").Arg("model", c.modelID).Wrap(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errs.New("gemini returned no candidates").Arg("model", c.modelID)
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func (c *Gemini) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

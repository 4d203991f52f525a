package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/pkg/anthropic"
)

const anthropicTool = "clasificar_titular"

// Anthropic classifies through the Messages API with a forced tool call
// whose input schema is the classification schema.
type Anthropic struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropic creates an Anthropic-backed Classifier.
func NewAnthropic(client anthropic.Client, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Anthropic{client: client, maxTokens: maxTokens}
}

func (a *Anthropic) Classify(ctx context.Context, modelName, prompt string) (*model.Classification, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     modelName,
		MaxTokens: a.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		Tools: []anthropic.Tool{{
			Name:        anthropicTool,
			Description: "Registra el tema principal y el sentimiento de un titular.",
			Properties:  schemaProperties(),
			Required:    []string{FieldTopic, FieldSentiment},
		}},
		ForceTool: anthropicTool,
	})
	if err != nil {
		if anthropic.IsRateLimited(err) {
			return nil, eris.Wrapf(ErrQuotaExceeded, "classify: anthropic %s: %v", modelName, err)
		}
		return nil, eris.Wrapf(err, "classify: anthropic %s", modelName)
	}
	resp.Usage.LogCost(modelName, "classify")

	if input, ok := resp.ToolInput(anthropicTool); ok {
		return ParseClassification(input)
	}
	for _, b := range resp.Content {
		if b.Type == "text" && b.Text != "" {
			return ParseClassification(extractJSON(b.Text))
		}
	}
	return nil, eris.Wrap(ErrInvalidSchema, "classify: anthropic returned no tool call")
}

// schemaProperties is the JSON schema of the classification object.
func schemaProperties() map[string]any {
	return map[string]any{
		FieldTopic: map[string]any{
			"type":        "string",
			"description": "Tema principal en una frase corta (máx 5 palabras).",
		},
		FieldSentiment: map[string]any{
			"type": "string",
			"enum": SentimentLabels,
		},
	}
}

// Package classify turns a headline prompt into a topic and sentiment label
// using an external language model constrained to a fixed JSON schema.
package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswatch/internal/model"
)

var (
	// ErrQuotaExceeded is the provider-side rate limit signal. It is distinct
	// from local quota exhaustion and is worth retrying after a backoff.
	ErrQuotaExceeded = eris.New("classifier quota exceeded")
	// ErrInvalidSchema is returned when the model output does not match the schema.
	ErrInvalidSchema = eris.New("classifier output does not match schema")
)

// Classifier invokes a named model with a prompt and returns the parsed result.
type Classifier interface {
	Classify(ctx context.Context, modelName, prompt string) (*model.Classification, error)
}

// Schema field names and allowed sentiment labels.
const (
	FieldTopic     = "tema_principal"
	FieldSentiment = "sentimiento"
)

// SentimentLabels are the labels the model is asked to choose from.
var SentimentLabels = []string{"Positivo", "Negativo", "Neutral"}

// rawClassification mirrors the schema on the wire.
type rawClassification struct {
	Topic     *string `json:"tema_principal"`
	Sentiment *string `json:"sentimiento"`
}

// ParseClassification validates a JSON object against the schema: both
// fields present, non-empty topic, sentiment from the closed set.
func ParseClassification(raw []byte) (*model.Classification, error) {
	var rc rawClassification
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, eris.Wrapf(ErrInvalidSchema, "classify: decode %q: %v", truncate(string(raw), 120), err)
	}
	if rc.Topic == nil || strings.TrimSpace(*rc.Topic) == "" {
		return nil, eris.Wrapf(ErrInvalidSchema, "classify: missing %s", FieldTopic)
	}
	if rc.Sentiment == nil {
		return nil, eris.Wrapf(ErrInvalidSchema, "classify: missing %s", FieldSentiment)
	}
	sentiment, err := model.ParseSentiment(*rc.Sentiment)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidSchema, "classify: %v", err)
	}
	return &model.Classification{
		Topic:     strings.TrimSpace(*rc.Topic),
		Sentiment: sentiment,
	}, nil
}

// extractJSON trims markdown code fences that some models wrap around JSON.
func extractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return []byte(strings.TrimSpace(text))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

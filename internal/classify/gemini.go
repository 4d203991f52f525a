package classify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sells-group/newswatch/internal/model"
)

// generator produces a JSON response for a prompt from a named model.
type generator interface {
	Generate(ctx context.Context, modelName, prompt string) (string, error)
	Close() error
}

// Gemini classifies with Google Gemini models using a response schema.
type Gemini struct {
	gen generator
}

// NewGemini creates a Gemini-backed Classifier.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "classify: create gemini client")
	}
	return &Gemini{gen: &genaiGenerator{client: client}}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.gen.Close()
}

func (g *Gemini) Classify(ctx context.Context, modelName, prompt string) (*model.Classification, error) {
	text, err := g.gen.Generate(ctx, modelName, prompt)
	if err != nil {
		if isGeminiQuotaError(err) {
			return nil, eris.Wrapf(ErrQuotaExceeded, "classify: gemini %s: %v", modelName, err)
		}
		return nil, eris.Wrapf(err, "classify: gemini %s", modelName)
	}
	return ParseClassification(extractJSON(text))
}

// responseSchema constrains Gemini output to the classification object.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			FieldTopic:     {Type: genai.TypeString},
			FieldSentiment: {Type: genai.TypeString, Enum: SentimentLabels},
		},
		Required: []string{FieldTopic, FieldSentiment},
	}
}

type genaiGenerator struct {
	client *genai.Client
}

func (g *genaiGenerator) Generate(ctx context.Context, modelName, prompt string) (string, error) {
	m := g.client.GenerativeModel(modelName)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = responseSchema()

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", eris.Wrap(ErrInvalidSchema, "classify: gemini returned no text")
	}
	return sb.String(), nil
}

func (g *genaiGenerator) Close() error {
	return g.client.Close()
}

// isGeminiQuotaError recognizes rate limit rejections from either the gRPC
// or the REST transport.
func isGeminiQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "ERROR 429")
}

// Package labeler grades items by showing their photos to a vision model.
package labeler

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

// Provider selects the model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Config controls which model grades items.
type Config struct {
	Provider   Provider
	Model      string
	APIKey     string
	OllamaHost string
}

// Labeler implements the labeling collaborator on a vision-capable LLM.
type Labeler struct {
	llm       llms.Model
	modelName string
	logger    *zap.Logger
}

// New creates a Labeler for the configured provider.
func New(cfg Config, logger *zap.Logger) (*Labeler, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", catalog.ErrNoCredentials)
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", catalog.ErrNoCredentials)
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported labeling provider: %s", cfg.Provider)
	}

	return &Labeler{
		llm:       model,
		modelName: cfg.Model,
		logger:    logger,
	}, nil
}

const gradingPrompt = `You are grading 3D-printable models from their listing photos.

Assign one grade:
S - exceptional: complex geometry, clean surfaces, obvious effort
A - high quality, prints well, polished presentation
B - solid, usable, unremarkable
C - low effort or flawed geometry
D - broken, spam, or not actually a printable model

Respond with a single JSON object, nothing else:
{"grade": "S|A|B|C|D", "reason": "<one sentence>", "extracted": {"style": "...", "category": "...", "multipart": true|false}}`

// Label grades one item from its image URLs.
func (l *Labeler) Label(ctx context.Context, itemURL string, imageURLs []string) (catalog.Verdict, error) {
	parts := make([]llms.ContentPart, 0, len(imageURLs)+1)
	parts = append(parts, llms.TextPart(fmt.Sprintf("%s\n\nItem page: %s", gradingPrompt, itemURL)))
	for _, u := range imageURLs {
		parts = append(parts, llms.ImageURLPart(u))
	}
	messages := []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	}}

	resp, err := l.llm.GenerateContent(ctx, messages)
	if err != nil {
		return catalog.Verdict{}, fmt.Errorf("labeling request (%s): %w", l.modelName, err)
	}
	if len(resp.Choices) == 0 {
		return catalog.Verdict{}, fmt.Errorf("empty response: %w", catalog.ErrMalformedVerdict)
	}

	verdict, err := parseVerdict(resp.Choices[0].Content)
	if err != nil {
		l.logger.Warn("unparseable verdict",
			zap.String("item_url", itemURL),
			zap.String("content", truncate(resp.Choices[0].Content, 200)))
		return catalog.Verdict{}, err
	}
	return verdict, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/budget"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
)

// sourcePreviewLen bounds the content preview attached per source citation.
const sourcePreviewLen = 200

// ChatModel is the slice of the eino chat-model surface the generator needs.
// Provider-constructed models satisfy it; tests inject a fake.
type ChatModel interface {
	// Generate produces one completion for the given messages.
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config holds the generation tuning passed down to the model service.
type Config struct {
	// Temperature controls response randomness. Defaults to 0.3.
	Temperature float32

	// MaxTokens caps the response length. Defaults to 512.
	MaxTokens int

	// Timeout bounds each individual model call. Defaults to 20s.
	Timeout time.Duration

	// MaxRetries bounds how often a failed model call is retried.
	// Defaults to 2. The total attempt count is MaxRetries+1.
	MaxRetries int
}

// Generator renders the prompt template with composed context and the user
// question, invokes the chat model synchronously, and packages the outcome
// as a tagged Result. Safe for concurrent use.
type Generator struct {
	// model is the chat model invoked per call.
	model ChatModel

	// composer bounds the retrieved documents into the context slot.
	composer *Composer

	// cfg holds the resolved generation tuning.
	cfg *Config

	// log is the structured logger for this generator.
	log *slog.Logger
}

// New constructs a Generator from the given chat model and config.
func New(chatModel ChatModel, composer *Composer, cfg *Config, log *slog.Logger) (*Generator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	if composer == nil {
		composer = NewComposer(0, 0)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if log == nil {
		log = slog.Default()
	}

	return &Generator{model: chatModel, composer: composer, cfg: cfg, log: log}, nil
}

// Generate composes the documents into a bounded context block, renders the
// prompt, and invokes the model. The model call is retried up to
// cfg.MaxRetries times with a per-attempt timeout. Any terminal failure is
// returned as a StatusError Result — never as an error or panic.
//
// customPrompt, when non-empty, replaces the default template in full; it
// must contain the {context} and {question} slots.
func (g *Generator) Generate(ctx context.Context, question string, docs []rag.Document, customPrompt string) Result {
	contextBlock := g.composer.Compose(docs)
	prompt := renderPrompt(customPrompt, contextBlock, question)

	g.log.Debug("generating answer",
		slog.Int("documents", len(docs)),
		slog.Int("context_chars", len(contextBlock)),
		slog.Int("prompt_tokens_est", budget.EstimatePrompt(contextBlock, question)),
	)

	answer, err := g.invoke(ctx, prompt)
	if err != nil {
		g.log.Warn("generation failed", slog.Any("error", err))
		return Result{
			Status:  StatusError,
			Message: err.Error(),
		}
	}

	return Result{
		Status:      StatusSuccess,
		Answer:      answer,
		ContextUsed: len(docs),
	}
}

// GenerateWithSources is Generate plus a citation record per input document.
// Generation runs once; on success the result is decorated with truncated
// content previews and full metadata for display.
func (g *Generator) GenerateWithSources(ctx context.Context, question string, docs []rag.Document, customPrompt string) Result {
	result := g.Generate(ctx, question, docs, customPrompt)
	if result.Status != StatusSuccess {
		return result
	}

	sources := make([]SourceExcerpt, 0, len(docs))
	for _, doc := range docs {
		content := doc.Content
		if len(content) > sourcePreviewLen {
			content = content[:prevRuneStart(content, sourcePreviewLen)] + "..."
		}
		sources = append(sources, SourceExcerpt{
			Content:  content,
			Metadata: doc.Metadata,
		})
	}
	result.Sources = sources

	return result
}

// invoke runs the model call with bounded retries and a per-attempt timeout.
// The retry count and timeout mirror the client-side retry configuration the
// hosted model SDKs expose; there is no additional backoff policy here.
func (g *Generator) invoke(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{schema.UserMessage(prompt)}
	opts := []model.Option{
		model.WithTemperature(g.cfg.Temperature),
		model.WithMaxTokens(g.cfg.MaxTokens),
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("generator: cancelled: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		resp, err := g.model.Generate(attemptCtx, msgs, opts...)
		cancel()

		if err == nil {
			if resp == nil {
				return "", fmt.Errorf("generator: model returned nil response")
			}
			return resp.Content, nil
		}
		lastErr = err
		g.log.Debug("model call failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}

	return "", fmt.Errorf("generator: model call failed after %d attempts: %w", g.cfg.MaxRetries+1, lastErr)
}

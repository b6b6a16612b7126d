// Package llm wraps langchaingo text generation and embeddings behind the
// narrow contracts the query engine consumes.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lindqvist/mapfold/internal/config"
	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps a langchaingo chat model for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	collector *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
		collector: collector,
	}, nil
}

// Complete generates text from a system and user prompt. maxTokens caps the
// reply length and temperature controls sampling; every engine round trip to
// the text-generation backend goes through here.
func (m *Model) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	duration := time.Since(start)

	if err != nil {
		slog.Warn("completion failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", wrapFatalError(fmt.Errorf("generate: %w", err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	choice := response.Choices[0]

	if m.collector != nil {
		in, out := tokenUsage(choice)
		m.collector.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
	}

	return choice.Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage pulls token counts out of langchaingo's generation info, which
// varies by provider. Missing counts report as zero.
func tokenUsage(choice *llms.ContentChoice) (int64, int64) {
	if choice.GenerationInfo == nil {
		return 0, 0
	}
	in := intFromInfo(choice.GenerationInfo, "PromptTokens", "prompt_tokens", "input_tokens")
	out := intFromInfo(choice.GenerationInfo, "CompletionTokens", "completion_tokens", "output_tokens")
	return in, out
}

func intFromInfo(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

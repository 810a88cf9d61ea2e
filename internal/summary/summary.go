// Package summary writes short article descriptions with a language model. It is only consulted
// when neither the feed nor the article page provide an excerpt.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultPrompt = "Riassumi l'articolo in una o due frasi in italiano, senza preamboli."

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Options struct {
	Type    string
	BaseURL string
	Key     string
	Prompt  string
	Model   string
	Timeout time.Duration
}

// New returns the summarizer selected by opts.Type, or nil when summaries are disabled.
func New(opts Options) (Summarizer, error) {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}

	switch opts.Type {
	case "", "none":
		return nil, nil
	case "openai":
		if opts.Key == "" {
			return nil, errors.New(`ai_key is required when ai_type is "openai"`)
		}
		return NewOpenAISummarizer(opts.BaseURL, opts.Key, opts.Prompt, opts.Model, opts.Timeout), nil
	case "ollama":
		if opts.BaseURL == "" {
			return nil, errors.New(`ai_base_url is required when ai_type is "ollama"`)
		}
		return NewOllamaSummarizer(opts.BaseURL, opts.Prompt, opts.Model, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown ai_type %q", opts.Type)
	}
}

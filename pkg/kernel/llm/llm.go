// Package llm defines the text-generation collaborator consumed by semantic
// functions and the planner.
package llm

import "context"

// Settings are the request settings sent with a completion.
type Settings struct {
	Temperature      float64  `yaml:"temperature,omitempty"       json:"temperature,omitempty"`
	TopP             float64  `yaml:"top_p,omitempty"             json:"top_p,omitempty"`
	PresencePenalty  float64  `yaml:"presence_penalty,omitempty"  json:"presence_penalty,omitempty"`
	FrequencyPenalty float64  `yaml:"frequency_penalty,omitempty" json:"frequency_penalty,omitempty"`
	MaxTokens        int      `yaml:"max_tokens,omitempty"        json:"max_tokens,omitempty"`
	StopSequences    []string `yaml:"stop,omitempty"              json:"stop,omitempty"`
}

// DefaultSettings mirrors the settings used when a function declares none.
func DefaultSettings() Settings {
	return Settings{MaxTokens: 256}
}

// TextCompletion generates text for a prompt.
type TextCompletion interface {
	Complete(ctx context.Context, prompt string, settings Settings) (string, error)
}

// CompletionFunc adapts a plain function to TextCompletion.
type CompletionFunc func(ctx context.Context, prompt string, settings Settings) (string, error)

// Complete calls f.
func (f CompletionFunc) Complete(ctx context.Context, prompt string, settings Settings) (string, error) {
	return f(ctx, prompt, settings)
}

package llm

import (
	"context"
	"errors"
)

// Kind identifies what a prompt asks for. Providers ignore it; mocks and logs use it.
type Kind string

const (
	KindDraft       Kind = "draft"
	KindRevision    Kind = "revision"
	KindCritique    Kind = "critique"
	KindCritiqueFix Kind = "critique_fix"
)

// Prompt is one chat completion request.
type Prompt struct {
	Kind   Kind
	System string
	User   string
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Client abstracts text generation providers.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Package ai rates stories for personal relevance using a text model, with a
// per-domain verdict cache in front of it.
package ai

import "context"

// Completer sends one prompt to a text model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

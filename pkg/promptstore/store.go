// Package promptstore persists the system prompt used to open new
// voice sessions. The gateway reads it on every connection and
// operators update it through the control API.
package promptstore

import (
	"context"
	"time"
)

// Prompt is the current system prompt and when it last changed.
type Prompt struct {
	Text      string
	UpdatedAt time.Time
}

type Store interface {
	Get(ctx context.Context) (Prompt, error)
	Put(ctx context.Context, text string) (Prompt, error)
	Close()
}

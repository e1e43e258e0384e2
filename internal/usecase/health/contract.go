package health

import "context"

// Probe reports whether one component is reachable. nil means it is.
type Probe func(ctx context.Context) error

// IndexChecker reports whether the vector index can serve questions.
// domain.ErrIndexNotFound means the index is built on first use.
type IndexChecker interface {
	CheckIndex(ctx context.Context) error
}

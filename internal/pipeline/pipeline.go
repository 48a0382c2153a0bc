package pipeline

import "context"

// Step is one stage of the provisioning pipeline
type Step interface {
	// Name identifies the step in logs and error messages
	Name() string

	// Run executes the step. Cancellation arrives through ctx; a step that
	// resolves an interruption internally (by compensating) returns nil.
	Run(ctx context.Context) error
}

// Recoverer is implemented by steps that need a chance to compensate when
// their Run returns an unhandled error
type Recoverer interface {
	Recover(ctx context.Context, err error)
}

// internal/application/usecase/context.go
package usecase

import (
	"context"
)

// usecase-scoped context keys
type ctxKey string

const ctxKeyMutationInProgress ctxKey = "cartMutationInProgress"

// withMutationInProgress marks the context while a cart mutation is
// dispatching its events. An event listener that calls back into the
// usecase with this context mutates the cart without re-dispatching, which
// keeps a condition-application listener from re-triggering itself. The
// marker travels with the call, never a process-global flag.
func withMutationInProgress(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyMutationInProgress, true)
}

func mutationInProgress(ctx context.Context) bool {
	v, ok := ctx.Value(ctxKeyMutationInProgress).(bool)
	return ok && v
}

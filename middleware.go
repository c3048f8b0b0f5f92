package odm

import "fmt"

// Hook is a pre-hook attached to a lifecycle event ("save", "remove", or a
// custom name passed to Schema.Pre). It must call next exactly once: with a
// nil error to let the chain continue, or a non-nil error to abort the
// operation with that error wrapped in ErrMiddlewareAborted. A hook that
// completes synchronously calls next before returning; a hook that needs to
// do its own I/O first may call next later from a goroutine — the chain
// simply waits, matching two-completion-signal hooks so a
// single Hook type serves both styles.
type Hook func(doc *Document, next func(err error))

// PostHook runs after an operation completes successfully. Post-hooks
// cannot abort anything; they exist for side effects (cache invalidation,
// audit logging, denormalized-field updates).
type PostHook func(doc *Document)

// runPreChain executes hooks in registration order, waiting for each to
// call next before starting the following one. The chain stops at the
// first hook that reports an error.
func runPreChain(hooks []Hook, doc *Document) error {
	for _, h := range hooks {
		done := make(chan error, 1)
		h(doc, func(err error) { done <- err })
		if err := <-done; err != nil {
			return fmt.Errorf("%w: %v", ErrMiddlewareAborted, err)
		}
	}
	return nil
}

func runPostChain(hooks []PostHook, doc *Document) {
	for _, h := range hooks {
		h(doc)
	}
}

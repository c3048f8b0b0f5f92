package odm

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the closed error-kind set this package can
// surface on its own (independent of whatever store.Store.ErrorKind is
// returned by the store). Use errors.Is to test for these.
var (
	// ErrInvalidKey is raised synchronously by the Key Codec when a user
	// key value contains the schema's delimiter or cannot be stringified.
	ErrInvalidKey = errors.New("odm: invalid key")

	// ErrConcurrentModification is raised when a save or remove supplies a
	// stale CAS token (the primary write is not retried), and by the Index
	// Maintainer when its CAS-conflict retry budget for a lookup document
	// is exhausted.
	ErrConcurrentModification = errors.New("odm: concurrent modification")

	// ErrDanglingIndex is raised by findBy<Field> when a lookup document
	// names a primary key that no longer resolves, and ErrorOnMissingIndex
	// is enabled.
	ErrDanglingIndex = errors.New("odm: dangling index reference")

	// ErrMiddlewareAborted wraps an error returned by a pre-hook.
	ErrMiddlewareAborted = errors.New("odm: middleware aborted operation")

	// ErrModelRedefined is raised by Handle.Model when a model name is
	// registered twice with incompatible schemas.
	ErrModelRedefined = errors.New("odm: model redefined with incompatible schema")

	// ErrUnknownModel is raised when an embedded/reference field names a
	// model that was never registered on the same Handle.
	ErrUnknownModel = errors.New("odm: unknown model")

	// ErrCyclicEmbedding is raised by the save walker when it revisits the
	// same in-memory document instance while descending embedded fields.
	ErrCyclicEmbedding = errors.New("odm: cyclic embedded document graph")

	// ErrValidation is the umbrella error returned by Save and
	// Document.Patch when field-level set-errors are accumulated on the
	// document (see Document.Errors()), and wrapped by
	// DocumentValidator.Validate when a document fails its JSON Schema.
	ErrValidation = errors.New("odm: document has validation errors")

	// ErrRemoved is returned by operations attempted against a document
	// instance that has already been removed.
	ErrRemoved = errors.New("odm: document already removed")
)

// DanglingIndexError carries the lookup key that findBy<Field> could not
// resolve to a primary document, for callers that want the detail.
type DanglingIndexError struct {
	RefKey string
}

func (e *DanglingIndexError) Error() string {
	return fmt.Sprintf("odm: dangling index reference at %q", e.RefKey)
}

func (e *DanglingIndexError) Unwrap() error { return ErrDanglingIndex }

// IndexError is the error type emitted on a document's "index" event and
// optionally aggregated into Save's returned error when WaitForIndex is
// true. It never prevents the primary document write.
type IndexError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("odm: index maintenance failed for field %q (value %v): %v", e.Field, e.Value, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// aggregateIndexErrors joins index errors the way Save's waitForIndex path
// reports them, without pulling in a multierror dependency for what is
// usually zero or one error.
func aggregateIndexErrors(errs []*IndexError) error {
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

package odm

import (
	"log/slog"
	"time"
)

// HandleOptions configures a Handle's default behavior across every Model
// registered on it. Any option with a Model- or call-level override (see
// SaveOptions, FindOptions) can be overridden per call; HandleOptions only
// supplies the default when the caller doesn't.
type HandleOptions struct {
	// AlwaysReturnArrays forces FindById's array return shape even when
	// called with a single scalar id.
	AlwaysReturnArrays bool

	// WaitForIndex makes Save return an aggregated error when the Index
	// Maintainer fails, instead of emitting an asynchronous "index" event.
	WaitForIndex bool

	// Missing, when false, suppresses FindById's misses return value
	// (the slice is always nil in that case, never empty-but-present).
	Missing bool

	// KeepSortOrder makes FindById return documents in input-id order
	// instead of store order.
	KeepSortOrder bool

	// RetryTemporaryErrors, TempRetryTimes and TempRetryInterval are
	// carried on the Handle's options, but no Handle, Model or Index
	// Maintainer operation reads them: a store.KindTemporary error from any
	// store call is returned to the caller on the first attempt.
	RetryTemporaryErrors bool
	TempRetryTimes       int
	TempRetryInterval    time.Duration

	// AtomicRetryTimes/AtomicRetryInterval bound the Index Maintainer's
	// fetch-modify-write retry loop on store.KindCasMismatch.
	AtomicRetryTimes    int
	AtomicRetryInterval time.Duration

	// AtomicLock controls whether the Index Maintainer takes a
	// GetAndLock/Unlock pessimistic lock around each lookup-document
	// mutation to serialize concurrent indexers.
	AtomicLock bool

	// ErrorOnMissingIndex makes findBy<Field> fail with ErrDanglingIndex
	// when the lookup document resolves to a primary key that itself
	// can't be found, instead of resolving empty.
	ErrorOnMissingIndex bool

	// EmitErrors makes index-maintenance failures additionally fire an
	// "error" event on the document, on top of however they're otherwise
	// reported (aggregated return, "index" event). Pre-hook errors are only
	// returned to the caller.
	EmitErrors bool

	// Logger receives index-maintenance warnings (failed lookup updates,
	// retry exhaustion, dangling lookup documents) and schema-registration
	// warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultHandleOptions returns the options a new Handle uses unless
// overridden.
func DefaultHandleOptions() HandleOptions {
	return HandleOptions{
		AlwaysReturnArrays:   false,
		WaitForIndex:         false,
		Missing:              true,
		KeepSortOrder:        false,
		RetryTemporaryErrors: false,
		TempRetryTimes:       5,
		TempRetryInterval:    50 * time.Millisecond,
		AtomicRetryTimes:     5,
		AtomicRetryInterval:  0,
		AtomicLock:           true,
		ErrorOnMissingIndex:  false,
		EmitErrors:           false,
		Logger:               slog.Default(),
	}
}

// logger returns opts.Logger, falling back to slog.Default() for a
// HandleOptions value built by hand without one set.
func (opts HandleOptions) logger() *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.Default()
}

// SchemaOptions configures a Schema's key layout and serialization
// behavior. Field-level key.Prefix/key.Suffix override KeyPrefix/KeySuffix
// for that field only.
type SchemaOptions struct {
	KeyPrefix            string
	KeySuffix            string
	Delimiter            string
	RefIndexKeyPrefix    string
	Minimize             bool

	// StoreFullReferenceId makes the Index Maintainer record a lookup
	// document's owner as the full storage key (KeyPrefix + id + KeySuffix)
	// instead of the bare user key. Either way, resolve/FindBy hand callers
	// back the bare user key.
	StoreFullReferenceId bool

	// StoreFullKey makes the primary key field persist in the document
	// body as its full storage key instead of the bare user value; it is
	// converted back to the bare user value on read.
	StoreFullKey bool

	// ToObjectTransform/ToJSONTransform run after minimize/virtuals
	// inclusion.
	ToObjectTransform func(plain map[string]interface{}) map[string]interface{}
	ToJSONTransform   func(plain map[string]interface{}) map[string]interface{}

	// OnBeforeValueSet/OnValueSet are schema-wide hooks invoked around
	// every field Set, in addition to any per-field transform/validator.
	OnBeforeValueSet func(doc *Document, field string, value interface{}) (interface{}, error)
	OnValueSet       func(doc *Document, field string, value interface{})
}

// DefaultSchemaOptions returns the schema option defaults.
func DefaultSchemaOptions() SchemaOptions {
	return SchemaOptions{
		Delimiter:         "_",
		RefIndexKeyPrefix: "$_ref_by_",
		Minimize:          true,
	}
}

// ToObjectOptions controls Document.ToObject's plain-map projection.
type ToObjectOptions struct {
	Transform func(plain map[string]interface{}) map[string]interface{}
	Minimize  *bool
	Virtuals  bool

	// DateToISO projects KindDate field values to RFC3339 strings instead
	// of leaving them as time.Time. ToObject defaults this to false;
	// ToJSON defaults it to true.
	DateToISO bool
}

// SaveOptions configures a single Save call, overriding HandleOptions
// defaults where set.
type SaveOptions struct {
	Virtuals    bool
	Minimize    *bool
	Expiry      uint32
	PersistTo   int
	ReplicateTo int

	// WaitForIndex, if non-nil, overrides HandleOptions.WaitForIndex for
	// this call only.
	WaitForIndex *bool
}

// RemoveOptions configures a single Remove call.
type RemoveOptions struct {
	// RemoveRefs recursively removes embedded model-typed fields holding
	// hydrated instances, depth-first, before removing self.
	RemoveRefs bool

	// Lean bypasses hooks, embedded recursion, and index maintenance
	// entirely — a raw delete of the primary document only.
	Lean bool
}

// FindOptions configures a single FindById/findBy<Field> call.
type FindOptions struct {
	// Populate resolves embedded references. Accepted values:
	//   nil / false    -> no population
	//   true           -> populate every model-typed field
	//   string         -> populate exactly that top-level field; an indexed
	//                     path such as "field.N" matches no field and
	//                     populates nothing
	//   []string       -> populate each named field
	Populate interface{}

	AlwaysReturnArrays bool
	KeepSortOrder      bool

	// Missing, if non-nil, overrides HandleOptions.Missing for this call.
	Missing *bool
}

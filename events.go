package odm

// Event names fired on a Document instance (no global event bus, no
// prototype magic — callers opt in per document with On).
const (
	EventSave   = "save"
	EventRemove = "remove"
	EventIndex  = "index"
	EventError  = "error"
)

// On registers fn to run when event fires on this document. Safe to call
// from multiple goroutines and to register more than once for the same
// event.
func (d *Document) On(event string, fn func(args ...interface{})) {
	d.on(event, fn)
}

// emitSave fires EventSave with the document itself as the sole argument.
func (d *Document) emitSave() { d.emit(EventSave, d) }

// emitRemove fires EventRemove with the document itself as the sole
// argument.
func (d *Document) emitRemove() { d.emit(EventRemove, d) }

// emitIndexError fires EventIndex with the *IndexError describing what
// failed. Index failures never block the primary save/remove — this is
// the asynchronous-by-default reporting channel, used when
// HandleOptions.WaitForIndex is false.
func (d *Document) emitIndexError(err *IndexError) { d.emit(EventIndex, err) }

// emitError fires EventError, used in addition to however else an error is
// reported when HandleOptions.EmitErrors is enabled.
func (d *Document) emitError(err error) { d.emit(EventError, err) }

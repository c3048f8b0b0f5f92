package odm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kartikbazzad/bundoc-odm/store"
)

// refDoc is the on-the-wire shape of a lookup reference document: the
// single primary key currently associated with one (field, value) pair.
// An index is exclusive — the most recent save to hold a given value owns
// the lookup document, last-write-wins, with no history of prior owners.
type refDoc struct {
	Key string `json:"key"`
}

// mutateAction tells mutate/mutateLocked what to do with the fetched
// lookup document after fn has looked at it.
type mutateAction int

const (
	mutateNoop mutateAction = iota
	mutateUpsert
	mutateDelete
)

// indexMaintainer owns the secondary lookup documents for one Handle's
// models: it diffs a document's old and new indexed-value sets on every
// save/remove and keeps the corresponding ref keys in sync via the store's
// CAS primitive.
type indexMaintainer struct {
	store store.Store
	opts  HandleOptions
}

func newIndexMaintainer(s store.Store, opts HandleOptions) *indexMaintainer {
	return &indexMaintainer{store: s, opts: opts}
}

// reconcile updates every indexed field's lookup documents after a save.
// oldPlain is nil for a brand-new document. Index failures are collected
// and returned rather than aborting — the primary document write has
// already succeeded by the time reconcile runs, so index maintenance never
// blocks the primary write.
func (im *indexMaintainer) reconcile(ctx context.Context, schema *Schema, id string, oldPlain, newPlain map[string]interface{}) []*IndexError {
	owner, err := ownerValue(schema, id)
	if err != nil {
		return []*IndexError{{Err: err}}
	}

	var errs []*IndexError
	for _, fd := range schema.IndexFields() {
		var oldVals, newVals []interface{}
		if oldPlain != nil {
			oldVals = indexedValueSet(oldPlain[fd.Name])
		}
		newVals = indexedValueSet(newPlain[fd.Name])

		added, removed := diffValues(oldVals, newVals)

		for _, v := range removed {
			key, err := refKey(schema, fd.Name, v)
			if err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
				continue
			}
			if err := im.removeFromIndex(ctx, key, owner); err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
			}
		}
		for _, v := range added {
			key, err := refKey(schema, fd.Name, v)
			if err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
				continue
			}
			if err := im.addToIndex(ctx, key, owner); err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
			}
		}
	}
	return errs
}

// removeAll drops id from every indexed field's lookup documents, used on
// Model.Remove.
func (im *indexMaintainer) removeAll(ctx context.Context, schema *Schema, id string, plain map[string]interface{}) []*IndexError {
	owner, err := ownerValue(schema, id)
	if err != nil {
		return []*IndexError{{Err: err}}
	}

	var errs []*IndexError
	for _, fd := range schema.IndexFields() {
		for _, v := range indexedValueSet(plain[fd.Name]) {
			key, err := refKey(schema, fd.Name, v)
			if err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
				continue
			}
			if err := im.removeFromIndex(ctx, key, owner); err != nil {
				errs = append(errs, &IndexError{Field: fd.Name, Value: v, Err: err})
			}
		}
	}
	return errs
}

// ownerValue is the string an indexed document's key resolves to inside a
// lookup document: the bare user key, or the full storage key when
// SchemaOptions.StoreFullReferenceId is set.
func ownerValue(schema *Schema, id string) (string, error) {
	if !schema.Options.StoreFullReferenceId {
		return id, nil
	}
	return storageKey(schema, id)
}

func diffValues(oldVals, newVals []interface{}) (added, removed []interface{}) {
	oldSet := make(map[string]interface{}, len(oldVals))
	for _, v := range oldVals {
		if s, err := normalizeIndexValue(v); err == nil {
			oldSet[s] = v
		}
	}
	newSet := make(map[string]interface{}, len(newVals))
	for _, v := range newVals {
		if s, err := normalizeIndexValue(v); err == nil {
			newSet[s] = v
		}
	}
	for s, v := range newSet {
		if _, ok := oldSet[s]; !ok {
			added = append(added, v)
		}
	}
	for s, v := range oldSet {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}

// addToIndex makes id the sole owner of the lookup document at key,
// unconditionally overwriting whatever document owned it before
// (last-write-wins, per the index-exclusivity invariant).
func (im *indexMaintainer) addToIndex(ctx context.Context, key, id string) error {
	return im.mutate(ctx, key, func(refDoc, bool) (refDoc, mutateAction) {
		return refDoc{Key: id}, mutateUpsert
	})
}

// removeFromIndex deletes the lookup document at key only if it still
// names id as owner. If some other document has since claimed the value
// (its addToIndex already overwrote this entry), this is a no-op: that
// document's ownership must not be clobbered by a late remove.
func (im *indexMaintainer) removeFromIndex(ctx context.Context, key, id string) error {
	return im.mutate(ctx, key, func(doc refDoc, exists bool) (refDoc, mutateAction) {
		if !exists || doc.Key != id {
			return doc, mutateNoop
		}
		return refDoc{}, mutateDelete
	})
}

// mutate implements the fetch-modify-write CAS retry loop shared by
// addToIndex/removeFromIndex. When opts.AtomicLock is set, it instead
// takes a pessimistic GetAndLock/Unlock around the single read-modify-write
// to serialize concurrent indexers on the same key.
func (im *indexMaintainer) mutate(ctx context.Context, key string, fn func(doc refDoc, exists bool) (refDoc, mutateAction)) error {
	if im.opts.AtomicLock {
		return im.mutateLocked(ctx, key, fn)
	}

	retries := im.opts.AtomicRetryTimes
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		item, cas, exists, err := im.fetch(ctx, key)
		if err != nil {
			return err
		}
		next, action := fn(item, exists)

		switch action {
		case mutateNoop:
			return nil
		case mutateDelete:
			if !exists {
				return nil
			}
			err = im.store.Remove(ctx, key, store.WriteOptions{Cas: cas})
		default:
			body, mErr := json.Marshal(next)
			if mErr != nil {
				return mErr
			}
			_, err = im.store.Upsert(ctx, key, body, store.WriteOptions{Cas: cas})
		}
		if err == nil {
			return nil
		}
		if !store.IsKind(err, store.KindCasMismatch) {
			return err
		}
		if im.opts.AtomicRetryInterval > 0 {
			time.Sleep(im.opts.AtomicRetryInterval)
		}
	}
	im.opts.logger().Warn("odm: index maintenance retry budget exhausted", "key", key, "attempts", retries)
	return ErrConcurrentModification
}

func (im *indexMaintainer) mutateLocked(ctx context.Context, key string, fn func(doc refDoc, exists bool) (refDoc, mutateAction)) error {
	item, err := im.store.GetAndLock(ctx, key, 30)
	exists := true
	if err != nil {
		if !store.IsKind(err, store.KindNotFound) {
			return err
		}
		exists = false
		item = store.Item{}
	}

	var doc refDoc
	if exists && len(item.Value) > 0 {
		if err := json.Unmarshal(item.Value, &doc); err != nil {
			im.bestEffortUnlock(ctx, key, item.Cas)
			return err
		}
	}
	next, action := fn(doc, exists)

	switch action {
	case mutateNoop:
		if exists {
			im.bestEffortUnlock(ctx, key, item.Cas)
		}
		return nil
	case mutateDelete:
		if !exists {
			return nil
		}
		err = im.store.Remove(ctx, key, store.WriteOptions{Cas: item.Cas})
	default:
		body, mErr := json.Marshal(next)
		if mErr != nil {
			im.bestEffortUnlock(ctx, key, item.Cas)
			return mErr
		}
		_, err = im.store.Upsert(ctx, key, body, store.WriteOptions{Cas: item.Cas})
	}
	if err != nil && exists {
		im.bestEffortUnlock(ctx, key, item.Cas)
	}
	return err
}

func (im *indexMaintainer) bestEffortUnlock(ctx context.Context, key string, cas uint64) {
	_ = im.store.Unlock(ctx, key, cas)
}

func (im *indexMaintainer) fetch(ctx context.Context, key string) (refDoc, uint64, bool, error) {
	item, err := im.store.Get(ctx, key)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return refDoc{}, 0, false, nil
		}
		return refDoc{}, 0, false, err
	}
	var doc refDoc
	if err := json.Unmarshal(item.Value, &doc); err != nil {
		return refDoc{}, 0, false, err
	}
	return doc, item.Cas, true, nil
}

// resolve returns the primary key currently owning (field, value), if any,
// always as the bare user key regardless of how StoreFullReferenceId asked
// it to be stored. A missing lookup document resolves to ("", false, nil)
// — that's an ordinary "no match", not a dangling index.
func (im *indexMaintainer) resolve(ctx context.Context, schema *Schema, field string, value interface{}) (string, bool, error) {
	key, err := refKey(schema, field, value)
	if err != nil {
		return "", false, err
	}
	doc, _, exists, err := im.fetch(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	owner := doc.Key
	if schema.Options.StoreFullReferenceId {
		if uk, err := userKeyFromStorage(schema, owner); err == nil {
			owner = uk
		}
	}
	return owner, true, nil
}

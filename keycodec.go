package odm

import (
	"fmt"
	"strconv"
	"strings"
)

// storageKey maps a user-supplied key value to the string the document is
// actually stored under, applying the key field's own Prefix/Suffix if set,
// falling back to the schema-wide KeyPrefix/KeySuffix otherwise.
func storageKey(schema *Schema, userKey string) (string, error) {
	if err := validateKeyValue(schema, userKey); err != nil {
		return "", err
	}
	prefix, suffix := keyAffixes(schema)
	return prefix + userKey + suffix, nil
}

// userKeyFromStorage is storageKey's inverse: it strips the configured
// prefix/suffix from a storage key, failing with ErrInvalidKey if the
// storage key doesn't carry them.
func userKeyFromStorage(schema *Schema, stored string) (string, error) {
	prefix, suffix := keyAffixes(schema)
	if !strings.HasPrefix(stored, prefix) || !strings.HasSuffix(stored, suffix) {
		return "", fmt.Errorf("%w: storage key %q does not match configured prefix/suffix", ErrInvalidKey, stored)
	}
	return stored[len(prefix) : len(stored)-len(suffix)], nil
}

func keyAffixes(schema *Schema) (prefix, suffix string) {
	key := schema.KeyField()
	prefix = schema.Options.KeyPrefix
	suffix = schema.Options.KeySuffix
	if key != nil {
		if key.Prefix != nil {
			prefix = *key.Prefix
		}
		if key.Suffix != nil {
			suffix = *key.Suffix
		}
	}
	return prefix, suffix
}

// validateKeyValue rejects a user key that contains the schema's delimiter,
// which would make storage keys and derived ref keys ambiguous to split.
func validateKeyValue(schema *Schema, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	delim := schema.Options.Delimiter
	if delim != "" && strings.Contains(value, delim) {
		return fmt.Errorf("%w: key %q contains delimiter %q", ErrInvalidKey, value, delim)
	}
	return nil
}

// normalizeIndexValue stringifies a scalar indexed-field value into the
// form used inside a ref key. Non-scalar values (arrays, objects) are
// rejected — the Index Maintainer instead indexes each array element
// separately by calling this once per element.
func normalizeIndexValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", fmt.Errorf("odm: cannot index a nil value")
	default:
		return "", fmt.Errorf("odm: cannot index non-scalar value of type %T", v)
	}
}

// refKey builds the lookup-document key for one indexed (field, value)
// pair: KeyPrefix + RefIndexKeyPrefix + indexName + delimiter + normalized
// value + KeySuffix, using the schema-wide KeyPrefix/KeySuffix (not any
// per-field override on the key field) so lookup documents share one
// consistent namespace with the primary documents they index.
func refKey(schema *Schema, field string, value interface{}) (string, error) {
	fd, ok := schema.Field(field)
	if !ok {
		return "", fmt.Errorf("odm: field %q is not part of this schema", field)
	}
	norm, err := normalizeIndexValue(value)
	if err != nil {
		return "", err
	}
	indexName := fd.IndexName
	if indexName == "" {
		indexName = deriveIndexName(field)
	}
	return schema.Options.KeyPrefix + schema.Options.RefIndexKeyPrefix + indexName + schema.Options.Delimiter + norm + schema.Options.KeySuffix, nil
}

// indexedValueSet extracts the set of values a field descriptor
// contributes to its index, given the field's current committed value:
// a scalar field contributes one value, an array field contributes one
// value per element.
func indexedValueSet(value interface{}) []interface{} {
	if arr, ok := value.([]interface{}); ok {
		return arr
	}
	if value == nil {
		return nil
	}
	return []interface{}{value}
}

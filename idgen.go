package odm

import "github.com/google/uuid"

// newUUID generates a v4 UUID string, used as the default Thunk for an
// auto-generated key field.
func newUUID() string {
	return uuid.NewString()
}

// Package uuid wraps github.com/google/uuid. New identifiers are version 7 (time-ordered);
// parsing accepts every form Jellyfin uses, including the undashed 32 hex digit ids.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// UUID represents a UUID, aliased from github.com/google/uuid.UUID
type UUID = uuid.UUID

// New returns a new UUIDv7. Panics if UUID generation fails.
func New() UUID {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return uuidv7
}

// Parse parses a UUID string into a UUID value. Returns an error if the string is not a valid UUID.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsJellyfinID reports whether s is an item, user or device id as Jellyfin prints them:
// 32 hex digits, optionally dashed.
func IsJellyfinID(s string) bool {
	if len(s) != 32 && len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Compact formats id the way Jellyfin does in its JSON bodies: lowercase, no dashes.
func Compact(id UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// IsUUIDv7 reports whether the given UUID is a valid UUIDv7.
func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}

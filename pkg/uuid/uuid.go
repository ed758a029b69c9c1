// Package uuid provides UUID v7 generation for client identifiers.
// UUID v7 is sortable by timestamp, so session history rows stay in creation order.
// Randomness comes from crypto/rand via github.com/google/uuid.
package uuid

import (
	"fmt"

	guuid "github.com/google/uuid"
)

// UUID represents a UUID v7 identifier.
type UUID [16]byte

// NewV7 generates a new UUID v7.
// Layout (RFC 9562):
//   - 48 bits: UNIX timestamp in milliseconds
//   - 4 bits: version (0111)
//   - 12 bits: sub-millisecond sequence
//   - 2 bits: variant (10)
//   - 62 bits: random
//
// Panics only if the system random source fails, which leaves nothing safe to hand out.
func NewV7() UUID {
	id, err := guuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("uuid: read random source: %v", err))
	}
	return UUID(id)
}

// Parse decodes the canonical textual form.
func Parse(s string) (UUID, error) {
	id, err := guuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("uuid: parse %q: %w", s, err)
	}
	return UUID(id), nil
}

// Version returns the version nibble (7 for ids produced by NewV7).
func (u UUID) Version() int {
	return int(u[6] >> 4)
}

// String returns the UUID in standard form: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func (u UUID) String() string {
	return guuid.UUID(u).String()
}

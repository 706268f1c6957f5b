// Package uuidfmt implements the 128-bit node/cluster identity used
// throughout the network state engine: a 16-byte binary form with a
// canonical lowercase 8-4-4-4-12 text rendering.
package uuidfmt

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the length in bytes of the binary form.
const Size = 16

// UUID is a 128-bit opaque identity. The zero value is the all-zero UUID.
type UUID [Size]byte

// Nil is the all-zero UUID.
var Nil UUID

// New mints a fresh random UUID. Production node-identity minting is out of
// scope for this repository (it is derived from a firmware probe by an
// external collaborator); New exists for the config-seed and test paths.
func New() UUID {
	var u UUID
	copy(u[:], uuid.New()[:])
	return u
}

// FromBytes copies a 16-byte binary representation into a UUID. It returns
// an error if b is not exactly Size bytes.
func FromBytes(b []byte) (UUID, error) {
	var u UUID
	if len(b) != Size {
		return u, fmt.Errorf("uuidfmt: want %d bytes, got %d", Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Bytes returns the 16-byte binary form.
func (u UUID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, u[:])
	return out
}

// IsNil reports whether u is the all-zero UUID.
func (u UUID) IsNil() bool {
	return u == Nil
}

// String formats u as a canonical lowercase 8-4-4-4-12 hex string.
func (u UUID) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], u[10:16])
	return string(buf[:])
}

// Parse parses a canonical 8-4-4-4-12 hex string (case-insensitive on input,
// always formatted lowercase on output) into a UUID.
func Parse(s string) (UUID, error) {
	var u UUID
	if len(s) != 36 {
		return u, fmt.Errorf("uuidfmt: parse %q: want 36 characters, got %d", s, len(s))
	}
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return u, fmt.Errorf("uuidfmt: parse %q: malformed separators", s)
	}
	groups := [5][2]int{{0, 8}, {9, 13}, {14, 18}, {19, 23}, {24, 36}}
	dst := u[:0:Size]
	for _, g := range groups {
		decoded, err := hex.DecodeString(s[g[0]:g[1]])
		if err != nil {
			return UUID{}, fmt.Errorf("uuidfmt: parse %q: %w", s, err)
		}
		dst = append(dst, decoded...)
	}
	copy(u[:], dst)
	return u, nil
}

// Equal reports whether a and b are bytewise identical.
func Equal(a, b UUID) bool {
	return a == b
}

// Package roomcode maps human-readable room codes (xxx-xxxx-xxxx) to the
// numeric room ids the transport requires.
package roomcode

import (
	"fmt"
	"strings"

	"github.com/oztf/meetlink/internal/domain"
)

const (
	// MinRoomID and MaxRoomID bound the transport's accepted room id range.
	MinRoomID = 1
	MaxRoomID = 4294967294

	codeLen = 11
)

// Encode strips separators from an 11-digit room code and hashes it into
// the transport's numeric range. Deterministic: the same code always maps
// to the same id. The mapping is lossy; different codes may collide.
func Encode(code string) (uint32, error) {
	clean := strings.ReplaceAll(code, "-", "")
	if len(clean) != codeLen {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidFormat, code)
	}
	for i := 0; i < len(clean); i++ {
		if clean[i] < '0' || clean[i] > '9' {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidFormat, code)
		}
	}
	return (hash(clean) % (MaxRoomID - 1)) + 1, nil
}

// EncodeNumeric validates an already-numeric room id against the
// transport bounds.
func EncodeNumeric(id uint64) (uint32, error) {
	if id < MinRoomID || id > MaxRoomID {
		return 0, fmt.Errorf("%w: %d", domain.ErrOutOfRange, id)
	}
	return uint32(id), nil
}

// Decode zero-pads a numeric id to 11 digits and re-inserts separators.
// This is a formatting operation only, not an inverse of Encode: the
// original code is not recoverable from the hash.
func Decode(id uint32) string {
	padded := fmt.Sprintf("%011d", id)
	return padded[0:3] + "-" + padded[3:7] + "-" + padded[7:11]
}

// hash is a rolling 32-bit hash with signed wraparound, h = h*31 + c.
// Absolute value is taken over 64 bits so the minimum int32 does not
// overflow back to negative.
func hash(s string) uint32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = h*31 + int32(s[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return uint32(v)
}

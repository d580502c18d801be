// Package ident produces ephemeral session/participant identifiers.
package ident

import (
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	// IDLen is the fixed identifier length.
	IDLen = 18

	timestampDigits = 8
	alphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewID returns an 18-character identifier: the low 8 digits of the
// current wall-clock timestamp followed by 10 random alphanumerics.
// Collision-resistant in practice but NOT a security credential; the
// random source is deliberately non-cryptographic.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ts) > timestampDigits {
		ts = ts[len(ts)-timestampDigits:]
	}
	buf := make([]byte, 0, IDLen)
	buf = append(buf, ts...)
	for len(buf) < IDLen {
		buf = append(buf, alphabet[rand.IntN(len(alphabet))])
	}
	return string(buf)
}

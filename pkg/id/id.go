// Package id generates the identifiers used for jobs and workers.
//
// Job IDs are ULIDs: 26 characters of Crockford base32, time-ordered so that
// listing jobs by ID roughly follows creation order. Worker names use the
// shorter 16-character ShortID form.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	ulidLen    = 26
	shortIDLen = 16
)

// NewULID returns a 26-character ULID: 48-bit millisecond timestamp followed by
// 80 bits of randomness.
func NewULID() string {
	var buf [ulidLen]byte
	ms := uint64(time.Now().UnixMilli())
	encodeTime(buf[:10], ms)
	encodeRandom(buf[10:], 10)
	return string(buf[:])
}

// NewShortID returns a 16-character ID: 30-bit millisecond timestamp
// (wraps roughly every 34 years) followed by 50 random bits.
func NewShortID() string {
	var buf [shortIDLen]byte
	ms := uint64(time.Now().UnixMilli()) & 0x3FFFFFFF
	encodeTime(buf[:6], ms)
	encodeRandom(buf[6:], 7)
	return string(buf[:])
}

// IsULID reports whether s has the shape of a ULID produced by NewULID.
func IsULID(s string) bool {
	if len(s) != ulidLen {
		return false
	}
	for i := range len(s) {
		if strings.IndexByte(crockfordBase32, s[i]) < 0 {
			return false
		}
	}
	// First char carries only the top 3 bits of a 48-bit timestamp.
	return s[0] <= '7'
}

// encodeTime writes ts into dst as big-endian base32, 5 bits per character.
func encodeTime(dst []byte, ts uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = crockfordBase32[ts&0x1F]
		ts >>= 5
	}
}

// encodeRandom fills dst with base32 characters drawn from n random bytes.
// The bit stream is consumed most-significant bit first.
func encodeRandom(dst []byte, n int) {
	src := make([]byte, n)
	if _, err := rand.Read(src); err != nil {
		// Degraded but functional.
		var fallback [8]byte
		binary.BigEndian.PutUint64(fallback[:], uint64(time.Now().UnixNano()))
		copy(src, fallback[:])
	}

	var acc uint32
	bits := 0
	pos := 0
	for i := range dst {
		for bits < 5 && pos < len(src) {
			acc = acc<<8 | uint32(src[pos])
			pos++
			bits += 8
		}
		if bits < 5 {
			dst[i] = crockfordBase32[(acc<<(5-bits))&0x1F]
			bits = 0
			continue
		}
		dst[i] = crockfordBase32[(acc>>(bits-5))&0x1F]
		bits -= 5
	}
}

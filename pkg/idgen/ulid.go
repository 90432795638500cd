// Package idgen mints the identifiers the core hands out: ULIDs for
// anonymous volumes and memorable fallback names for containers created
// without an explicit id.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// crockford is the 32-symbol alphabet used by Crockford base32 (§9 GLOSSARY:
// ULID). It excludes I, L, O, U to avoid visual confusion with 1, 1, 0, V.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULID returns a 26-character Crockford-base-32 identifier: 48 bits of
// millisecond timestamp followed by 80 bits of randomness, so that
// lexicographic order approximates chronological order.
func ULID(now time.Time) (string, error) {
	var entropy [10]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("idgen: reading entropy: %w", err)
	}
	ms := uint64(now.UnixMilli())

	var b [16]byte
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)
	copy(b[6:], entropy[:])

	return encodeCrockford(b), nil
}

func encodeCrockford(b [16]byte) string {
	var sb strings.Builder
	sb.Grow(26)

	// 128 bits split into 26 groups of 5 bits each (130 bits, top 2 padded with 0).
	var bits uint64
	var nbits uint = 2 // the two leading zero pad bits
	bi := 0
	for sb.Len() < 26 {
		for nbits < 5 && bi < 16 {
			bits = (bits << 8) | uint64(b[bi])
			nbits += 8
			bi++
		}
		if nbits < 5 {
			bits <<= 5 - nbits
			nbits = 5
		}
		shift := nbits - 5
		idx := (bits >> shift) & 0x1f
		sb.WriteByte(crockford[idx])
		nbits -= 5
		bits &= (1 << nbits) - 1
	}
	return sb.String()
}

// AnonymousVolumeNamePrefix is prepended to a ULID to form an anonymous
// volume's name (§3 Volume, §4.A "Missing volume source").
const AnonymousVolumeNamePrefix = "anon-"

// AnonymousVolumeName mints a name of the form anon-<ULID>.
func AnonymousVolumeName(now time.Time) (string, error) {
	u, err := ULID(now)
	if err != nil {
		return "", err
	}
	return AnonymousVolumeNamePrefix + u, nil
}

var nameGen = namegenerator.NewNameGenerator(time.Now().UnixNano())

// FallbackContainerName mints a memorable name for a container created
// without an explicit id, the same way the teacher's sandbox tooling names
// its boxes.
func FallbackContainerName() string {
	return nameGen.Generate()
}

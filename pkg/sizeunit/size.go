// Package sizeunit parses and renders the binary-multiple byte sizes used
// throughout container configuration (tmpfs size=, --memory). Per §9 of the
// specification this is an intentional deviation from SI: k, kb, and kib all
// mean 1024 here.
package sizeunit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	K = 1 << 10
	M = 1 << 20
	G = 1 << 30
	T = 1 << 40
	P = 1 << 50
)

var suffixes = []struct {
	suffix string
	mult   int64
}{
	// Longest suffixes first so e.g. "kib" isn't matched as "k" with trailing "ib".
	{"kib", K}, {"mib", M}, {"gib", G}, {"tib", T}, {"pib", P},
	{"kb", K}, {"mb", M}, {"gb", G}, {"tb", T}, {"pb", P},
	{"k", K}, {"m", M}, {"g", G}, {"t", T}, {"p", P},
	{"b", 1},
}

// Parse converts a size string like "512m", "2GiB", "1024" (bytes) into a
// byte count, using binary multiples for every suffix.
func Parse(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("sizeunit: empty size")
	}
	lower := strings.ToLower(trimmed)

	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf.suffix) {
			numPart := strings.TrimSpace(trimmed[:len(trimmed)-len(suf.suffix)])
			if numPart == "" {
				return 0, fmt.Errorf("sizeunit: missing numeric value in %q", s)
			}
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("sizeunit: invalid numeric value in %q: %w", s, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("sizeunit: negative size %q", s)
			}
			return int64(n * float64(suf.mult)), nil
		}
	}

	// No recognized suffix: treat as a bare byte count.
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sizeunit: invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("sizeunit: negative size %q", s)
	}
	return n, nil
}

// Render formats a byte count back into canonical binary-multiple form,
// e.g. 134217728 -> "128 MiB". Used by the spec parser's round-trip render
// path and by content-store GC logging.
func Render(n int64) string {
	return humanize.IBytes(uint64(n))
}

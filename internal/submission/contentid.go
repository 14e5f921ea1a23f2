// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"encoding/hex"
	"strings"
)

// Content identifiers arrive from the UI either as a 40-character hex
// fingerprint or as its 32-character base-32 form (alphabet A-Z2-7, as used
// in magnet links). The canonical form is lowercase 40-hex.

const contentIDBytes = 20

// Normalize canonicalizes a content identifier candidate. It returns the
// lowercase 40-hex form and true, or "" and false for anything it cannot
// decode. Malformed input never panics.
func Normalize(candidate string) (string, bool) {
	if len(candidate) == 40 && isHex(candidate) {
		return strings.ToLower(candidate), true
	}

	decoded, ok := decodeBase32(candidate)
	if !ok || len(decoded) != contentIDBytes {
		return "", false
	}
	return hex.EncodeToString(decoded), true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// decodeBase32 accumulates 5-bit groups into bytes. It rejects the input on
// the first character outside A-Z2-7 (case-insensitive); trailing bits that
// do not fill a byte are dropped, so truncated input surfaces as a short
// result rather than an error.
func decodeBase32(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s)*5/8)
	var acc, bits uint

	for i := 0; i < len(s); i++ {
		c := s[i]

		var v uint
		switch {
		case c >= 'A' && c <= 'Z':
			v = uint(c - 'A')
		case c >= 'a' && c <= 'z':
			v = uint(c - 'a')
		case c >= '2' && c <= '7':
			v = uint(c-'2') + 26
		default:
			return nil, false
		}

		acc = acc<<5 | v
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}

	return out, true
}

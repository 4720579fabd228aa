// Package canonical provides deterministic JSON serialization and BLAKE3
// hashing for Vifei truth structures.
//
// Two canonical forms exist:
//
//   - Marshal: compact encoding/json output with HTML escaping disabled
//     and every string literal (keys and values) rewritten to Unicode NFC.
//     Struct fields appear in declaration order, map keys sorted. Integer
//     values of any magnitude survive exactly. This form backs the EventLog
//     lines and state_hash, where uint64 nanosecond timestamps exceed the
//     ES6 safe-integer range.
//
//   - JCS: RFC 8785 canonicalization (sorted keys, canonical number
//     formatting) via github.com/gowebpki/jcs, applied after the same NFC
//     pass. Only valid for structures whose numbers fit in the ES6 safe
//     range; used for the ViewModel hash and for normalizing dynamic
//     source JSON.
//
// The NFC pass makes canonical equality hold for visually identical
// strings in different normalization forms: precomposed and combining
// spellings of the same text marshal to the same bytes and therefore the
// same BLAKE3 digest.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

// Marshal serializes v to compact JSON with HTML escaping disabled and all
// strings in NFC. The output is byte-stable for structs (declaration
// order) and maps (sorted keys), and is idempotent: re-marshaling a parsed
// canonical document reproduces it byte for byte.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	// Encoder appends a newline; the canonical form is the bare object.
	return normalizeStrings(bytes.TrimRight(buf.Bytes(), "\n"))
}

// normalizeStrings rewrites every JSON string literal in raw into NFC.
// Literals already in NFC are copied verbatim. Documents that are plain
// ASCII with no escape sequences (ASCII is NFC by definition, and an
// escape could encode a combining character) pass through untouched, so
// the common path stays byte-stable.
func normalizeStrings(raw []byte) ([]byte, error) {
	trivial := true
	for i := 0; i < len(raw); i++ {
		if raw[i] >= utf8.RuneSelf || raw[i] == '\\' {
			trivial = false
			break
		}
	}
	if trivial {
		return raw, nil
	}

	var out bytes.Buffer
	out.Grow(len(raw))
	for i := 0; i < len(raw); {
		if raw[i] != '"' {
			out.WriteByte(raw[i])
			i++
			continue
		}
		end, err := stringLiteralEnd(raw, i)
		if err != nil {
			return nil, err
		}
		lit := raw[i:end]
		var s string
		if err := json.Unmarshal(lit, &s); err != nil {
			return nil, fmt.Errorf("canonical: string literal: %w", err)
		}
		if normalized := NFC(s); normalized != s {
			encoded, err := encodeJSONString(normalized)
			if err != nil {
				return nil, err
			}
			out.Write(encoded)
		} else {
			out.Write(lit)
		}
		i = end
	}
	return out.Bytes(), nil
}

// stringLiteralEnd returns the index just past the closing quote of the
// string literal starting at raw[start].
func stringLiteralEnd(raw []byte, start int) (int, error) {
	for i := start + 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("canonical: unterminated string literal at offset %d", start)
}

func encodeJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("canonical: encode string: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// JCS returns the RFC 8785 canonical form of v. Numbers outside the ES6
// safe-integer range are rejected by the transform; callers must only pass
// structures whose numeric fields are bounded (see package doc).
func JCS(v any) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// JCSBytes canonicalizes raw JSON text per RFC 8785, with the same NFC
// string pass as Marshal.
func JCSBytes(raw []byte) ([]byte, error) {
	normalized, err := normalizeStrings(raw)
	if err != nil {
		return nil, err
	}
	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// HashBytes returns the lowercase hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// Hash computes BLAKE3(prefix || Marshal(v)) as lowercase hex. The prefix
// is a version string that makes logic changes visible in the digest.
func Hash(prefix string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	h := blake3.New(32, nil)
	h.Write([]byte(prefix))
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// NewHasher returns an incremental BLAKE3-256 hasher for streaming writes.
func NewHasher() *blake3.Hasher {
	return blake3.New(32, nil)
}

// NFC normalizes s to Unicode Normalization Form C. Marshal and JCSBytes
// apply this to every string literal, so visually identical strings hash
// identically regardless of their source normalization form.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// ValidDigest reports whether s is a well-formed payload_ref / digest:
// exactly 64 lowercase hex characters.
func ValidDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

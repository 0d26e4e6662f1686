// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte BLAKE3 key. Keys are the ASCII domain name,
// zero-padded. Changing a key invalidates every hash in that domain.
type domainKey [32]byte

var (
	blobDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'a', 'g', 'e', 'n', 't', '.',
		'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	contentDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'a', 'g', 'e', 'n', 't', '.',
		'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	nameDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'a', 'g', 'e', 'n', 't', '.',
		'n', 'a', 'm', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Sum returns the blob-domain hash of data. Every store computes blob
// addresses with this function.
func Sum(data []byte) Hash {
	return keyedHash(blobDomainKey, data)
}

// Digest returns the content-domain hash of uncompressed file bytes.
// Temp-storage manifests record it to detect modified inputs.
func Digest(data []byte) Hash {
	return keyedHash(contentDomainKey, data)
}

// DigestReader streams r through the content-domain hasher.
func DigestReader(r io.Reader) (Hash, int64, error) {
	hasher := newKeyed(contentDomainKey)
	written, err := io.Copy(hasher, r)
	if err != nil {
		return Hash{}, written, err
	}
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash, written, nil
}

// NameHash hashes a ref or tag name into a filesystem-safe identifier.
func NameHash(name string) Hash {
	return keyedHash(nameDomainKey, []byte(name))
}

// IsZero reports whether h is the zero hash (no blob).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return FormatHash(h)
}

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// FormatHash returns the canonical 64-character hex form of a hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing blob hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("blob hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// MarshalText implements encoding.TextMarshaler so hashes appear as
// hex in JSON output.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(FormatHash(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher := newKeyed(key)
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// newKeyed cannot fail: NewKeyed only rejects keys that are not 32
// bytes, and domainKey is a fixed-size array.
func newKeyed(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("blob: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"strings"
	"testing"
)

func TestSumIsPureFunctionOfBytes(t *testing.T) {
	first := Sum([]byte("engine binaries"))
	second := Sum([]byte("engine binaries"))
	if first != second {
		t.Errorf("Sum not deterministic: %s != %s", first, second)
	}
	if Sum([]byte("engine binaries!")) == first {
		t.Error("different inputs produced the same hash")
	}
}

func TestDomainSeparation(t *testing.T) {
	data := []byte("same bytes in every domain")
	if Sum(data) == Digest(data) {
		t.Error("blob and content domains collide")
	}
	if Sum(data) == NameHash(string(data)) {
		t.Error("blob and name domains collide")
	}
}

func TestDigestReaderMatchesDigest(t *testing.T) {
	data := bytes.Repeat([]byte("streamed content "), 10000)
	hash, length, err := DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DigestReader: %v", err)
	}
	if length != int64(len(data)) {
		t.Errorf("length = %d, want %d", length, len(data))
	}
	if hash != Digest(data) {
		t.Errorf("DigestReader = %s, Digest = %s", hash, Digest(data))
	}
}

func TestFormatParseHash(t *testing.T) {
	original := Sum([]byte("roundtrip"))
	formatted := FormatHash(original)
	if len(formatted) != 64 {
		t.Fatalf("formatted length = %d, want 64", len(formatted))
	}
	parsed, err := ParseHash(formatted)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != original {
		t.Errorf("ParseHash(FormatHash(h)) = %s, want %s", parsed, original)
	}
	if !strings.HasPrefix(formatted, original.Short()) {
		t.Errorf("Short() = %q is not a prefix of %q", original.Short(), formatted)
	}
}

func TestParseHashErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", "abcd"},
		{"too long", strings.Repeat("00", 33)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseHash(test.input); err == nil {
				t.Errorf("ParseHash(%q) succeeded, want error", test.input)
			}
		})
	}
}

func TestZeroHash(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if Sum(nil).IsZero() {
		t.Error("hash of empty input should not be the zero hash")
	}
}

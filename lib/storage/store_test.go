// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

const testNamespace Namespace = "test-ns"

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// runStoreTests exercises the Store contract against one
// implementation.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("BlobRoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		content := []byte("the quick brown fox")

		hash, err := store.WriteBlob(ctx, testNamespace, content)
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		if hash != blob.Sum(content) {
			t.Errorf("hash = %s, want %s", hash, blob.Sum(content))
		}
		again, err := store.WriteBlob(ctx, testNamespace, content)
		if err != nil {
			t.Fatalf("second WriteBlob: %v", err)
		}
		if again != hash {
			t.Errorf("rewrite returned %s, want %s", again, hash)
		}

		got, err := store.ReadBlob(ctx, testNamespace, hash)
		if err != nil {
			t.Fatalf("ReadBlob: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("ReadBlob = %q, want %q", got, content)
		}
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		hash, err := store.WriteBlob(ctx, testNamespace, nil)
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		got, err := store.ReadBlob(ctx, testNamespace, hash)
		if err != nil {
			t.Fatalf("ReadBlob: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("ReadBlob returned %d bytes, want 0", len(got))
		}
	})

	t.Run("MissingBlob", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ReadBlob(context.Background(), testNamespace, blob.Sum([]byte("absent")))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadBlob error = %v, want ErrNotFound", err)
		}
	})

	t.Run("NamespacesAreIsolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		hash, err := store.WriteBlob(ctx, "alpha", []byte("scoped"))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		if _, err := store.ReadBlob(ctx, "beta", hash); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadBlob across namespaces error = %v, want ErrNotFound", err)
		}
	})

	t.Run("RefOverwrite", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		name := RefName("temp/job-1/compile")

		if _, err := store.ReadRef(ctx, testNamespace, "temp", name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("ReadRef before write error = %v, want ErrNotFound", err)
		}
		first, err := store.WriteRef(ctx, testNamespace, "temp", name, []byte("first"))
		if err != nil {
			t.Fatalf("WriteRef: %v", err)
		}
		second, err := store.WriteRef(ctx, testNamespace, "temp", name, []byte("second"))
		if err != nil {
			t.Fatalf("WriteRef: %v", err)
		}
		if first == second {
			t.Error("different contents produced the same target hash")
		}
		got, err := store.ReadRef(ctx, testNamespace, "temp", name)
		if err != nil {
			t.Fatalf("ReadRef: %v", err)
		}
		if string(got) != "second" {
			t.Errorf("ReadRef = %q, want %q", got, "second")
		}
		// The target is an ordinary blob.
		data, err := store.ReadBlob(ctx, testNamespace, second)
		if err != nil || string(data) != "second" {
			t.Errorf("ReadBlob(target) = %q, %v", data, err)
		}
	})

	t.Run("BucketsAreIsolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		if _, err := store.WriteRef(ctx, testNamespace, "one", "name", []byte("x")); err != nil {
			t.Fatalf("WriteRef: %v", err)
		}
		if _, err := store.ReadRef(ctx, testNamespace, "two", "name"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadRef in other bucket error = %v, want ErrNotFound", err)
		}
	})

	t.Run("InvalidRefName", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.WriteRef(context.Background(), testNamespace, "temp", "a//b", []byte("x")); err == nil {
			t.Error("WriteRef with empty segment should fail")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestDirectoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		store, err := NewDirectoryStore(t.TempDir(), clock.Fake(testEpoch))
		if err != nil {
			t.Fatalf("NewDirectoryStore: %v", err)
		}
		return store
	})
}

func TestClientOverSocket(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		backing, err := NewDirectoryStore(t.TempDir(), clock.Fake(testEpoch))
		if err != nil {
			t.Fatalf("NewDirectoryStore: %v", err)
		}
		socketPath := filepath.Join(testutil.SocketDir(t), "blob.sock")
		server := service.NewSocketServer(socketPath, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
		RegisterHandlers(server, backing)

		ctx, cancel := context.WithCancel(context.Background())
		ready := make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- server.ServeReady(ctx, ready) }()
		t.Cleanup(func() {
			cancel()
			testutil.RequireReceive(t, done, 5*time.Second, "blob server shutdown")
		})
		testutil.RequireClosed(t, ready, 5*time.Second, "blob server listening")

		return NewClient(socketPath)
	})
}

func TestDirectoryStoreLayout(t *testing.T) {
	root := t.TempDir()
	fake := clock.Fake(testEpoch)
	store, err := NewDirectoryStore(root, fake)
	if err != nil {
		t.Fatalf("NewDirectoryStore: %v", err)
	}
	ctx := context.Background()

	hash, err := store.WriteBlob(ctx, testNamespace, []byte("layout"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	hex := blob.FormatHash(hash)
	if _, err := os.Stat(filepath.Join(root, string(testNamespace), "blobs", hex[:2], hex[2:4], hex)); err != nil {
		t.Errorf("blob not at sharded path: %v", err)
	}

	if _, err := store.WriteRef(ctx, testNamespace, "temp", "job/node", []byte("v1")); err != nil {
		t.Fatalf("WriteRef: %v", err)
	}
	fake.Advance(time.Hour)
	if _, err := store.WriteRef(ctx, testNamespace, "temp", "job/node", []byte("v2")); err != nil {
		t.Fatalf("WriteRef: %v", err)
	}
	record, err := store.Stat(testNamespace, "temp", "job/node")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !record.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", record.CreatedAt, testEpoch)
	}
	if !record.UpdatedAt.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", record.UpdatedAt, testEpoch.Add(time.Hour))
	}
	if record.Target != blob.Sum([]byte("v2")) {
		t.Errorf("Target = %s, want hash of v2", record.Target)
	}

	entries, err := os.ReadDir(filepath.Join(root, string(testNamespace), "tmp"))
	if err != nil {
		t.Fatalf("reading tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("tmp directory has %d leftover files", len(entries))
	}
}

func TestDirectoryStoreDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirectoryStore(root, clock.Fake(testEpoch))
	if err != nil {
		t.Fatalf("NewDirectoryStore: %v", err)
	}
	ctx := context.Background()
	hash, err := store.WriteBlob(ctx, testNamespace, []byte("pristine"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := os.WriteFile(store.blobPath(testNamespace, hash), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tampering: %v", err)
	}
	if _, err := store.ReadBlob(ctx, testNamespace, hash); err == nil {
		t.Fatal("ReadBlob of corrupt blob should fail")
	}
}

func TestMemoryStoreCounters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	hash, _ := store.WriteBlob(ctx, testNamespace, []byte("counted"))
	store.WriteBlob(ctx, testNamespace, []byte("counted"))
	store.ReadBlob(ctx, testNamespace, hash)

	if got := store.WriteCount(testNamespace, hash); got != 2 {
		t.Errorf("WriteCount = %d, want 2", got)
	}
	if got := store.ReadCount(testNamespace, hash); got != 1 {
		t.Errorf("ReadCount = %d, want 1", got)
	}
	if got := store.BlobCount(); got != 1 {
		t.Errorf("BlobCount = %d, want 1", got)
	}
	store.ResetCounters()
	if got := store.TotalWrites(); got != 0 {
		t.Errorf("TotalWrites after reset = %d, want 0", got)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ok   bool
	}{
		{"namespace ok", Namespace("build.main_1-x").Validate(), true},
		{"namespace upper", Namespace("Build").Validate(), false},
		{"namespace empty", Namespace("").Validate(), false},
		{"bucket slash", Bucket("a/b").Validate(), false},
		{"ref ok", RefName("temp/job/node").Validate(), true},
		{"ref leading slash", RefName("/temp").Validate(), false},
		{"ref trailing slash", RefName("temp/").Validate(), false},
		{"ref dotdot", RefName("temp/../x").Validate(), false},
		{"ref too long", RefName(bytes.Repeat([]byte("a"), MaxRefNameLength+1)).Validate(), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if (test.err == nil) != test.ok {
				t.Errorf("err = %v, want ok=%v", test.err, test.ok)
			}
		})
	}
}

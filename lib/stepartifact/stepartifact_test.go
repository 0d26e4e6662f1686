// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepartifact

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/storage"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

const (
	testNamespace storage.Namespace = "artifacts-test"
	testBucket    storage.Bucket    = "artifacts"
)

// concurrencyStore records the peak number of concurrent blob writes.
type concurrencyStore struct {
	storage.Store

	mu      sync.Mutex
	current int
	peak    int
}

func (s *concurrencyStore) WriteBlob(ctx context.Context, namespace storage.Namespace, data []byte) (blob.Hash, error) {
	s.mu.Lock()
	s.current++
	s.peak = max(s.peak, s.current)
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()
	return s.Store.WriteBlob(ctx, namespace, data)
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	testutil.WriteFiles(t, workspace, map[string]string{
		"logs/build.log":      "compiling\n",
		"logs/link.log":       "linking\n",
		"reports/junit.xml":   "<testsuite/>\n",
		"out/not-an-artifact": "binary",
	})

	store := storage.NewMemoryStore()
	registrar := &jobapi.MemoryRegistrar{}
	uploader := &Uploader{
		Store:     store,
		Namespace: testNamespace,
		Bucket:    testBucket,
		RefPrefix: "job-7",
		Registrar: registrar,
		JobID:     "job-7",
		StepID:    "step-3",
	}

	result, err := uploader.Upload(ctx, workspace, "compile", []string{"logs", "reports/junit.xml", "missing"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.RefName != "job-7/compile/artifacts" {
		t.Errorf("RefName = %q", result.RefName)
	}
	if result.Files != 3 {
		t.Errorf("Files = %d, want 3", result.Files)
	}

	if target, ok := store.RefTarget(testNamespace, testBucket, result.RefName); !ok || target != result.TreeHash {
		t.Errorf("ref target = %s (%v), want %s", target, ok, result.TreeHash)
	}

	output := t.TempDir()
	reader := &merkle.Reader{Store: store, Namespace: testNamespace}
	if err := reader.MaterializeHash(ctx, result.TreeHash, output); err != nil {
		t.Fatalf("MaterializeHash: %v", err)
	}
	want := map[string]string{
		"logs/build.log":    "compiling\n",
		"logs/link.log":     "linking\n",
		"reports/junit.xml": "<testsuite/>\n",
	}
	if diff := cmp.Diff(want, testutil.ReadFiles(t, output)); diff != "" {
		t.Errorf("uploaded files mismatch (-want +got):\n%s", diff)
	}

	registrations := registrar.Registrations()
	if len(registrations) != 1 {
		t.Fatalf("got %d registrations, want 1", len(registrations))
	}
	registered := registrations[0]
	if registered.ArtifactID != result.ArtifactID {
		t.Errorf("ArtifactID = %q, registrar assigned %q", result.ArtifactID, registered.ArtifactID)
	}
	wantRegistration := jobapi.ArtifactRegistration{
		JobID:     "job-7",
		StepID:    "step-3",
		Type:      jobapi.ArtifactTypeStepArtifacts,
		Namespace: testNamespace,
		RefName:   result.RefName,
	}
	if diff := cmp.Diff(wantRegistration, registered.ArtifactRegistration); diff != "" {
		t.Errorf("registration mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	registrar := &jobapi.MemoryRegistrar{}
	uploader := &Uploader{Store: store, Namespace: testNamespace, Bucket: testBucket, RefPrefix: "job", Registrar: registrar}

	result, err := uploader.Upload(context.Background(), t.TempDir(), "compile", []string{"logs"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if store.TotalWrites() != 0 {
		t.Errorf("expected no writes, got %d", store.TotalWrites())
	}
	if len(registrar.Registrations()) != 0 {
		t.Error("expected no registration")
	}
}

func TestUploadRejectsEscapingPaths(t *testing.T) {
	uploader := &Uploader{Store: storage.NewMemoryStore(), Namespace: testNamespace, Bucket: testBucket, RefPrefix: "job"}
	if _, err := uploader.Upload(context.Background(), t.TempDir(), "compile", []string{"../outside"}); err == nil {
		t.Error("expected error for path outside the workspace")
	}
}

func TestUploadConcurrencyLimit(t *testing.T) {
	workspace := t.TempDir()
	files := make(map[string]string)
	for index := range 20 {
		files[fmt.Sprintf("logs/%02d.log", index)] = fmt.Sprintf("log %d\n", index)
	}
	testutil.WriteFiles(t, workspace, files)

	for _, limit := range []int{0, 2} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			store := &concurrencyStore{Store: storage.NewMemoryStore()}
			uploader := &Uploader{
				Store:          store,
				Namespace:      testNamespace,
				Bucket:         testBucket,
				RefPrefix:      "job",
				MaxConcurrency: limit,
			}
			if _, err := uploader.Upload(context.Background(), workspace, "compile", []string{"logs"}); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			want := limit
			if want == 0 {
				want = DefaultMaxConcurrency
			}
			if store.peak > want {
				t.Errorf("peak concurrent writes = %d, limit %d", store.peak, want)
			}
			if store.peak < 1 {
				t.Error("no writes observed")
			}
		})
	}
}

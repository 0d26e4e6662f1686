// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobapi

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

func validRegistration() ArtifactRegistration {
	return ArtifactRegistration{
		JobID:     "job-42",
		StepID:    "compile",
		Type:      ArtifactTypeTempStorage,
		Namespace: "builds",
		RefName:   "temp/job-42/compile",
	}
}

func TestMemoryRegistrar(t *testing.T) {
	registrar := &MemoryRegistrar{}
	id, err := registrar.RegisterArtifact(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("RegisterArtifact: %v", err)
	}
	if !strings.HasPrefix(id, "art-") {
		t.Errorf("artifact ID %q lacks art- prefix", id)
	}
	entries := registrar.Registrations()
	if len(entries) != 1 || entries[0].ArtifactID != id || entries[0].RefName != "temp/job-42/compile" {
		t.Errorf("Registrations() = %+v", entries)
	}
}

func TestRegistrationValidate(t *testing.T) {
	registration := validRegistration()
	registration.JobID = ""
	registration.RefName = "bad//name"
	err := registration.Validate()
	if err == nil {
		t.Fatal("Validate accepted an incomplete registration")
	}
	for _, want := range []string{"job_id is required", "empty segment"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestClientOverSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "jobs.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	backing := &MemoryRegistrar{}
	RegisterHandlers(server, backing)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- server.ServeReady(ctx, ready) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "job server shutdown")
	})
	testutil.RequireClosed(t, ready, 5*time.Second, "job server listening")

	client := NewClient(socketPath)
	id, err := client.RegisterArtifact(ctx, validRegistration())
	if err != nil {
		t.Fatalf("RegisterArtifact: %v", err)
	}
	entries := backing.Registrations()
	if len(entries) != 1 || entries[0].ArtifactID != id {
		t.Fatalf("server recorded %+v, client got %q", entries, id)
	}
	if entries[0].ArtifactRegistration != validRegistration() {
		t.Errorf("registration mangled in transit: %+v", entries[0].ArtifactRegistration)
	}

	invalid := validRegistration()
	invalid.Type = ""
	if _, err := client.RegisterArtifact(ctx, invalid); err == nil {
		t.Error("client sent an invalid registration")
	}
	var serviceErr *service.ServiceError
	if _, err := NewClient(socketPath).RegisterArtifact(ctx, ArtifactRegistration{}); errors.As(err, &serviceErr) {
		t.Error("validation should fail before reaching the server")
	}
}

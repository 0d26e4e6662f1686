// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobapi is the agent's boundary to job orchestration: it
// registers the artifacts a step produces so the job service can track
// them.
package jobapi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// Artifact types registered by the agent.
const (
	ArtifactTypeTempStorage   = "temp-storage"
	ArtifactTypeStepArtifacts = "step-artifacts"
)

// ActionRegisterArtifact is the socket action served by RegisterHandlers.
const ActionRegisterArtifact = "register-artifact"

// ArtifactRegistration describes one artifact produced by a step.
type ArtifactRegistration struct {
	JobID     string            `cbor:"job_id"`
	StepID    string            `cbor:"step_id"`
	Type      string            `cbor:"type"`
	Namespace storage.Namespace `cbor:"namespace"`
	RefName   storage.RefName   `cbor:"ref_name"`
}

// Validate checks that every field is set.
func (r ArtifactRegistration) Validate() error {
	var errs []error
	if r.JobID == "" {
		errs = append(errs, errors.New("job_id is required"))
	}
	if r.StepID == "" {
		errs = append(errs, errors.New("step_id is required"))
	}
	if r.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if err := r.Namespace.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := r.RefName.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Registrar records artifacts with the job service.
type Registrar interface {
	// RegisterArtifact records registration and returns the assigned
	// artifact ID.
	RegisterArtifact(ctx context.Context, registration ArtifactRegistration) (string, error)
}

type registerResponse struct {
	ArtifactID string `cbor:"artifact_id"`
}

// Client is a Registrar backed by the job service socket.
type Client struct {
	service *service.ServiceClient
}

var _ Registrar = (*Client)(nil)

// NewClient returns a client for the job service at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{service: service.NewServiceClient(socketPath)}
}

func (c *Client) RegisterArtifact(ctx context.Context, registration ArtifactRegistration) (string, error) {
	if err := registration.Validate(); err != nil {
		return "", fmt.Errorf("invalid artifact registration: %w", err)
	}
	var response registerResponse
	if err := c.service.Call(ctx, ActionRegisterArtifact, map[string]any{
		"job_id":    registration.JobID,
		"step_id":   registration.StepID,
		"type":      registration.Type,
		"namespace": registration.Namespace,
		"ref_name":  registration.RefName,
	}, &response); err != nil {
		return "", err
	}
	if response.ArtifactID == "" {
		return "", fmt.Errorf("job service returned no artifact ID for %s", registration.RefName)
	}
	return response.ArtifactID, nil
}

// RegisterHandlers serves registrar on server under
// ActionRegisterArtifact.
func RegisterHandlers(server *service.SocketServer, registrar Registrar) {
	server.Handle(ActionRegisterArtifact, func(ctx context.Context, raw []byte) (any, error) {
		var registration ArtifactRegistration
		if err := codec.Unmarshal(raw, &registration); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", ActionRegisterArtifact, err)
		}
		if err := registration.Validate(); err != nil {
			return nil, err
		}
		id, err := registrar.RegisterArtifact(ctx, registration)
		if err != nil {
			return nil, err
		}
		return registerResponse{ArtifactID: id}, nil
	})
}

// Registered is one entry recorded by MemoryRegistrar.
type Registered struct {
	ArtifactID string
	ArtifactRegistration
}

// MemoryRegistrar records registrations in memory and assigns random
// artifact IDs. Safe for concurrent use.
type MemoryRegistrar struct {
	mu      sync.Mutex
	entries []Registered
}

var _ Registrar = (*MemoryRegistrar)(nil)

func (m *MemoryRegistrar) RegisterArtifact(ctx context.Context, registration ArtifactRegistration) (string, error) {
	if err := registration.Validate(); err != nil {
		return "", fmt.Errorf("invalid artifact registration: %w", err)
	}
	id := "art-" + uuid.NewString()
	m.mu.Lock()
	m.entries = append(m.entries, Registered{ArtifactID: id, ArtifactRegistration: registration})
	m.mu.Unlock()
	return id, nil
}

// Registrations returns a copy of everything registered so far, in
// registration order.
func (m *MemoryRegistrar) Registrations() []Registered {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Registered(nil), m.entries...)
}

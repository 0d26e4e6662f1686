// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/sqlitepool"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

const registrarSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_id   TEXT NOT NULL UNIQUE,
	job_id        TEXT NOT NULL,
	step_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	namespace     TEXT NOT NULL,
	ref_name      TEXT NOT NULL,
	registered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_by_job ON artifacts (job_id, seq);
`

// RecordedArtifact is a registration read back from a SQLiteRegistrar.
type RecordedArtifact struct {
	Registered
	RegisteredAt time.Time
}

// SQLiteRegistrar persists registrations in a SQLite database, so a
// development job service keeps its history across restarts.
type SQLiteRegistrar struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

var _ Registrar = (*SQLiteRegistrar)(nil)

// OpenSQLiteRegistrar opens or creates the database at path.
func OpenSQLiteRegistrar(path string, clk clock.Clock, logger *slog.Logger) (*SQLiteRegistrar, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: registrarSchema,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteRegistrar{pool: pool, clock: clk}, nil
}

// Close closes the database.
func (r *SQLiteRegistrar) Close() error {
	return r.pool.Close()
}

func (r *SQLiteRegistrar) RegisterArtifact(ctx context.Context, registration ArtifactRegistration) (string, error) {
	if err := registration.Validate(); err != nil {
		return "", fmt.Errorf("invalid artifact registration: %w", err)
	}
	id := "art-" + uuid.NewString()
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO artifacts
			(artifact_id, job_id, step_id, type, namespace, ref_name, registered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				id,
				registration.JobID,
				registration.StepID,
				registration.Type,
				string(registration.Namespace),
				string(registration.RefName),
				r.clock.Now().UnixNano(),
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("recording artifact %s: %w", registration.RefName, err)
	}
	return id, nil
}

// JobArtifacts returns every artifact registered for jobID, in
// registration order.
func (r *SQLiteRegistrar) JobArtifacts(ctx context.Context, jobID string) ([]RecordedArtifact, error) {
	var artifacts []RecordedArtifact
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT
			artifact_id, job_id, step_id, type, namespace, ref_name, registered_at
			FROM artifacts WHERE job_id = ? ORDER BY seq`, &sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				artifacts = append(artifacts, RecordedArtifact{
					Registered: Registered{
						ArtifactID: stmt.ColumnText(0),
						ArtifactRegistration: ArtifactRegistration{
							JobID:     stmt.ColumnText(1),
							StepID:    stmt.ColumnText(2),
							Type:      stmt.ColumnText(3),
							Namespace: storage.Namespace(stmt.ColumnText(4)),
							RefName:   storage.RefName(stmt.ColumnText(5)),
						},
					},
					RegisteredAt: time.Unix(0, stmt.ColumnInt64(6)).UTC(),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifacts of job %s: %w", jobID, err)
	}
	return artifacts, nil
}

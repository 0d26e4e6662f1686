// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for agent-side services
// that keep small structured records, such as the development job
// service's artifact registrations.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection: WAL journaling, NORMAL synchronous,
// a 5 second busy timeout, and in-memory temp storage. Config.Schema
// is executed on each new connection, so it must be idempotent
// (CREATE TABLE IF NOT EXISTS).
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(root, "jobs.db"),
//	    Schema: schema,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO ...", &sqlitex.ExecOptions{Args: args})
//	})
//
// Connections are not safe for concurrent use; With holds one for the
// duration of the callback.
package sqlitepool

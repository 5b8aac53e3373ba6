//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	sqlCreateCheckpoints = "CREATE TABLE IF NOT EXISTS flow_checkpoints (" +
		"checkpoint_id TEXT NOT NULL, " +
		"captured_at INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (checkpoint_id)" +
		")"

	sqlInsertCheckpoint = "INSERT OR REPLACE INTO flow_checkpoints (" +
		"checkpoint_id, captured_at, checkpoint_json) VALUES (?, ?, ?)"

	sqlSelectByID = "SELECT checkpoint_json FROM flow_checkpoints " +
		"WHERE checkpoint_id = ? LIMIT 1"

	sqlSelectLatest = "SELECT checkpoint_json FROM flow_checkpoints " +
		"ORDER BY captured_at DESC LIMIT 1"

	sqlSelectIDsAsc = "SELECT checkpoint_id FROM flow_checkpoints " +
		"ORDER BY captured_at ASC"

	sqlDeleteByID = "DELETE FROM flow_checkpoints WHERE checkpoint_id = ?"
)

// SQLSaver is a Saver backed by a SQL database. It expects an initialized
// *sql.DB and creates the required schema; checkpoints are stored as JSON
// blobs. Suitable for durable recovery when paired with a persistent DB.
type SQLSaver struct {
	db *sql.DB
}

// NewSQLSaverFromDB creates a saver using the provided DB, creating the
// checkpoint table if needed. The SQL statements target SQLite but any
// driver accepting the same dialect works.
func NewSQLSaverFromDB(db *sql.DB) (*SQLSaver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqlCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &SQLSaver{db: db}, nil
}

// Save persists a checkpoint.
func (s *SQLSaver) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return errors.New("checkpoint requires an id")
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlInsertCheckpoint,
		cp.ID, cp.CapturedAt.UnixNano(), payload); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by id.
func (s *SQLSaver) Load(ctx context.Context, id string) (*Checkpoint, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, sqlSelectByID, id), id)
}

// Latest retrieves the most recently captured checkpoint.
func (s *SQLSaver) Latest(ctx context.Context) (*Checkpoint, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, sqlSelectLatest), "")
}

func (s *SQLSaver) scanOne(row *sql.Row, id string) (*Checkpoint, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if id != "" {
				return nil, fmt.Errorf("%w: %q", ErrCheckpointNotFound, id)
			}
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns the stored checkpoint ids ordered by capture time.
func (s *SQLSaver) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectIDsAsc)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return ids, nil
}

// Delete removes a checkpoint by id.
func (s *SQLSaver) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteByID, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrCheckpointNotFound, id)
	}
	return nil
}

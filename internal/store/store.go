// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store persists each task's terminal result to a local sqlite database, so an operator
// can audit past runs without a live connection to the lab controller. It is a read/write log of
// outcomes, never the engine's authoritative state.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Result is one task's terminal outcome, ready to insert.
type Result struct {
	RecipeID string
	TaskID   string
	Name     string
	State    string
	Error    string
	Result   string
	EndedAt  time.Time
}

// Store wraps a sqlite connection holding the task_results table.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and migrates its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database [%s]", path)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to ping database [%s]", path)
	}

	s := &Store{conn: conn}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS task_results (
		recipe_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		result TEXT,
		ended_at DATETIME NOT NULL,
		PRIMARY KEY (recipe_id, task_id)
	)`)
	return errors.Wrap(err, "failed to migrate task_results table")
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// RecordResult inserts or replaces r's row, keyed by (RecipeID, TaskID).
func (s *Store) RecordResult(ctx context.Context, r Result) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO task_results
		(recipe_id, task_id, name, state, error, result, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipe_id, task_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			error = excluded.error,
			result = excluded.result,
			ended_at = excluded.ended_at`,
		r.RecipeID, r.TaskID, r.Name, r.State, r.Error, r.Result, r.EndedAt)
	return errors.Wrapf(err, "failed to record result for task [%s]", r.TaskID)
}

// Recent returns up to limit rows for recipeID, most recently ended first.
func (s *Store) Recent(ctx context.Context, recipeID string, limit int) ([]Result, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT recipe_id, task_id, name, state, error, result, ended_at
		FROM task_results WHERE recipe_id = ? ORDER BY ended_at DESC LIMIT ?`, recipeID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query task_results")
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var errText, result sql.NullString
		if err := rows.Scan(&r.RecipeID, &r.TaskID, &r.Name, &r.State, &errText, &result, &r.EndedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan task_results row")
		}
		r.Error = errText.String
		r.Result = result.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate task_results rows")
}

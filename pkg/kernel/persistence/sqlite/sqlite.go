// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the L2 state-action-log persistence.Store:
// every mutation appends a row to a durable events table and updates
// the workflows projection table in the same transaction, so the two
// commit or roll back together. Nothing in this package reads or
// replays the events table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kernelflow/kerneld/internal/metrics"
	"github.com/kernelflow/kerneld/internal/tracing"
	kerrors "github.com/kernelflow/kerneld/pkg/errors"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	input BLOB NOT NULL,
	status TEXT NOT NULL,
	current_step TEXT,
	result BLOB,
	error TEXT,
	steps_completed TEXT NOT NULL,
	started_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS step_results (
	workflow_id TEXT NOT NULL,
	step TEXT NOT NULL,
	result BLOB NOT NULL,
	PRIMARY KEY (workflow_id, step)
);
`

// Store is the durable append-only implementation of persistence.Store.
type Store struct {
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// Open creates (if needed) and opens the sqlite database at path,
// applying the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "open", Cause: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &kerrors.PersistenceError{Op: "migrate", Cause: err}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// startOp opens a trace span for a persistence operation and returns
// a finish function. Call as:
//
//	ctx, done := s.startOp(ctx, "save_workflow")
//	defer done(&err)
//
// from a function with a named error return.
func (s *Store) startOp(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := tracing.StartPersistenceOp(ctx, op, "sqlite")
	start := time.Now()
	return ctx, func(errp *error) {
		metrics.ObservePersistenceOp(op, "sqlite", time.Since(start))
		if *errp != nil {
			metrics.RecordPersistenceError(op, "sqlite")
		}
		tracing.EndWithError(span, *errp)
	}
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, workflowID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &kerrors.PersistenceError{Op: "append_event:" + kind, Cause: err}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, kind, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		workflowID, kind, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &kerrors.PersistenceError{Op: "append_event:" + kind, Cause: err}
	}
	return nil
}

// SaveWorkflow implements persistence.Store.
func (s *Store) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) (err error) {
	ctx, done := s.startOp(ctx, "save_workflow")
	defer func() { done(&err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &kerrors.PersistenceError{Op: "save_workflow", Cause: err}
	}
	defer tx.Rollback()

	if err := s.appendEvent(ctx, tx, wf.ID, "save_workflow", wf); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(wf.StepsCompleted)
	if err != nil {
		return &kerrors.PersistenceError{Op: "save_workflow", Cause: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, workflow_type, input, status, current_step, result, error, steps_completed, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_type=excluded.workflow_type, input=excluded.input, status=excluded.status,
			current_step=excluded.current_step, result=excluded.result, error=excluded.error,
			steps_completed=excluded.steps_completed, updated_at=excluded.updated_at
	`, wf.ID, wf.Type, wf.Input, string(wf.State.Status), wf.State.CurrentStep,
		wf.State.Result, nullableString(wf.State.Error), string(stepsJSON),
		wf.StartedAt.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &kerrors.PersistenceError{Op: "save_workflow", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &kerrors.PersistenceError{Op: "save_workflow", Cause: err}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetWorkflow implements persistence.Store.
func (s *Store) GetWorkflow(ctx context.Context, id string) (wf *workflow.Workflow, err error) {
	ctx, done := s.startOp(ctx, "get_workflow")
	defer func() { done(&err) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_type, input, status, current_step, result, error, steps_completed, started_at, updated_at
		FROM workflows WHERE id = ?
	`, id)
	wf, err = scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var (
		wf             workflow.Workflow
		status         string
		currentStep    sql.NullString
		result         []byte
		errStr         sql.NullString
		stepsJSON      string
		startedAt      string
		updatedAt      string
	)
	if err := row.Scan(&wf.ID, &wf.Type, &wf.Input, &status, &currentStep, &result, &errStr, &stepsJSON, &startedAt, &updatedAt); err != nil {
		return nil, err
	}
	wf.State.Status = workflow.Status(status)
	if currentStep.Valid {
		v := currentStep.String
		wf.State.CurrentStep = &v
	}
	wf.State.Result = result
	if errStr.Valid {
		wf.State.Error = errStr.String
	}
	wf.StepsCompleted = map[string][]byte{}
	_ = json.Unmarshal([]byte(stepsJSON), &wf.StepsCompleted)
	wf.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	wf.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &wf, nil
}

// ListWorkflows implements persistence.Store.
func (s *Store) ListWorkflows(ctx context.Context, workflowType string) (out []*workflow.Workflow, err error) {
	ctx, done := s.startOp(ctx, "list_workflows")
	defer func() { done(&err) }()

	var rows *sql.Rows
	if workflowType == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, workflow_type, input, status, current_step, result, error, steps_completed, started_at, updated_at
			FROM workflows
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, workflow_type, input, status, current_step, result, error, steps_completed, started_at, updated_at
			FROM workflows WHERE workflow_type = ?
		`, workflowType)
	}
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "list_workflows", Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, &kerrors.PersistenceError{Op: "list_workflows", Cause: err}
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// UpdateWorkflowState implements persistence.Store.
func (s *Store) UpdateWorkflowState(ctx context.Context, id string, state workflow.State) (err error) {
	ctx, done := s.startOp(ctx, "update_workflow_state")
	defer func() { done(&err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	defer tx.Rollback()

	if err := s.appendEvent(ctx, tx, id, "update_workflow_state", state); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE workflows SET status=?, current_step=?, result=?, error=?, updated_at=?
		WHERE id = ?
	`, string(state.Status), state.CurrentStep, state.Result, nullableString(state.Error),
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit() // unknown id: commit the log entry, no-op on the projection
	}
	if err := tx.Commit(); err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	return nil
}

// SaveStepResult implements persistence.Store.
func (s *Store) SaveStepResult(ctx context.Context, workflowID, step string, result []byte) (err error) {
	ctx, done := s.startOp(ctx, "save_step_result")
	defer func() { done(&err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
	}
	defer tx.Rollback()

	if err := s.appendEvent(ctx, tx, workflowID, "save_step_result", map[string]string{"step": step}); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_results (workflow_id, step, result) VALUES (?, ?, ?)
		ON CONFLICT(workflow_id, step) DO UPDATE SET result=excluded.result
	`, workflowID, step, result)
	if err != nil {
		return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
	}

	var stepsJSON string
	err = tx.QueryRowContext(ctx, `SELECT steps_completed FROM workflows WHERE id = ?`, workflowID).Scan(&stepsJSON)
	if err == nil {
		steps := map[string][]byte{}
		_ = json.Unmarshal([]byte(stepsJSON), &steps)
		steps[step] = result
		updated, merr := json.Marshal(steps)
		if merr != nil {
			return &kerrors.PersistenceError{Op: "save_step_result", Cause: merr}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET steps_completed=?, updated_at=? WHERE id=?`,
			string(updated), time.Now().UTC().Format(time.RFC3339Nano), workflowID); err != nil {
			return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
		}
	} else if err != sql.ErrNoRows {
		return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
	}
	return nil
}

// GetStepResult implements persistence.Store.
func (s *Store) GetStepResult(ctx context.Context, workflowID, step string) (result []byte, err error) {
	ctx, done := s.startOp(ctx, "get_step_result")
	defer func() { done(&err) }()

	err = s.db.QueryRowContext(ctx, `SELECT result FROM step_results WHERE workflow_id = ? AND step = ?`,
		workflowID, step).Scan(&result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "get_step_result", Cause: err}
	}
	return result, nil
}

package db

import (
	"database/sql"
	"fmt"

	"github.com/lucasnoah/maestro/internal/runner"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	Task      string
	RunID     string
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(task, runID, event, stage, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (task, run_id, event, stage, detail) VALUES (?, ?, ?, ?, ?)`,
		task, runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// RecordStageResult upserts the result for a (task, stage) pair. Re-running
// a stage replaces the prior row; results are never appended.
func (d *DB) RecordStageResult(runID string, res *runner.Result) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_results (task, run_id, stage, exit_code, timed_out, duration_ms, log_path, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task, stage) DO UPDATE SET
		   run_id=excluded.run_id, exit_code=excluded.exit_code,
		   timed_out=excluded.timed_out, duration_ms=excluded.duration_ms,
		   log_path=excluded.log_path, started_at=excluded.started_at,
		   finished_at=excluded.finished_at, timestamp=datetime('now')`,
		res.Task, runID, res.Stage, res.ExitCode, res.TimedOut, res.DurationMs,
		res.LogPath, res.StartedAt.Format("2006-01-02 15:04:05"), res.FinishedAt.Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events for a task, newest first.
func (d *DB) RecentEvents(task string, limit int) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, task, run_id, event, stage, detail, timestamp
		 FROM pipeline_events WHERE task = ?
		 ORDER BY id DESC LIMIT ?`,
		task, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var runID, stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Task, &runID, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RunID = runID.String
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"speakerline/internal/transcript"
)

const taskColumns = "id, group_id, job_id, segment_index, segment_path, segment_offset, status, attempts, worker_id, result_json, error_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task         Task
		index        int64
		statusStr    string
		workerID     sql.NullString
		resultJSON   sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.GroupID,
		&task.JobID,
		&index,
		&task.Segment.Path,
		&task.Segment.Offset,
		&statusStr,
		&task.Attempts,
		&workerID,
		&resultJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	task.Segment.Index = uint(index)
	task.Status = Status(statusStr)
	task.WorkerID = workerID.String
	task.ErrorMessage = errorMessage.String
	if resultJSON.Valid && resultJSON.String != "" {
		var result transcript.SegmentResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result for task %s: %w", task.ID, err)
		}
		task.Result = &result
	}
	if created, err := parseTime(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	task.StartedAt = parseNullTime(startedRaw)
	task.FinishedAt = parseNullTime(finishedRaw)
	task.LastHeartbeat = parseNullTime(heartbeatRaw)
	return &task, nil
}

// SubmitGroup persists one task per spec as a single group, atomically.
// It returns the durable group id.
func (s *Store) SubmitGroup(ctx context.Context, jobID string, specs []TaskSpec) (string, error) {
	if len(specs) == 0 {
		return "", ErrEmptyGroup
	}
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("submit group: job id required")
	}

	groupID := uuid.NewString()
	now := s.now()
	timestamp := formatTime(now)
	expires := formatTime(now.Add(s.resultTTL))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_groups (id, job_id, total, created_at, updated_at, expires_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			groupID, jobID, len(specs), timestamp, timestamp, expires,
		); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO tasks (id, group_id, job_id, segment_index, segment_path, segment_offset, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("prepare task insert: %w", err)
		}
		defer stmt.Close()
		for _, spec := range specs {
			if _, err := stmt.ExecContext(ctx,
				uuid.NewString(), groupID, jobID,
				int64(spec.Segment.Index), spec.Segment.Path, spec.Segment.Offset,
				StatusPending, timestamp, timestamp,
			); err != nil {
				return fmt.Errorf("insert task %d: %w", spec.Segment.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("submit group: %w", err)
	}
	return groupID, nil
}

// Group returns member readiness for a group, or nil when the group does not
// exist or its results have expired.
func (s *Store) Group(ctx context.Context, groupID string) (*Group, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT g.id, g.job_id, g.total, g.created_at, g.expires_at,
                COALESCE(SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN t.status = ? THEN 1 ELSE 0 END), 0)
         FROM task_groups g
         LEFT JOIN tasks t ON t.group_id = g.id
         WHERE g.id = ? AND g.expires_at > ?
         GROUP BY g.id`,
		StatusPending, StatusRunning, StatusSucceeded, StatusFailed,
		groupID, s.timestamp(),
	)

	var (
		group      Group
		createdRaw string
		expiresRaw string
	)
	err := row.Scan(
		&group.ID, &group.JobID, &group.Total, &createdRaw, &expiresRaw,
		&group.Pending, &group.Running, &group.Succeeded, &group.Failed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if created, err := parseTime(createdRaw); err == nil {
		group.CreatedAt = created
	}
	if expires, err := parseTime(expiresRaw); err == nil {
		group.ExpiresAt = expires
	}
	return &group, nil
}

// Members returns a group's tasks ordered by segment index.
func (s *Store) Members(ctx context.Context, groupID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE group_id = ? ORDER BY segment_index`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Claim atomically moves the oldest pending task to running for workerID.
// It returns nil when nothing is pending.
func (s *Store) Claim(ctx context.Context, workerID string) (*Task, error) {
	ctx = ensureContext(ctx)
	var task *Task
	err := retryOnBusy(ctx, func() error {
		now := s.timestamp()
		row := s.db.QueryRowContext(ctx,
			`UPDATE tasks
             SET status = ?, worker_id = ?, attempts = attempts + 1,
                 started_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM tasks
                 WHERE status = ?
                 ORDER BY created_at, segment_index
                 LIMIT 1
             )
             RETURNING `+taskColumns,
			StatusRunning, workerID, now, now, now, StatusPending,
		)
		claimed, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			task = nil
			return nil
		}
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Complete records a successful result. The first finisher wins; completing
// a task that already finished returns ErrTaskNotActive.
func (s *Store) Complete(ctx context.Context, taskID string, result transcript.SegmentResult) error {
	if result.Segments == nil {
		result.Segments = []transcript.TranscribedTurn{}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.finish(ctx, taskID, StatusSucceeded, string(payload), "")
}

// Fail records a task failure with the message surfaced to clients.
func (s *Store) Fail(ctx context.Context, taskID string, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "task failed"
	}
	return s.finish(ctx, taskID, StatusFailed, "", message)
}

// Requeue returns a running task to pending so another attempt can claim it.
// A task that already used max attempts is failed with message instead. The
// result reports whether the task was requeued.
func (s *Store) Requeue(ctx context.Context, taskID string, message string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks
         SET status = ?, worker_id = NULL, started_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND attempts < ?`,
		StatusPending, s.timestamp(), taskID, StatusRunning, s.maxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("requeue task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if strings.TrimSpace(message) == "" {
		message = "task failed"
	}
	message = fmt.Sprintf("%s (after %d attempts)", message, s.maxAttempts)
	return false, s.finish(ctx, taskID, StatusFailed, "", message)
}

func (s *Store) finish(ctx context.Context, taskID string, status Status, resultJSON, message string) error {
	now := s.now()
	timestamp := formatTime(now)
	expires := formatTime(now.Add(s.resultTTL))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var groupID string
		err := tx.QueryRowContext(ctx,
			`UPDATE tasks
             SET status = ?, result_json = ?, error_message = ?,
                 finished_at = ?, updated_at = ?, last_heartbeat = NULL
             WHERE id = ? AND status IN (?, ?)
             RETURNING group_id`,
			status, nullableString(resultJSON), nullableString(message),
			timestamp, timestamp,
			taskID, StatusPending, StatusRunning,
		).Scan(&groupID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotActive
		}
		if err != nil {
			return err
		}
		// Results stay readable for the TTL after the latest member finishes.
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_groups SET updated_at = ?, expires_at = ? WHERE id = ?`,
			timestamp, expires, groupID,
		); err != nil {
			return fmt.Errorf("refresh group expiry: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish task %s: %w", taskID, err)
	}
	return nil
}

// UpdateHeartbeat refreshes the heartbeat of a running task.
func (s *Store) UpdateHeartbeat(ctx context.Context, taskID string) error {
	now := s.timestamp()
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, taskID, StatusRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

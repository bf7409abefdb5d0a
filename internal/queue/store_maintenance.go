package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReclaimStale returns running tasks whose heartbeat is older than cutoff to
// pending. Tasks that already used max attempts are failed instead.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (requeued int64, failed int64, err error) {
	now := s.now()
	timestamp := formatTime(now)
	expires := formatTime(now.Add(s.resultTTL))
	cutoffStr := formatTime(cutoff)
	message := fmt.Sprintf("task timed out after %d attempts (no heartbeat)", s.maxAttempts)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, error_message = ?, finished_at = ?, updated_at = ?, last_heartbeat = NULL
             WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ? AND attempts >= ?`,
			StatusFailed, message, timestamp, timestamp,
			StatusRunning, cutoffStr, s.maxAttempts,
		)
		if err != nil {
			return fmt.Errorf("fail exhausted tasks: %w", err)
		}
		failed, _ = res.RowsAffected()
		if failed > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE task_groups SET updated_at = ?, expires_at = ?
                 WHERE id IN (SELECT group_id FROM tasks WHERE status = ? AND finished_at = ?)`,
				timestamp, expires, StatusFailed, timestamp,
			); err != nil {
				return fmt.Errorf("refresh group expiry: %w", err)
			}
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, worker_id = NULL, started_at = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
			StatusPending, timestamp, StatusRunning, cutoffStr,
		)
		if err != nil {
			return fmt.Errorf("requeue stale tasks: %w", err)
		}
		requeued, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return requeued, failed, nil
}

// PurgeExpired deletes groups, and their tasks, whose results expired before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM task_groups WHERE expires_at <= ?`,
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// PurgeAll deletes every group and task.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM task_groups`)
	if err != nil {
		return 0, fmt.Errorf("purge all: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// Stats returns group and task counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{Tasks: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		stats.Tasks[status] = 0
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM task_groups`,
		s.timestamp(),
	).Scan(&stats.Groups, &stats.ExpiredGroups); err != nil {
		return Stats{}, fmt.Errorf("count groups: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan task count: %w", err)
		}
		stats.Tasks[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("count tasks: %w", err)
	}
	return stats, nil
}

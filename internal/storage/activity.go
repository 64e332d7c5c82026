package storage

import (
	"context"
	"time"
)

const dayFormat = "2006-01-02"

// DailyActiveTime is one per-user, per-calendar-day bucket of accumulated
// online duration.
type DailyActiveTime struct {
	Day             string
	DurationSeconds int64
}

// AddDailyActiveTime merges elapsed seconds into the bucket for the given
// day, creating it if absent. The bucket only ever grows; negative and zero
// amounts are dropped here as a last line of defense.
func (s *Store) AddDailyActiveTime(ctx context.Context, userID int64, day time.Time, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_active_time(user_id, day, duration_seconds) VALUES(?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET duration_seconds = duration_seconds + excluded.duration_seconds
	`, userID, day.Format(dayFormat), seconds)
	return err
}

// GetDailyActiveTime returns the accumulated seconds for one day, zero if the
// bucket does not exist yet.
func (s *Store) GetDailyActiveTime(ctx context.Context, userID int64, day time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(duration_seconds), 0) FROM daily_active_time WHERE user_id = ? AND day = ?`,
		userID, day.Format(dayFormat))
	var seconds int64
	if err := row.Scan(&seconds); err != nil {
		return 0, err
	}
	return seconds, nil
}

// ListDailyActiveTime returns all day buckets for a user, newest first.
func (s *Store) ListDailyActiveTime(ctx context.Context, userID int64) ([]DailyActiveTime, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, duration_seconds FROM daily_active_time WHERE user_id = ? ORDER BY day DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []DailyActiveTime
	for rows.Next() {
		var bucket DailyActiveTime
		if err := rows.Scan(&bucket.Day, &bucket.DurationSeconds); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}

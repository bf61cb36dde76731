package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/solmeal/internal/slots"
)

// loadChunk bounds the IN list of a single LoadWeeks query.
const loadChunk = 500

// MarkDirty flags all seven weekday rows of each user for recomputation.
// Rows that do not exist yet are created all-free. An empty list is a no-op.
func (s *Store) MarkDirty(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO timetable_bits (user_id, day_of_week, is_dirty, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(user_id, day_of_week) DO UPDATE SET
				is_dirty = 1,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("mark dirty: prepare: %w", err)
		}
		defer stmt.Close()

		now := s.timestamp()
		for _, uid := range userIDs {
			for dow := 0; dow < slots.DaysPerWeek; dow++ {
				if _, err := stmt.ExecContext(ctx, uid, dow, now); err != nil {
					return fmt.Errorf("mark dirty: user %d day %d: %w", uid, dow, err)
				}
			}
		}
		return nil
	})
}

// DirtyUsers returns the distinct users with at least one dirty row,
// ascending by id.
func (s *Store) DirtyUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM timetable_bits
		WHERE is_dirty = 1
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("dirty users: %w", err)
	}
	defer rows.Close()

	users := []int64{}
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("dirty users: scan: %w", err)
		}
		users = append(users, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dirty users: iterate: %w", err)
	}
	return users, nil
}

// CountDirty returns the number of distinct dirty users.
func (s *Store) CountDirty(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM timetable_bits WHERE is_dirty = 1
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dirty: %w", err)
	}
	return n, nil
}

// ReplaceWeek writes all seven weekday rows of a user and clears the dirty
// flag, in one transaction.
func (s *Store) ReplaceWeek(ctx context.Context, userID int64, week [slots.DaysPerWeek]slots.Blocks) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO timetable_bits (
				user_id, day_of_week,
				slot1, slot2, slot3, slot4, slot5, slot6, slot7, slot8, slot9,
				is_dirty, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(user_id, day_of_week) DO UPDATE SET
				slot1 = excluded.slot1, slot2 = excluded.slot2, slot3 = excluded.slot3,
				slot4 = excluded.slot4, slot5 = excluded.slot5, slot6 = excluded.slot6,
				slot7 = excluded.slot7, slot8 = excluded.slot8, slot9 = excluded.slot9,
				is_dirty = 0,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("replace week: prepare: %w", err)
		}
		defer stmt.Close()

		now := s.timestamp()
		for dow, b := range week {
			args := make([]any, 0, 3+slots.BlocksPerDay)
			args = append(args, userID, dow)
			for _, v := range b {
				args = append(args, int64(v))
			}
			args = append(args, now)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("replace week: user %d day %d: %w", userID, dow, err)
			}
		}
		return nil
	})
}

// LoadWeeks returns the unpacked week of each requested user. Users or days
// without rows read as all-free; every requested user is present in the
// result.
func (s *Store) LoadWeeks(ctx context.Context, userIDs []int64) (map[int64]slots.Week, error) {
	out := make(map[int64]slots.Week, len(userIDs))
	for _, uid := range userIDs {
		out[uid] = slots.Week{}
	}

	for start := 0; start < len(userIDs); start += loadChunk {
		end := min(start+loadChunk, len(userIDs))
		if err := s.loadWeekChunk(ctx, userIDs[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadWeekChunk(ctx context.Context, userIDs []int64, out map[int64]slots.Week) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, len(userIDs))
	for i, uid := range userIDs {
		args[i] = uid
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, day_of_week, slot1, slot2, slot3, slot4, slot5, slot6, slot7, slot8, slot9,
			is_dirty, updated_at
		FROM timetable_bits
		WHERE user_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("load weeks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		bit, err := scanBits(rows)
		if err != nil {
			return fmt.Errorf("load weeks: %w", err)
		}
		week := out[bit.UserID]
		week[bit.DayOfWeek] = slots.Unpack(bit.Blocks)
		out[bit.UserID] = week
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load weeks: iterate: %w", err)
	}
	return nil
}

// GetBits returns one (user, weekday) row.
func (s *Store) GetBits(ctx context.Context, userID int64, dayOfWeek int) (TimetableBit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, day_of_week, slot1, slot2, slot3, slot4, slot5, slot6, slot7, slot8, slot9,
			is_dirty, updated_at
		FROM timetable_bits
		WHERE user_id = ? AND day_of_week = ?
	`, userID, dayOfWeek)

	bit, err := scanBits(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TimetableBit{}, fmt.Errorf("get bits user %d day %d: %w", userID, dayOfWeek, ErrBitsNotFound)
	}
	if err != nil {
		return TimetableBit{}, fmt.Errorf("get bits user %d day %d: %w", userID, dayOfWeek, err)
	}
	return bit, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBits(r rowScanner) (TimetableBit, error) {
	var (
		bit       TimetableBit
		blocks    [slots.BlocksPerDay]int64
		dirty     int
		updatedAt string
	)
	dest := []any{&bit.UserID, &bit.DayOfWeek}
	for i := range blocks {
		dest = append(dest, &blocks[i])
	}
	dest = append(dest, &dirty, &updatedAt)
	if err := r.Scan(dest...); err != nil {
		return TimetableBit{}, err
	}

	for i, v := range blocks {
		bit.Blocks[i] = uint32(v)
	}
	bit.Dirty = dirty != 0

	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return TimetableBit{}, fmt.Errorf("parse updated_at: %w", err)
	}
	bit.UpdatedAt = t
	return bit, nil
}

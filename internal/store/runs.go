package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateRun inserts a draft run and returns its id.
// A nil params record is stored as an empty JSON object.
func (s *Store) CreateRun(ctx context.Context, campusID int64, algo string, params *RunParams) (int64, error) {
	paramJSON := "{}"
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return 0, fmt.Errorf("create run: marshal params: %w", err)
		}
		paramJSON = string(data)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (campus_id, algo, param_json, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, campusID, algo, paramJSON, string(StatusDraft), s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create run: last insert id: %w", err)
	}
	return id, nil
}

// SetComputedK merges computed_k into the run's parameter record.
// json_set rewrites only that key, inside a single UPDATE statement.
func (s *Store) SetComputedK(ctx context.Context, runID int64, k int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET param_json = json_set(param_json, '$.computed_k', ?)
		WHERE run_id = ?
	`, k, runID)
	if err != nil {
		return fmt.Errorf("set computed k: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set computed k: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set computed k: run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID int64) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, campus_id, algo, param_json, status, created_at, warmed_at, activated_at
		FROM runs
		WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %d: %w", runID, err)
	}
	return run, nil
}

func scanRun(row *sql.Row) (Run, error) {
	var (
		run         Run
		paramJSON   string
		status      string
		createdAt   string
		warmedAt    sql.NullString
		activatedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.CampusID, &run.Algo, &paramJSON, &status, &createdAt, &warmedAt, &activatedAt); err != nil {
		return Run{}, err
	}

	if err := json.Unmarshal([]byte(paramJSON), &run.Params); err != nil {
		return Run{}, fmt.Errorf("unmarshal params: %w", err)
	}
	run.Status = RunStatus(status)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	run.CreatedAt = t

	if run.WarmedAt, err = parseNullTime(warmedAt); err != nil {
		return Run{}, fmt.Errorf("parse warmed_at: %w", err)
	}
	if run.ActivatedAt, err = parseNullTime(activatedAt); err != nil {
		return Run{}, fmt.Errorf("parse activated_at: %w", err)
	}
	return run, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkWarmed records that the run's cache warmup completed. Activation
// refuses runs that were never marked.
func (s *Store) MarkWarmed(ctx context.Context, runID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET warmed_at = ? WHERE run_id = ?
	`, s.timestamp(), runID)
	if err != nil {
		return fmt.Errorf("mark warmed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark warmed: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark warmed: run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// InsertMembers bulk-inserts membership rows for a run in one transaction.
//
// Not idempotent: calling twice for the same run duplicates rows. The
// RunID field of each row is ignored in favor of runID.
func (s *Store) InsertMembers(ctx context.Context, runID int64, rows []ClusterMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cluster_members (run_id, cluster_seq, user_id, rank_in_cluster, distance_to_center)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("insert members: prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			var dist sql.NullFloat64
			if r.Distance != nil {
				dist = sql.NullFloat64{Float64: *r.Distance, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, runID, r.ClusterSeq, r.UserID, r.Rank, dist); err != nil {
				return fmt.Errorf("insert members: user %d: %w", r.UserID, err)
			}
		}
		return nil
	})
}

// ScanMembers streams a run's membership rows in insertion order, pageSize
// rows at a time. Each page is fully read before fn is called, so fn may use
// the store.
func (s *Store) ScanMembers(ctx context.Context, runID int64, pageSize int, fn func(ClusterMember) error) error {
	if pageSize <= 0 {
		pageSize = 5000
	}

	var afterID int64
	for {
		page, err := s.memberPage(ctx, runID, afterID, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, m := range page {
			if err := fn(m); err != nil {
				return err
			}
		}
		afterID = page[len(page)-1].ID
	}
}

func (s *Store) memberPage(ctx context.Context, runID, afterID int64, limit int) ([]ClusterMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, cluster_seq, user_id, rank_in_cluster, distance_to_center
		FROM cluster_members
		WHERE run_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, runID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var page []ClusterMember
	for rows.Next() {
		var (
			m    ClusterMember
			rank sql.NullInt64
			dist sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.RunID, &m.ClusterSeq, &m.UserID, &rank, &dist); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if rank.Valid {
			m.Rank = int(rank.Int64)
		}
		if dist.Valid {
			d := dist.Float64
			m.Distance = &d
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return page, nil
}

// ActivateRun durably marks runID active and points the campus at it. The
// run the campus pointed at before, if any, becomes superseded, so a campus
// has at most one active run.
//
// The transaction is opened with BEGIN IMMEDIATE, so the checks and the
// writes happen under the write lock. The run must be a draft or already
// active, belong to campusID and have completed warmup. A run that is already
// active passes, which makes a retried activation safe.
func (s *Store) ActivateRun(ctx context.Context, campusID, runID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status    string
			runCampus int64
			warmedAt  sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT status, campus_id, warmed_at FROM runs WHERE run_id = ?
		`, runID).Scan(&status, &runCampus, &warmedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("activate run %d: %w", runID, ErrRunNotFound)
		}
		if err != nil {
			return fmt.Errorf("activate run %d: read status: %w", runID, err)
		}

		switch RunStatus(status) {
		case StatusDraft, StatusActive:
		default:
			return fmt.Errorf("activate run %d: status %q: %w", runID, status, ErrInvalidRunState)
		}
		if runCampus != campusID {
			return fmt.Errorf("activate run %d: campus %d, want %d: %w", runID, runCampus, campusID, ErrCampusMismatch)
		}
		if !warmedAt.Valid {
			return fmt.Errorf("activate run %d: %w", runID, ErrWarmupIncomplete)
		}

		now := s.timestamp()
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?
			WHERE run_id = (SELECT active_run_id FROM campus_latest WHERE campus_id = ?)
				AND run_id != ? AND status = ?
		`, string(StatusSuperseded), campusID, runID, string(StatusActive)); err != nil {
			return fmt.Errorf("activate run %d: supersede previous: %w", runID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, activated_at = COALESCE(activated_at, ?) WHERE run_id = ?
		`, string(StatusActive), now, runID); err != nil {
			return fmt.Errorf("activate run %d: update status: %w", runID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campus_latest (campus_id, active_run_id, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(campus_id) DO UPDATE SET
				active_run_id = excluded.active_run_id,
				updated_at = excluded.updated_at
		`, campusID, runID, now); err != nil {
			return fmt.Errorf("activate run %d: upsert campus latest: %w", runID, err)
		}
		return nil
	})
}

// LatestRun returns the durable active run id for a campus.
func (s *Store) LatestRun(ctx context.Context, campusID int64) (int64, error) {
	var runID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT active_run_id FROM campus_latest WHERE campus_id = ?
	`, campusID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("latest run for campus %d: %w", campusID, ErrNoActiveRun)
	}
	if err != nil {
		return 0, fmt.Errorf("latest run for campus %d: %w", campusID, err)
	}
	return runID, nil
}

// RunStats returns total and per-cluster member counts for a run.
func (s *Store) RunStats(ctx context.Context, runID int64) (RunStats, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return RunStats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_seq, COUNT(*)
		FROM cluster_members
		WHERE run_id = ?
		GROUP BY cluster_seq
		ORDER BY cluster_seq ASC
	`, runID)
	if err != nil {
		return RunStats{}, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := RunStats{RunID: runID, Clusters: []ClusterCount{}}
	for rows.Next() {
		var c ClusterCount
		if err := rows.Scan(&c.ClusterSeq, &c.Members); err != nil {
			return RunStats{}, fmt.Errorf("run stats: scan: %w", err)
		}
		stats.TotalMembers += c.Members
		stats.Clusters = append(stats.Clusters, c)
	}
	if err := rows.Err(); err != nil {
		return RunStats{}, fmt.Errorf("run stats: iterate: %w", err)
	}
	return stats, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/checador/device/types"
)

// PunchRepository handles persistence for punches and their sync status.
type PunchRepository struct {
	db *sql.DB
}

func NewPunchRepository(db *sql.DB) *PunchRepository {
	return &PunchRepository{db: db}
}

func (r *PunchRepository) Create(ctx context.Context, punch types.Punch) (types.Punch, error) {
	punch.CreatedAt = time.Now()
	punch.SyncStatus = types.SyncUnsynced

	const query = `
		INSERT INTO punches (
			user_id, timestamp_utc, timestamp_local, punch_type,
			match_score, device_id, sync_status, sync_error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		punch.UserID,
		punch.TimestampUTC,
		punch.TimestampLocal,
		punch.PunchType,
		punch.MatchScore,
		punch.DeviceID,
		punch.SyncStatus.String(),
		punch.SyncError,
		punch.CreatedAt,
	).Scan(&punch.ID); err != nil {
		return types.Punch{}, err
	}
	return punch, nil
}

// GetLastForUser returns the user's most recent punch.
func (r *PunchRepository) GetLastForUser(ctx context.Context, userID int) (types.Punch, error) {
	const query = `
		SELECT id, user_id, timestamp_utc, timestamp_local, punch_type,
		       match_score, device_id, sync_status, sync_error, created_at
		FROM punches
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return types.Punch{}, err
	}
	defer rows.Close()

	punches, err := scanPunches(rows)
	if err != nil {
		return types.Punch{}, err
	}
	if len(punches) == 0 {
		return types.Punch{}, ErrNotFound
	}
	return punches[0], nil
}

// ListRecent returns the newest punches first, for the admin UI.
func (r *PunchRepository) ListRecent(ctx context.Context, limit int) ([]types.Punch, error) {
	const query = `
		SELECT id, user_id, timestamp_utc, timestamp_local, punch_type,
		       match_score, device_id, sync_status, sync_error, created_at
		FROM punches
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPunches(rows)
}

// ListUnsynced returns punches still awaiting delivery, oldest first.
// Rows in the error state are included: a failed attempt keeps the punch
// eligible for the next cycle.
func (r *PunchRepository) ListUnsynced(ctx context.Context, limit int) ([]types.Punch, error) {
	const query = `
		SELECT id, user_id, timestamp_utc, timestamp_local, punch_type,
		       match_score, device_id, sync_status, sync_error, created_at
		FROM punches
		WHERE sync_status <> 'synced'
		ORDER BY created_at, id
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPunches(rows)
}

// CountUnsynced counts punches awaiting delivery, scanning at most bound
// rows so status reporting stays cheap on a large backlog.
func (r *PunchRepository) CountUnsynced(ctx context.Context, bound int) (int, error) {
	const query = `
		SELECT COUNT(*) FROM (
			SELECT id FROM punches
			WHERE sync_status <> 'synced'
			LIMIT $1
		) pending`
	var count int
	if err := r.db.QueryRowContext(ctx, query, bound).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkSynced transitions the given punches to the terminal synced state
// and clears any recorded delivery error.
func (r *PunchRepository) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
		UPDATE punches
		SET sync_status = 'synced',
			sync_error = ''
		WHERE id = ANY($1)`
	_, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	return err
}

// MarkError records a failed delivery attempt. The punch stays eligible
// for retry; only MarkSynced takes it out of the unsynced selection.
func (r *PunchRepository) MarkError(ctx context.Context, id int64, message string) error {
	const query = `
		UPDATE punches
		SET sync_status = 'error',
			sync_error = $1
		WHERE id = $2 AND sync_status <> 'synced'`
	result, err := r.db.ExecContext(ctx, query, message, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPunches(rows *sql.Rows) ([]types.Punch, error) {
	var punches []types.Punch
	for rows.Next() {
		var p types.Punch
		var status string
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.TimestampUTC,
			&p.TimestampLocal,
			&p.PunchType,
			&p.MatchScore,
			&p.DeviceID,
			&status,
			&p.SyncError,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.SyncStatus = types.ParseSyncStatus(status)
		punches = append(punches, p)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return punches, nil
}

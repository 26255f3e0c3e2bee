package world

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/timefmt"
)

func (r *Repository) CreateJob(ctx context.Context, tx *database.Tx, j Job) (int64, error) {
	return r.getExecutor(tx).InsertReturning(ctx, `
		INSERT INTO jobs (location_id, title, reward, destination_location_id)
		VALUES (?, ?, ?, ?)
		RETURNING job_id`, j.LocationID, j.Title, j.Reward, j.Destination)
}

// TakeJob assigns an available job; it fails if someone else holds it.
func (r *Repository) TakeJob(ctx context.Context, tx *database.Tx, jobID, userID int64, now time.Time) (bool, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `
		UPDATE jobs SET is_taken = 1, taken_by = ?, taken_at = ?, job_status = 'active'
		WHERE job_id = ? AND is_taken = 0`, userID, timefmt.Format(now), jobID)
	if err != nil {
		return false, fmt.Errorf("failed to take job: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// StationaryJobsAt returns the character's active on-site jobs at a location.
func (r *Repository) StationaryJobsAt(ctx context.Context, tx *database.Tx, userID, locationID int64) ([]Job, error) {
	rows, err := r.getExecutor(tx).QueryContext(ctx, `
		SELECT job_id, location_id, title, reward, destination_location_id, taken_by, job_status
		FROM jobs
		WHERE taken_by = ? AND location_id = ? AND is_taken = 1 AND job_status = 'active'
		  AND destination_location_id IS NULL
		ORDER BY job_id`, userID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j           Job
			dest, taken sql.NullInt64
		)
		if err := rows.Scan(&j.ID, &j.LocationID, &j.Title, &j.Reward, &dest, &taken, &j.Status); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Destination = nullInt64(dest)
		j.TakenBy = nullInt64(taken)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CancelJobs releases every active job a character holds. Rewards are
// forfeited.
func (r *Repository) CancelJobs(ctx context.Context, tx *database.Tx, userID int64) (int64, error) {
	result, err := r.getExecutor(tx).ExecContext(ctx, `
		UPDATE jobs SET is_taken = 0, taken_by = NULL, taken_at = NULL, job_status = 'available'
		WHERE taken_by = ? AND is_taken = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	return result.RowsAffected()
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
)

// WorkLogRepository persists work-log entries. Entries are frozen together
// with their sub-batch; this repository never updates or deletes them.
type WorkLogRepository struct {
	db *database.DB
}

// NewWorkLogRepository creates a new WorkLogRepository.
func NewWorkLogRepository(db *database.DB) *WorkLogRepository {
	return &WorkLogRepository{db: db}
}

const workLogColumns = `
	id, assignment_id, sub_batch_id, worker_id, work_date,
	quantity_received, quantity_worked, unit_price, activity_type, created_at
`

// Create inserts a work-log entry. The version compare-and-set on the
// entry's assignment serializes concurrent logs against the same
// assignment, so the remaining-quantity check made before the call still
// holds at commit time; the loser gets ConcurrentModification.
func (r *WorkLogRepository) Create(ctx context.Context, entry *WorkLogEntry, assignmentVersion int64) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ActivityType == "" {
		entry.ActivityType = ActivityNormal
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		guardQuery := `
			UPDATE work_assignments
			SET version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			  AND version = $2
		`
		tag, err := tx.Exec(ctx, guardQuery, entry.AssignmentID, assignmentVersion)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to guard assignment")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConcurrentModification,
				"assignment modified concurrently; re-read and retry")
		}

		query := `
			INSERT INTO work_log_entries
			    (id, assignment_id, sub_batch_id, worker_id, work_date,
			     quantity_received, quantity_worked, unit_price, activity_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::activity_type)
			RETURNING created_at
		`

		err = tx.QueryRow(ctx, query,
			entry.ID,
			entry.AssignmentID,
			entry.SubBatchID,
			entry.WorkerID,
			entry.WorkDate,
			entry.QuantityReceived,
			entry.QuantityWorked,
			entry.UnitPrice,
			entry.ActivityType,
		).Scan(&entry.CreatedAt)
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work-log entry")
	})
}

// GetByID retrieves a work-log entry by its primary key.
func (r *WorkLogRepository) GetByID(ctx context.Context, id string) (*WorkLogEntry, error) {
	query := `SELECT ` + workLogColumns + ` FROM work_log_entries WHERE id = $1`

	entry, err := scanWorkLog(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work_log_entry", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work-log entry")
	}
	return entry, nil
}

// ListByAssignment returns all entries logged against one assignment.
func (r *WorkLogRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]*WorkLogEntry, error) {
	query := `
		SELECT ` + workLogColumns + `
		FROM work_log_entries
		WHERE assignment_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, assignmentID)
}

// ListBySubBatch returns every entry across a sub-batch's assignments.
func (r *WorkLogRepository) ListBySubBatch(ctx context.Context, subBatchID string) ([]*WorkLogEntry, error) {
	query := `
		SELECT ` + workLogColumns + `
		FROM work_log_entries
		WHERE sub_batch_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, subBatchID)
}

func (r *WorkLogRepository) list(ctx context.Context, query string, arg any) ([]*WorkLogEntry, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list work-log entries")
	}
	defer rows.Close()

	var entries []*WorkLogEntry
	for rows.Next() {
		entry, err := scanWorkLog(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan work-log entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type workLogScanner interface {
	Scan(dest ...any) error
}

func scanWorkLog(row workLogScanner) (*WorkLogEntry, error) {
	entry := &WorkLogEntry{}
	err := row.Scan(
		&entry.ID,
		&entry.AssignmentID,
		&entry.SubBatchID,
		&entry.WorkerID,
		&entry.WorkDate,
		&entry.QuantityReceived,
		&entry.QuantityWorked,
		&entry.UnitPrice,
		&entry.ActivityType,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

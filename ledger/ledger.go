// Package ledger records leave requests and their manager decisions.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leavedesk/crypto"
	"leavedesk/db"
	"leavedesk/models"
)

// MaxBatch is the largest number of days accepted in one submission.
const MaxBatch = 10

type Ledger struct {
	store  *db.Store
	sealer *crypto.Sealer
}

// New returns a Ledger. sealer may be nil, in which case comments are stored as given.
func New(store *db.Store, sealer *crypto.Sealer) *Ledger {
	return &Ledger{store: store, sealer: sealer}
}

type scanner interface {
	Scan(dest ...any) error
}

const selectLeave = "SELECT l.id, l.username, l.date, l.leave_type, l.comment, l.status FROM leaves l"

func validateEntry(e models.LeaveEntry) error {
	if e.Date.IsZero() {
		return models.Invalid("date", "date is required")
	}
	if !e.Type.Valid() {
		return models.Invalid("leave_type", "unknown leave type")
	}
	return nil
}

// Submit records one day of leave with status Waiting.
func (l *Ledger) Submit(ctx context.Context, username string, e models.LeaveEntry) (int64, error) {
	if err := validateEntry(e); err != nil {
		return 0, err
	}
	comment, err := l.sealer.Seal(e.Comment)
	if err != nil {
		return 0, fmt.Errorf("seal comment: %w", err)
	}

	var id int64
	err = l.store.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx,
			"INSERT INTO leaves (username, date, leave_type, comment, status) VALUES (?, ?, ?, ?, ?)",
			username, e.Date.Format(models.DateLayout), string(e.Type), comment, string(models.StatusWaiting))
		if err != nil {
			return fmt.Errorf("insert leave: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// SubmitBatch submits each entry in order. It is not atomic: when an insert
// fails, the ids already committed are returned together with the error.
func (l *Ledger) SubmitBatch(ctx context.Context, username string, entries []models.LeaveEntry) ([]int64, error) {
	if len(entries) == 0 || len(entries) > MaxBatch {
		return nil, models.Invalid("entries", fmt.Sprintf("between 1 and %d entries are required", MaxBatch))
	}
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
	}

	ids := make([]int64, 0, len(entries))
	for i, e := range entries {
		id, err := l.Submit(ctx, username, e)
		if err != nil {
			return ids, fmt.Errorf("entry %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// History returns every request owned by username in submission order.
func (l *Ledger) History(ctx context.Context, username string) ([]models.LeaveRequest, error) {
	return l.list(ctx, selectLeave+" WHERE l.username = ? ORDER BY l.id", username)
}

// Queue returns every request, whatever its status, owned by an employee
// whose manager is managerUsername.
func (l *Ledger) Queue(ctx context.Context, managerUsername string) ([]models.LeaveRequest, error) {
	return l.list(ctx, selectLeave+" JOIN users u ON l.username = u.username WHERE u.manager = ? ORDER BY l.id", managerUsername)
}

func (l *Ledger) Get(ctx context.Context, id int64) (models.LeaveRequest, error) {
	var leave models.LeaveRequest
	err := l.store.WithConn(ctx, func(conn *sql.Conn) error {
		var err error
		leave, err = l.scan(conn.QueryRowContext(ctx, selectLeave+" WHERE l.id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		return err
	})
	return leave, err
}

// Decide sets the status of a request. A request that was already decided
// is overwritten.
func (l *Ledger) Decide(ctx context.Context, id int64, status models.Status) error {
	if !status.IsDecision() {
		return models.Invalid("status", "status must be Approved or Rejected")
	}
	return l.store.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, "UPDATE leaves SET status = ? WHERE id = ?", string(status), id)
		if err != nil {
			return fmt.Errorf("update leave status: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (l *Ledger) list(ctx context.Context, query string, args ...any) ([]models.LeaveRequest, error) {
	leaves := []models.LeaveRequest{}
	err := l.store.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query leaves: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			leave, err := l.scan(rows)
			if err != nil {
				return err
			}
			leaves = append(leaves, leave)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

func (l *Ledger) scan(row scanner) (models.LeaveRequest, error) {
	var leave models.LeaveRequest
	var date, leaveType, comment, status string
	if err := row.Scan(&leave.ID, &leave.Username, &date, &leaveType, &comment, &status); err != nil {
		return models.LeaveRequest{}, err
	}

	parsed, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.LeaveRequest{}, fmt.Errorf("leave %d: bad date %q: %w", leave.ID, date, err)
	}
	opened, err := l.sealer.Open(comment)
	if err != nil {
		return models.LeaveRequest{}, fmt.Errorf("leave %d: open comment: %w", leave.ID, err)
	}

	leave.Date = parsed
	leave.Type = models.LeaveType(leaveType)
	leave.Comment = opened
	leave.Status = models.Status(status)
	return leave, nil
}

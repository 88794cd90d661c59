package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"leavedesk/crypto"
	"leavedesk/db"
	"leavedesk/directory"
	"leavedesk/models"
)

type fixture struct {
	store     *db.Store
	directory *directory.Directory
	ledger    *Ledger
}

func newFixture(t *testing.T, sealer *crypto.Sealer) *fixture {
	t.Helper()
	store, err := db.InitDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, directory: directory.New(store), ledger: New(store, sealer)}
	ctx := context.Background()
	for _, u := range []struct {
		name    string
		role    models.Role
		manager string
	}{
		{"carol", models.RoleManager, ""},
		{"zoe", models.RoleManager, ""},
		{"dave", models.RoleEmployee, "carol"},
		{"alice", models.RoleEmployee, "carol"},
		{"bob", models.RoleEmployee, "zoe"},
	} {
		if err := f.directory.Register(ctx, u.name, "pw", u.role, u.manager); err != nil {
			t.Fatalf("Register(%s) failed: %v", u.name, err)
		}
	}
	return f
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSubmitThenHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.ledger.Submit(ctx, "alice", models.LeaveEntry{Date: day("2025-01-10"), Type: models.SickLeave})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	history, err := f.ledger.History(ctx, "alice")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}
	got := history[0]
	if got.ID != id || got.Status != models.StatusWaiting || got.DateString() != "2025-01-10" || got.Type != models.SickLeave || got.Comment != "" {
		t.Errorf("Unexpected record: %+v", got)
	}

	other, _ := f.ledger.History(ctx, "bob")
	if len(other) != 0 {
		t.Errorf("Expected empty history for bob, got %d records", len(other))
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ledger.Submit(ctx, "alice", models.LeaveEntry{Type: models.SickLeave}); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for missing date, got %v", err)
	}
	if _, err := f.ledger.Submit(ctx, "alice", models.LeaveEntry{Date: day("2025-01-10"), Type: "Bereavement"}); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for unknown type, got %v", err)
	}
}

func TestSubmitBatchOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	entries := []models.LeaveEntry{
		{Date: day("2025-03-03"), Type: models.CasualLeave, Comment: "first"},
		{Date: day("2025-03-01"), Type: models.EarnedLeave, Comment: "second"},
		{Date: day("2025-03-02"), Type: models.SickLeave},
	}
	ids, err := f.ledger.SubmitBatch(ctx, "bob", entries)
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Expected 3 ids, got %d", len(ids))
	}

	for i, id := range ids {
		leave, err := f.ledger.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
		if !leave.Date.Equal(entries[i].Date) || leave.Type != entries[i].Type || leave.Comment != entries[i].Comment {
			t.Errorf("Entry %d: expected %+v, got %+v", i, entries[i], leave)
		}
	}

	history, _ := f.ledger.History(ctx, "bob")
	for i, leave := range history {
		if leave.ID != ids[i] {
			t.Errorf("History position %d: expected id %d, got %d", i, ids[i], leave.ID)
		}
	}
}

func TestSubmitBatchBounds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ledger.SubmitBatch(ctx, "bob", nil); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for empty batch, got %v", err)
	}

	tooMany := make([]models.LeaveEntry, MaxBatch+1)
	for i := range tooMany {
		tooMany[i] = models.LeaveEntry{Date: day("2025-04-01"), Type: models.SickLeave}
	}
	if _, err := f.ledger.SubmitBatch(ctx, "bob", tooMany); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for %d entries, got %v", len(tooMany), err)
	}

	ids, err := f.ledger.SubmitBatch(ctx, "bob", tooMany[:MaxBatch])
	if err != nil || len(ids) != MaxBatch {
		t.Errorf("Expected %d ids, got %d (%v)", MaxBatch, len(ids), err)
	}

	mixed := []models.LeaveEntry{
		{Date: day("2025-05-01"), Type: models.SickLeave},
		{Date: day("2025-05-02"), Type: "Holiday"},
	}
	if _, err := f.ledger.SubmitBatch(ctx, "alice", mixed); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for invalid entry, got %v", err)
	}
	if history, _ := f.ledger.History(ctx, "alice"); len(history) != 0 {
		t.Errorf("Expected nothing committed for an invalid batch, got %d", len(history))
	}
}

func TestSubmitBatchPartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.store.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			CREATE TRIGGER reject_day BEFORE INSERT ON leaves
			WHEN NEW.date = '2025-06-02'
			BEGIN SELECT RAISE(ABORT, 'store unavailable'); END;`)
		return err
	})
	if err != nil {
		t.Fatalf("creating trigger failed: %v", err)
	}

	entries := []models.LeaveEntry{
		{Date: day("2025-06-01"), Type: models.SickLeave},
		{Date: day("2025-06-02"), Type: models.SickLeave},
		{Date: day("2025-06-03"), Type: models.SickLeave},
	}
	ids, err := f.ledger.SubmitBatch(ctx, "dave", entries)
	if err == nil {
		t.Fatal("Expected SubmitBatch to fail")
	}
	if len(ids) != 1 {
		t.Fatalf("Expected 1 committed id, got %d", len(ids))
	}

	history, _ := f.ledger.History(ctx, "dave")
	if len(history) != 1 || history[0].DateString() != "2025-06-01" {
		t.Errorf("Expected only the first entry committed, got %+v", history)
	}
}

func TestQueueAndDecide(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	daveIDs, err := f.ledger.SubmitBatch(ctx, "dave", []models.LeaveEntry{
		{Date: day("2025-07-01"), Type: models.SickLeave},
		{Date: day("2025-07-02"), Type: models.CasualLeave},
	})
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	aliceID, _ := f.ledger.Submit(ctx, "alice", models.LeaveEntry{Date: day("2025-07-03"), Type: models.EarnedLeave})
	bobID, _ := f.ledger.Submit(ctx, "bob", models.LeaveEntry{Date: day("2025-07-04"), Type: models.EarnedLeave})

	if err := f.ledger.Decide(ctx, daveIDs[0], models.StatusApproved); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	queue, err := f.ledger.Queue(ctx, "carol")
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("Expected 3 requests for carol, got %d", len(queue))
	}
	want := []struct {
		id     int64
		owner  string
		status models.Status
	}{
		{daveIDs[0], "dave", models.StatusApproved},
		{daveIDs[1], "dave", models.StatusWaiting},
		{aliceID, "alice", models.StatusWaiting},
	}
	for i, w := range want {
		if queue[i].ID != w.id || queue[i].Username != w.owner || queue[i].Status != w.status {
			t.Errorf("Queue[%d]: expected %+v, got %+v", i, w, queue[i])
		}
	}

	zoeQueue, _ := f.ledger.Queue(ctx, "zoe")
	if len(zoeQueue) != 1 || zoeQueue[0].ID != bobID {
		t.Errorf("Expected only bob's request for zoe, got %+v", zoeQueue)
	}

	if none, _ := f.ledger.Queue(ctx, "dave"); len(none) != 0 {
		t.Errorf("Expected empty queue for an employee, got %d", len(none))
	}

	// Only the decided record changes.
	other, _ := f.ledger.Get(ctx, daveIDs[1])
	if other.Status != models.StatusWaiting {
		t.Errorf("Expected untouched record to stay Waiting, got %s", other.Status)
	}

	// A decided request can be decided again; the last decision wins.
	if err := f.ledger.Decide(ctx, daveIDs[0], models.StatusRejected); err != nil {
		t.Fatalf("second Decide failed: %v", err)
	}
	again, _ := f.ledger.Get(ctx, daveIDs[0])
	if again.Status != models.StatusRejected {
		t.Errorf("Expected Rejected after overwrite, got %s", again.Status)
	}
}

func TestDecideErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ledger.Decide(ctx, 999, models.StatusApproved); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	id, _ := f.ledger.Submit(ctx, "dave", models.LeaveEntry{Date: day("2025-08-01"), Type: models.SickLeave})
	if err := f.ledger.Decide(ctx, id, models.StatusWaiting); !models.IsValidation(err) {
		t.Errorf("Expected ValidationError for Waiting, got %v", err)
	}
	if _, err := f.ledger.Get(ctx, 12345); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
}

func TestCommentsSealedAtRest(t *testing.T) {
	f := newFixture(t, crypto.NewSealer("comment-secret"))
	ctx := context.Background()

	id, err := f.ledger.Submit(ctx, "dave", models.LeaveEntry{Date: day("2025-09-01"), Type: models.SickLeave, Comment: "dentist"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var raw string
	err = f.store.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT comment FROM leaves WHERE id = ?", id).Scan(&raw)
	})
	if err != nil {
		t.Fatalf("raw select failed: %v", err)
	}
	if strings.Contains(raw, "dentist") {
		t.Errorf("Expected comment to be encrypted at rest, got %q", raw)
	}

	queue, err := f.ledger.Queue(ctx, "carol")
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(queue) != 1 || queue[0].Comment != "dentist" {
		t.Errorf("Expected decrypted comment in queue, got %+v", queue)
	}
}

func TestCommentsThatLookEncrypted(t *testing.T) {
	for _, secret := range []string{"", "comment-secret"} {
		t.Run("secret="+secret, func(t *testing.T) {
			f := newFixture(t, crypto.NewSealer(secret))
			ctx := context.Background()

			comments := []string{"enc:doctor", "raw:notes"}
			for i, c := range comments {
				entry := models.LeaveEntry{Date: day("2025-09-01").AddDate(0, 0, i), Type: models.CasualLeave, Comment: c}
				if _, err := f.ledger.Submit(ctx, "dave", entry); err != nil {
					t.Fatalf("Submit failed: %v", err)
				}
			}

			history, err := f.ledger.History(ctx, "dave")
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			queue, err := f.ledger.Queue(ctx, "carol")
			if err != nil {
				t.Fatalf("Queue failed: %v", err)
			}
			for _, leaves := range [][]models.LeaveRequest{history, queue} {
				if len(leaves) != len(comments) {
					t.Fatalf("Expected %d leaves, got %d", len(comments), len(leaves))
				}
				for i, l := range leaves {
					if l.Comment != comments[i] {
						t.Errorf("Expected comment %q, got %q", comments[i], l.Comment)
					}
				}
			}
		})
	}
}

package store

import (
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	r := models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: 1}
	if err := s.AddReceipt(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipts, err := s.GetReceipts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipts) != 1 || receipts[0].To != "+123" {
		t.Error("Receipt not stored or retrieved correctly")
	}
}

func TestInMemoryStore_WorkflowState(t *testing.T) {
	s := NewInMemoryStore()
	exerciseWorkflowStateRepo(t, s)
}

func TestInMemoryStore_PruneWorkflowStates(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.PutWorkflowState("old", []byte(`{}`))
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	s.PutWorkflowState("new", []byte(`{}`))

	n, err := s.PruneWorkflowStates(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneWorkflowStates failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned, got %d", n)
	}
	if _, ok, _ := s.GetWorkflowState("old"); ok {
		t.Error("old state should have been pruned")
	}
	if _, ok, _ := s.GetWorkflowState("new"); !ok {
		t.Error("new state should remain")
	}
}

func TestInMemoryStore_Outbox(t *testing.T) {
	s := NewInMemoryStore()
	exerciseOutboxRepo(t, s)
}

func TestInMemoryStore_Dedup(t *testing.T) {
	s := NewInMemoryStore()
	exerciseDedupRepo(t, s)
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM receipts")
	pgStore.db.Exec("DELETE FROM workflow_states")
	pgStore.db.Exec("DELETE FROM event_outbox")
	pgStore.db.Exec("DELETE FROM inbound_dedup")

	r := models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: 1}
	if err := pgStore.AddReceipt(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipts, err := pgStore.GetReceipts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipts) != 1 || receipts[0].To != "+123" {
		t.Error("Receipt not stored or retrieved correctly in Postgres")
	}
	exerciseWorkflowStateRepo(t, pgStore)
	exerciseOutboxRepo(t, pgStore)
	exerciseDedupRepo(t, pgStore)
}

// exerciseWorkflowStateRepo checks the get/put contract shared by all backends.
func exerciseWorkflowStateRepo(t *testing.T, repo WorkflowStateRepo) {
	t.Helper()
	if _, ok, err := repo.GetWorkflowState("missing"); err != nil || ok {
		t.Fatalf("GetWorkflowState(missing) = ok=%v err=%v, want not found", ok, err)
	}
	if err := repo.PutWorkflowState("c1", []byte(`{"messageCount":1}`)); err != nil {
		t.Fatalf("PutWorkflowState failed: %v", err)
	}
	if err := repo.PutWorkflowState("c1", []byte(`{"messageCount":2}`)); err != nil {
		t.Fatalf("PutWorkflowState overwrite failed: %v", err)
	}
	data, ok, err := repo.GetWorkflowState("c1")
	if err != nil || !ok {
		t.Fatalf("GetWorkflowState(c1) = ok=%v err=%v", ok, err)
	}
	if string(data) != `{"messageCount": 2}` && string(data) != `{"messageCount":2}` {
		t.Errorf("expected last write to win, got %s", data)
	}
}

func exerciseOutboxRepo(t *testing.T, repo OutboxRepo) {
	t.Helper()
	ev := OutboxEvent{EventID: "ev-1", ChannelID: "c1", Name: "goal_completed", Payload: []byte(`{"goalId":"g1"}`)}
	id1, err := repo.EnqueueOutboxEvent(ev)
	if err != nil {
		t.Fatalf("EnqueueOutboxEvent failed: %v", err)
	}
	id2, err := repo.EnqueueOutboxEvent(ev)
	if err != nil {
		t.Fatalf("EnqueueOutboxEvent duplicate failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected same row for a repeated event id, got %q and %q", id1, id2)
	}

	due, err := repo.ClaimOutboxEvents(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimOutboxEvents failed: %v", err)
	}
	if len(due) != 1 || due[0].ChannelID != "c1" || due[0].Status != OutboxClaimed || string(due[0].Payload) != `{"goalId":"g1"}` {
		t.Fatalf("unexpected claim result: %+v", due)
	}
	if again, _ := repo.ClaimOutboxEvents(time.Now(), 10); len(again) != 0 {
		t.Fatalf("claimed event must not be claimed twice, got %d", len(again))
	}

	if err := repo.RetryOutboxEvent(id1, "bus down", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RetryOutboxEvent failed: %v", err)
	}
	if held, _ := repo.ClaimOutboxEvents(time.Now(), 10); len(held) != 0 {
		t.Fatalf("event must wait for its retry time, got %d", len(held))
	}
	due, _ = repo.ClaimOutboxEvents(time.Now().Add(2*time.Hour), 10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "bus down" {
		t.Fatalf("expected retried event with 1 attempt, got %+v", due)
	}

	n, err := repo.ReleaseStaleOutboxClaims(time.Now().Add(3 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("ReleaseStaleOutboxClaims = %d, %v; want 1", n, err)
	}
	due, _ = repo.ClaimOutboxEvents(time.Now().Add(2*time.Hour), 10)
	if len(due) != 1 {
		t.Fatalf("expected released event to be claimable, got %d", len(due))
	}
	if err := repo.MarkOutboxEventPublished(id1); err != nil {
		t.Fatalf("MarkOutboxEventPublished failed: %v", err)
	}
	if id3, _ := repo.EnqueueOutboxEvent(ev); id3 != id1 {
		t.Errorf("published event id must still dedupe, got %q", id3)
	}

	id4, err := repo.EnqueueOutboxEvent(OutboxEvent{EventID: "ev-2", ChannelID: "c2", Name: "goal_declined"})
	if err != nil {
		t.Fatalf("EnqueueOutboxEvent second failed: %v", err)
	}
	if _, err := repo.ClaimOutboxEvents(time.Now().Add(2*time.Hour), 10); err != nil {
		t.Fatalf("ClaimOutboxEvents failed: %v", err)
	}
	if err := repo.DeadLetterOutboxEvent(id4, "poison"); err != nil {
		t.Fatalf("DeadLetterOutboxEvent failed: %v", err)
	}
	if n, _ := repo.ReleaseStaleOutboxClaims(time.Now().Add(3 * time.Hour)); n != 0 {
		t.Errorf("dead event must not be released, got %d", n)
	}
	if due, _ := repo.ClaimOutboxEvents(time.Now().Add(4*time.Hour), 10); len(due) != 0 {
		t.Errorf("Expected nothing claimable after publish and dead-letter, got %d", len(due))
	}
}

func exerciseDedupRepo(t *testing.T, repo DedupRepo) {
	t.Helper()
	dup, err := repo.IsDuplicate("msg-1")
	if err != nil || dup {
		t.Fatalf("IsDuplicate(new) = %v, %v", dup, err)
	}
	isNew, err := repo.RecordInbound("msg-1", "c1")
	if err != nil || !isNew {
		t.Fatalf("RecordInbound first = %v, %v", isNew, err)
	}
	isNew, err = repo.RecordInbound("msg-1", "c1")
	if err != nil || isNew {
		t.Fatalf("RecordInbound duplicate = %v, %v", isNew, err)
	}
	if dup, _ := repo.IsDuplicate("msg-1"); !dup {
		t.Error("Expected true for duplicate message")
	}
	if err := repo.MarkProcessed("msg-1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

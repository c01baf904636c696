package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	cached, err := NewCachedStore(newTestSQLiteStore(t), 4)
	if err != nil {
		t.Fatalf("NewCachedStore failed: %v", err)
	}
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
		"cached": cached,
	}
}

func sampleSession(id string, now time.Time) *models.SessionState {
	s := models.NewSessionState(id, models.UserContext{UserID: "u1", Email: "u1@example.com"}, now, time.Hour)
	_ = s.Intake.Set(models.FieldProblem, "Outlook keeps crashing")
	_ = s.Intake.Set(models.FieldUrgency, "high")
	s.Confidence[models.FieldProblem] = 0.8
	s.Confidence[models.FieldUrgency] = 0.95
	s.ConversationState = models.StateProbing
	s.Append(models.RoleUser, "Outlook keeps crashing", now)
	return s
}

func TestStore_SessionRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := sampleSession("s_round", now)
			if err := s.SaveSession(in); err != nil {
				t.Fatalf("SaveSession failed: %v", err)
			}
			got, err := s.GetSession("s_round")
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if !got.Intake.Equal(in.Intake) {
				t.Errorf("intake mismatch: %+v", got.Intake)
			}
			if got.Confidence.Get(models.FieldUrgency) != 0.95 {
				t.Errorf("confidence not persisted: %v", got.Confidence)
			}
			if got.ConversationState != models.StateProbing || len(got.MessageHistory) != 1 {
				t.Errorf("unexpected session: %+v", got)
			}

			// Mutating the returned copy must not leak into the store.
			got.ConversationState = models.StateSubmitted
			again, _ := s.GetSession("s_round")
			if again.ConversationState != models.StateProbing {
				t.Error("store returned a shared pointer")
			}
		})
	}
}

func TestStore_SessionNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetSession("missing"); !errors.Is(err, models.ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_DeleteAndExpiry(t *testing.T) {
	now := time.Now().UTC()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fresh := sampleSession("s_fresh", now)
			stale := sampleSession("s_stale", now.Add(-2*time.Hour))
			for _, st := range []*models.SessionState{fresh, stale} {
				if err := s.SaveSession(st); err != nil {
					t.Fatalf("SaveSession failed: %v", err)
				}
			}
			if err := s.AppendMessage("s_stale", models.Message{Role: models.RoleUser, Content: "hi", Timestamp: now}); err != nil {
				t.Fatalf("AppendMessage failed: %v", err)
			}

			ids, err := s.ListExpiredSessions(now)
			if err != nil {
				t.Fatalf("ListExpiredSessions failed: %v", err)
			}
			if len(ids) != 1 || ids[0] != "s_stale" {
				t.Fatalf("expected only s_stale to be expired, got %v", ids)
			}

			if err := s.DeleteSession("s_stale"); err != nil {
				t.Fatalf("DeleteSession failed: %v", err)
			}
			if _, err := s.GetSession("s_stale"); !errors.Is(err, models.ErrSessionNotFound) {
				t.Errorf("expected deleted session to be gone, got %v", err)
			}
			msgs, _ := s.GetMessages("s_stale")
			if len(msgs) != 0 {
				t.Errorf("expected message log to be deleted, got %d", len(msgs))
			}
		})
	}
}

func TestStore_MessageLogOrder(t *testing.T) {
	now := time.Now().UTC()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, c := range []string{"first", "second", "third"} {
				role := models.RoleUser
				if i%2 == 1 {
					role = models.RoleAssistant
				}
				if err := s.AppendMessage("s_log", models.Message{Role: role, Content: c, Timestamp: now.Add(time.Duration(i) * time.Second)}); err != nil {
					t.Fatalf("AppendMessage failed: %v", err)
				}
			}
			msgs, err := s.GetMessages("s_log")
			if err != nil {
				t.Fatalf("GetMessages failed: %v", err)
			}
			if len(msgs) != 3 || msgs[0].Content != "first" || msgs[2].Content != "third" || msgs[1].Role != models.RoleAssistant {
				t.Errorf("unexpected log: %+v", msgs)
			}
		})
	}
}

func TestStore_TicketRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := models.Ticket{
				ReferenceID: "INC-0000ABCD",
				SessionID:   "s1",
				Intake:      sampleSession("s1", now).Intake,
				Summary:     "Outlook crashing",
				Status:      models.TicketStatusPendingNotification,
				CreatedAt:   now,
			}
			if err := s.SaveTicket(in); err != nil {
				t.Fatalf("SaveTicket failed: %v", err)
			}
			in.Status = models.TicketStatusNotified
			in.EmailSent = true
			if err := s.SaveTicket(in); err != nil {
				t.Fatalf("SaveTicket update failed: %v", err)
			}
			got, err := s.GetTicket("INC-0000ABCD")
			if err != nil {
				t.Fatalf("GetTicket failed: %v", err)
			}
			if got.Status != models.TicketStatusNotified || !got.EmailSent || !got.Intake.Equal(in.Intake) {
				t.Errorf("unexpected ticket: %+v", got)
			}
			if _, err := s.GetTicket("INC-NOPE"); !errors.Is(err, models.ErrTicketNotFound) {
				t.Errorf("expected ErrTicketNotFound, got %v", err)
			}
		})
	}
}

// --- Outbox repo tests ---

func TestStore_OutboxLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{"referenceId":"INC-1"}`, "ticket:INC-1")
			if err != nil {
				t.Fatalf("EnqueueOutboxMessage failed: %v", err)
			}
			dup, err := s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, "ticket:INC-1")
			if err != nil || dup != id {
				t.Fatalf("expected dedupe to return %q, got %q (%v)", id, dup, err)
			}

			msgs, err := s.ClaimDueOutboxMessages(time.Now(), 10)
			if err != nil {
				t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
			}
			if len(msgs) != 1 || msgs[0].SessionID != "s1" || msgs[0].Status != OutboxStatusSending {
				t.Fatalf("unexpected claim: %+v", msgs)
			}

			if err := s.FailOutboxMessage(id, "smtp down", time.Now().Add(-time.Second)); err != nil {
				t.Fatalf("FailOutboxMessage failed: %v", err)
			}
			msgs, _ = s.ClaimDueOutboxMessages(time.Now(), 10)
			if len(msgs) != 1 || msgs[0].Attempts != 1 {
				t.Fatalf("expected retryable message with 1 attempt, got %+v", msgs)
			}

			if err := s.MarkOutboxMessageSent(id); err != nil {
				t.Fatalf("MarkOutboxMessageSent failed: %v", err)
			}
			msgs, _ = s.ClaimDueOutboxMessages(time.Now(), 10)
			if len(msgs) != 0 {
				t.Errorf("expected nothing claimable after sent, got %d", len(msgs))
			}
		})
	}
}

func TestStore_OutboxRequeueAndAbandon(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, _ := s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, "")
			s.ClaimDueOutboxMessages(time.Now(), 10)

			n, err := s.RequeueStaleSendingMessages(time.Now().Add(time.Minute))
			if err != nil || n != 1 {
				t.Fatalf("expected 1 requeued, got %d (%v)", n, err)
			}
			s.ClaimDueOutboxMessages(time.Now(), 10)
			if err := s.AbandonOutboxMessage(id, "gave up"); err != nil {
				t.Fatalf("AbandonOutboxMessage failed: %v", err)
			}
			if n, _ := s.RequeueStaleSendingMessages(time.Now().Add(time.Minute)); n != 0 {
				t.Errorf("abandoned message must not be requeued, got %d", n)
			}
			// The dedupe key of an abandoned message is free again.
			if _, err := s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, ""); err != nil {
				t.Fatalf("EnqueueOutboxMessage failed: %v", err)
			}
		})
	}
}

// --- Dedup repo tests ---

func TestStore_Dedup(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dup, err := s.IsDuplicate("http:m1")
			if err != nil || dup {
				t.Fatalf("expected new message, got dup=%v err=%v", dup, err)
			}
			isNew, err := s.RecordInbound("http:m1", "s1")
			if err != nil || !isNew {
				t.Fatalf("expected first record to be new, got %v (%v)", isNew, err)
			}
			isNew, err = s.RecordInbound("http:m1", "s1")
			if err != nil || isNew {
				t.Fatalf("expected second record to be a duplicate, got %v (%v)", isNew, err)
			}
			if dup, _ := s.IsDuplicate("http:m1"); !dup {
				t.Error("expected IsDuplicate after record")
			}
			if err := s.MarkProcessed("http:m1"); err != nil {
				t.Fatalf("MarkProcessed failed: %v", err)
			}
			if err := s.ForgetInbound("http:m1"); err != nil {
				t.Fatalf("ForgetInbound failed: %v", err)
			}
			if dup, _ := s.IsDuplicate("http:m1"); !dup {
				t.Error("processed record must survive ForgetInbound")
			}
		})
	}
}

func TestStore_ForgetInboundReleasesUnprocessed(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.RecordInbound("wa:m2", "s1"); err != nil {
				t.Fatal(err)
			}
			if err := s.ForgetInbound("wa:m2"); err != nil {
				t.Fatalf("ForgetInbound failed: %v", err)
			}
			isNew, err := s.RecordInbound("wa:m2", "s1")
			if err != nil || !isNew {
				t.Errorf("expected the forgotten message to record as new, got %v (%v)", isNew, err)
			}
		})
	}
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	backend := NewInMemoryStore()
	c, err := NewCachedStore(backend, 2)
	if err != nil {
		t.Fatalf("NewCachedStore failed: %v", err)
	}
	now := time.Now().UTC()
	if err := backend.SaveSession(sampleSession("s_a", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetSession("s_a"); err != nil {
		t.Fatalf("read-through failed: %v", err)
	}
	if c.CachedSessions() != 1 {
		t.Errorf("expected 1 cached session, got %d", c.CachedSessions())
	}
	if err := c.DeleteSession("s_a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetSession("s_a"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected cache invalidation on delete, got %v", err)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://user@localhost/db":    "postgres",
		"postgresql://localhost/db":       "postgres",
		"host=localhost dbname=intake":    "postgres",
		"/var/lib/intakedesk/intake.db":   "sqlite3",
		"file:intake.db?cache=shared":     "sqlite3",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

// --- OutboxSender tests ---

func TestOutboxSender_DeliversAndRetries(t *testing.T) {
	s := newTestSQLiteStore(t)

	var calls int32
	send := func(ctx context.Context, msg OutboxMessage) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("temporary failure")
		}
		return nil
	}
	sender := NewOutboxSender(s, send, time.Hour, WithBaseBackoff(time.Millisecond))

	if _, err := s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	sender.Poll(context.Background())
	time.Sleep(5 * time.Millisecond)
	sender.Poll(context.Background())

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", calls)
	}
	if msgs, _ := s.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 0 {
		t.Errorf("expected message to be sent, %d still due", len(msgs))
	}
}

func TestOutboxSender_AbandonsAfterMaxAttempts(t *testing.T) {
	s := NewInMemoryStore()
	var abandoned int32
	sender := NewOutboxSender(s,
		func(ctx context.Context, msg OutboxMessage) error { return errors.New("permanent") },
		time.Hour,
		WithMaxAttempts(1),
		WithAbandonHandler(func(msg OutboxMessage, err error) { atomic.AddInt32(&abandoned, 1) }),
	)
	s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, "")
	sender.Poll(context.Background())

	if atomic.LoadInt32(&abandoned) != 1 {
		t.Errorf("expected abandon callback, got %d", abandoned)
	}
}

func TestOutboxSender_RunStopsOnCancel(t *testing.T) {
	s := NewInMemoryStore()
	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 20*time.Millisecond)
	s.EnqueueOutboxMessage("s1", OutboxKindTicketNotification, `{}`, "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sender.Run(ctx)
		close(done)
	}()
	<-done

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}

func TestOutboxSender_Backoff(t *testing.T) {
	sender := NewOutboxSender(NewInMemoryStore(), nil, time.Second)
	if sender.Backoff(0) != 10*time.Second || sender.Backoff(2) != 40*time.Second {
		t.Errorf("unexpected backoff: %v %v", sender.Backoff(0), sender.Backoff(2))
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to enable.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()
	pg.db.Exec("DELETE FROM sessions WHERE session_id = 's_pg'")

	in := sampleSession("s_pg", time.Now().UTC())
	if err := pg.SaveSession(in); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := pg.GetSession("s_pg")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !got.Intake.Equal(in.Intake) {
		t.Error("Session not stored or retrieved correctly in Postgres")
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

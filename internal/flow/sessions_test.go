package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/store"
)

func TestSessionManager_CreateAndLoad(t *testing.T) {
	clock := newTestClock()
	m := NewSessionManager(store.NewInMemoryStore(), time.Minute, clock.Now)

	s, err := m.Create("", models.UserContext{Name: "Dana"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ConversationState != models.StateInit {
		t.Errorf("expected INIT, got %s", s.ConversationState)
	}
	got, err := m.Load(s.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserContext.Name != "Dana" {
		t.Errorf("user context not persisted: %+v", got.UserContext)
	}

	if _, err := m.Create("not a valid id!", models.UserContext{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestSessionManager_LazyExpiry(t *testing.T) {
	clock := newTestClock()
	st := store.NewInMemoryStore()
	m := NewSessionManager(st, time.Minute, clock.Now)
	s, err := m.Create("", models.UserContext{})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Second)
	m.Touch(s)
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	clock.Advance(45 * time.Second)
	if _, err := m.Load(s.SessionID); err != nil {
		t.Fatalf("touched session should still be live: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := m.Load(s.SessionID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected expired session to be not found, got %v", err)
	}
	if _, err := st.GetSession(s.SessionID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Error("expired session should be deleted on access")
	}
}

func TestSessionManager_LoadOrCreateAndSweep(t *testing.T) {
	clock := newTestClock()
	m := NewSessionManager(store.NewInMemoryStore(), time.Minute, clock.Now)

	_, created, err := m.LoadOrCreate("wa-15550001111", models.UserContext{Channel: "whatsapp"})
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	_, created, err = m.LoadOrCreate("wa-15550001111", models.UserContext{})
	if err != nil || created {
		t.Fatalf("expected existing session, got created=%v err=%v", created, err)
	}
	if _, err := m.Create("", models.UserContext{}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Minute)
	locked := 0
	n, err := m.Sweep(func(string) (func(), error) {
		locked++
		return func() {}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || locked != 2 {
		t.Errorf("expected 2 sessions swept under lock, got %d (locked %d)", n, locked)
	}
	if err := m.Delete("wa-15550001111"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected not found after sweep, got %v", err)
	}
}

package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/BTreeMap/IntakeDesk/internal/extract"
	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedExtractor returns the same candidates on every call.
type fixedExtractor struct {
	mu    sync.Mutex
	cands models.Candidates
	calls int
}

func (e *fixedExtractor) Extract(_ context.Context, _ extract.Request) (models.Candidates, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	out := make(models.Candidates, len(e.cands))
	for f, c := range e.cands {
		out[f] = c
	}
	return out, nil
}

func outlookCandidates() models.Candidates {
	return models.Candidates{
		models.FieldProblem:        {Value: "Cannot sign in to Outlook", Confidence: 0.95},
		models.FieldCategory:       {Value: "email", Confidence: 0.95},
		models.FieldUrgency:        {Value: "high", Confidence: 0.95},
		models.FieldAffectedSystem: {Value: "Outlook", Confidence: 0.95},
		models.FieldErrorText:      {Value: "invalid credentials", Confidence: 0.95},
	}
}

// failingStore fails session writes on demand.
type failingStore struct {
	store.Store
	mu        sync.Mutex
	failSaves bool
}

func (s *failingStore) SaveSession(state *models.SessionState) error {
	s.mu.Lock()
	fail := s.failSaves
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.Store.SaveSession(state)
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = v
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errStoreDown = storeError("store down")

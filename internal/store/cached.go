package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// DefaultCacheSize is the number of sessions kept by CachedStore.
const DefaultCacheSize = 1024

var _ Store = (*CachedStore)(nil)

// CachedStore is a read-through session cache in front of a durable Store. Writes go to the
// backend first and only then refresh the cache, so a failed save never leaves a cached state
// the backend does not have.
type CachedStore struct {
	Store
	sessions *lru.Cache[string, *models.SessionState]
}

// NewCachedStore wraps backend with an LRU cache of size entries.
func NewCachedStore(backend Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *models.SessionState](size)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &CachedStore{Store: backend, sessions: cache}, nil
}

func (c *CachedStore) SaveSession(state *models.SessionState) error {
	if err := c.Store.SaveSession(state); err != nil {
		c.sessions.Remove(state.SessionID)
		return err
	}
	c.sessions.Add(state.SessionID, state.Clone())
	return nil
}

func (c *CachedStore) GetSession(id string) (*models.SessionState, error) {
	if state, ok := c.sessions.Get(id); ok {
		return state.Clone(), nil
	}
	state, err := c.Store.GetSession(id)
	if err != nil {
		return nil, err
	}
	c.sessions.Add(id, state.Clone())
	return state, nil
}

func (c *CachedStore) DeleteSession(id string) error {
	c.sessions.Remove(id)
	return c.Store.DeleteSession(id)
}

// CachedSessions reports how many sessions are currently cached.
func (c *CachedStore) CachedSessions() int {
	return c.sessions.Len()
}

package core

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionStore keeps wizards in memory with a sliding expiry. Every
// successful Get pushes the expiry out by the store's TTL.
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore creates a store whose entries expire after ttl of
// inactivity and are swept every cleanup. onEvict runs for wizards that
// expire or are deleted; it may be nil.
func NewSessionStore(ttl, cleanup time.Duration, onEvict func(*Wizard)) *SessionStore {
	c := cache.New(ttl, cleanup)
	if onEvict != nil {
		c.OnEvicted(func(_ string, v interface{}) {
			if w, ok := v.(*Wizard); ok {
				onEvict(w)
			}
		})
	}
	return &SessionStore{cache: c}
}

func (s *SessionStore) Save(w *Wizard) {
	s.cache.Set(w.ID, w, cache.DefaultExpiration)
}

// Get returns the wizard and refreshes its expiry.
func (s *SessionStore) Get(id string) (*Wizard, bool) {
	x, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	w := x.(*Wizard)
	// Set does not fire OnEvicted, so refreshing is safe.
	s.cache.Set(id, w, cache.DefaultExpiration)
	return w, true
}

func (s *SessionStore) Delete(id string) {
	s.cache.Delete(id)
}

// Count returns the number of stored wizards, including expired ones not
// yet swept.
func (s *SessionStore) Count() int {
	return s.cache.ItemCount()
}

// Sweep removes expired wizards now instead of waiting for the janitor.
func (s *SessionStore) Sweep() {
	s.cache.DeleteExpired()
}

// Each calls fn for every live wizard.
func (s *SessionStore) Each(fn func(*Wizard)) {
	for _, item := range s.cache.Items() {
		if w, ok := item.Object.(*Wizard); ok {
			fn(w)
		}
	}
}

// Package authstate keeps the Battle.net authorizations that were started
// but not finished yet. A pending authorization is found by the id stored
// in the user's session cookie and can be taken exactly once.
package authstate

import (
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"wowsync/datastore"
	"wowsync/internal/bnet"
)

const (
	CookieName = "wowsync_session"
	DefaultTTL = 15 * time.Minute
)

// Pending is an authorization waiting for the Battle.net redirect.
type Pending struct {
	Auth           bnet.AuthState `json:"auth"`
	RemoteSystemID int64          `json:"remote_system_id"`
	RemoteUserID   int64          `json:"remote_user_id"`
}

type Sessions struct {
	store *datastore.DataStore
	ttl   time.Duration
}

func New(store *datastore.DataStore, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sessions{store: store, ttl: ttl}
}

// TTL is how long a pending authorization stays valid.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Create stores p and returns the session id for the cookie.
func (s *Sessions) Create(p Pending) (string, error) {
	id := uuid.NewString()
	if err := s.store.Put(key(id), p, s.ttl); err != nil {
		return "", errors.Annotate(err, "storing session")
	}
	return id, nil
}

// Take returns and forgets the pending authorization of the session.
func (s *Sessions) Take(id string) (*Pending, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFoundf("session %q", id)
	}
	var p Pending
	ok, err := s.store.Take(key(id), &p)
	if err != nil {
		return nil, errors.Annotatef(err, "reading session %s", id)
	}
	if !ok {
		return nil, errors.NotFoundf("session %s", id)
	}
	return &p, nil
}

func key(id string) string {
	return "auth:" + id
}

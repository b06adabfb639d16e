// Package moduletest provides an in-memory Module for tests.
package moduletest

import (
	"context"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"wowsync/internal/module"
)

// Fake is a remote system whose users and roles live in memory. Changes
// are applied and recorded.
type Fake struct {
	mu           sync.Mutex
	Users        map[int64]set.Strings
	Names        map[int64][]string
	Changes      []map[int64]module.RoleChange
	Deleted      []int64
	Protected    map[int64]bool // users that cannot be removed
	InactiveDays int
	Closed       bool
}

func NewFake() *Fake {
	return &Fake{
		Users: make(map[int64]set.Strings),
		Names: make(map[int64][]string),
	}
}

// AddUser puts a user with the given roles on the remote system.
func (f *Fake) AddUser(id int64, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[id] = set.NewStrings(roles...)
}

func (f *Fake) Roles(id int64) set.Strings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return set.NewStrings(f.Users[id].Values()...)
}

func (f *Fake) AllUsersWithRoles(context.Context) (map[int64]set.Strings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[int64]set.Strings, len(f.Users))
	for id, roles := range f.Users {
		out[id] = set.NewStrings(roles.Values()...)
	}
	return out, nil
}

func (f *Fake) RolesForUser(_ context.Context, id int64) (set.Strings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	roles, ok := f.Users[id]
	if !ok {
		return nil, errors.NotFoundf("user %d", id)
	}
	return set.NewStrings(roles.Values()...), nil
}

func (f *Fake) ChangeRoles(_ context.Context, changes map[int64]module.RoleChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Changes = append(f.Changes, changes)
	for id, c := range changes {
		roles, ok := f.Users[id]
		if !ok {
			continue
		}
		f.Users[id] = roles.Union(c.ToAdd).Difference(c.ToRemove)
	}
	return nil
}

func (f *Fake) SetCharacterNames(_ context.Context, id int64, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Names[id] = names
	return nil
}

func (f *Fake) DeleteInactiveUsers(_ context.Context, ids []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []int64
	for _, id := range ids {
		if f.Protected[id] {
			continue
		}
		delete(f.Users, id)
		f.Deleted = append(f.Deleted, id)
		removed = append(removed, id)
	}
	return removed, nil
}

func (f *Fake) DeleteUsersAfterInactiveDays() int {
	return f.InactiveDays
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Package module defines the remote systems whose roles are kept in sync
// with the guild, and the service that owns one module per remote system.
package module

import (
	"context"
	"fmt"

	"github.com/juju/collections/set"
)

// RoleChange lists the roles to grant and to take from one user.
type RoleChange struct {
	ToAdd    set.Strings
	ToRemove set.Strings
}

func NewRoleChange(toAdd, toRemove set.Strings) RoleChange {
	return RoleChange{
		ToAdd:    set.NewStrings(toAdd.Values()...),
		ToRemove: set.NewStrings(toRemove.Values()...),
	}
}

// Empty reports whether applying the change would do nothing.
func (c RoleChange) Empty() bool {
	return c.ToAdd.IsEmpty() && c.ToRemove.IsEmpty()
}

func (c RoleChange) String() string {
	return fmt.Sprintf("RoleChange[add=%v remove=%v]", c.ToAdd.SortedValues(), c.ToRemove.SortedValues())
}

// Module manages users and roles of one remote system.
type Module interface {
	// AllUsersWithRoles maps every user of the remote system to all of
	// its roles. A user without roles maps to an empty set.
	AllUsersWithRoles(ctx context.Context) (map[int64]set.Strings, error)
	// RolesForUser fails with a NotFound error when the user is not a
	// member of the remote system.
	RolesForUser(ctx context.Context, userID int64) (set.Strings, error)
	ChangeRoles(ctx context.Context, changes map[int64]RoleChange) error
	SetCharacterNames(ctx context.Context, userID int64, sortedNames []string) error
	// DeleteInactiveUsers removes the users and returns the ids that are
	// no longer members. Users that could not be removed are left out.
	DeleteInactiveUsers(ctx context.Context, userIDs []int64) ([]int64, error)
	// DeleteUsersAfterInactiveDays is zero or negative when inactive users
	// are kept.
	DeleteUsersAfterInactiveDays() int
	Close() error
}

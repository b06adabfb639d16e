package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"wowsync/internal/metrics"
	"wowsync/internal/module"
	"wowsync/internal/storage"
	"wowsync/pkg/util"
)

// DBToModule applies the guild state of one remote system to its module.
type DBToModule struct {
	store        *storage.Storage
	rs           storage.RemoteSystem
	module       module.Module
	clock        clock.Clock
	metrics      *metrics.Collector
	rankToGroups map[int]set.Strings
	allGroups    set.Strings
}

func NewDBToModule(ctx context.Context, store *storage.Storage, rs storage.RemoteSystem, m module.Module, clk clock.Clock, mc *metrics.Collector) (*DBToModule, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	mapping, err := store.RankToGroups(ctx, rs.ID)
	if err != nil {
		return nil, err
	}
	rankToGroups, err := BuildRankToGroups(rs.MemberGroup, mapping)
	if err != nil {
		return nil, fmt.Errorf("remote system %d: %w", rs.ID, err)
	}

	all := set.NewStrings(rs.MemberGroup)
	for _, groups := range rankToGroups {
		all = all.Union(groups)
	}

	return &DBToModule{
		store:        store,
		rs:           rs,
		module:       m,
		clock:        clk,
		metrics:      mc,
		rankToGroups: rankToGroups,
		allGroups:    all,
	}, nil
}

// BuildRankToGroups maps every rank from the highest configured rank
// down to 0 to the member group plus all groups whose range holds it.
func BuildRankToGroups(memberGroup string, mapping []storage.RankToGroup) (map[int]set.Strings, error) {
	if len(mapping) == 0 {
		return map[int]set.Strings{}, nil
	}

	type rangeGroup struct {
		r     util.Range[int]
		group string
	}
	ranges := make([]rangeGroup, 0, len(mapping))
	maxRank := 0
	for _, m := range mapping {
		r, err := util.NewRange(m.From, m.To)
		if err != nil {
			return nil, errors.NotValidf("rank mapping for %q: %v", m.Group, err)
		}
		ranges = append(ranges, rangeGroup{r, m.Group})
		maxRank = max(maxRank, r.End)
	}

	out := make(map[int]set.Strings, maxRank+1)
	for rank := maxRank; rank >= 0; rank-- {
		groups := set.NewStrings(memberGroup)
		for _, rg := range ranges {
			if rg.r.Fits(rank) {
				groups.Add(rg.group)
			}
		}
		out[rank] = groups
	}
	return out, nil
}

func (d *DBToModule) groupsForRank(rank int) set.Strings {
	if groups, ok := d.rankToGroups[rank]; ok {
		return groups
	}
	return set.NewStrings(d.rs.MemberGroup)
}

func (d *DBToModule) expectedRoles(chars []storage.Character) set.Strings {
	roles := set.NewStrings()
	for _, c := range chars {
		roles = roles.Union(d.groupsForRank(c.Rank))
	}
	return roles
}

// CalculateRoleChanges returns nil when the user is not on the remote
// system (actual is nil). Roles not managed by the sync are ignored.
func (d *DBToModule) CalculateRoleChanges(actual, expected set.Strings) *module.RoleChange {
	if actual == nil {
		return nil
	}

	managed := actual.Intersection(d.allGroups)
	if expected.IsEmpty() && !managed.IsEmpty() {
		toAdd := set.NewStrings()
		if d.rs.FormerMemberGroup != nil {
			toAdd.Add(*d.rs.FormerMemberGroup)
		}
		change := module.NewRoleChange(toAdd, managed)
		return &change
	}

	toAdd := expected.Difference(managed)
	toRemove := managed.Difference(expected)
	// Former members keep the former member group until they rejoin.
	if d.rs.FormerMemberGroup != nil && !expected.IsEmpty() && actual.Contains(*d.rs.FormerMemberGroup) {
		toRemove.Add(*d.rs.FormerMemberGroup)
	}
	change := module.NewRoleChange(toAdd, toRemove)
	return &change
}

// SyncForUser grants the roles of a freshly linked user. It reports
// whether any role was added.
func (d *DBToModule) SyncForUser(ctx context.Context, remoteUserID int64) (bool, error) {
	chars, err := d.store.CharactersByGuildAndRemoteID(ctx, d.rs.Guild.ID, d.rs.ID, remoteUserID)
	if err != nil {
		return false, err
	}
	if len(chars) == 0 {
		return false, nil
	}

	actual, err := d.module.RolesForUser(ctx, remoteUserID)
	if errors.Is(err, errors.NotFound) {
		actual = nil
	} else if err != nil {
		return false, err
	}

	change := d.CalculateRoleChanges(actual, d.expectedRoles(chars))
	if change == nil || change.ToAdd.IsEmpty() {
		return false, nil
	}

	if err := d.module.SetCharacterNames(ctx, remoteUserID, sortedNames(chars)); err != nil {
		return false, err
	}
	if err := d.module.ChangeRoles(ctx, map[int64]module.RoleChange{remoteUserID: *change}); err != nil {
		return false, err
	}
	d.metrics.RoleChanges(d.rs.ID, len(change.ToAdd), len(change.ToRemove))
	return true, nil
}

func sortedNames(chars []storage.Character) []string {
	sorted := append([]storage.Character(nil), chars...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Server < b.Server
	})
	names := make([]string, len(sorted))
	for i, c := range sorted {
		names[i] = c.Name
	}
	return names
}

// SyncToModule compares the expected roles of all linked users with the
// roles on the remote system and applies every difference at once.
func (d *DBToModule) SyncToModule(ctx context.Context) error {
	linked, err := d.store.RemoteIDsWithCharacters(ctx, d.rs.Guild.ID, d.rs.ID)
	if err != nil {
		return err
	}
	expected := make(map[int64]set.Strings, len(linked))
	for remoteID, chars := range linked {
		expected[remoteID] = d.expectedRoles(chars)
	}

	actual, err := d.module.AllUsersWithRoles(ctx)
	if err != nil {
		return err
	}

	users := make(map[int64]struct{}, len(expected)+len(actual))
	for id := range expected {
		users[id] = struct{}{}
	}
	for id := range actual {
		users[id] = struct{}{}
	}

	changes := make(map[int64]module.RoleChange)
	added, removed := 0, 0
	for id := range users {
		want, ok := expected[id]
		if !ok {
			want = set.NewStrings()
		}
		change := d.CalculateRoleChanges(actual[id], want)
		if change == nil || change.Empty() {
			continue
		}
		changes[id] = *change
		added += len(change.ToAdd)
		removed += len(change.ToRemove)
	}

	log.Printf("[INFO] Remote system %d: %d role changes for %d users", d.rs.ID, len(changes), len(users))
	if len(changes) == 0 {
		return nil
	}
	if err := d.module.ChangeRoles(ctx, changes); err != nil {
		return err
	}
	d.metrics.RoleChanges(d.rs.ID, added, removed)
	return nil
}

// DeleteInactiveUsers removes users that were not online for the
// configured number of days and own no guild character. It is disabled
// when the module reports zero days.
func (d *DBToModule) DeleteInactiveUsers(ctx context.Context) (int, error) {
	days := d.module.DeleteUsersAfterInactiveDays()
	if days <= 0 {
		return 0, nil
	}

	cutoff := d.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	inactive, err := d.store.OnlineUsersLastOnlineBefore(ctx, d.rs.SystemID, cutoff)
	if err != nil {
		return 0, err
	}
	linked, err := d.store.RemoteIDsWithCharacters(ctx, d.rs.Guild.ID, d.rs.ID)
	if err != nil {
		return 0, err
	}

	var ids []int64
	for _, u := range inactive {
		if _, ok := linked[u.MemberID]; ok {
			continue
		}
		ids = append(ids, u.MemberID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	removed, err := d.module.DeleteInactiveUsers(ctx, ids)
	n := len(removed)
	if n > 0 {
		if derr := d.store.DeleteOnlineUsers(ctx, d.rs.SystemID, removed); derr != nil {
			return n, derr
		}
	}
	if err != nil {
		return n, err
	}
	d.metrics.UsersKicked(d.rs.ID, n)
	log.Printf("[INFO] Remote system %d: removed %d users inactive for more than %d days", d.rs.ID, n, days)
	return n, nil
}

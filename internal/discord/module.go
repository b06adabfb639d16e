package discord

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"wowsync/internal/module"
	"wowsync/internal/storage"
)

const membersPageSize = 1000

// SettingsStore loads the Discord settings of a remote system.
type SettingsStore interface {
	DiscordSettings(ctx context.Context, remoteSystemID int64) (*storage.DiscordSettings, error)
}

// ReactionWatcher is told which messages hand out auth links on reaction.
type ReactionWatcher interface {
	WatchReactions(messageID int64, rs storage.RemoteSystem)
	UnwatchReactions(messageID int64)
}

// Module is the role module of one Discord server.
type Module struct {
	api       API
	guildID   string
	rs        storage.RemoteSystem
	settings  storage.DiscordSettings
	reactions ReactionWatcher
}

// NewFactory returns the module factory for Discord remote systems.
// Systems without stored settings keep inactive users and have no
// reaction message.
func NewFactory(api API, store SettingsStore, reactions ReactionWatcher) module.Factory {
	return func(ctx context.Context, rs storage.RemoteSystem) (module.Module, error) {
		settings, err := store.DiscordSettings(ctx, rs.ID)
		switch {
		case errors.Is(err, errors.NotFound):
			settings = &storage.DiscordSettings{RemoteSystemID: rs.ID}
		case err != nil:
			return nil, err
		}
		return NewModule(api, rs, *settings, reactions), nil
	}
}

func NewModule(api API, rs storage.RemoteSystem, settings storage.DiscordSettings, reactions ReactionWatcher) *Module {
	m := &Module{
		api:       api,
		guildID:   strconv.FormatInt(rs.SystemID, 10),
		rs:        rs,
		settings:  settings,
		reactions: reactions,
	}
	if settings.ReactionMessageID != nil && reactions != nil {
		reactions.WatchReactions(*settings.ReactionMessageID, rs)
	}
	return m
}

func (m *Module) roleNames() (map[string]string, error) {
	roles, err := m.api.GuildRoles(m.guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles of guild %s: %w", m.guildID, err)
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	return names, nil
}

// roleIDs maps role names to ids. Names are not unique on Discord, every
// role with the name is used.
func (m *Module) roleIDs() (map[string][]string, error) {
	names, err := m.roleNames()
	if err != nil {
		return nil, err
	}
	ids := make(map[string][]string, len(names))
	for id, name := range names {
		ids[name] = append(ids[name], id)
	}
	return ids, nil
}

func memberRoles(member *discordgo.Member, names map[string]string) set.Strings {
	roles := set.NewStrings()
	for _, id := range member.Roles {
		if name, ok := names[id]; ok {
			roles.Add(name)
		}
	}
	return roles
}

func (m *Module) AllUsersWithRoles(ctx context.Context) (map[int64]set.Strings, error) {
	names, err := m.roleNames()
	if err != nil {
		return nil, err
	}

	out := make(map[int64]set.Strings)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := m.api.GuildMembers(m.guildID, after, membersPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list members of guild %s: %w", m.guildID, err)
		}
		for _, member := range page {
			id, err := strconv.ParseInt(member.User.ID, 10, 64)
			if err != nil {
				return nil, errors.NotValidf("member id %q", member.User.ID)
			}
			out[id] = memberRoles(member, names)
			after = member.User.ID
		}
		if len(page) < membersPageSize {
			return out, nil
		}
	}
}

func (m *Module) RolesForUser(_ context.Context, userID int64) (set.Strings, error) {
	names, err := m.roleNames()
	if err != nil {
		return nil, err
	}
	member, err := m.api.GuildMember(m.guildID, strconv.FormatInt(userID, 10))
	if isUnknownMember(err) {
		return nil, errors.NotFoundf("member %d of guild %s", userID, m.guildID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch member %d: %w", userID, err)
	}
	return memberRoles(member, names), nil
}

// ChangeRoles applies all changes. Users that left the server are
// skipped, other failures are logged and reported once at the end.
func (m *Module) ChangeRoles(ctx context.Context, changes map[int64]module.RoleChange) error {
	ids, err := m.roleIDs()
	if err != nil {
		return err
	}

	failed := 0
	for userID, change := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		user := strconv.FormatInt(userID, 10)
		for _, name := range change.ToAdd.SortedValues() {
			for _, roleID := range ids[name] {
				if err := m.api.GuildMemberRoleAdd(m.guildID, user, roleID); err != nil && !isUnknownMember(err) {
					log.Printf("[ERR] Failed to add role %q to %s in guild %s: %v", name, user, m.guildID, err)
					failed++
				}
			}
		}
		for _, name := range change.ToRemove.SortedValues() {
			for _, roleID := range ids[name] {
				if err := m.api.GuildMemberRoleRemove(m.guildID, user, roleID); err != nil && !isUnknownMember(err) {
					log.Printf("[ERR] Failed to remove role %q from %s in guild %s: %v", name, user, m.guildID, err)
					failed++
				}
			}
		}
	}
	if failed > 0 {
		return errors.Errorf("%d role updates failed in guild %s", failed, m.guildID)
	}
	return nil
}

// SetCharacterNames sets the nickname to the first name.
func (m *Module) SetCharacterNames(_ context.Context, userID int64, sortedNames []string) error {
	if len(sortedNames) == 0 {
		return nil
	}
	err := m.api.GuildMemberNickname(m.guildID, strconv.FormatInt(userID, 10), sortedNames[0])
	if err != nil {
		return fmt.Errorf("failed to set nickname of %d: %w", userID, err)
	}
	return nil
}

// DeleteInactiveUsers kicks the users. Members that already left count as
// removed, failed kicks do not.
func (m *Module) DeleteInactiveUsers(ctx context.Context, userIDs []int64) ([]int64, error) {
	reason := fmt.Sprintf("Inactive more than %d days", m.settings.DeleteUserAfterInactiveDays)
	var removed []int64
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		err := m.api.GuildMemberDeleteWithReason(m.guildID, strconv.FormatInt(id, 10), reason)
		if err != nil && !isUnknownMember(err) {
			log.Printf("[ERR] Failed to kick %d from guild %s: %v", id, m.guildID, err)
			continue
		}
		removed = append(removed, id)
	}
	return removed, nil
}

func (m *Module) DeleteUsersAfterInactiveDays() int {
	return m.settings.DeleteUserAfterInactiveDays
}

func (m *Module) Close() error {
	if m.settings.ReactionMessageID != nil && m.reactions != nil {
		m.reactions.UnwatchReactions(*m.settings.ReactionMessageID)
	}
	return nil
}

func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

package discord

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/errors"

	"wowsync/internal/storage"
)

// fakeAPI is an in-memory Discord server.
type fakeAPI struct {
	mu        sync.Mutex
	roles     []*discordgo.Role
	members   map[string]*discordgo.Member
	nicks     map[string]string
	kicked    map[string]string
	dms       map[string][]string
	failRoles bool
	failKicks map[string]bool

	commands []*discordgo.ApplicationCommand
	created  []string
	deleted  []string
}

func newFakeAPI(roles ...string) *fakeAPI {
	f := &fakeAPI{
		members: make(map[string]*discordgo.Member),
		nicks:   make(map[string]string),
		kicked:  make(map[string]string),
		dms:     make(map[string][]string),
	}
	for i, name := range roles {
		f.roles = append(f.roles, &discordgo.Role{ID: fmt.Sprintf("r%d", i), Name: name})
	}
	return f
}

func (f *fakeAPI) roleID(name string) string {
	for _, r := range f.roles {
		if r.Name == name {
			return r.ID
		}
	}
	return ""
}

func (f *fakeAPI) addMember(id string, roles ...string) {
	m := &discordgo.Member{User: &discordgo.User{ID: id}}
	for _, name := range roles {
		for _, r := range f.roles {
			if r.Name == name {
				m.Roles = append(m.Roles, r.ID)
			}
		}
	}
	f.members[id] = m
}

func (f *fakeAPI) roleNamesOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, rid := range f.members[id].Roles {
		for _, r := range f.roles {
			if r.ID == rid {
				out = append(out, r.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func unknownMember() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember, Message: "Unknown Member"},
	}
}

func (f *fakeAPI) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) GuildMembers(_ string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(f.members))
	for id := range f.members {
		n, _ := strconv.ParseInt(id, 10, 64)
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var start int64
	if after != "" {
		start, _ = strconv.ParseInt(after, 10, 64)
	}
	var page []*discordgo.Member
	for _, id := range ids {
		if id <= start {
			continue
		}
		page = append(page, f.members[strconv.FormatInt(id, 10)])
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeAPI) GuildMember(_ string, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, unknownMember()
	}
	return m, nil
}

func (f *fakeAPI) GuildMemberNickname(_ string, userID, nickname string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nicks[userID] = nickname
	return nil
}

func (f *fakeAPI) GuildMemberRoleAdd(_ string, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoles {
		return errors.New("missing permissions")
	}
	m, ok := f.members[userID]
	if !ok {
		return unknownMember()
	}
	m.Roles = append(m.Roles, roleID)
	return nil
}

func (f *fakeAPI) GuildMemberRoleRemove(_ string, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return unknownMember()
	}
	kept := m.Roles[:0]
	for _, r := range m.Roles {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	m.Roles = kept
	return nil
}

func (f *fakeAPI) GuildMemberDeleteWithReason(_ string, userID, reason string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[userID]; !ok {
		return unknownMember()
	}
	if f.failKicks[userID] {
		return errors.New("missing permissions")
	}
	delete(f.members, userID)
	f.kicked[userID] = reason
	return nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeAPI) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[channelID] = append(f.dms[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) ApplicationCommands(string, string, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return f.commands, nil
}

func (f *fakeAPI) ApplicationCommandCreate(_ string, _ string, cmd *discordgo.ApplicationCommand, _ ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	f.created = append(f.created, cmd.Name)
	for _, c := range f.commands {
		if c.Name == cmd.Name {
			return c, nil
		}
	}
	stored := *cmd
	stored.ID = "c-" + cmd.Name
	f.commands = append(f.commands, &stored)
	return &stored, nil
}

func (f *fakeAPI) ApplicationCommandDelete(_, _, cmdID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, cmdID)
	kept := f.commands[:0]
	for _, c := range f.commands {
		if c.ID != cmdID {
			kept = append(kept, c)
		}
	}
	f.commands = kept
	return nil
}

// fakeStore serves remote systems, settings and online times from memory.
type fakeStore struct {
	mu       sync.Mutex
	systems  map[int64]storage.RemoteSystem
	settings map[int64]storage.DiscordSettings
	online   map[int64]map[int64]time.Time
}

func newFakeStore(systems ...storage.RemoteSystem) *fakeStore {
	s := &fakeStore{
		systems:  make(map[int64]storage.RemoteSystem),
		settings: make(map[int64]storage.DiscordSettings),
		online:   make(map[int64]map[int64]time.Time),
	}
	for _, rs := range systems {
		s.systems[rs.SystemID] = rs
	}
	return s
}

func (s *fakeStore) RemoteSystemByTypeAndSystemID(_ context.Context, typ storage.RemoteSystemType, systemID int64) (*storage.RemoteSystem, error) {
	rs, ok := s.systems[systemID]
	if !ok || rs.Type != typ {
		return nil, errors.NotFoundf("remote system %s#%d", typ, systemID)
	}
	return &rs, nil
}

func (s *fakeStore) DiscordSettings(_ context.Context, id int64) (*storage.DiscordSettings, error) {
	ds, ok := s.settings[id]
	if !ok {
		return nil, errors.NotFoundf("discord settings %d", id)
	}
	return &ds, nil
}

func (s *fakeStore) UpdateLastOnline(_ context.Context, guildID int64, ids []int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online[guildID] == nil {
		s.online[guildID] = make(map[int64]time.Time)
	}
	for _, id := range ids {
		s.online[guildID][id] = now
	}
	return nil
}

type fakeLinks struct{}

func (fakeLinks) CreateAuthURI(_ context.Context, rsID, userID int64) (string, error) {
	return fmt.Sprintf("https://sync.example.org/auth/start?systemId=%d&userId=%d", rsID, userID), nil
}

type fakeSyncer struct {
	calls []int64
	added bool
	err   error
}

func (f *fakeSyncer) SyncForUser(_ context.Context, _ storage.RemoteSystem, userID int64) (bool, error) {
	f.calls = append(f.calls, userID)
	return f.added, f.err
}

type recorder struct {
	replies []string
	calls   []string
}

func (r *recorder) RespondEphemeral(content string) error {
	r.calls = append(r.calls, "respond")
	r.replies = append(r.replies, content)
	return nil
}

func (r *recorder) DeferEphemeral() error {
	r.calls = append(r.calls, "defer")
	return nil
}

func (r *recorder) EditResponse(content string) error {
	r.calls = append(r.calls, "edit")
	r.replies = append(r.replies, content)
	return nil
}

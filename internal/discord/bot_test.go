package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBot(t *testing.T, api *fakeAPI, syncer Syncer) (*Bot, *fakeStore, *testclock.Clock) {
	t.Helper()
	store := newFakeStore(discordSystem)
	clk := testclock.NewClock(time.Unix(1700000000, 0))
	b := newBot(api, api, store, t.TempDir(), clk)
	b.links = fakeLinks{}
	b.registry = Commands(store, fakeLinks{}, syncer)
	b.appID = "bot"
	return b, store, clk
}

func TestRecordOnline(t *testing.T) {
	b, store, clk := newTestBot(t, newFakeAPI(), &fakeSyncer{})

	b.recordOnline("1000", []*discordgo.Presence{
		{User: &discordgo.User{ID: "1"}, Status: discordgo.StatusOnline},
		{User: &discordgo.User{ID: "2"}, Status: discordgo.StatusIdle},
		{User: &discordgo.User{ID: "3"}, Status: discordgo.StatusDoNotDisturb},
		{User: &discordgo.User{ID: "4"}, Status: discordgo.StatusOffline},
		{User: &discordgo.User{ID: "5"}, Status: discordgo.StatusInvisible},
		nil,
	})

	assert.Equal(t, map[int64]time.Time{1: clk.Now(), 2: clk.Now(), 3: clk.Now()}, store.online[1000])

	b.onPresenceUpdate(nil, &discordgo.PresenceUpdate{
		GuildID:  "1000",
		Presence: discordgo.Presence{User: &discordgo.User{ID: "4"}, Status: discordgo.StatusOnline},
	})
	assert.Contains(t, store.online[1000], int64(4))
}

func TestReactionSendsAuthLink(t *testing.T) {
	api := newFakeAPI()
	b, _, _ := newTestBot(t, api, &fakeSyncer{})
	b.WatchReactions(555, discordSystem)

	b.handleReaction(&discordgo.MessageReaction{MessageID: "555", GuildID: "1000", UserID: "42"})
	assert.Equal(t, []string{
		"To authenticate follow this link: https://sync.example.org/auth/start?systemId=7&userId=42",
	}, api.dms["dm-42"])

	b.handleReaction(&discordgo.MessageReaction{MessageID: "556", GuildID: "1000", UserID: "43"})
	b.handleReaction(&discordgo.MessageReaction{MessageID: "555", GuildID: "1000", UserID: "bot"})
	b.handleReaction(&discordgo.MessageReaction{MessageID: "555", GuildID: "2000", UserID: "44"})
	assert.Len(t, api.dms, 1)

	b.UnwatchReactions(555)
	b.handleReaction(&discordgo.MessageReaction{MessageID: "555", GuildID: "1000", UserID: "42"})
	assert.Len(t, api.dms["dm-42"], 1)
}

func interaction(name, guildID, userID string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: guildID,
		Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data:    discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func TestBnetAuthCommand(t *testing.T) {
	b, _, _ := newTestBot(t, newFakeAPI(), &fakeSyncer{})

	rec := &recorder{}
	b.handleCommand(nil, interaction("bnet-auth", "1000", "42"), rec, false)
	assert.Equal(t, []string{
		"To authenticate follow this link: https://sync.example.org/auth/start?systemId=7&userId=42",
	}, rec.replies)

	rec = &recorder{}
	b.handleCommand(nil, interaction("bnet-auth", "2000", "42"), rec, false)
	assert.Equal(t, []string{notConfigured}, rec.replies)

	rec = &recorder{}
	b.handleCommand(nil, interaction("bnet-auth", "", "42"), rec, false)
	assert.Equal(t, []string{"You must be in a guild to use this command."}, rec.replies)
}

func TestSyncCommand(t *testing.T) {
	syncer := &fakeSyncer{added: true}
	b, _, _ := newTestBot(t, newFakeAPI(), syncer)

	rec := &recorder{}
	b.handleCommand(nil, interaction("wowsync-sync", "1000", "42"), rec, false)
	assert.Empty(t, syncer.calls, "administrators only")
	require.Len(t, rec.replies, 1)

	rec = &recorder{}
	b.handleCommand(nil, interaction("wowsync-sync", "1000", "42"), rec, true)
	assert.Equal(t, []int64{42}, syncer.calls)
	assert.Equal(t, []string{"Roles updated for <@42>."}, rec.replies)
	assert.Equal(t, []string{"defer", "edit"}, rec.calls, "acknowledged before the sync runs")

	syncer.added = false
	rec = &recorder{}
	b.handleCommand(nil, interaction("wowsync-sync", "1000", "42", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "77",
	}), rec, true)
	assert.Equal(t, []int64{42, 77}, syncer.calls)
	assert.Equal(t, []string{"Nothing to change for <@77>. Is the Battle.net account linked?"}, rec.replies)
}

func TestSyncCommandFailureEditsDeferredAnswer(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("bnet down")}
	b, _, _ := newTestBot(t, newFakeAPI(), syncer)

	rec := &recorder{}
	b.handleCommand(nil, interaction("wowsync-sync", "1000", "42"), rec, true)
	assert.Equal(t, []string{"defer", "edit"}, rec.calls)
	assert.Equal(t, []string{"Something went wrong, please try again later."}, rec.replies)
}

func TestRegisterCommandsUsesHashCache(t *testing.T) {
	api := newFakeAPI()
	api.commands = []*discordgo.ApplicationCommand{{ID: "old", Name: "ping"}}
	b, _, _ := newTestBot(t, api, &fakeSyncer{})

	require.NoError(t, b.registerCommands("1000"))
	assert.Equal(t, []string{"old"}, api.deleted)
	assert.ElementsMatch(t, []string{"bnet-auth", "wowsync-sync"}, api.created)

	api.created = nil
	require.NoError(t, b.registerCommands("1000"))
	assert.Empty(t, api.created, "unchanged commands are not sent again")

	require.NoError(t, b.registerCommands("2000"))
	assert.ElementsMatch(t, []string{"bnet-auth", "wowsync-sync"}, api.created, "no cached hashes for this guild")

	b.appID = ""
	assert.Error(t, b.registerCommands("1000"))
}

func TestGuildCreateBeforeReady(t *testing.T) {
	api := newFakeAPI()
	b, _, _ := newTestBot(t, api, &fakeSyncer{})
	b.appID = ""

	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "1000"}})
	assert.Empty(t, api.created)

	b.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "wowsync"}})
	assert.ElementsMatch(t, []string{"bnet-auth", "wowsync-sync"}, api.created)
	assert.Empty(t, b.pending)
}

func TestGuildCreateReadsSessionUser(t *testing.T) {
	api := newFakeAPI()
	b, _, _ := newTestBot(t, api, &fakeSyncer{})
	b.appID = ""

	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: "bot"}
	b.onGuildCreate(s, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "1000"}})
	assert.Equal(t, "bot", b.appID)
	assert.ElementsMatch(t, []string{"bnet-auth", "wowsync-sync"}, api.created)
}

func TestHashCommand(t *testing.T) {
	perms := int64(discordgo.PermissionAdministrator)
	a := &discordgo.ApplicationCommand{Name: "x", Description: "d", Options: []*discordgo.ApplicationCommandOption{
		{Name: "b", Type: discordgo.ApplicationCommandOptionString},
		{Name: "a", Type: discordgo.ApplicationCommandOptionUser},
	}}
	b := &discordgo.ApplicationCommand{ID: "123", Version: "9", Name: "x", Description: "d", Options: []*discordgo.ApplicationCommandOption{
		{Name: "a", Type: discordgo.ApplicationCommandOptionUser},
		{Name: "b", Type: discordgo.ApplicationCommandOptionString},
	}}
	assert.Equal(t, hashCommand(a), hashCommand(b), "ids and option order do not matter")

	b.DefaultMemberPermissions = &perms
	assert.NotEqual(t, hashCommand(a), hashCommand(b))
}

func TestIsAdministrator(t *testing.T) {
	assert.False(t, isAdministrator(nil))
	assert.False(t, isAdministrator(&discordgo.Member{Permissions: discordgo.PermissionManageRoles}))
	assert.True(t, isAdministrator(&discordgo.Member{
		Permissions: discordgo.PermissionAdministrator | discordgo.PermissionManageRoles,
	}))
}

package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"wowsync/internal/bnet"
	"wowsync/internal/storage"
	"wowsync/internal/storage/storagetest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBnet struct {
	rosters map[string][]bnet.WowCharacter
	profile *bnet.Profile
	chars   []bnet.WowCharacter
}

func newFakeBnet() *fakeBnet {
	return &fakeBnet{rosters: make(map[string][]bnet.WowCharacter)}
}

func (f *fakeBnet) GuildMembers(_ context.Context, region bnet.Region, realm, guild string) ([]bnet.WowCharacter, error) {
	members, ok := f.rosters[realm+"/"+guild]
	if !ok {
		return nil, &bnet.APIError{Code: 404, URL: fmt.Sprintf("%s/%s/%s", region, realm, guild)}
	}
	return members, nil
}

func (f *fakeBnet) ProfileInfo(context.Context, *bnet.UserClient) (*bnet.Profile, error) {
	if f.profile == nil {
		return nil, errors.New("no profile")
	}
	return f.profile, nil
}

func (f *fakeBnet) WowCharacters(context.Context, *bnet.UserClient) ([]bnet.WowCharacter, error) {
	return f.chars, nil
}

type env struct {
	ctx   context.Context
	store *storage.Storage
	clock *testclock.Clock
	bn    *fakeBnet
	b2db  *BnetToDB
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ctx:   context.Background(),
		store: storagetest.New(t),
		clock: testclock.NewClock(epoch),
		bn:    newFakeBnet(),
	}
	e.b2db = NewBnetToDB(e.store, e.bn, BnetToDBConfig{
		KeepNewAccounts: 7 * 24 * time.Hour,
		KeepCharacters:  30 * 24 * time.Hour,
		Workers:         2,
		Clock:           e.clock,
	})
	return e
}

func (e *env) account(t *testing.T, bnetID int64, added time.Time) *storage.Account {
	t.Helper()
	a := &storage.Account{BnetID: bnetID, BnetTag: fmt.Sprintf("Tag#%d", bnetID), Added: added, LastUpdate: added}
	require.NoError(t, e.store.SaveAccount(e.ctx, a))
	return a
}

func (e *env) character(t *testing.T, bnetID int64, name string, rank int, account *storage.Account, guild *storage.Guild) *storage.Character {
	t.Helper()
	c := &storage.Character{BnetID: bnetID, Region: "eu", Server: "die-aldor", Name: name, Rank: rank, LastUpdate: e.clock.Now()}
	if account != nil {
		c.AccountID = &account.ID
	}
	if guild != nil {
		c.GuildID = &guild.ID
	}
	require.NoError(t, e.store.SaveCharacter(e.ctx, c))
	return c
}

func (e *env) link(t *testing.T, account *storage.Account, rs storage.RemoteSystem, remoteID int64) {
	t.Helper()
	require.NoError(t, e.store.SaveAccountRemoteID(e.ctx, storage.AccountRemoteID{
		AccountID: account.ID, RemoteSystemID: rs.ID, RemoteID: remoteID,
	}))
}

func (e *env) mustCharacter(t *testing.T, id int64) *storage.Character {
	t.Helper()
	c, err := e.store.CharacterByID(e.ctx, id)
	require.NoError(t, err)
	return c
}

func rank(r int) *int {
	return &r
}

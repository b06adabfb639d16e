package module_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wowsync/internal/module"
	"wowsync/internal/module/moduletest"
	"wowsync/internal/storage"
	"wowsync/internal/storage/storagetest"
	"wowsync/pkg/mac"
)

func TestRoleChange(t *testing.T) {
	add := set.NewStrings("a")
	c := module.NewRoleChange(add, nil)
	add.Add("b")

	assert.False(t, c.Empty())
	assert.Equal(t, []string{"a"}, c.ToAdd.SortedValues())
	assert.True(t, module.RoleChange{}.Empty())
}

func TestServiceStartAndFind(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	guild := storagetest.Guild(t, store, "eu", "s", "g")
	discord := storagetest.RemoteSystem(t, store, guild, 100, "Member")

	forum := storage.RemoteSystem{
		Guild:       guild,
		Type:        storage.RemoteSystemForum,
		SystemID:    1,
		NameOrLink:  "https://forum.example.org",
		MemberGroup: "Member",
		HMACKey:     discord.HMACKey,
	}
	require.NoError(t, store.SaveRemoteSystem(ctx, &forum))

	fake := moduletest.NewFake()
	svc := module.NewService(store, "https://sync.example.org")
	svc.Register(storage.RemoteSystemDiscord, func(_ context.Context, rs storage.RemoteSystem) (module.Module, error) {
		assert.Equal(t, discord.ID, rs.ID)
		return fake, nil
	})
	require.NoError(t, svc.Start(ctx))

	m, err := svc.FindModule(storage.RemoteSystemDiscord, 100)
	require.NoError(t, err)
	assert.Same(t, fake, m)

	_, err = svc.FindModule(storage.RemoteSystemForum, 1)
	assert.True(t, errors.Is(err, errors.NotFound))

	require.NoError(t, svc.Close())
	assert.True(t, fake.Closed)
}

func TestCreateAuthURI(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	guild := storagetest.Guild(t, store, "eu", "s", "g")
	rs := storagetest.RemoteSystem(t, store, guild, 100, "Member")

	svc := module.NewService(store, "https://sync.example.org")
	uri, err := svc.CreateAuthURI(ctx, rs.ID, 123456789012345678)
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "/auth/start", u.Path)
	assert.Equal(t, "sync.example.org", u.Host)
	assert.Equal(t, "123456789012345678", u.Query().Get("userId"))

	key, err := mac.KeyFromString(rs.HMACKey)
	require.NoError(t, err)
	assert.NoError(t, mac.Verify(key, u.Query().Get("mac"), "123456789012345678"))

	_, err = svc.CreateAuthURI(ctx, rs.ID+1000, 1)
	assert.Error(t, err)
}

// Package storagetest opens throwaway SQLite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"wowsync/internal/storage"
)

// New returns a migrated database that is closed when the test ends.
func New(t testing.TB) *storage.Storage {
	t.Helper()

	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "wowsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// Guild inserts a guild.
func Guild(t testing.TB, store *storage.Storage, region, server, name string) storage.Guild {
	t.Helper()

	g := storage.Guild{Region: region, Server: server, Name: name}
	require.NoError(t, store.SaveGuild(context.Background(), &g))
	return g
}

// RemoteSystem inserts a Discord remote system for the guild.
func RemoteSystem(t testing.TB, store *storage.Storage, guild storage.Guild, systemID int64, memberGroup string) storage.RemoteSystem {
	t.Helper()

	rs := storage.RemoteSystem{
		Guild:       guild,
		Type:        storage.RemoteSystemDiscord,
		SystemID:    systemID,
		NameOrLink:  "discord",
		MemberGroup: memberGroup,
		// 64 zero bytes, base64 encoded.
		HMACKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA==",
	}
	require.NoError(t, store.SaveRemoteSystem(context.Background(), &rs))
	return rs
}

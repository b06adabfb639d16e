package datastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type session struct {
	Region string `json:"region"`
	UserID int64  `json:"user_id"`
}

func newStore(t *testing.T, path string, clk *testclock.Clock) *DataStore {
	t.Helper()
	cfg := DefaultConfig(path)
	cfg.Clock = clk
	cfg.AutoSaveInterval = time.Minute
	ds, err := New(cfg)
	require.NoError(t, err)
	return ds
}

func TestPutGetTake(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	ds := newStore(t, "", clk)
	defer ds.Close()

	require.NoError(t, ds.Put("a", session{Region: "eu", UserID: 5}, time.Minute))

	var got session
	ok, err := ds.Get("a", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session{Region: "eu", UserID: 5}, got)

	ok, err = ds.Take("a", &got)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ds.Get("a", &got)
	require.NoError(t, err)
	assert.False(t, ok, "taken keys are gone")
}

func TestExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	ds := newStore(t, "", clk)
	defer ds.Close()

	require.NoError(t, ds.Put("short", 1, time.Second))
	require.NoError(t, ds.Put("long", 2, time.Hour))

	clk.Advance(time.Second)
	var v int
	ok, err := ds.Get("short", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ds.Get("long", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, ds.Sweep())
	assert.Zero(t, ds.Len())
}

func TestMaxEntries(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := DefaultConfig("")
	cfg.Clock = clk
	cfg.MaxEntries = 1
	ds, err := New(cfg)
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.Put("a", 1, time.Second))
	err = ds.Put("b", 2, time.Second)
	assert.True(t, errors.Is(err, errors.QuotaLimitExceeded))
	require.NoError(t, ds.Put("a", 3, time.Second), "overwriting is allowed")

	clk.Advance(time.Second)
	assert.NoError(t, ds.Put("b", 2, time.Second), "expired entries make room")
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "store.json")
	clk := testclock.NewClock(time.Unix(0, 0))

	ds := newStore(t, path, clk)
	require.NoError(t, ds.Put("keep", session{Region: "us", UserID: 9}, time.Hour))
	require.NoError(t, ds.Put("drop", session{}, time.Minute))
	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close(), "second close is a no-op")
	assert.Error(t, ds.Put("late", 1, time.Minute))

	clk.Advance(2 * time.Minute)
	reopened := newStore(t, path, clk)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len(), "expired entries are dropped on load")
	var got session
	ok, err := reopened.Get("keep", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session{Region: "us", UserID: 9}, got)
}

func TestAutoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	clk := testclock.NewClock(time.Unix(0, 0))
	ds := newStore(t, path, clk)
	defer ds.Close()

	require.NoError(t, ds.Put("a", 1, time.Hour))
	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

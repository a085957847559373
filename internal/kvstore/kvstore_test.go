package kvstore

import (
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testId            = "0"
	testPrefix        = "TS"
	testMetadata      = []byte("TEST")
	testNumLogEntries = 10
)

type testRegistry struct {
	t       *testing.T
	replays map[string]*testReplay
}

func (*testRegistry) Prefix() string {
	return testPrefix
}

func (r *testRegistry) NewReplay(id string) ReplayHandler {
	rh := &testReplay{t: r.t}
	r.replays[id] = rh
	return rh
}

type testReplay struct {
	t        *testing.T
	metadata []byte
	entries  []int
	done     bool
}

func (r *testReplay) Metadata(data []byte) error {
	r.metadata = append([]byte(nil), data...)
	return nil
}

func (r *testReplay) Entry(t uint32, data []byte) error {
	val, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	assert.EqualValues(r.t, t, val)

	r.entries = append(r.entries, val)
	return nil
}

func (r *testReplay) Done() error {
	r.done = true
	return nil
}

func logEntries(t *testing.T, ledger *Ledger) {
	for i := 0; i < testNumLogEntries; i++ {
		require.NoError(t, ledger.Log(uint32(i), []byte(fmt.Sprintf("%d", i))))
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testing.db")

	store, err := Open(path, false)
	require.NoError(t, err)

	registry := &testRegistry{t: t, replays: map[string]*testReplay{}}
	store.Register([]Registry{registry})

	// Create a new key
	ledger, err := store.NewKey(store.MakeKey(registry, testId), testMetadata)
	require.NoError(t, err)
	logEntries(t, ledger)
	require.NoError(t, ledger.Close())

	_, err = store.NewKey(store.MakeKey(registry, testId), testMetadata)
	require.ErrorIs(t, err, ErrKeyExists)

	// Open an existing key
	ledger, err = store.OpenKey(store.MakeKey(registry, testId))
	require.NoError(t, err)
	logEntries(t, ledger)
	require.NoError(t, ledger.Close())
	require.Error(t, ledger.Log(0, nil))

	// A key outside the registry prefix is not replayed
	_, err = store.NewKey("XX1", nil)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	// Reopen and replay
	store, err = Open(path, false)
	require.NoError(t, err)
	defer store.Close()

	store.Register([]Registry{registry})
	require.NoError(t, store.Replay())

	require.Len(t, registry.replays, 1)
	rh := registry.replays[testId]
	require.NotNil(t, rh)
	assert.Equal(t, testMetadata, rh.metadata)
	assert.Len(t, rh.entries, 2*testNumLogEntries)
	assert.True(t, rh.done)
}

func TestStoreInMemory(t *testing.T) {
	store, err := Open("", false)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.OpenKey("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, store.DeleteKey("missing"), ErrKeyNotFound)

	registry := &testRegistry{t: t, replays: map[string]*testReplay{}}
	store.Register([]Registry{registry})

	for _, id := range []string{"1", "2", "3"} {
		_, err := store.NewKey(store.MakeKey(registry, id), []byte(id))
		require.NoError(t, err)
	}
	require.NoError(t, store.DeleteKey(store.MakeKey(registry, "2")))

	require.NoError(t, store.Replay())
	assert.Len(t, registry.replays, 2)
	assert.Contains(t, registry.replays, "1")
	assert.Contains(t, registry.replays, "3")
	assert.Equal(t, []byte("3"), registry.replays["3"].metadata)
}

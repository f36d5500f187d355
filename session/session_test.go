package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thavlik/molsuite/pocket"
)

func samplePockets(t *testing.T) *pocket.Pockets {
	p, err := pocket.NewPockets([]pocket.Pocket{
		{Name: "pocket1", Rank: 1, Score: 12.5},
		{Name: "pocket2", Rank: 2, Score: 7.25},
	})
	require.NoError(t, err)
	return p
}

func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	id := NewID()

	state, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.HasPockets())

	pockets := samplePockets(t)
	sel, err := pockets.Select("pocket2", "/data/2zy1.pdb")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, id, &State{
		Pockets:     pockets,
		ProteinPath: "/data/2zy1.pdb",
		ProteinFile: "3b9c7f0e-1d2a-4f5e-9a8b-7c6d5e4f3a2b",
		ProteinName: "2zy1.pdb",
		Selection:   sel,
	}))

	state, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, state.HasPockets())
	assert.Equal(t, []string{"pocket1", "pocket2"}, state.Pockets.Keys())
	assert.Equal(t, "/data/2zy1.pdb", state.ProteinPath)
	assert.Equal(t, "3b9c7f0e-1d2a-4f5e-9a8b-7c6d5e4f3a2b", state.ProteinFile)
	assert.Equal(t, "2zy1.pdb", state.ProteinName)
	require.NotNil(t, state.Selection)
	assert.Equal(t, "pocket2", state.Selection.Pocket.Name)
	assert.False(t, state.UpdatedAt.IsZero())

	require.NoError(t, store.Clear(ctx, id))
	state, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.HasPockets())

	assert.Error(t, store.Put(ctx, id, nil))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", &State{Pockets: samplePockets(t)}))
	require.NoError(t, store.Put(ctx, "b", &State{ProteinPath: "/p.pdb"}))

	now = now.Add(2 * time.Minute)
	state, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, state.HasPockets())
	assert.Equal(t, 1, store.Prune())
	assert.Equal(t, 0, store.Prune())
}

func TestMemoryStorePrunesIdleSessions(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	for i := 0; i < 10000; i++ {
		require.NoError(t, store.Put(ctx, NewID(), &State{ProteinPath: "/p.pdb"}))
	}
	now = now.Add(time.Hour)
	require.NoError(t, store.Put(ctx, "fresh", &State{ProteinPath: "/p.pdb"}))
	assert.Equal(t, 10001, store.Len())
	assert.Equal(t, 10000, store.Prune())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStorePruneEvery(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.PruneEvery(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.NoError(t, store.Put(ctx, "a", &State{ProteinPath: "/p.pdb"}))
	assert.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PruneEvery did not return")
	}
}

func TestMemoryStoreCopiesState(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	state := &State{ProteinPath: "/a.pdb"}
	require.NoError(t, store.Put(ctx, "x", state))
	state.ProteinPath = "/b.pdb"
	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "/a.pdb", got.ProteinPath)
}

func TestFromRequest(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/w/pocket", nil)
	id := FromRequest(w, r)
	require.NotEmpty(t, id)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/w/pocket", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	assert.Equal(t, id, FromRequest(w, r))
	assert.Empty(t, w.Result().Cookies())

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/w/pocket", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "../../etc"})
	assert.NotEqual(t, "../../etc", FromRequest(w, r))
}

func TestRedisStore(t *testing.T) {
	addr, ok := os.LookupEnv("REDIS_URI")
	if !ok {
		t.Skip("REDIS_URI not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping().Err())
	testStore(t, NewRedisStore(client, time.Minute))
}

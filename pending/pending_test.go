package pending

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillLocalSuccess(t *testing.T) {
	r := NewRegistry(nil, "", 0)
	id := uuid.New().String()
	req := r.Register(id)
	assert.Equal(t, 1, r.Len())
	require.NoError(t, r.FulfillSuccess(id, []byte("name,rank\n")))
	data, err := r.Wait(context.Background(), id, req)
	require.NoError(t, err)
	assert.Equal(t, "name,rank\n", string(data))
	assert.Equal(t, 0, r.Len())
}

func TestFulfillLocalError(t *testing.T) {
	r := NewRegistry(nil, "", 0)
	id := uuid.New().String()
	req := r.Register(id)
	require.NoError(t, r.FulfillError(id, "prank exited with status 1"))
	_, err := r.Wait(context.Background(), id, req)
	require.Error(t, err)
	assert.Equal(t, "prank exited with status 1", err.Error())
}

func TestUnknownCorrelationID(t *testing.T) {
	r := NewRegistry(nil, "", 0)
	assert.ErrorIs(t, r.FulfillSuccess("missing", nil), ErrRequestNotFound)
	assert.ErrorIs(t, r.FulfillError("missing", "x"), ErrRequestNotFound)
}

func TestWaitContextDone(t *testing.T) {
	r := NewRegistry(nil, "", 0)
	id := uuid.New().String()
	req := r.Register(id)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx, id, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.FulfillSuccess(id, []byte("late")), ErrRequestNotFound)
}

func TestRemoteFanOut(t *testing.T) {
	redisURI, ok := os.LookupEnv("REDIS_URI")
	if !ok {
		t.Skip("REDIS_URI not set")
	}
	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: redisURI})
	}
	channel := "molsuite-test-" + uuid.New().String()[:8]
	owner := NewRegistry(newClient(), channel, time.Minute)
	other := NewRegistry(newClient(), channel, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, owner.Listen(ctx))

	id := uuid.New().String()
	req := owner.Register(id)
	require.NoError(t, other.FulfillSuccess(id, []byte("remote result")))

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	data, err := owner.Wait(waitCtx, id, req)
	require.NoError(t, err)
	assert.Equal(t, "remote result", string(data))
}

package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"gallery-pipeline/internal/models"
	"gallery-pipeline/internal/tracker"
)

// setupRedis spins up a Redis container and returns a connected tracker.
func setupRedis(t *testing.T, ttl time.Duration) *tracker.RedisTracker {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	tr, err := tracker.NewRedisTracker("redis://"+host+":"+port.Port(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRedisTracker_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	tr := setupRedis(t, time.Minute)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, tr.Ping(ctx))

	status, err := tr.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, status)

	require.NoError(t, tr.Start(ctx, id))
	assert.ErrorIs(t, tr.Start(ctx, id), tracker.ErrExists)

	status, err = tr.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)

	require.NoError(t, tr.Finish(ctx, id, models.StatusCompleted))
	assert.ErrorIs(t, tr.Finish(ctx, id, models.StatusFailed), tracker.ErrTerminal)

	status, err = tr.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status)
}

func TestRedisTracker_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	tr := setupRedis(t, time.Second)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, tr.Start(ctx, id))
	time.Sleep(1500 * time.Millisecond)

	status, err := tr.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, status)
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "upload:status:abc", tracker.StatusKey("abc"))
}

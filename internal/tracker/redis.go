package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gallery-pipeline/internal/models"
)

// finishScript sets the terminal status unless one is already stored.
// Returns 1 on write, 0 when the job was already finished.
var finishScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == "completed" or cur == "failed" then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RedisTracker stores job states in Redis so they are shared between
// replicas and survive a restart of the API process.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(redisURL string, ttl time.Duration) (*RedisTracker, error) {
	const op = "tracker.NewRedisTracker"

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &RedisTracker{client: redis.NewClient(opts), ttl: ttl}, nil
}

func StatusKey(id string) string {
	return "upload:status:" + id
}

func (r *RedisTracker) Start(ctx context.Context, id string) error {
	const op = "tracker.Start"

	ok, err := r.client.SetNX(ctx, StatusKey(id), string(models.StatusProcessing), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisTracker) Finish(ctx context.Context, id string, status models.JobStatus) error {
	const op = "tracker.Finish"

	if err := checkTerminal(status); err != nil {
		return err
	}
	written, err := finishScript.Run(ctx, r.client, []string{StatusKey(id)}, string(status), r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if written == 0 {
		return ErrTerminal
	}
	return nil
}

func (r *RedisTracker) Status(ctx context.Context, id string) (models.JobStatus, error) {
	const op = "tracker.Status"

	val, err := r.client.Get(ctx, StatusKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return models.StatusUnknown, nil
	}
	if err != nil {
		return models.StatusUnknown, fmt.Errorf("%s: %w", op, err)
	}
	status := models.JobStatus(val)
	if !status.Valid() {
		return models.StatusUnknown, nil
	}
	return status, nil
}

func (r *RedisTracker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTracker) Close() error {
	return r.client.Close()
}

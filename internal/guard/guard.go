package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	apperrors "catalogsync/pkg/errors"
)

// Guard grants at most one holder per key at a time.
type Guard interface {
	// Acquire returns ErrConflict when key is already held.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func busy(key string) error {
	return &apperrors.ErrConflict{Message: fmt.Sprintf("%s already running", key)}
}

// Local is an in-process Guard.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: map[string]struct{}{}}
}

func (g *Local) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, busy(key)
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently held in this process.
func (g *Local) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis extends Local with a SET NX lock so that the api and worker processes
// exclude each other as well.
type Redis struct {
	local  *Local
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	prefix string
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{
		local:  NewLocal(),
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		prefix: "catalogsync:lock:",
	}
}

func (g *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	releaseLocal, err := g.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.prefix+key, token, g.ttl).Result()
	if err != nil {
		releaseLocal()
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		releaseLocal()
		return nil, busy(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = g.script.Run(ctx, g.client, []string{g.prefix + key}, token).Err()
			releaseLocal()
		})
	}, nil
}

// NewFromURL returns a Redis guard when url is set, otherwise a Local one.
func NewFromURL(url string, ttl time.Duration) (Guard, error) {
	if url == "" {
		return NewLocal(), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), ttl), nil
}

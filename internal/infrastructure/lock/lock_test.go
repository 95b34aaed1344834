package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
)

var (
	_ port.InstanceLocker = (*MemoryLocker)(nil)
	_ port.InstanceLocker = (*RedisLocker)(nil)
)

// exerciseMutualExclusion checks that holders of one key never overlap
func exerciseMutualExclusion(t *testing.T, locker port.InstanceLocker) {
	t.Helper()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(ctx, "inst-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "lock holders overlapped")
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	exerciseMutualExclusion(t, locker)
	assert.Equal(t, 0, locker.held(), "slots should be reclaimed")
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	releaseA, err := locker.Lock(ctx, "inst-a")
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release, err := locker.Lock(ctx, "inst-b")
		if err == nil {
			release()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key should not block")
	}
}

func TestMemoryLocker_ContextCancel(t *testing.T) {
	locker := NewMemoryLocker()
	release, err := locker.Lock(context.Background(), "inst-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "inst-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	release()
	assert.Equal(t, 0, locker.held())
}

func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + mapped.Port()})
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLocker(t *testing.T) {
	client := setupRedisContainer(t)
	locker := NewRedisLockerFromClient(client, RedisConfig{
		TTL:           time.Second,
		RetryInterval: 5 * time.Millisecond,
		WaitTimeout:   200 * time.Millisecond,
	}, nil)
	defer locker.Close()

	t.Run("mutual exclusion", func(t *testing.T) {
		l := NewRedisLockerFromClient(client, RedisConfig{TTL: 5 * time.Second, RetryInterval: time.Millisecond}, nil)
		exerciseMutualExclusion(t, l)
	})

	t.Run("wait timeout", func(t *testing.T) {
		release, err := locker.Lock(context.Background(), "inst-2")
		require.NoError(t, err)
		defer release()

		_, err = locker.Lock(context.Background(), "inst-2")
		assert.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("stale release does not free a new holder", func(t *testing.T) {
		release, err := locker.Lock(context.Background(), "inst-3")
		require.NoError(t, err)

		// simulate TTL expiry and another node taking over
		require.NoError(t, client.Set(context.Background(), "lifecycle:lock:inst-3", "other-holder", time.Minute).Err())
		release()

		val, err := client.Get(context.Background(), "lifecycle:lock:inst-3").Result()
		require.NoError(t, err)
		assert.Equal(t, "other-holder", val)
	})
}

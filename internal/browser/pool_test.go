package browser_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/browser"
)

func waitForWaiters(t *testing.T, pool *browser.Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, _, waiting := pool.Stats()
		return waiting == n
	}, time.Second, time.Millisecond)
}

func TestPoolReusesIdlePage(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 2, MaxIdle: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	p1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(p1)

	require.Eventually(t, func() bool {
		_, idle, _ := pool.Stats()
		return idle == 1
	}, time.Second, time.Millisecond)

	p2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Len(t, src.opened, 1)
	assert.EqualValues(t, 1, p1.(*fakePage).resets)
}

func TestPoolHandsOffInFIFOOrder(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 1, MaxIdle: 1, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	acquire := func(name string) {
		defer wg.Done()
		p, err := pool.Acquire(ctx)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		pool.Release(p)
	}

	wg.Add(1)
	go acquire("first")
	waitForWaiters(t, pool, 1)
	wg.Add(1)
	go acquire("second")
	waitForWaiters(t, pool, 2)

	pool.Release(held)
	wg.Wait()

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Len(t, src.opened, 1, "waiters receive the released page instead of a new one")
}

func TestPoolAcquireTimeout(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 1, AcquireTimeout: 30 * time.Millisecond})

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, browser.ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, _, waiting := pool.Stats()
	assert.Zero(t, waiting)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 1, AcquireTimeout: time.Minute})

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolDrainRejectsWaiters(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 1, MaxIdle: 1, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx)
		errc <- err
	}()
	waitForWaiters(t, pool, 1)

	pool.Drain()
	assert.ErrorIs(t, <-errc, browser.ErrPoolClosed)

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, browser.ErrPoolClosed)

	// busy pages are closed once they come back
	pool.Release(held)
	require.Eventually(t, held.(*fakePage).isClosed, time.Second, time.Millisecond)
}

func TestPoolCapsIdlePages(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 3, MaxIdle: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	var pages []browser.Page
	for i := 0; i < 3; i++ {
		p, err := pool.Acquire(ctx)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	for _, p := range pages {
		pool.Release(p)
	}

	require.Eventually(t, func() bool {
		total, idle, _ := pool.Stats()
		return total == 1 && idle == 1
	}, time.Second, time.Millisecond)

	closed := 0
	for _, p := range src.opened {
		if p.isClosed() {
			closed++
		}
	}
	assert.Equal(t, 2, closed)
}

func TestPoolDiscardsPagesThatFailReset(t *testing.T) {
	src := &pageSource{}
	pool := browser.NewPool(src.open, browser.PoolOptions{MaxPages: 1, MaxIdle: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	p, err := pool.Acquire(ctx)
	require.NoError(t, err)
	p.(*fakePage).resetErr = assert.AnError
	pool.Release(p)

	require.Eventually(t, p.(*fakePage).isClosed, time.Second, time.Millisecond)

	next, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, p, next)
}

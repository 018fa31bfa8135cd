package browser

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/lance13c/vrt/internal/logging"
)

const resetTimeout = 5 * time.Second

// PoolOptions bounds a page pool
type PoolOptions struct {
	MaxPages       int
	MaxIdle        int
	AcquireTimeout time.Duration
}

// waiter is a blocked Acquire call. done is guarded by the pool mutex and set
// once a value has been sent on ch.
type waiter struct {
	ch       chan handoff
	deadline time.Time
	done     bool
}

type handoff struct {
	page Page
	err  error
}

// Pool hands out reusable pages of one browser
type Pool struct {
	mu      sync.Mutex
	newPage func(context.Context) (Page, error)
	opts    PoolOptions

	idle    []Page
	total   int // live pages, busy or idle, plus pages being created
	waiters *list.List
	closed  bool
}

// NewPool creates a pool that opens pages with newPage
func NewPool(newPage func(context.Context) (Page, error), opts PoolOptions) *Pool {
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.MaxIdle < 0 {
		opts.MaxIdle = 0
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	return &Pool{
		newPage: newPage,
		opts:    opts,
		waiters: list.New(),
	}
}

// Acquire returns an idle page, opens a new one while under MaxPages, or
// waits in FIFO order for a released page
func (p *Pool) Acquire(ctx context.Context) (Page, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		page := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return page, nil
	}

	if p.total < p.opts.MaxPages {
		p.total++
		p.mu.Unlock()
		return p.open(ctx)
	}

	w := &waiter{
		ch:       make(chan handoff, 1),
		deadline: time.Now().Add(p.opts.AcquireTimeout),
	}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case h := <-w.ch:
		return h.page, h.err
	case <-timer.C:
		return p.abandon(w, elem, ErrAcquireTimeout)
	case <-ctx.Done():
		return p.abandon(w, elem, ctx.Err())
	}
}

// abandon removes a waiter that gave up, unless a page was already handed to it
func (p *Pool) abandon(w *waiter, elem *list.Element, cause error) (Page, error) {
	p.mu.Lock()
	if w.done {
		p.mu.Unlock()
		h := <-w.ch
		return h.page, h.err
	}
	w.done = true
	p.waiters.Remove(elem)
	p.mu.Unlock()
	return nil, cause
}

func (p *Pool) open(ctx context.Context) (Page, error) {
	page, err := p.newPage(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	return page, nil
}

// Release resets page in the background and then hands it to the first
// waiter, keeps it idle, or closes it when the idle set is full
func (p *Pool) Release(page Page) {
	if page == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		err := page.Reset(ctx)
		cancel()

		if err != nil {
			logging.Warn("page reset failed, discarding page: %v", err)
			page.Close()
			p.replace()
			return
		}
		p.put(page)
	}()
}

func (p *Pool) put(page Page) {
	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		page.Close()
		return
	}

	if w := p.nextWaiter(); w != nil {
		w.ch <- handoff{page: page}
		p.mu.Unlock()
		return
	}

	if len(p.idle) < p.opts.MaxIdle {
		p.idle = append(p.idle, page)
		p.mu.Unlock()
		return
	}

	p.total--
	p.mu.Unlock()
	page.Close()
}

// replace accounts for a discarded page and opens a fresh one for the first
// waiter, if any
func (p *Pool) replace() {
	p.mu.Lock()
	p.total--
	if p.closed {
		p.mu.Unlock()
		return
	}
	w := p.nextWaiter()
	if w == nil {
		p.mu.Unlock()
		return
	}
	p.total++
	p.mu.Unlock()

	ctx, cancel := context.WithDeadline(context.Background(), w.deadline)
	defer cancel()
	page, err := p.open(ctx)
	w.ch <- handoff{page: page, err: err}
}

// nextWaiter pops the first waiter whose deadline has not passed. Expired
// waiters are failed with ErrAcquireTimeout. Caller holds p.mu.
func (p *Pool) nextWaiter() *waiter {
	now := time.Now()
	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := p.waiters.Remove(e).(*waiter)
		w.done = true
		if now.After(w.deadline) {
			w.ch <- handoff{err: ErrAcquireTimeout}
			continue
		}
		return w
	}
	return nil
}

// Drain rejects all waiters with ErrPoolClosed and closes idle pages. Pages
// still in use are closed when released.
func (p *Pool) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := p.waiters.Remove(e).(*waiter)
		w.done = true
		w.ch <- handoff{err: ErrPoolClosed}
	}

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()

	for _, page := range idle {
		if err := page.Close(); err != nil {
			logging.Debug("closing idle page: %v", err)
		}
	}
}

// Stats reports live and idle page counts and the number of waiters
func (p *Pool) Stats() (total, idle, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.idle), p.waiters.Len()
}

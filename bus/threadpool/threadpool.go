/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package threadpool runs user completion callbacks off the Listener
// goroutines, with a bounded worker count and a backpressure signal callers
// translate into a pacing delay.
package threadpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	libatm "github.com/nabbar/golib/atomic"
)

// Config configures worker sizing and idle lifetime.
type Config struct {
	MaxThreads int
	MaxDelay   time.Duration
}

// Task is a unit of work submitted to the pool: Fn runs on a worker
// goroutine, Cleanup (if non-nil) always runs afterward, including when the
// pool is shut down before Fn can run.
type Task struct {
	Fn      func()
	Cleanup func()
}

// Pool is a lazily-spawned worker pool bounded by a weighted semaphore.
// Idle workers exit after MaxDelay without new work; Submit never blocks
// waiting for a worker slot — when saturated it queues the task and reports
// backpressure instead.
type Pool struct {
	cfg     Config
	sem     *semaphore.Weighted
	queue   chan Task
	active  libatm.Value[int64]
	queued  libatm.Value[int64]
	closing libatm.Value[bool]
	wg      sync.WaitGroup
}

// New returns a Pool ready to accept Submit calls.
func New(cfg Config) *Pool {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 1
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 100 * time.Millisecond
	}

	p := &Pool{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxThreads)),
		queue:  make(chan Task, cfg.MaxThreads*4),
		active: libatm.NewValue[int64](),
		queued: libatm.NewValue[int64](),
	}
	p.closing = libatm.NewValue[bool]()

	return p
}

// Submit enqueues a task and returns a non-negative backpressure value
// whose magnitude grows with queue depth and worker saturation. Submit
// never blocks: if every worker slot is busy and the internal buffer is
// full, the task still runs — eventually — on a transient goroutine
// spawned above MaxThreads, because a dropped user callback
// would silently lose a BoxedMessage's completion.
func (p *Pool) Submit(t Task) (backpressure int) {
	if p.closing.Load() {
		if t.Cleanup != nil {
			t.Cleanup()
		}
		return 0
	}

	addDelta(p.queued, 1)
	bp := p.backpressure()

	p.spawnIfRoom()

	select {
	case p.queue <- t:
	default:
		// buffer saturated: run it on a fresh transient goroutine rather
		// than dropping the completion callback.
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer addDelta(p.queued, -1)
			runTask(t)
		}()
		return bp
	}

	return bp
}

func addDelta(v libatm.Value[int64], delta int64) int64 {
	for {
		cur := v.Load()
		next := cur + delta
		if v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (p *Pool) backpressure() int {
	q := int(p.queued.Load())
	a := int(p.active.Load())
	bp := q * 8
	if a >= p.cfg.MaxThreads {
		bp += 64
	}
	return bp
}

func (p *Pool) spawnIfRoom() {
	if !p.sem.TryAcquire(1) {
		return
	}

	addDelta(p.active, 1)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer addDelta(p.active, -1)

		idle := time.NewTimer(p.cfg.MaxDelay)
		defer idle.Stop()

		for {
			select {
			case t, ok := <-p.queue:
				if !ok {
					return
				}
				addDelta(p.queued, -1)
				runTask(t)

				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(p.cfg.MaxDelay)

			case <-idle.C:
				return
			}
		}
	}()
}

func runTask(t Task) {
	if t.Fn != nil {
		t.Fn()
	}
	if t.Cleanup != nil {
		t.Cleanup()
	}
}

// Shutdown stops accepting new work. When force is false it drains any
// task already queued before returning; when true it abandons queued tasks
// (running Cleanup for each so callers still observe completion).
func (p *Pool) Shutdown(ctx context.Context, force bool) error {
	p.closing.Store(true)

	if force {
		close(p.queue)
		for t := range drain(p.queue) {
			if t.Cleanup != nil {
				t.Cleanup()
			}
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drain(ch chan Task) chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		for t := range ch {
			out <- t
		}
	}()
	return out
}

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

package threadpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/kinetic-bus/bus/threadpool"
)

func TestThreadPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bus/threadpool suite")
}

var _ = Describe("Pool", func() {
	It("runs every submitted task exactly once", func() {
		p := threadpool.New(threadpool.Config{MaxThreads: 4, MaxDelay: 50 * time.Millisecond})

		var wg sync.WaitGroup
		var ran int64
		wg.Add(20)

		for i := 0; i < 20; i++ {
			p.Submit(threadpool.Task{
				Fn: func() {
					atomic.AddInt64(&ran, 1)
					wg.Done()
				},
			})
		}

		wg.Wait()
		Expect(atomic.LoadInt64(&ran)).To(Equal(int64(20)))

		Expect(p.Shutdown(context.Background(), false)).To(Succeed())
	})

	It("returns non-decreasing backpressure as queue depth grows", func() {
		p := threadpool.New(threadpool.Config{MaxThreads: 1, MaxDelay: time.Second})

		block := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)

		bp0 := p.Submit(threadpool.Task{Fn: func() {
			wg.Done()
			<-block
		}})

		bp1 := p.Submit(threadpool.Task{Fn: func() {}})
		bp2 := p.Submit(threadpool.Task{Fn: func() {}})

		Expect(bp1).To(BeNumerically(">=", bp0))
		Expect(bp2).To(BeNumerically(">=", bp1))

		close(block)
		wg.Wait()

		Expect(p.Shutdown(context.Background(), true)).To(Succeed())
	})

	It("runs Cleanup for abandoned tasks on a forced shutdown", func() {
		p := threadpool.New(threadpool.Config{MaxThreads: 1, MaxDelay: time.Second})

		block := make(chan struct{})
		started := make(chan struct{})
		p.Submit(threadpool.Task{Fn: func() {
			close(started)
			<-block
		}})
		<-started

		cleaned := make(chan struct{}, 8)
		for i := 0; i < 5; i++ {
			p.Submit(threadpool.Task{Cleanup: func() { cleaned <- struct{}{} }})
		}

		close(block)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(p.Shutdown(ctx, true)).To(Succeed())
		Expect(cleaned).To(HaveLen(5))
	})

	It("rejects new work once closing, running Cleanup immediately", func() {
		p := threadpool.New(threadpool.Config{MaxThreads: 1, MaxDelay: time.Second})
		Expect(p.Shutdown(context.Background(), false)).To(Succeed())

		done := make(chan struct{})
		p.Submit(threadpool.Task{Cleanup: func() { close(done) }})

		select {
		case <-done:
		case <-time.After(time.Second):
			Fail("cleanup was not invoked for task submitted after shutdown")
		}
	})
})

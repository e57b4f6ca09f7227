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

// Package listener is the I/O reactor at the heart of the bus: each
// Listener is a single goroutine owning a fixed subset of registered
// sockets, driving their read state machines, matching decoded responses
// to outstanding requests, and handing user callbacks to the thread-pool.
package listener

import (
	"container/heap"
	"context"
	"net"
	"sync"
	"time"

	"github.com/nabbar/kinetic-bus/bus/buserr"
	"github.com/nabbar/kinetic-bus/bus/codec"
	"github.com/nabbar/kinetic-bus/bus/connection"
	"github.com/nabbar/kinetic-bus/bus/message"
	"github.com/nabbar/kinetic-bus/bus/threadpool"
	"github.com/nabbar/kinetic-bus/bus/tlsadapter"

	"github.com/nabbar/golib/logger"
)

// readChunk is the buffer size used by each per-socket reader goroutine.
// It bounds neither the protocol frame size nor nextRead — connection.SocketInfo.Feed
// accepts and reassembles arbitrary fragment sizes.
const readChunk = 32 * 1024

// UnexpectedFunc is invoked when a decoded message cannot be matched to an
// outstanding request, when Unpack fails and its seqID matches no
// outstanding request, and when a socket read fails (msg is then nil). err
// is nil for a genuinely unsolicited message.
type UnexpectedFunc func(fd int, msg interface{}, err error)

type cmdKind uint8

const (
	cmdAddSocket cmdKind = iota
	cmdRemoveSocket
	cmdExpect
	cmdShutdown
)

type command struct {
	kind     cmdKind
	fd       int
	conn     net.Conn
	session  *tlsadapter.Session
	udata    interface{}
	boxed    *message.BoxedMessage
	keepOpen bool
	done     chan outcome
}

type outcome struct {
	udata interface{}
	err   error
}

type socketState struct {
	fd      int
	conn    net.Conn
	session *tlsadapter.Session
	udata   interface{}
	read    *connection.SocketInfo
	stop    chan struct{}
}

type expectKey struct {
	fd    int
	seqID uint64
}

type expectEntry struct {
	key      expectKey
	deadline time.Time
	boxed    *message.BoxedMessage
	valid    bool
	index    int
}

type readEvent struct {
	fd   int
	data []byte
	err  error
}

// Listener owns a private goroutine, its set of sockets, and its pending
// expectations. All fields below are touched only from run(); every other
// method communicates with it over cmdCh or readCh.
type Listener struct {
	id      int
	codec   codec.Codec
	adapter *tlsadapter.Adapter
	pool    *threadpool.Pool
	log     logger.Logger
	onUnexp UnexpectedFunc

	cmdCh  chan command
	readCh chan readEvent
	doneCh chan struct{}

	sockets  map[int]*socketState
	expect   map[expectKey]*expectEntry
	deadline expectHeap

	closing bool
}

// New returns a Listener ready for Start.
func New(id int, cdc codec.Codec, adapter *tlsadapter.Adapter, pool *threadpool.Pool, log logger.Logger, onUnexpected UnexpectedFunc) *Listener {
	return &Listener{
		id:      id,
		codec:   cdc,
		adapter: adapter,
		pool:    pool,
		log:     log,
		onUnexp: onUnexpected,
		cmdCh:   make(chan command, 16),
		readCh:  make(chan readEvent, 64),
		doneCh:  make(chan struct{}),
		sockets: make(map[int]*socketState),
		expect:  make(map[expectKey]*expectEntry),
	}
}

// Start launches the Listener's goroutine. Callers must not invoke Start
// more than once.
func (l *Listener) Start() {
	go l.run()
}

// AddSocket registers conn/session under fd with this Listener and begins
// reading from it.
func (l *Listener) AddSocket(ctx context.Context, fd int, conn net.Conn, session *tlsadapter.Session, udata interface{}) error {
	return l.send(ctx, command{kind: cmdAddSocket, fd: fd, conn: conn, session: session, udata: udata})
}

// RemoveSocket stops reading fd and releases it; keepOpen controls whether
// the underlying connection is closed or merely forgotten.
func (l *Listener) RemoveSocket(ctx context.Context, fd int, keepOpen bool) (interface{}, error) {
	o, err := l.sendOutcome(ctx, command{kind: cmdRemoveSocket, fd: fd, keepOpen: keepOpen})
	return o, err
}

// ExpectResponse registers boxed as awaiting a response on fd, matched by
// (fd, boxed.SeqID).
func (l *Listener) ExpectResponse(ctx context.Context, fd int, boxed *message.BoxedMessage) error {
	return l.send(ctx, command{kind: cmdExpect, fd: fd, boxed: boxed})
}

// Shutdown drains pending work, completes every outstanding expectation
// with buserr.Shutdown, and stops the goroutine. It is idempotent.
func (l *Listener) Shutdown(ctx context.Context) error {
	select {
	case <-l.doneCh:
		return nil
	default:
	}

	cmd := command{kind: cmdShutdown, done: make(chan outcome, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
	case <-l.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (l *Listener) send(ctx context.Context, cmd command) error {
	_, err := l.sendOutcome(ctx, cmd)
	return err
}

func (l *Listener) sendOutcome(ctx context.Context, cmd command) (interface{}, error) {
	cmd.done = make(chan outcome, 1)

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.doneCh:
		return nil, buserr.Error(buserr.Shutdown)
	}

	select {
	case o := <-cmd.done:
		return o.udata, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) run() {
	defer close(l.doneCh)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.resetTimer(timer)

		// pending commands are applied before any read event or timeout
		select {
		case cmd := <-l.cmdCh:
			if l.handleCommand(cmd) {
				return
			}
			continue
		default:
		}

		select {
		case cmd := <-l.cmdCh:
			stop := l.handleCommand(cmd)
			if stop {
				return
			}
		case ev := <-l.readCh:
			l.handleRead(ev)
		case <-timer.C:
			l.scanTimeouts()
		}
	}
}

func (l *Listener) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	d := time.Hour
	if l.deadline.Len() > 0 {
		if until := time.Until(l.deadline[0].deadline); until > 0 {
			d = until
		} else {
			d = time.Millisecond
		}
	}
	timer.Reset(d)
}

func (l *Listener) handleCommand(cmd command) (stop bool) {
	switch cmd.kind {
	case cmdAddSocket:
		if l.closing {
			cmd.done <- outcome{err: buserr.Error(buserr.Shutdown)}
			return false
		}
		l.addSocket(cmd)
		cmd.done <- outcome{}

	case cmdRemoveSocket:
		udata, err := l.removeSocket(cmd.fd, cmd.keepOpen)
		cmd.done <- outcome{udata: udata, err: err}

	case cmdExpect:
		if l.closing {
			cmd.done <- outcome{err: buserr.Error(buserr.Shutdown)}
			return false
		}
		l.addExpectation(cmd.fd, cmd.boxed)
		cmd.done <- outcome{}

	case cmdShutdown:
		l.shutdown()
		cmd.done <- outcome{}
		return true
	}

	return false
}

func (l *Listener) addSocket(cmd command) {
	ss := &socketState{
		fd:      cmd.fd,
		conn:    cmd.conn,
		session: cmd.session,
		udata:   cmd.udata,
		read:    connection.NewSocketInfo(),
		stop:    make(chan struct{}),
	}
	l.sockets[cmd.fd] = ss
	go l.readLoop(ss)
}

func (l *Listener) readLoop(ss *socketState) {
	buf := make([]byte, readChunk)

	for {
		n, status, err := l.adapter.Read(ss.session, buf)

		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case l.readCh <- readEvent{fd: ss.fd, data: cp}:
			case <-ss.stop:
				return
			}
		}

		if err != nil {
			select {
			case l.readCh <- readEvent{fd: ss.fd, err: err}:
			case <-ss.stop:
			}
			return
		}

		if status == tlsadapter.WantRead && n == 0 {
			select {
			case <-ss.stop:
				return
			default:
			}
		}
	}
}

func (l *Listener) removeSocket(fd int, keepOpen bool) (interface{}, error) {
	ss, ok := l.sockets[fd]
	if !ok {
		return nil, buserr.Error(buserr.UnregisteredSocket)
	}

	close(ss.stop)
	delete(l.sockets, fd)
	l.completeSocketExpectations(fd, buserr.Error(buserr.Shutdown))

	if !keepOpen {
		_ = l.adapter.Disconnect(ss.session)
	}

	return ss.udata, nil
}

func (l *Listener) addExpectation(fd int, boxed *message.BoxedMessage) {
	e := &expectEntry{
		key:      expectKey{fd: fd, seqID: boxed.SeqID},
		deadline: boxed.Deadline,
		boxed:    boxed,
		valid:    true,
	}
	l.expect[e.key] = e
	heap.Push(&l.deadline, e)
}

func (l *Listener) handleRead(ev readEvent) {
	ss, ok := l.sockets[ev.fd]
	if !ok {
		return
	}

	if ev.err != nil {
		l.completeSocketExpectations(ev.fd, buserr.Error(buserr.RxFailure, ev.err))
		delete(l.sockets, ev.fd)
		close(ss.stop)
		_ = l.adapter.Disconnect(ss.session)
		if l.onUnexp != nil {
			l.onUnexp(ev.fd, nil, ev.err)
		}
		return
	}

	data := ev.data
	for len(data) > 0 {
		_, full, remainder := ss.read.Feed(data)
		if full != nil {
			l.dispatchFrame(ss, full)
		}
		if len(remainder) == len(data) {
			break
		}
		data = remainder
	}
}

func (l *Listener) dispatchFrame(ss *socketState, full []byte) {
	seqID, msg, err := l.codec.Unpack(ss.udata, full)
	if err != nil {
		key := expectKey{fd: ss.fd, seqID: seqID}
		if e, ok := l.expect[key]; ok && e.valid {
			e.valid = false
			delete(l.expect, key)
			boxed := e.boxed
			l.pool.Submit(threadpool.Task{Fn: func() {
				boxed.Complete(message.Result{Err: buserr.Error(buserr.BadResponse, err)})
			}})
			return
		}
		if l.onUnexp != nil {
			l.onUnexp(ss.fd, msg, err)
		} else if l.log != nil {
			l.log.Warning("listener %d: unpack failed on fd %d: %s", nil, l.id, ss.fd, err)
		}
		return
	}

	key := expectKey{fd: ss.fd, seqID: seqID}
	e, ok := l.expect[key]
	if !ok || !e.valid {
		if l.onUnexp != nil {
			l.onUnexp(ss.fd, msg, nil)
		} else if l.log != nil {
			l.log.Warning("listener %d: unsolicited message on fd %d seq %d", nil, l.id, ss.fd, seqID)
		}
		l.codec.Free(msg)
		return
	}

	e.valid = false
	delete(l.expect, key)

	boxed := e.boxed
	cdc := l.codec

	bp := l.pool.Submit(threadpool.Task{
		Fn: func() {
			boxed.Complete(message.Result{Msg: msg})
		},
		Cleanup: func() {
			cdc.Free(msg)
		},
	})

	if bp > 0 && l.log != nil {
		l.log.Debug("listener %d: thread-pool backpressure %d after dispatch", nil, l.id, bp)
	}
}

func (l *Listener) scanTimeouts() {
	now := time.Now()

	for l.deadline.Len() > 0 {
		top := l.deadline[0]
		if !top.valid {
			heap.Pop(&l.deadline)
			continue
		}
		if top.deadline.After(now) {
			break
		}

		heap.Pop(&l.deadline)
		delete(l.expect, top.key)

		boxed := top.boxed
		l.pool.Submit(threadpool.Task{
			Fn: func() {
				boxed.Complete(message.Result{Err: buserr.Error(buserr.Timeout)})
			},
		})
	}
}

func (l *Listener) completeSocketExpectations(fd int, err error) {
	for key, e := range l.expect {
		if key.fd != fd || !e.valid {
			continue
		}
		e.valid = false
		delete(l.expect, key)

		boxed := e.boxed
		l.pool.Submit(threadpool.Task{
			Fn: func() {
				boxed.Complete(message.Result{Err: err})
			},
		})
	}
}

// shutdown disconnects every owned socket and completes every outstanding
// expectation with buserr.Shutdown. It blocks until the thread-pool has
// finished with each completion task (its Cleanup has run), so a pool
// shutdown that follows (Bus.Close) finds none of them still queued.
func (l *Listener) shutdown() {
	l.closing = true

	for fd := range l.sockets {
		ss := l.sockets[fd]
		close(ss.stop)
		_ = l.adapter.Disconnect(ss.session)
		delete(l.sockets, fd)
	}

	var wg sync.WaitGroup

	for key, e := range l.expect {
		if !e.valid {
			continue
		}
		e.valid = false
		delete(l.expect, key)

		boxed := e.boxed
		wg.Add(1)
		l.pool.Submit(threadpool.Task{
			Fn: func() {
				boxed.Complete(message.Result{Err: buserr.Error(buserr.Shutdown)})
			},
			Cleanup: wg.Done,
		})
	}

	wg.Wait()
}

// expectHeap orders *expectEntry by deadline, tie-broken by the smaller
// seq_id, for container/heap.
type expectHeap []*expectEntry

func (h expectHeap) Len() int { return len(h) }

func (h expectHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].key.seqID < h[j].key.seqID
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h expectHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expectHeap) Push(x interface{}) {
	e := x.(*expectEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expectHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

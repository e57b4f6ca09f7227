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

// Package bus coordinates the socket registry, thread-pool, TLS adapter,
// and per-fd Listener goroutines into the single entry point a caller
// registers sockets and sends requests against.
package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/golib/ioutils/fileDescriptor"
	"github.com/nabbar/golib/ioutils/mapCloser"
	"github.com/nabbar/golib/logger"

	"github.com/nabbar/kinetic-bus/bus/buserr"
	"github.com/nabbar/kinetic-bus/bus/codec"
	"github.com/nabbar/kinetic-bus/bus/connection"
	"github.com/nabbar/kinetic-bus/bus/hashmap"
	"github.com/nabbar/kinetic-bus/bus/listener"
	"github.com/nabbar/kinetic-bus/bus/message"
	"github.com/nabbar/kinetic-bus/bus/sender"
	"github.com/nabbar/kinetic-bus/bus/threadpool"
	"github.com/nabbar/kinetic-bus/bus/tlsadapter"
)

// Kind selects whether a registered socket is used as-is or TLS-wrapped
// on registration.
type Kind = tlsadapter.Kind

const (
	Plain = tlsadapter.Plain
	TLS   = tlsadapter.TLS
)

// state is the bus's own monotonic lifecycle, independent from any single
// Listener's internal closing flag.
type state uint32

const (
	stateRunning state = iota
	stateShuttingDown
	stateHalted
)

// Request is the input to SendRequest: the wire bytes to write to FD,
// bound to SeqID for response matching, with an absolute Deadline and the
// Callback to invoke exactly once with the outcome.
type Request struct {
	FD       int
	SeqID    uint64
	Bytes    []byte
	Deadline time.Time
	Callback func(message.Result)
	UData    interface{}
}

// Option configures optional Bus behavior at construction time.
type Option func(*Bus)

// WithUnexpectedHandler installs the callback invoked for a decoded
// message that cannot be matched to an outstanding request, for an Unpack
// failure whose seqID matches no outstanding request, and for a failed
// socket read.
func WithUnexpectedHandler(fn listener.UnexpectedFunc) Option {
	return func(b *Bus) { b.onUnexpected = fn }
}

// WithKeepSocketOpenOnRelease configures ReleaseSocket to forget a fd
// without closing its underlying connection, leaving that to the caller.
func WithKeepSocketOpenOnRelease(keep bool) Option {
	return func(b *Bus) { b.keepOpenOnRelease = keep }
}

// Bus is the coordinator described by the core's component design: a
// shared socket registry, a shared thread-pool, a TLS adapter, and a
// fixed set of Listener goroutines, one of which owns any given fd.
type Bus struct {
	cfg   Config
	codec codec.Codec
	log   logger.Logger

	pool      *threadpool.Pool
	adapter   *tlsadapter.Adapter
	listeners []*listener.Listener
	closer    mapCloser.Closer

	fdLock sync.Mutex
	fdSet  *hashmap.Map[*connection.ConnectionInfo]

	onUnexpected      listener.UnexpectedFunc
	keepOpenOnRelease bool

	st atomic.Uint32
}

// New allocates and starts a Bus: its thread-pool, TLS adapter (when
// cfg.TLS is set), hash map, and cfg.ListenerCount Listener goroutines.
// It raises the process fd rlimit proportionally to ListenerCount before
// returning.
func New(cfg Config, cdc codec.Codec, log logger.Logger, opts ...Option) (*Bus, error) {
	if cdc == nil {
		return nil, buserr.Error(buserr.Memory, fmt.Errorf("bus: codec must not be nil"))
	}
	if log == nil {
		log = logger.New(context.Background())
	}

	cfg = cfg.withDefaults()

	b := &Bus{
		cfg:     cfg,
		codec:   cdc,
		log:     log,
		pool:    threadpool.New(threadpool.Config{MaxThreads: cfg.ThreadPoolMaxThreads, MaxDelay: cfg.ThreadPoolMaxDelay}),
		adapter: tlsadapter.New(cfg.TLS),
		fdSet:   hashmap.New[*connection.ConnectionInfo](),
		closer:  mapCloser.New(context.Background()),
	}

	for _, o := range opts {
		o(b)
	}

	if _, _, err := fileDescriptor.SystemFileDescriptor(cfg.ListenerCount * 256); err != nil {
		log.Warning("bus: could not raise the file descriptor limit: %s", nil, err)
	}

	b.listeners = make([]*listener.Listener, cfg.ListenerCount)
	for i := range b.listeners {
		b.listeners[i] = listener.New(i, cdc, b.adapter, b.pool, log, b.onUnexpected)
		b.listeners[i].Start()
	}

	return b, nil
}

func (b *Bus) listenerFor(fd int) *listener.Listener {
	return b.listeners[fd%len(b.listeners)]
}

// Session implements sender.Dispatcher: it returns the tlsadapter.Session
// registered for fd.
func (b *Bus) Session(fd int) (*tlsadapter.Session, bool) {
	b.fdLock.Lock()
	defer b.fdLock.Unlock()

	ci, ok := b.fdSet.Get(fd)
	if !ok {
		return nil, false
	}
	return ci.Session, true
}

// Adapter implements sender.Dispatcher.
func (b *Bus) Adapter() *tlsadapter.Adapter {
	return b.adapter
}

// ExpectResponse implements sender.Dispatcher by delegating to fd's
// owning Listener.
func (b *Bus) ExpectResponse(ctx context.Context, fd int, boxed *message.BoxedMessage) error {
	return b.listenerFor(fd).ExpectResponse(ctx, fd, boxed)
}

var _ sender.Dispatcher = (*Bus)(nil)

// RegisterSocket connects (with a TLS handshake when kind is TLS) and
// registers conn under fd, assigning it to its owning Listener
// (fd % ListenerCount). Failure at any step rolls back the registry
// insertion so the fd is left unregistered.
func (b *Bus) RegisterSocket(ctx context.Context, kind Kind, fd int, conn net.Conn, serverName string, udata interface{}) error {
	if state(b.st.Load()) != stateRunning {
		return buserr.Error(buserr.Shutdown)
	}

	sess, err := b.adapter.Connect(ctx, kind, conn, serverName)
	if err != nil {
		return buserr.Error(buserr.TxFailure, err)
	}

	ci := connection.New(fd, conn, sess, fd%len(b.listeners), udata)

	b.fdLock.Lock()
	_, replaced := b.fdSet.Set(fd, ci)
	b.fdLock.Unlock()

	if err = b.listenerFor(fd).AddSocket(ctx, fd, conn, sess, udata); err != nil {
		b.fdLock.Lock()
		b.fdSet.Remove(fd)
		b.fdLock.Unlock()
		_ = b.adapter.Disconnect(sess)
		return err
	}

	if replaced && b.log != nil {
		b.log.Warning("bus: fd %d re-registered without a prior release", nil, fd)
	}

	return nil
}

// ReleaseSocket removes fd from the owning Listener and the registry,
// returning the udata supplied at registration.
func (b *Bus) ReleaseSocket(ctx context.Context, fd int) (interface{}, error) {
	udata, err := b.listenerFor(fd).RemoveSocket(ctx, fd, b.keepOpenOnRelease)
	if err != nil {
		return nil, err
	}

	b.fdLock.Lock()
	b.fdSet.Remove(fd)
	b.fdLock.Unlock()

	return udata, nil
}

// SendRequest validates req.SeqID against the fd's last accepted seq_id,
// boxes the message, and hands it to the Sender. On success the fd's
// largest-accepted seq_id is advanced to req.SeqID.
func (b *Bus) SendRequest(ctx context.Context, req Request) error {
	if state(b.st.Load()) != stateRunning {
		return buserr.Error(buserr.Shutdown)
	}

	b.fdLock.Lock()
	ci, ok := b.fdSet.Get(req.FD)
	b.fdLock.Unlock()

	if !ok {
		return buserr.Error(buserr.UnregisteredSocket)
	}

	if !ci.TryAcceptSeq(req.SeqID) {
		return buserr.Error(buserr.SeqIDRejected)
	}

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(b.cfg.SenderTimeout)
	}

	boxed := message.New(req.FD, req.SeqID, req.Bytes, deadline, req.Callback, req.UData)

	sendCtx := ctx
	var cancel context.CancelFunc
	if _, hasDL := ctx.Deadline(); !hasDL {
		sendCtx, cancel = context.WithTimeout(ctx, b.cfg.SenderTimeout)
		defer cancel()
	}

	return sender.DoBlockingSend(sendCtx, b, boxed)
}

// BackpressureDelay sleeps bp>>shift milliseconds if positive; callers use
// it to pace producers when the thread-pool or a Listener reports
// saturation.
func BackpressureDelay(bp int, shift uint8) {
	if bp <= 0 {
		return
	}
	d := time.Duration(bp>>shift) * time.Millisecond
	if d > 0 {
		time.Sleep(d)
	}
}

// Shutdown stops accepting new registrations and requests, completes
// every outstanding expectation with buserr.Shutdown, and joins every
// Listener goroutine. A second and later call performs no further work and
// returns buserr.Shutdown.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.st.CompareAndSwap(uint32(stateRunning), uint32(stateShuttingDown)) {
		return buserr.Error(buserr.Shutdown)
	}

	// listeners first: closing the sockets before them would let a read
	// failure complete expectations with RxFailure instead of Shutdown.
	var firstErr error
	for _, l := range b.listeners {
		if err := l.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	b.fdLock.Lock()
	b.fdSet.Free(func(ci *connection.ConnectionInfo) { _ = ci.Close() })
	b.fdLock.Unlock()

	b.st.Store(uint32(stateHalted))
	return firstErr
}

// Close shuts the bus down if it has not already halted, then releases
// the thread-pool and every tracked closer.
func (b *Bus) Close() error {
	if state(b.st.Load()) != stateHalted {
		if err := b.Shutdown(context.Background()); err != nil {
			b.log.Error("bus: shutdown during close failed: %s", nil, err)
		}
	}

	// Shutdown has already drained every listener's pending completions
	// (Listener.shutdown waits for them), so a non-forcing pool shutdown
	// here only has to join idle workers, not abandon queued callbacks.
	if err := b.pool.Shutdown(context.Background(), false); err != nil {
		b.log.Error("bus: thread-pool shutdown failed: %s", nil, err)
	}

	_ = b.adapter.Close()
	return b.closer.Close()
}

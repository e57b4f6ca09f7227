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

// Package connection holds the per-socket state the bus tracks once a
// socket is registered: ConnectionInfo (identity, sequencing, ownership) and
// SocketInfo (the read-side framing state machine).
package connection

import (
	"io"
	"net"
	"sync"

	libatm "github.com/nabbar/golib/atomic"

	"github.com/nabbar/kinetic-bus/bus/codec"
	"github.com/nabbar/kinetic-bus/bus/tlsadapter"
)

// State is the read-side state machine's current phase for a socket.
type State uint8

const (
	StateUninit State = iota
	StateAwaitingHeader
	StateAwaitingBody
)

// SocketInfo drives the per-socket framing state machine described by the
// bus's Listener component. It is not safe for concurrent use: it is only
// ever touched by the goroutine of the Listener that owns the socket.
type SocketInfo struct {
	state        State
	header       [codec.HeaderLen]byte
	headerFilled int
	accumulated  int
	target       int
	tail         []byte
	status       codec.UnpackStatus
	decoded      codec.Header
}

// NewSocketInfo returns a SocketInfo ready to begin reading a header.
func NewSocketInfo() *SocketInfo {
	s := &SocketInfo{}
	s.reset()
	return s
}

func (s *SocketInfo) reset() {
	s.state = StateAwaitingHeader
	s.headerFilled = 0
	s.accumulated = 0
	s.target = codec.HeaderLen
	s.tail = nil
	s.status = codec.StatusUndefined
}

// State returns the current phase of the read state machine.
func (s *SocketInfo) State() State {
	return s.state
}

// Status returns the outcome of the most recent header validation.
func (s *SocketInfo) Status() codec.UnpackStatus {
	return s.status
}

// NextRead returns how many more bytes the transport should read before
// calling Feed again.
func (s *SocketInfo) NextRead() int {
	return s.target - s.accumulated
}

// Feed accepts an arbitrarily sized fragment of bytes read from the socket
// and advances the state machine. It returns the number of bytes the
// transport should read next, and, when a full frame (header-invalid
// surface, or header+body) is ready, the accumulated buffer for that frame.
//
// Feed never consumes more than NextRead() bytes from data; any excess is
// left in the returned remainder for the caller to feed in a further call.
func (s *SocketInfo) Feed(data []byte) (nextRead int, fullMsgBuffer []byte, remainder []byte) {
	if s.state == StateUninit {
		s.reset()
	}

	want := s.target - s.accumulated
	if want < 0 {
		want = 0
	}
	n := len(data)
	if n > want {
		n = want
	}
	chunk, remainder := data[:n], data[n:]

	switch s.state {
	case StateAwaitingHeader:
		copy(s.header[s.headerFilled:], chunk)
		s.headerFilled += len(chunk)
		s.accumulated += len(chunk)

		if s.accumulated < codec.HeaderLen {
			return s.NextRead(), nil, remainder
		}

		h, ok := codec.DecodeHeader(s.header[:])
		if !ok {
			s.status = codec.StatusInvalidHeader
			full := append([]byte(nil), s.header[:]...)
			s.headerFilled = 0
			s.accumulated = 0
			s.target = codec.HeaderLen
			return s.NextRead(), full, remainder
		}

		s.status = codec.StatusSuccess
		s.decoded = h
		s.state = StateAwaitingBody
		s.headerFilled = 0
		s.accumulated = 0
		s.target = h.BodyLength()
		s.tail = make([]byte, 0, s.target)

		if s.target == 0 {
			full := append([]byte(nil), s.header[:]...)
			s.state = StateAwaitingHeader
			s.target = codec.HeaderLen
			return s.NextRead(), full, remainder
		}

		return s.NextRead(), nil, remainder

	case StateAwaitingBody:
		s.tail = append(s.tail, chunk...)
		s.accumulated += len(chunk)

		if s.accumulated < s.target {
			return s.NextRead(), nil, remainder
		}

		full := make([]byte, 0, codec.HeaderLen+len(s.tail))
		full = append(full, s.header[:]...)
		full = append(full, s.tail...)

		s.state = StateAwaitingHeader
		s.accumulated = 0
		s.target = codec.HeaderLen
		s.tail = nil

		return s.NextRead(), full, remainder

	default:
		s.reset()
		return s.NextRead(), nil, remainder
	}
}

// ConnectionInfo is the bus's socket-registry record for one registered
// fd. The owning Listener keeps its own per-socket state and does not read
// this record; UData and LargestSeqSeen are accessed through atomic
// wrappers since concurrent SendRequest callers race on them.
type ConnectionInfo struct {
	FD           int
	Conn         net.Conn
	Session      *tlsadapter.Session
	ListenerIdx  int
	Read         *SocketInfo
	udata        libatm.Value[interface{}]
	largestSeqID libatm.Value[uint64]
	closeOnce    sync.Once
}

// New returns a ConnectionInfo bound to an established, already
// TLS-wrapped-if-needed session, owned by the listener identified by
// listenerIdx.
func New(fd int, conn net.Conn, session *tlsadapter.Session, listenerIdx int, udata interface{}) *ConnectionInfo {
	ci := &ConnectionInfo{
		FD:          fd,
		Conn:        conn,
		Session:     session,
		ListenerIdx: listenerIdx,
		Read:        NewSocketInfo(),
		udata:       libatm.NewValue[interface{}](),
	}
	ci.largestSeqID = libatm.NewValue[uint64]()
	ci.udata.Store(udata)
	return ci
}

// UserData returns the opaque data associated with this socket at
// registration time.
func (c *ConnectionInfo) UserData() interface{} {
	return c.udata.Load()
}

// LargestSeqSeen returns the largest seq_id accepted so far for this fd.
func (c *ConnectionInfo) LargestSeqSeen() uint64 {
	return c.largestSeqID.Load()
}

// TryAcceptSeq atomically validates and, on success, records a new seq_id
// as the largest seen for this fd. It returns false without mutating state
// if seqID is not strictly greater than the previously recorded value.
func (c *ConnectionInfo) TryAcceptSeq(seqID uint64) bool {
	for {
		cur := c.largestSeqID.Load()
		if seqID <= cur {
			return false
		}
		if c.largestSeqID.CompareAndSwap(cur, seqID) {
			return true
		}
	}
}

// Close closes the underlying connection exactly once.
func (c *ConnectionInfo) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			err = c.Conn.Close()
		}
	})
	return err
}

var _ io.Closer = (*ConnectionInfo)(nil)

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

// Package message defines BoxedMessage, the record that tracks one
// outstanding request from the moment a caller submits it through send,
// receive, and callback dispatch.
package message

import "time"

// Result is delivered to a BoxedMessage's Callback exactly once.
type Result struct {
	Err  error
	Msg  interface{}
	Code uint16
}

// BoxedMessage is owned by exactly one component at a time: the caller
// before submission, the Sender during write, the Listener after
// write-complete until a response arrives or the deadline passes, and the
// thread-pool while the Callback runs.
type BoxedMessage struct {
	FD       int
	SeqID    uint64
	Out      []byte
	Sent     int
	Deadline time.Time
	Callback func(Result)
	UData    interface{}
}

// New returns a BoxedMessage ready to be handed to the Sender.
func New(fd int, seqID uint64, out []byte, deadline time.Time, cb func(Result), udata interface{}) *BoxedMessage {
	return &BoxedMessage{
		FD:       fd,
		SeqID:    seqID,
		Out:      out,
		Deadline: deadline,
		Callback: cb,
		UData:    udata,
	}
}

// Remaining returns the slice of Out still to be written.
func (b *BoxedMessage) Remaining() []byte {
	return b.Out[b.Sent:]
}

// Done reports whether the entire Out buffer has been written.
func (b *BoxedMessage) Done() bool {
	return b.Sent >= len(b.Out)
}

// Advance records n additional bytes as written.
func (b *BoxedMessage) Advance(n int) {
	b.Sent += n
}

// Complete invokes Callback with res on every call; it does not guard
// against repeats. It is the caller's
// responsibility to ensure Complete is never invoked twice for the same
// BoxedMessage — the bus enforces this by removing the message from any
// expectation table before calling Complete.
func (b *BoxedMessage) Complete(res Result) {
	if b.Callback != nil {
		b.Callback(res)
	}
}

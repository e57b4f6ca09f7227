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

// Package sender performs the blocking write half of a request: hand a
// BoxedMessage's wire bytes to its socket, retrying on short writes, then
// register the message as awaiting a response with the fd's owning
// Listener.
package sender

import (
	"context"

	"github.com/nabbar/kinetic-bus/bus/buserr"
	"github.com/nabbar/kinetic-bus/bus/message"
	"github.com/nabbar/kinetic-bus/bus/tlsadapter"
)

// Dispatcher is the slice of the Bus coordinator the Sender needs. It is
// defined here, not imported from the bus package, so sender has no
// import-cycle back to its caller.
type Dispatcher interface {
	// Session returns the TLS-or-plain session registered for fd.
	Session(fd int) (*tlsadapter.Session, bool)
	// Adapter returns the shared tlsadapter.Adapter used to perform I/O.
	Adapter() *tlsadapter.Adapter
	// ExpectResponse hands boxed to fd's owning Listener so a future
	// response can be matched to it by (fd, seq_id).
	ExpectResponse(ctx context.Context, fd int, boxed *message.BoxedMessage) error
}

// DoBlockingSend writes boxed.Out to boxed.FD in full, honoring ctx and
// boxed.Deadline, then registers boxed as awaiting a response. On any
// failure to send the full buffer, boxed is never registered and the
// error is returned directly to the caller; boxed.Callback is not
// invoked — SendRequest reports the failure synchronously instead.
func DoBlockingSend(ctx context.Context, d Dispatcher, boxed *message.BoxedMessage) error {
	sess, ok := d.Session(boxed.FD)
	if !ok {
		return buserr.Error(buserr.UnregisteredSocket)
	}

	if !boxed.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, boxed.Deadline)
		defer cancel()
	}

	adapter := d.Adapter()

	if dl, hasDL := ctx.Deadline(); hasDL {
		_ = sess.Conn().SetWriteDeadline(dl)
	}

	for !boxed.Done() {
		if err := ctx.Err(); err != nil {
			return buserr.Error(buserr.Timeout, err)
		}

		n, status, err := adapter.Write(sess, boxed.Remaining())
		if err != nil {
			return buserr.Error(buserr.TxFailure, err)
		}

		boxed.Advance(n)

		if status == tlsadapter.WantWrite && !boxed.Done() {
			select {
			case <-ctx.Done():
				return buserr.Error(buserr.Timeout, ctx.Err())
			default:
			}
		}
	}

	if err := d.ExpectResponse(ctx, boxed.FD, boxed); err != nil {
		return buserr.Error(buserr.TxFailure, err)
	}

	return nil
}

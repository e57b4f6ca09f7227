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

// Package session declares the contract an external session layer
// satisfies on top of the bus: HMAC derivation, connection identity, and
// translating a high-level call into a Bus.SendRequest. The bus core
// treats Session as a downstream collaborator it is consumed by, not a
// component it implements.
package session

import (
	"context"

	"github.com/nabbar/kinetic-bus/bus/builder"
)

// Response is the decoded, successful result of one Session.Send call.
type Response struct {
	Code  uint16
	Value []byte
}

// Session maps a high-level request onto the bus: deriving any required
// HMAC, choosing the connection, calling Bus.SendRequest, and translating
// its completion callback into a synchronous Response.
type Session interface {
	// Send blocks until either a response is matched, the request is
	// rejected synchronously, or ctx is done.
	Send(ctx context.Context, op builder.Operation, key, value []byte) (Response, error)
}

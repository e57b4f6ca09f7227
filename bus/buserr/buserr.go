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

// Package buserr registers the bus's fixed error-kind vocabulary as
// errors.CodeError constants, so every synchronous return and every
// completion callback carries a stable numeric code, a human message, and
// (via errors.Error) a parent chain and stack trace instead of an ad-hoc
// sentinel error.
package buserr

import (
	liberr "github.com/nabbar/golib/errors"
)

const (
	// codeBase starts this package's codes at the range upstream reserves
	// for new packages, past every MinPkgXxx it already allocates.
	codeBase = liberr.MinAvailable + iota

	OK
	Timeout
	TxFailure
	RxFailure
	BadResponse
	Shutdown
	Memory
	UnregisteredSocket
	SeqIDRejected
)

func init() {
	liberr.RegisterIdFctMessage(codeBase, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case OK:
		return "ok"
	case Timeout:
		return "deadline exceeded before a response was matched"
	case TxFailure:
		return "request could not be written to the socket or handed to its listener"
	case RxFailure:
		return "socket read failed or hit EOF"
	case BadResponse:
		return "response frame could not be decoded"
	case Shutdown:
		return "bus is shutting down"
	case Memory:
		return "allocation failure"
	case UnregisteredSocket:
		return "fd is not registered with the bus"
	case SeqIDRejected:
		return "seq_id is not strictly greater than the last accepted value for this fd"
	default:
		return liberr.NullMessage
	}
}

// Error returns an errors.Error wrapping code, with optional parent errors
// chained underneath it.
func Error(code liberr.CodeError, parents ...error) liberr.Error {
	return code.Error(parents...)
}

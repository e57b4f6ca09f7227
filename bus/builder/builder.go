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

// Package builder declares the contract an external request-builder
// satisfies to produce the outbound wire bytes and seq_id for one
// request. The bus core treats the Builder as an upstream collaborator,
// not a component it implements.
package builder

// Operation identifies the kind of request being built.
type Operation uint8

// Builder turns a high-level operation and key/value pair into the wire
// bytes SendRequest writes, and the seq_id that must accompany them.
type Builder interface {
	// Build returns the seq_id to use for this request and its fully
	// serialized wire representation (header included), or an error if
	// op/key/value cannot be encoded.
	Build(op Operation, key, value []byte) (seqID uint64, wire []byte, err error)
}

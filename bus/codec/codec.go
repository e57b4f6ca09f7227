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

// Package codec defines the wire framing constants and the pluggable
// sink/unpack/free contract the bus uses to turn a byte stream into framed
// messages without knowing anything about the message format itself.
package codec

const (
	// HeaderLen is the fixed size, in bytes, of the frame header: one byte
	// version prefix, a big-endian u32 protobuf length, a big-endian u32
	// value length.
	HeaderLen = 1 + 4 + 4

	// VersionPrefix is the only accepted value for the header's first byte.
	VersionPrefix byte = 0xA0

	// ProtoMax is the maximum accepted length, in bytes, for either the
	// protobuf segment or the value segment of a frame.
	ProtoMax = 1024 * 1024
)

// UnpackStatus reports the outcome of framing a chunk of header bytes.
type UnpackStatus uint8

const (
	StatusUndefined UnpackStatus = iota
	StatusSuccess
	StatusInvalidHeader
	StatusPayloadAllocFail
)

// Codec is the caller-supplied contract the bus treats as opaque. Sink is a
// read-side framing step; Unpack decodes a full frame; Free releases a
// decoded message once its completion callback has run.
type Codec interface {
	// Sink takes newly read bytes for a socket and returns how many more
	// bytes to read next (nextRead) and, when a frame is complete, the
	// accumulated frame bytes (fullMsgBuffer). The bus's Listener does not
	// call Sink: it frames every socket itself with
	// bus/connection.SocketInfo and passes each complete frame to Unpack.
	Sink(udata interface{}, data []byte) (nextRead int, fullMsgBuffer []byte)

	// Unpack decodes a full frame produced by Sink into a seqID and a
	// caller-defined message value. A non-nil error is surfaced verbatim
	// to the bus's unexpected-message hook when no outstanding expectation
	// matches the decoded seqID.
	Unpack(udata interface{}, fullMsgBuffer []byte) (seqID uint64, msg interface{}, err error)

	// Free is called once a delivered message's completion callback has
	// returned, so the caller can release any pooled buffers.
	Free(msg interface{})
}

// Header is the decoded, fixed-size frame header.
type Header struct {
	VersionPrefix  byte
	ProtobufLength uint32
	ValueLength    uint32
}

// BodyLength returns the number of bytes following the header for this
// frame: ProtobufLength + ValueLength.
func (h Header) BodyLength() int {
	return int(h.ProtobufLength) + int(h.ValueLength)
}

// DecodeHeader parses a HeaderLen-byte buffer into a Header and reports
// whether it passes the version and size-limit checks. buf must be exactly
// HeaderLen bytes; callers only invoke this once a full header has been
// accumulated.
func DecodeHeader(buf []byte) (h Header, ok bool) {
	if len(buf) != HeaderLen {
		return Header{}, false
	}

	h.VersionPrefix = buf[0]
	h.ProtobufLength = uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])
	h.ValueLength = uint32(buf[5])<<24 | uint32(buf[6])<<16 | uint32(buf[7])<<8 | uint32(buf[8])

	if h.VersionPrefix != VersionPrefix {
		return h, false
	}
	if h.ProtobufLength > ProtoMax || h.ValueLength > ProtoMax {
		return h, false
	}

	return h, true
}

// EncodeHeader serializes a Header into a HeaderLen-byte buffer. The first
// byte is always VersionPrefix; h.VersionPrefix is not used.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = VersionPrefix
	buf[1] = byte(h.ProtobufLength >> 24)
	buf[2] = byte(h.ProtobufLength >> 16)
	buf[3] = byte(h.ProtobufLength >> 8)
	buf[4] = byte(h.ProtobufLength)
	buf[5] = byte(h.ValueLength >> 24)
	buf[6] = byte(h.ValueLength >> 16)
	buf[7] = byte(h.ValueLength >> 8)
	buf[8] = byte(h.ValueLength)
	return buf
}

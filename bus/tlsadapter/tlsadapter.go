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

// Package tlsadapter gives the Listener and Sender a single Read/Write
// surface over a registered socket, whether it is plain TCP or wrapped in
// TLS, so the rest of the bus never branches on the socket kind.
package tlsadapter

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/nabbar/golib/certificates"
)

// Kind distinguishes a plain socket from one that must be TLS-wrapped on
// Connect.
type Kind uint8

const (
	Plain Kind = iota
	TLS
)

// IOStatus reports partial progress on a Read or Write so callers can
// retry after the next readiness event instead of treating a short
// operation as an error.
type IOStatus uint8

const (
	Done IOStatus = iota
	WantRead
	WantWrite
)

// Session is the handle the Listener and Sender hold for a registered
// socket; it is opaque outside this package.
type Session struct {
	kind Kind
	raw  net.Conn
	conn net.Conn
}

// Conn returns the net.Conn I/O must actually be performed against: the
// raw socket for Plain sessions, the *tls.Conn for TLS ones.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Adapter wraps a raw net.Conn with the configured TLS behavior on
// Connect, and normalizes Read/Write errors into IOStatus.
type Adapter struct {
	cfg certificates.TLSConfig
}

// New returns an Adapter. cfg may be nil when the bus is configured for
// plain-only sockets; Connect then refuses Kind=TLS.
func New(cfg certificates.TLSConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Connect wraps raw for kind. For Plain it is a no-op; for TLS it performs
// the handshake bounded by ctx (and any deadline already on ctx), using
// serverName for SNI and certificate verification.
func (a *Adapter) Connect(ctx context.Context, kind Kind, raw net.Conn, serverName string) (*Session, error) {
	if kind == Plain {
		return &Session{kind: Plain, raw: raw, conn: raw}, nil
	}

	if a.cfg == nil {
		return nil, errors.New("tlsadapter: TLS requested but no TLSConfig configured")
	}

	tc := tls.Client(raw, a.cfg.TLS(serverName))

	if dl, ok := ctx.Deadline(); ok {
		_ = tc.SetDeadline(dl)
	}

	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	_ = tc.SetDeadline(time.Time{})
	return &Session{kind: TLS, raw: raw, conn: tc}, nil
}

// Read reads into buf, translating a deadline timeout into WantRead
// rather than an error.
func (a *Adapter) Read(s *Session, buf []byte) (int, IOStatus, error) {
	n, err := s.Conn().Read(buf)
	return classify(n, err, WantRead)
}

// Write writes buf, translating a deadline timeout into WantWrite rather
// than an error.
func (a *Adapter) Write(s *Session, buf []byte) (int, IOStatus, error) {
	n, err := s.Conn().Write(buf)
	return classify(n, err, WantWrite)
}

func classify(n int, err error, retry IOStatus) (int, IOStatus, error) {
	if err == nil {
		return n, Done, nil
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, retry, nil
	}

	return n, Done, err
}

// Disconnect closes the raw socket beneath s. For a TLS session the
// *tls.Conn itself is not closed first.
func (a *Adapter) Disconnect(s *Session) error {
	if s == nil {
		return nil
	}
	return s.raw.Close()
}

// Close releases any adapter-wide resources. The current implementation
// holds none beyond the shared TLSConfig, which outlives the adapter.
func (a *Adapter) Close() error {
	return nil
}

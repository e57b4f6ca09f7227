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

// Command kineticbus-demo wires a Bus to an in-process net.Pipe standing
// in for a device, sends one request through a toy codec, and prints the
// echoed response. It exists to exercise the public surface of bus.New
// end to end, not as a protocol reference implementation.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"

	"github.com/nabbar/kinetic-bus/bus"
	"github.com/nabbar/kinetic-bus/bus/codec"
	"github.com/nabbar/kinetic-bus/bus/message"
)

// demoCodec treats the frame's value segment as a big-endian seq_id and
// returns the raw frame bytes as the decoded message.
type demoCodec struct{}

func (demoCodec) Sink(udata interface{}, data []byte) (int, []byte) { return 0, nil }

func (demoCodec) Unpack(udata interface{}, full []byte) (uint64, interface{}, error) {
	return binary.BigEndian.Uint64(full[codec.HeaderLen:]), full, nil
}

func (demoCodec) Free(interface{}) {}

func main() {
	log := logger.New(context.Background())
	log.SetLevel(loglvl.InfoLevel)

	b, err := bus.New(bus.DefaultConfig(), demoCodec{}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kineticbus-demo: bus.New: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	device, local := net.Pipe()
	go serveOneEcho(device)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const fd = 1
	if err = b.RegisterSocket(ctx, bus.Plain, fd, local, "", nil); err != nil {
		fmt.Fprintf(os.Stderr, "kineticbus-demo: RegisterSocket: %s\n", err)
		os.Exit(1)
	}

	done := make(chan message.Result, 1)
	req := bus.Request{
		FD:       fd,
		SeqID:    1,
		Bytes:    buildFrame(1),
		Deadline: time.Now().Add(2 * time.Second),
		Callback: func(r message.Result) { done <- r },
	}

	if err = b.SendRequest(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "kineticbus-demo: SendRequest: %s\n", err)
		os.Exit(1)
	}

	select {
	case r := <-done:
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "kineticbus-demo: request failed: %s\n", r.Err)
			os.Exit(1)
		}
		fmt.Printf("kineticbus-demo: got response for seq_id=1: %v\n", r.Msg)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "kineticbus-demo: timed out waiting for a response")
		os.Exit(1)
	}
}

func buildFrame(seqID uint64) []byte {
	hdr := codec.EncodeHeader(codec.Header{VersionPrefix: codec.VersionPrefix, ValueLength: 8})
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, seqID)
	return append(hdr, val...)
}

func serveOneEcho(conn net.Conn) {
	buf := make([]byte, codec.HeaderLen+8)
	n, err := conn.Read(buf)
	if err != nil || n != len(buf) {
		return
	}
	_, _ = conn.Write(buf)
}

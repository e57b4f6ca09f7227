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

package bus_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/kinetic-bus/bus"
	"github.com/nabbar/kinetic-bus/bus/codec"
	"github.com/nabbar/kinetic-bus/bus/message"
)

func TestBus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bus suite")
}

// echoCodec decodes the 8-byte value segment as a big-endian seq_id and
// returns the raw frame as the message.
type echoCodec struct{}

func (echoCodec) Sink(udata interface{}, data []byte) (int, []byte) { return 0, nil }

func (echoCodec) Unpack(udata interface{}, full []byte) (uint64, interface{}, error) {
	return binary.BigEndian.Uint64(full[codec.HeaderLen:]), string(full), nil
}

func (echoCodec) Free(msg interface{}) {}

func frame(seqID uint64) []byte {
	hdr := codec.EncodeHeader(codec.Header{VersionPrefix: codec.VersionPrefix, ValueLength: 8})
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, seqID)
	return append(hdr, val...)
}

var _ = Describe("Bus", func() {
	var (
		b      *bus.Bus
		client net.Conn
		server net.Conn
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		b, err = bus.New(bus.DefaultConfig(), echoCodec{}, nil)
		Expect(err).ToNot(HaveOccurred())

		client, server = net.Pipe()
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		Expect(b.RegisterSocket(ctx, bus.Plain, 35, server, "", nil)).To(Succeed())
	})

	AfterEach(func() {
		cancel()
		_ = client.Close()
		_ = b.Close()
	})

	It("rejects SendRequest for an unregistered fd", func() {
		err := b.SendRequest(ctx, bus.Request{FD: 999, SeqID: 1, Bytes: frame(1)})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a seq_id that does not strictly increase", func() {
		echoBack(client)
		Expect(b.SendRequest(ctx, bus.Request{FD: 35, SeqID: 3, Bytes: frame(3), Deadline: time.Now().Add(time.Second)})).To(Succeed())

		err := b.SendRequest(ctx, bus.Request{FD: 35, SeqID: 3, Bytes: frame(3), Deadline: time.Now().Add(time.Second)})
		Expect(err).To(HaveOccurred())
	})

	It("delivers a matched response to its callback", func() {
		done := make(chan message.Result, 1)
		echoBack(client)

		err := b.SendRequest(ctx, bus.Request{
			FD:       35,
			SeqID:    7,
			Bytes:    frame(7),
			Deadline: time.Now().Add(time.Second),
			Callback: func(r message.Result) { done <- r },
		})
		Expect(err).ToNot(HaveOccurred())

		select {
		case r := <-done:
			Expect(r.Err).ToNot(HaveOccurred())
		case <-time.After(2 * time.Second):
			Fail("no response delivered")
		}
	})

	It("releases a socket and forgets its udata", func() {
		udata, err := b.ReleaseSocket(ctx, 35)
		Expect(err).ToNot(HaveOccurred())
		Expect(udata).To(BeNil())

		err = b.SendRequest(ctx, bus.Request{FD: 35, SeqID: 1, Bytes: frame(1)})
		Expect(err).To(HaveOccurred())
	})

	It("completes in-flight requests with an error on Shutdown", func() {
		done := make(chan message.Result, 1)

		// the device reads the request but never answers it
		go func() {
			buf := make([]byte, codec.HeaderLen+8)
			_, _ = client.Read(buf)
		}()

		err := b.SendRequest(ctx, bus.Request{
			FD:       35,
			SeqID:    11,
			Bytes:    frame(11),
			Deadline: time.Now().Add(5 * time.Second),
			Callback: func(r message.Result) { done <- r },
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(b.Shutdown(context.Background())).To(Succeed())

		select {
		case r := <-done:
			Expect(r.Err).To(HaveOccurred())
		case <-time.After(2 * time.Second):
			Fail("shutdown did not complete the in-flight request")
		}

		err = b.Shutdown(context.Background())
		Expect(err).To(HaveOccurred())
	})
})

func echoBack(client net.Conn) {
	go func() {
		buf := make([]byte, codec.HeaderLen+8)
		n, err := client.Read(buf)
		if err != nil || n != len(buf) {
			return
		}
		_, _ = client.Write(buf)
	}()
}

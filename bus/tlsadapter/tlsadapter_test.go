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

package tlsadapter_test

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/kinetic-bus/bus/tlsadapter"
)

func TestTLSAdapter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bus/tlsadapter suite")
}

var _ = Describe("Adapter", func() {
	It("passes plain sockets through untouched", func() {
		client, server := net.Pipe()
		defer server.Close()

		a := tlsadapter.New(nil)
		sess, err := a.Connect(context.Background(), tlsadapter.Plain, client, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(sess.Conn()).To(Equal(client))

		done := make(chan struct{})
		go func() {
			defer close(done)
			buf := make([]byte, 5)
			_, _ = server.Read(buf)
			Expect(string(buf)).To(Equal("hello"))
		}()

		n, status, err := a.Write(sess, []byte("hello"))
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(tlsadapter.Done))
		Expect(n).To(Equal(5))

		<-done
		Expect(a.Disconnect(sess)).To(Succeed())
	})

	It("refuses a TLS connect when no TLSConfig is configured", func() {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		a := tlsadapter.New(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := a.Connect(ctx, tlsadapter.TLS, client, "example.test")
		Expect(err).To(HaveOccurred())
	})
})

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

package message_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/kinetic-bus/bus/message"
)

func TestMessage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "message suite")
}

var _ = Describe("BoxedMessage", func() {
	It("tracks Remaining/Done/Advance bookkeeping", func() {
		b := message.New(35, 1, []byte("hello"), time.Now().Add(time.Second), nil, nil)

		Expect(b.Done()).To(BeFalse())
		Expect(b.Remaining()).To(Equal([]byte("hello")))

		b.Advance(3)
		Expect(b.Done()).To(BeFalse())
		Expect(b.Remaining()).To(Equal([]byte("lo")))

		b.Advance(2)
		Expect(b.Done()).To(BeTrue())
		Expect(b.Remaining()).To(BeEmpty())
	})

	It("invokes Callback once per Complete call, without guarding repeats", func() {
		var calls int
		var got message.Result

		b := message.New(35, 1, nil, time.Time{}, func(r message.Result) {
			calls++
			got = r
		}, nil)

		b.Complete(message.Result{Code: 7})
		Expect(calls).To(Equal(1))
		Expect(got.Code).To(Equal(uint16(7)))

		b.Complete(message.Result{Code: 9})
		Expect(calls).To(Equal(2))
	})

	It("tolerates a nil Callback", func() {
		b := message.New(35, 1, nil, time.Time{}, nil, nil)
		Expect(func() { b.Complete(message.Result{}) }).ToNot(Panic())
	})

	It("carries FD, SeqID and UData as supplied to New", func() {
		b := message.New(35, 42, nil, time.Time{}, nil, "tag")
		Expect(b.FD).To(Equal(35))
		Expect(b.SeqID).To(Equal(uint64(42)))
		Expect(b.UData).To(Equal("tag"))
	})
})

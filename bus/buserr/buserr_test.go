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

package buserr_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	liberr "github.com/nabbar/golib/errors"

	"github.com/nabbar/kinetic-bus/bus/buserr"
)

func TestBusErr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "buserr suite")
}

var _ = Describe("buserr", func() {
	codes := []liberr.CodeError{
		buserr.OK,
		buserr.Timeout,
		buserr.TxFailure,
		buserr.RxFailure,
		buserr.BadResponse,
		buserr.Shutdown,
		buserr.Memory,
		buserr.UnregisteredSocket,
		buserr.SeqIDRejected,
	}

	It("registers a non-empty message for every code", func() {
		for _, c := range codes {
			Expect(c.GetMessage()).ToNot(Equal(liberr.NullMessage), "code %d", c)
		}
	})

	It("builds an error carrying its own code", func() {
		err := buserr.Error(buserr.Timeout)
		Expect(err).ToNot(BeNil())
		Expect(err.GetCode()).To(Equal(buserr.Timeout))
	})

	It("chains parent errors under the returned error", func() {
		parent := errors.New("read: connection reset")
		err := buserr.Error(buserr.RxFailure, parent)

		Expect(err.GetError()).ToNot(BeNil())
		Expect(errors.Is(err, parent)).To(BeTrue())
	})
})

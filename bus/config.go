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

package bus

import (
	"runtime"
	"time"

	"github.com/nabbar/golib/certificates"
)

// Config is the bus's full configuration surface. Zero-valued fields are
// replaced by DefaultConfig's values in New. The TLS field is left unset
// (mapstructure:"-") for plain-socket-only deployments.
type Config struct {
	ListenerCount        int                    `mapstructure:"listener_count"         validate:"omitempty,min=1"`
	SenderTimeout        time.Duration          `mapstructure:"sender_timeout"         validate:"omitempty,min=0"`
	ThreadPoolMaxThreads int                    `mapstructure:"threadpool_max_threads" validate:"omitempty,min=1"`
	ThreadPoolMaxDelay   time.Duration          `mapstructure:"threadpool_max_delay"   validate:"omitempty,min=0"`
	BackpressureShift    uint8                  `mapstructure:"backpressure_shift"`
	TLS                  certificates.TLSConfig `mapstructure:"-"`
}

// DefaultConfig mirrors the compiled-in defaults of a freshly initialized
// bus: 8 listeners, a 10s sender timeout, one thread-pool worker per CPU,
// a 100ms idle worker lifetime, and a backpressure shift of 8.
func DefaultConfig() Config {
	return Config{
		ListenerCount:        8,
		SenderTimeout:        10 * time.Second,
		ThreadPoolMaxThreads: runtime.NumCPU(),
		ThreadPoolMaxDelay:   100 * time.Millisecond,
		BackpressureShift:    8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.ListenerCount <= 0 {
		c.ListenerCount = d.ListenerCount
	}
	if c.SenderTimeout <= 0 {
		c.SenderTimeout = d.SenderTimeout
	}
	if c.ThreadPoolMaxThreads <= 0 {
		c.ThreadPoolMaxThreads = d.ThreadPoolMaxThreads
	}
	if c.ThreadPoolMaxDelay <= 0 {
		c.ThreadPoolMaxDelay = d.ThreadPoolMaxDelay
	}
	if c.BackpressureShift == 0 {
		c.BackpressureShift = d.BackpressureShift
	}

	return c
}

/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sdb

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// WaitStrategy blocks until a buffer holds at least n bytes or the strategy's
// bound expires with no new bytes arriving. Expiry is not an error: the caller
// detects a short reply by checking the length. Only a done context returns
// an error.
type WaitStrategy interface {
	Wait(ctx context.Context, buf *FramedBuffer, n int) error
}

const (
	DefaultSpinCycles   = 20000
	DefaultIdleTimeout  = 250 * time.Millisecond
	SpinWaitStrategy    = "spin"
	NotifyWaitStrategy  = "notify"
	DefaultWaitStrategy = NotifyWaitStrategy
)

// SpinWait polls the buffer, yielding the processor between polls. The cycle
// counter restarts whenever new bytes arrive, so only an idle link runs out
// the ceiling.
type SpinWait struct {
	// MaxIdleCycles is the number of polls without progress before giving up.
	MaxIdleCycles int

	// Interval is slept between polls. Zero only yields.
	Interval time.Duration
}

func (w SpinWait) Wait(ctx context.Context, buf *FramedBuffer, n int) error {
	maxCycles := w.MaxIdleCycles
	if maxCycles <= 0 {
		maxCycles = DefaultSpinCycles
	}

	last := buf.Len()
	for idle := 0; idle < maxCycles; idle++ {
		if last >= n {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if w.Interval > 0 {
			time.Sleep(w.Interval)
		} else {
			runtime.Gosched()
		}

		if l := buf.Len(); l != last {
			last = l
			idle = 0
		}
	}

	return nil
}

// NotifyWait sleeps on the buffer's append signal. IdleTimeout restarts on
// every append.
type NotifyWait struct {
	IdleTimeout time.Duration
}

func (w NotifyWait) Wait(ctx context.Context, buf *FramedBuffer, n int) error {
	timeout := w.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for buf.Len() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-buf.Signal():
			timer.Reset(timeout)
		}
	}

	return nil
}

// NewWaitStrategy returns the strategy registered under name.
func NewWaitStrategy(name string, idleTimeout time.Duration, cycles int) (WaitStrategy, error) {
	switch name {
	case "", NotifyWaitStrategy:
		return NotifyWait{IdleTimeout: idleTimeout}, nil
	case SpinWaitStrategy:
		return SpinWait{MaxIdleCycles: cycles}, nil
	}
	return nil, fmt.Errorf("unknown wait strategy '%s'", name)
}

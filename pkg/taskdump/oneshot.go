// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskdump

import (
	"sync/atomic"
	"time"
)

// oneshot is a single-producer, single-consumer rendezvous that carries at
// most one value. The buffer of one means the sender never blocks. A second
// send or a second receive is a programming error and panics.
type oneshot[T any] struct {
	ch       chan T
	sent     atomic.Bool
	received atomic.Bool
}

func newOneshot[T any]() *oneshot[T] {
	return &oneshot[T]{ch: make(chan T, 1)}
}

func (o *oneshot[T]) send(v T) {
	if !o.sent.CompareAndSwap(false, true) {
		panic("taskdump: second send on single-shot channel")
	}
	o.ch <- v
}

func (o *oneshot[T]) claim() {
	if !o.received.CompareAndSwap(false, true) {
		panic("taskdump: second receive on single-shot channel")
	}
}

// recv blocks until the value arrives.
func (o *oneshot[T]) recv() T {
	o.claim()
	return <-o.ch
}

// recvTimeout waits at most d for the value. A timed-out wait still consumes
// the channel's single receive.
func (o *oneshot[T]) recvTimeout(d time.Duration) (T, bool) {
	o.claim()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v := <-o.ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"context"
	"sync"
)

// lifecycle models the dual-latch shutdown described in spec §5: two
// independent execution contexts (the interrupt dispatch queue and the
// "default" queue doing everything else) must each finish cancelling
// before the enclosing Stop completes. It generalizes the original
// DriverKit Stop()'s ad hoc atomic counter into two named, reusable
// latches.
type lifecycle struct {
	mu       sync.Mutex
	pending  int
	done     chan struct{}
	initOnce sync.Once
}

func (l *lifecycle) init() {
	l.initOnce.Do(func() {
		l.done = make(chan struct{})
	})
}

// track registers one outstanding execution context that must call release()
// before the lifecycle is considered fully stopped.
func (l *lifecycle) track() {
	l.init()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending++
}

// release decrements the outstanding count; when it reaches zero the
// lifecycle's wait unblocks.
func (l *lifecycle) release() {
	l.mu.Lock()
	l.pending--
	remaining := l.pending
	l.mu.Unlock()

	if remaining <= 0 {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}

// wait blocks until every tracked context has released, or ctx is done.
func (l *lifecycle) wait(ctx context.Context) error {
	l.init()

	l.mu.Lock()
	none := l.pending == 0
	l.mu.Unlock()

	if none {
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

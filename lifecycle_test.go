// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleWaitWithNoTracked(t *testing.T) {
	var l lifecycle

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.wait(ctx))
}

func TestLifecycleWaitsForBothLatches(t *testing.T) {
	var l lifecycle
	l.track()
	l.track()

	done := make(chan error, 1)
	go func() {
		done <- l.wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("wait returned before both contexts released")
	case <-time.After(20 * time.Millisecond):
	}

	l.release()

	select {
	case <-done:
		t.Fatal("wait returned after only one release")
	case <-time.After(20 * time.Millisecond):
	}

	l.release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock after both releases")
	}
}

func TestLifecycleWaitTimesOut(t *testing.T) {
	var l lifecycle
	l.track()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.wait(ctx)
	require.Error(t, err)
}

// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_ReentrantWithOwnerContext(t *testing.T) {
	m := New()

	ctx, unlock, err := m.Lock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Depth())

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Same logical owner: the token travels with ctx.
		nested, unlockNested, err := m.Lock(ctx)
		assert.NoError(t, err)
		assert.True(t, m.Held(nested))
		assert.Equal(t, 2, m.Depth())
		unlockNested()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested lock with owner context deadlocked")
	}

	assert.Equal(t, 1, m.Depth())
	unlock()
	assert.Equal(t, 0, m.Depth())
}

func TestMutex_ForeignCallerBlocksUntilRelease(t *testing.T) {
	m := New()

	_, unlock, err := m.Lock(context.Background())
	require.NoError(t, err)

	var entered atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, unlockOther, err := m.Lock(context.Background())
		if err != nil {
			return
		}
		entered.Store(true)
		unlockOther()
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, entered.Load(), "foreign goroutine entered while lock was held")

	unlock()
	<-done
	assert.True(t, entered.Load())
}

func TestMutex_LockHonoursContextCancellation(t *testing.T) {
	m := New()
	_, unlock, err := m.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, release, err := m.Lock(ctx)
	release()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMutex_StaleTokenDoesNotReenter(t *testing.T) {
	m := New()

	old, unlock, err := m.Lock(context.Background())
	require.NoError(t, err)
	unlock()

	// A context from a finished acquisition must not grant re-entry.
	assert.False(t, m.Held(old))

	_, unlock2, err := m.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Held(old))
	unlock2()
}

func TestMutex_UnlockIsIdempotent(t *testing.T) {
	m := New()
	_, unlock, err := m.Lock(context.Background())
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Equal(t, 0, m.Depth())

	_, unlock, err = m.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestProperty_NestedDepthUnwinds(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("n nested acquisitions unwind to zero", prop.ForAll(
		func(n int) bool {
			m := New()
			ctx := context.Background()
			var releases []func()
			for i := 0; i < n; i++ {
				next, unlock, err := m.Lock(ctx)
				if err != nil {
					return false
				}
				ctx = next
				releases = append(releases, unlock)
			}
			if m.Depth() != n {
				return false
			}
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return m.Depth() == 0
		},
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}

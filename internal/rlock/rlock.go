// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rlock provides a recursion-counted mutex whose ownership travels
// through a context.Context instead of a goroutine identity.
//
// Lock returns a derived context that carries an ownership token. Any nested
// Lock called with that context (or one derived from it) re-enters without
// blocking; a Lock with an unrelated context waits for the holder to finish.
package rlock

import (
	"context"
	"sync"
	"sync/atomic"
)

type ctxKey struct{ m *Mutex }

type token struct {
	depth atomic.Int32
}

// Mutex is a reentrant mutual exclusion lock. The zero value is not usable;
// construct one with New.
type Mutex struct {
	sem chan struct{}

	mu    sync.Mutex
	owner *token
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// Lock acquires m, or re-enters it when ctx already carries m's ownership
// token. It returns the context to pass to nested calls and the function
// that undoes this acquisition. Lock gives up when ctx is done while waiting.
func (m *Mutex) Lock(ctx context.Context) (context.Context, func(), error) {
	if tok := m.heldToken(ctx); tok != nil {
		tok.depth.Add(1)
		return ctx, m.unlockFunc(tok), nil
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, func() {}, ctx.Err()
	}

	tok := &token{}
	tok.depth.Store(1)
	m.mu.Lock()
	m.owner = tok
	m.mu.Unlock()

	return context.WithValue(ctx, ctxKey{m}, tok), m.unlockFunc(tok), nil
}

// Held reports whether ctx carries the token of the current holder.
func (m *Mutex) Held(ctx context.Context) bool {
	return m.heldToken(ctx) != nil
}

// Depth returns the current recursion depth, 0 when unlocked.
func (m *Mutex) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		return 0
	}
	return int(m.owner.depth.Load())
}

func (m *Mutex) heldToken(ctx context.Context) *token {
	if ctx == nil {
		return nil
	}
	tok, ok := ctx.Value(ctxKey{m}).(*token)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != tok {
		return nil
	}
	return tok
}

func (m *Mutex) unlockFunc(tok *token) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if tok.depth.Add(-1) > 0 {
				return
			}
			m.mu.Lock()
			m.owner = nil
			m.mu.Unlock()
			<-m.sem
		})
	}
}

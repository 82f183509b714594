// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package refs

import (
	"runtime"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/lualink/lualink/internal/luabridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newRegistry(t *testing.T) (*lua.LState, *Registry) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	return L, New()
}

func TestRegistry_RetainResolveRelease(t *testing.T) {
	L, r := newRegistry(t)

	require.NoError(t, L.DoString(`function cb() return "hi" end`))
	fn := L.GetGlobal("cb")

	h := r.Retain(fn, Owner{Script: "demo", Kind: KindRaw})
	assert.NotZero(t, h)
	assert.Equal(t, 1, r.Len())

	got, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, fn, got)

	owner, ok := r.Owner(h)
	require.True(t, ok)
	assert.Equal(t, "demo/raw", owner.String())

	require.NoError(t, r.Release(h))
	assert.Zero(t, r.Len())
}

func TestRegistry_ValueSurvivesCollectionWhileRetained(t *testing.T) {
	L, r := newRegistry(t)

	require.NoError(t, L.DoString(`function make() return function() return 7 end end`))
	require.NoError(t, L.CallByParam(lua.P{Fn: L.GetGlobal("make"), NRet: 1, Protect: true}))
	h := r.Retain(L.Get(-1), Owner{Kind: KindRaw})
	L.Pop(1)
	runtime.GC()

	fn, err := r.Resolve(h)
	require.NoError(t, err)
	require.NoError(t, L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}))
	assert.Equal(t, lua.LNumber(7), L.Get(-1))
}

func TestRegistry_DoubleReleaseIsReported(t *testing.T) {
	_, r := newRegistry(t)

	h := r.Retain(lua.LString("x"), Owner{Kind: KindRaw})
	require.NoError(t, r.Release(h))

	err := r.Release(h)
	assert.ErrorIs(t, err, luabridge.ErrDoubleRelease)
}

func TestRegistry_StaleResolution(t *testing.T) {
	_, r := newRegistry(t)

	_, err := r.Resolve(99)
	assert.ErrorIs(t, err, luabridge.ErrStaleReference)
	assert.Contains(t, err.Error(), "never minted")

	err = r.Release(0)
	assert.ErrorIs(t, err, luabridge.ErrStaleReference)

	h := r.Retain(lua.LTrue, Owner{Kind: KindRaw})
	require.NoError(t, r.Release(h))
	_, err = r.Resolve(h)
	assert.ErrorIs(t, err, luabridge.ErrStaleReference)
	assert.Contains(t, err.Error(), "was released")
}

func TestRegistry_HandlesAreNeverReused(t *testing.T) {
	_, r := newRegistry(t)

	a := r.Retain(lua.LTrue, Owner{Kind: KindRaw})
	require.NoError(t, r.Release(a))
	b := r.Retain(lua.LTrue, Owner{Kind: KindRaw})
	assert.NotEqual(t, a, b)
}

func TestRegistry_OwnedBy(t *testing.T) {
	_, r := newRegistry(t)

	a := r.Retain(lua.LTrue, Owner{Script: "a", Kind: KindCommand})
	r.Retain(lua.LTrue, Owner{Script: "b", Kind: KindTask})
	c := r.Retain(lua.LTrue, Owner{Script: "a", Kind: KindTask})

	assert.Equal(t, []Handle{a, c}, r.OwnedBy("a"))
	assert.Empty(t, r.OwnedBy("missing"))
}

func TestRegistry_ReleaseDropsStorage(t *testing.T) {
	_, r := newRegistry(t)

	for i := 0; i < 10000; i++ {
		h := r.Retain(lua.LString("tick"), Owner{Script: "ticker", Kind: KindTask})
		require.NoError(t, r.Release(h))
	}
	assert.Zero(t, r.Len())
	assert.Empty(t, r.live)
	assert.Equal(t, Handle(10000), r.next)
}

// Property: every mint is released exactly once; the second release always
// reports a double release and resolution afterwards is always stale.
func TestProperty_ReleaseExactlyOnce(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("second release and later resolve always fail", prop.ForAll(
		func(n int) bool {
			r := New()

			handles := make([]Handle, n)
			for i := range handles {
				handles[i] = r.Retain(lua.LNumber(i), Owner{Kind: KindRaw})
			}
			for _, h := range handles {
				if r.Release(h) != nil {
					return false
				}
			}
			for _, h := range handles {
				if err := r.Release(h); err == nil {
					return false
				}
				if _, err := r.Resolve(h); err == nil {
					return false
				}
			}
			return r.Len() == 0
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package luabridge

import (
	"errors"
	"fmt"
	"math"
	"sort"

	json "github.com/goccy/go-json"
	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a plain Go value into a Lua value.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		return StringsToTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, ToLua(L, item))
		}
		return tbl
	case map[string]any:
		return MapToTable(L, val)
	case json.RawMessage:
		return lua.LString(string(val))
	default:
		if b, err := json.Marshal(val); err == nil {
			return lua.LString(string(b))
		}
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// MapToTable converts a Go map to a Lua table.
func MapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, ToLua(L, v))
	}
	return tbl
}

// StringsToTable builds a Lua sequence from ss.
func StringsToTable(L *lua.LState, ss []string) *lua.LTable {
	tbl := L.CreateTable(len(ss), 0)
	for i, s := range ss {
		tbl.RawSetInt(i+1, lua.LString(s))
	}
	return tbl
}

// MaxTableDepth bounds how deeply nested a table FromLua will convert.
const MaxTableDepth = 200

// FromLua converts a Lua value into plain Go data. A table becomes a slice
// when its keys are positive integers and at least half of 1..max is
// present; every other table becomes a map keyed by the string form of the
// key. Cyclic or overly deep tables are rejected.
func FromLua(v lua.LValue) (any, error) {
	c := converter{visiting: make(map[*lua.LTable]struct{})}
	return c.value(v, 0)
}

type converter struct {
	visiting map[*lua.LTable]struct{}
}

func (c *converter) value(v lua.LValue, depth int) (any, error) {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		return c.table(val, depth)
	default:
		return nil, nil
	}
}

func (c *converter) table(tbl *lua.LTable, depth int) (any, error) {
	if depth >= MaxTableDepth {
		return nil, fmt.Errorf("table nesting exceeds %d levels", MaxTableDepth)
	}
	if _, ok := c.visiting[tbl]; ok {
		return nil, errors.New("table contains a reference cycle")
	}
	c.visiting[tbl] = struct{}{}
	defer delete(c.visiting, tbl)

	if n, ok := sequenceLen(tbl); ok {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			item, err := c.value(tbl.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr[i-1] = item
		}
		return arr, nil
	}

	result := make(map[string]any)
	var err error
	tbl.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		var k string
		switch kv := key.(type) {
		case lua.LString:
			k = string(kv)
		case lua.LNumber:
			k = kv.String()
		default:
			return
		}
		result[k], err = c.value(value, depth+1)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sequenceLen reports the slice length for tbl when every key is an integer
// in 1..n and holes make up at most half of that range.
func sequenceLen(tbl *lua.LTable) (int, bool) {
	count, maxIdx := 0, 0
	array := true
	tbl.ForEach(func(k, _ lua.LValue) {
		if !array {
			return
		}
		num, ok := k.(lua.LNumber)
		f := float64(num)
		if !ok || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
			array = false
			return
		}
		count++
		if idx := int(f); idx > maxIdx {
			maxIdx = idx
		}
	})
	if !array || count == 0 || maxIdx > 2*count {
		return 0, false
	}
	return maxIdx, true
}

// StringList extracts the string-convertible values of a Lua table. The
// sequence part keeps its order; hash-part values follow sorted by key so
// the result is deterministic.
func StringList(tbl *lua.LTable) []string {
	n := tbl.Len()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if v := tbl.RawGetInt(i); lua.LVCanConvToString(v) {
			out = append(out, lua.LVAsString(v))
		}
	}

	type kv struct{ k, v string }
	var rest []kv
	tbl.ForEach(func(key, value lua.LValue) {
		if num, ok := key.(lua.LNumber); ok {
			if idx := int(num); float64(idx) == float64(num) && idx >= 1 && idx <= n {
				return
			}
		}
		if lua.LVCanConvToString(value) {
			rest = append(rest, kv{key.String(), lua.LVAsString(value)})
		}
	})
	sort.Slice(rest, func(i, j int) bool { return rest[i].k < rest[j].k })
	for _, e := range rest {
		out = append(out, e.v)
	}
	return out
}

package script

import (
	lua "github.com/yuin/gopher-lua"
)

// luaExplorer rebuilds a reply event stream into a Lua value, applying
// the Redis reply-to-Lua conversion rules: nil becomes false, statuses
// become {ok = s}, errors become {err = s}, arrays become tables.
type luaExplorer struct {
	L      *lua.LState
	stack  []*lua.LTable
	result lua.LValue
	errMsg string
}

func newLuaExplorer(L *lua.LState) *luaExplorer {
	return &luaExplorer{L: L, result: lua.LNil}
}

// take returns the rebuilt value
func (e *luaExplorer) take() lua.LValue {
	return e.result
}

func (e *luaExplorer) add(v lua.LValue) {
	if len(e.stack) == 0 {
		e.result = v
		return
	}
	top := e.stack[len(e.stack)-1]
	top.RawSetInt(top.Len()+1, v)
}

func (e *luaExplorer) OnBool(b bool) {
	if b {
		e.add(lua.LNumber(1))
	} else {
		e.add(lua.LFalse)
	}
}

func (e *luaExplorer) OnString(s string) {
	e.add(lua.LString(s))
}

func (e *luaExplorer) OnDouble(d float64) {
	e.add(lua.LNumber(d))
}

func (e *luaExplorer) OnInt(v int64) {
	e.add(lua.LNumber(v))
}

func (e *luaExplorer) OnArrayStart(n int) {
	e.stack = append(e.stack, e.L.NewTable())
}

func (e *luaExplorer) OnArrayEnd() {
	top := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	e.add(top)
}

func (e *luaExplorer) OnNil() {
	e.add(lua.LFalse)
}

func (e *luaExplorer) OnStatus(s string) {
	t := e.L.NewTable()
	t.RawSetString("ok", lua.LString(s))
	e.add(t)
}

func (e *luaExplorer) OnError(s string) {
	if e.errMsg == "" {
		e.errMsg = s
	}
	t := e.L.NewTable()
	t.RawSetString("err", lua.LString(s))
	e.add(t)
}

// Package script implements the scripting bridge: an interpreter wrapping
// gopher-lua with the redis.call glue, and the process-wide registry that
// resolves EVALSHA digests across threads.
package script

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/sablekv/sable/reply"
)

// AddResult reports the outcome of compiling a script body
type AddResult int

const (
	// AddOK means the body compiled and was stored under a new digest
	AddOK AddResult = iota
	// AddAlreadyExists means the digest was already known
	AddAlreadyExists
	// CompileErr means the body failed to compile
	CompileErr
)

// RunResult reports the outcome of running a stored function
type RunResult int

const (
	// RunOK means the function ran to completion
	RunOK RunResult = iota
	// RunErr means the function raised an error
	RunErr
)

// maxResultDepth bounds the result tree the serializer will walk
const maxResultDepth = 128

// RedisFunc is the callback a redis.call invocation re-enters the
// dispatcher through. The explorer receives the nested reply as a
// structured value tree.
type RedisFunc func(args []string, explr reply.ObjectExplorer)

// Interpreter wraps one Lua state. One interpreter runs at most one
// script at a time; callers bracket runs with Lock/Unlock.
type Interpreter struct {
	mu sync.Mutex

	state *lua.LState
	fns   map[string]*lua.LFunction

	redisFunc RedisFunc
	result    lua.LValue
}

// NewInterpreter creates a Lua state with the redis table installed
func NewInterpreter() *Interpreter {
	i := &Interpreter{
		state: lua.NewState(),
		fns:   make(map[string]*lua.LFunction),
	}

	redisTable := i.state.NewTable()
	i.state.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call":  i.luaCall,
		"pcall": i.luaPCall,
	})
	i.state.SetGlobal("redis", redisTable)

	return i
}

// Close releases the Lua state
func (i *Interpreter) Close() {
	i.state.Close()
}

// Lock serializes script execution on this interpreter
func (i *Interpreter) Lock() {
	i.mu.Lock()
}

// Unlock releases the interpreter
func (i *Interpreter) Unlock() {
	i.mu.Unlock()
}

// Digest returns the lowercase hex SHA-1 of a script body
func Digest(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

// AddFunction compiles body and stores it under its digest. On success
// out receives the digest; on compile failure it receives the error
// message.
func (i *Interpreter) AddFunction(body string) (out string, res AddResult) {
	sha := Digest(body)
	if _, ok := i.fns[sha]; ok {
		return sha, AddAlreadyExists
	}

	fn, err := i.state.LoadString(body)
	if err != nil {
		return err.Error(), CompileErr
	}

	i.fns[sha] = fn
	return sha, AddOK
}

// FlushFunctions drops every compiled function. Callers hold the
// interpreter lock.
func (i *Interpreter) FlushFunctions() {
	i.fns = make(map[string]*lua.LFunction)
}

// Exists reports whether the digest is compiled into this interpreter
func (i *Interpreter) Exists(sha string) bool {
	_, ok := i.fns[sha]
	return ok
}

// SetGlobalArray installs a global table of strings, 1-indexed
func (i *Interpreter) SetGlobalArray(name string, vals []string) {
	table := i.state.NewTable()
	for idx, v := range vals {
		table.RawSetInt(idx+1, lua.LString(v))
	}
	i.state.SetGlobal(name, table)
}

// SetRedisFunc installs the nested-call callback for the next run
func (i *Interpreter) SetRedisFunc(fn RedisFunc) {
	i.redisFunc = fn
}

// RunFunction runs the stored function for sha. On RunErr the returned
// string is the script error message.
func (i *Interpreter) RunFunction(sha string) (RunResult, string) {
	fn, ok := i.fns[sha]
	if !ok {
		return RunErr, "function not found"
	}

	i.state.Push(fn)
	if err := i.state.PCall(0, 1, nil); err != nil {
		i.result = lua.LNil
		return RunErr, err.Error()
	}

	i.result = i.state.Get(-1)
	return RunOK, ""
}

// IsResultSafe reports whether the result tree is shallow enough to
// serialize
func (i *Interpreter) IsResultSafe() bool {
	return resultDepth(i.result, 0) <= maxResultDepth
}

func resultDepth(v lua.LValue, depth int) int {
	if depth > maxResultDepth {
		return depth
	}
	table, ok := v.(*lua.LTable)
	if !ok {
		return depth
	}
	max := depth + 1
	table.ForEach(func(_, item lua.LValue) {
		if d := resultDepth(item, depth+1); d > max {
			max = d
		}
	})
	return max
}

// SerializeResult walks the run's result and emits it on the explorer
// using Redis Lua conversion rules: booleans are emitted as booleans
// (the explorer maps them), integral numbers become integers and
// fractional ones doubles, tables with an err or ok
// field are errors and statuses, other tables are arrays cut at the
// first nil.
func (i *Interpreter) SerializeResult(explr reply.ObjectExplorer) {
	serializeValue(i.result, explr)
}

func serializeValue(v lua.LValue, explr reply.ObjectExplorer) {
	switch val := v.(type) {
	case lua.LBool:
		explr.OnBool(bool(val))
	case lua.LString:
		explr.OnString(string(val))
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) {
			explr.OnInt(int64(f))
		} else {
			explr.OnDouble(f)
		}
	case *lua.LNilType:
		explr.OnNil()
	case *lua.LTable:
		if errMsg, ok := tableField(val, "err"); ok {
			explr.OnError(errMsg)
			return
		}
		if status, ok := tableField(val, "ok"); ok {
			explr.OnStatus(status)
			return
		}
		n := val.Len()
		explr.OnArrayStart(n)
		for idx := 1; idx <= n; idx++ {
			serializeValue(val.RawGetInt(idx), explr)
		}
		explr.OnArrayEnd()
	default:
		explr.OnString(v.String())
	}
}

func tableField(t *lua.LTable, field string) (string, bool) {
	v := t.RawGetString(field)
	if s, ok := v.(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// ResetStack clears the Lua stack and drops the held result
func (i *Interpreter) ResetStack() {
	i.state.SetTop(0)
	i.result = lua.LNil
}

// luaCall implements redis.call: errors from the nested command raise a
// Lua error
func (i *Interpreter) luaCall(L *lua.LState) int {
	return i.nestedCall(L, true)
}

// luaPCall implements redis.pcall: errors come back as {err = msg}
func (i *Interpreter) luaPCall(L *lua.LState) int {
	return i.nestedCall(L, false)
}

func (i *Interpreter) nestedCall(L *lua.LState, raise bool) int {
	if i.redisFunc == nil {
		L.RaiseError("redis.call is not available outside eval")
		return 0
	}

	argc := L.GetTop()
	if argc == 0 {
		L.RaiseError("wrong number of arguments for redis call")
		return 0
	}

	args := make([]string, argc)
	for n := 1; n <= argc; n++ {
		args[n-1] = L.ToString(n)
	}
	L.SetTop(0)

	explr := newLuaExplorer(L)
	i.redisFunc(args, explr)

	if explr.errMsg != "" && raise {
		L.RaiseError("%s", explr.errMsg)
		return 0
	}

	L.Push(explr.take())
	return 1
}

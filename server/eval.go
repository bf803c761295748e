package server

import (
	"strconv"
	"strings"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/reply"
	"github.com/sablekv/sable/script"
)

// evalValidator checks the num_keys argument of EVAL and EVALSHA after
// the arity checks have passed
func evalValidator(args []string, cntx command.ConnCtx) bool {
	numKeys, err := strconv.Atoi(args[2])
	if err != nil || numKeys < 0 {
		cntx.Reply().SendError(errInvalidInt)
		return false
	}

	if numKeys > len(args)-3 {
		cntx.Reply().SendError("Number of keys can't be greater than number of args")
		return false
	}

	return true
}

// isSHA reports whether every byte of str is a hex digit
func isSHA(str string) bool {
	for i := 0; i < len(str); i++ {
		c := str[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// evalArgs is the resolved input of one script run
type evalArgs struct {
	sha  string
	keys []string
	args []string
}

// cmdEval compiles the body into an interpreter, publishes the digest to
// the process-wide registry and runs the script
func (s *Service) cmdEval(args []string, cntx *ConnContext) {
	numKeys, _ := strconv.Atoi(args[2])

	body := strings.TrimSpace(args[1])
	if body == "" {
		cntx.Reply().SendNull()
		return
	}

	interp := s.getInterpreter()
	interp.Lock()
	defer interp.Unlock()

	out, res := interp.AddFunction(body)
	if res == script.CompileErr {
		cntx.Reply().SendError(out)
		return
	}
	if res == script.AddOK {
		s.scripts.Insert(out, body)
	}

	s.evalInternal(evalArgs{
		sha:  out,
		keys: args[3 : 3+numKeys],
		args: args[3+numKeys:],
	}, interp, cntx)
}

// cmdEvalSha resolves the digest in the interpreter first and the global
// registry second; anything that is not a 40-character hex digest is a
// NOSCRIPT miss
func (s *Service) cmdEvalSha(args []string, cntx *ConnContext) {
	numKeys, _ := strconv.Atoi(args[2])

	args[1] = strings.ToLower(args[1])
	sha := args[1]

	interp := s.getInterpreter()
	interp.Lock()
	defer interp.Unlock()

	if !interp.Exists(sha) {
		var body string
		if len(sha) == 40 {
			body, _ = s.scripts.Find(sha)
		}
		if body == "" {
			cntx.Reply().SendError(errScriptNotFound)
			return
		}
		out, res := interp.AddFunction(body)
		if res == script.CompileErr || out != sha {
			cntx.Reply().SendError(errScriptNotFound)
			return
		}
	}

	s.evalInternal(evalArgs{
		sha:  sha,
		keys: args[3 : 3+numKeys],
		args: args[3+numKeys:],
	}, interp, cntx)
}

// evalInternal runs a resolved script: declares the key set, schedules
// the envelope when keys exist, installs the nested-call bridge, runs
// the function and serializes the result. The caller holds the
// interpreter lock.
func (s *Service) evalInternal(ev evalArgs, interp *script.Interpreter, cntx *ConnContext) {
	// Sanitizing the input to avoid code injection
	if len(ev.sha) != 40 || !isSHA(ev.sha) {
		cntx.Reply().SendError(errScriptNotFound)
		return
	}

	if !interp.Exists(ev.sha) {
		body, ok := s.scripts.Find(ev.sha)
		if !ok {
			cntx.Reply().SendError(errScriptNotFound)
			return
		}
		if out, res := interp.AddFunction(body); res == script.CompileErr || out != ev.sha {
			cntx.Reply().SendError(errScriptNotFound)
			return
		}
	}

	if cntx.UnderScript() {
		panic("eval is not allowed from inside a script")
	}

	info := &ScriptInfo{Keys: make(map[string]struct{}, len(ev.keys)), IsWrite: true}
	for _, k := range ev.keys {
		info.Keys[k] = struct{}{}
	}
	cntx.State.Script = info

	if cntx.Txn == nil {
		panic("eval without a transaction")
	}

	if len(ev.keys) > 0 {
		cntx.Txn.Schedule()
	}

	interp.SetGlobalArray("KEYS", ev.keys)
	interp.SetGlobalArray("ARGV", ev.args)
	interp.SetRedisFunc(func(args []string, explr reply.ObjectExplorer) {
		s.callFromScript(args, explr, cntx)
	})

	result, errMsg := interp.RunFunction(ev.sha)

	cntx.State.Script = nil

	// Conclude the transaction
	if len(ev.keys) > 0 {
		cntx.Txn.UnlockMulti()
	}

	defer interp.ResetStack()

	if result == script.RunErr {
		cntx.Reply().SendError("Error running script (call to " + ev.sha + "): " + errMsg)
		return
	}

	if !interp.IsResultSafe() {
		cntx.Reply().SendError(errLuaStackLimit)
		return
	}

	ser := &evalSerializer{rb: cntx.Reply()}
	interp.SerializeResult(ser)
}

// callFromScript re-enters the dispatcher with a capturing sink so the
// interpreter observes the nested reply as a value tree. The original
// sink is restored on every exit path.
func (s *Service) callFromScript(args []string, explr reply.ObjectExplorer, cntx *ConnContext) {
	if cntx.Txn == nil {
		panic("script call without a transaction")
	}

	replier := reply.NewCapturingBuilder(explr)
	orig := cntx.Inject(replier)
	defer cntx.Inject(orig)

	s.DispatchCommand(args, cntx)
}

// evalSerializer maps the interpreter's result tree onto the outgoing
// reply builder. Array events are unsupported at this layer: the result
// serialization path produces one top-level value, and nested structures
// arrive through the capturing sink instead.
type evalSerializer struct {
	rb reply.Builder
}

func (e *evalSerializer) OnBool(b bool) {
	if b {
		e.rb.SendLong(1)
	} else {
		e.rb.SendNull()
	}
}

func (e *evalSerializer) OnString(s string) {
	e.rb.SendBulkString(s)
}

func (e *evalSerializer) OnDouble(d float64) {
	e.rb.SendDouble(d)
}

func (e *evalSerializer) OnInt(v int64) {
	e.rb.SendLong(v)
}

func (e *evalSerializer) OnArrayStart(n int) {
	panic("eval result arrays are not supported")
}

func (e *evalSerializer) OnArrayEnd() {
	panic("eval result arrays are not supported")
}

func (e *evalSerializer) OnNil() {
	e.rb.SendNull()
}

func (e *evalSerializer) OnStatus(s string) {
	e.rb.SendSimpleString(s)
}

func (e *evalSerializer) OnError(s string) {
	e.rb.SendError(s)
}

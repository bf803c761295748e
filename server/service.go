package server

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
	"github.com/sablekv/sable/internal/logging"
	"github.com/sablekv/sable/script"
	"github.com/sablekv/sable/txn"
)

// Version is reported by INFO and the memcached VERSION command
const Version = "1.0.0"

// maxThreads bounds the executor pool
const maxThreads = 1024

// Service is the command-dispatch core: it owns the registry, the shard
// executor set, the script registry and interpreters, and the lifecycle
// state gating request admission.
type Service struct {
	registry *command.Registry
	shards   *engine.ShardSet

	scripts    *script.Registry
	interps    []*script.Interpreter
	interpNext atomic.Uint32

	gstate  StateMachine
	metrics *Metrics
	log     logging.Logger

	// isMaster is false on a read-only replica; writes are rejected
	isMaster    bool
	requirePass string

	// onShutdown is invoked by the SHUTDOWN command when set
	onShutdown func()
}

// Config carries the service construction parameters
type Config struct {
	// Threads sizes the executor pool; 0 means one per CPU
	Threads int
	// RequirePass arms AUTH gating when non-empty
	RequirePass string
	// ReadOnly marks the node a read-only replica
	ReadOnly bool
	Logger   logging.Logger
	// Registerer receives the dispatch metrics; nil leaves them
	// unregistered
	Registerer prometheus.Registerer
}

// NewService creates the service and registers the command table. The
// service starts in the Loading state; Init moves it to Active.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Service{
		registry:    command.NewRegistry(),
		shards:      engine.NewShardSet(),
		scripts:     script.NewRegistry(),
		metrics:     NewMetrics(cfg.Registerer),
		log:         cfg.Logger,
		isMaster:    !cfg.ReadOnly,
		requirePass: cfg.RequirePass,
	}

	s.registerCommands()
	return s
}

// Init starts the shard executors and interpreters and admits requests.
// With more than one thread, one thread is reserved for non-shard work.
func (s *Service) Init(threads int) error {
	if threads <= 0 {
		threads = 1
	}
	if threads >= maxThreads {
		return fmt.Errorf("thread count %d exceeds limit %d", threads, maxThreads)
	}

	shardNum := threads
	if threads > 1 {
		shardNum = threads - 1
	}
	s.shards.Init(shardNum)

	s.interps = make([]*script.Interpreter, threads)
	for i := range s.interps {
		s.interps[i] = script.NewInterpreter()
	}

	if _, ok := s.gstate.Next(Active); !ok {
		return fmt.Errorf("service is not in the loading state")
	}

	s.log.Info("service initialized",
		logging.F("shards", shardNum), logging.F("threads", threads))

	s.registry.Traverse(func(name string, cid *command.Descriptor) {
		if cid.IsMultiKey() {
			s.log.Info("multi-key command", logging.F("name", name))
		}
	})

	return nil
}

// Shutdown moves the service to ShuttingDown and tears the executors
// down. Callers may not dispatch after it returns.
func (s *Service) Shutdown() {
	if _, ok := s.gstate.Next(ShuttingDown); !ok {
		s.log.Error("shutdown from unexpected state",
			logging.F("state", s.gstate.Current().String()))
		return
	}

	s.shards.Shutdown()
	for _, in := range s.interps {
		in.Close()
	}
	s.log.Info("service shut down")
}

// GlobalState returns the current lifecycle state
func (s *Service) GlobalState() GlobalState {
	return s.gstate.Current()
}

// SetShutdownHandler installs the callback the SHUTDOWN command invokes
func (s *Service) SetShutdownHandler(fn func()) {
	s.onShutdown = fn
}

// IsPassProtected reports whether connections must authenticate
func (s *Service) IsPassProtected() bool {
	return s.requirePass != ""
}

// Registry exposes the sealed command table
func (s *Service) Registry() *command.Registry {
	return s.registry
}

// ShardSet exposes the executor set
func (s *Service) ShardSet() *engine.ShardSet {
	return s.shards
}

// isTransactional reports whether dispatching cid needs an envelope
func isTransactional(cid *command.Descriptor) bool {
	if cid.FirstKey() > 0 || cid.Mask().Has(command.GlobalTrans) {
		return true
	}
	name := cid.Name()
	return name == "EVAL" || name == "EVALSHA"
}

// DispatchCommand turns an argument vector and a connection context into
// exactly one reply on the context's sink, enforcing every gating rule
// on the way.
func (s *Service) DispatchCommand(args []string, cntx *ConnContext) {
	if len(args) == 0 {
		cntx.Reply().SendError("empty command")
		return
	}
	if s.shards.Size() == 0 {
		panic("dispatch before Init")
	}

	args[0] = strings.ToUpper(args[0])
	cmdStr := args[0]
	isTransCmd := cmdStr == "EXEC" || cmdStr == "MULTI"
	cid := s.registry.Find(cmdStr)

	// Any rejection below this point while a MULTI is open poisons the
	// transaction; the flag is cleared once arity and policy checks
	// have passed.
	poisonMulti := true
	defer func() {
		if poisonMulti && cntx.State.ExecState != ExecInactive {
			cntx.State.ExecState = ExecError
		}
	}()

	if cid == nil {
		cntx.Reply().SendError(command.UnknownCmd(cmdStr))
		return
	}

	if st := s.gstate.Current(); st == Loading || st == ShuttingDown {
		cntx.Reply().SendError("Can not execute during " + st.String())
		return
	}

	cmdName := cid.Name()

	if cntx.RequiresAuth() && cmdName != "AUTH" {
		cntx.Reply().SendError(errNoAuth)
		return
	}

	underScript := cntx.UnderScript()
	if underScript && cid.Mask().Has(command.NoScript) {
		cntx.Reply().SendError(errNoScriptCmd)
		return
	}

	isWriteCmd := cid.IsWrite() || (underScript && cntx.State.Script.IsWrite)
	underMulti := cntx.State.ExecState != ExecInactive && !isTransCmd

	if !s.isMaster && isWriteCmd {
		cntx.Reply().SendError(errReadOnly)
		return
	}

	if !cid.CheckArity(len(args)) {
		cntx.Reply().SendError(command.WrongNumArgs(cmdStr))
		return
	}

	if !cid.Validate(args, cntx) {
		return
	}

	if underMulti {
		if cid.Mask().Has(command.Admin) {
			cntx.Reply().SendError(errAdminInMulti)
			return
		}
		if cmdName == "SELECT" {
			cntx.Reply().SendError(errSelectInMulti)
			return
		}
	}

	poisonMulti = false

	if cntx.State.ExecState != ExecInactive && !isTransCmd {
		stored := StoredCmd{Descr: cid, Args: make([]string, len(args))}
		copy(stored.Args, args)
		cntx.State.ExecBody = append(cntx.State.ExecBody, stored)

		cntx.Reply().SendSimpleString("QUEUED")
		return
	}

	start := time.Now()

	var distTrans *txn.Transaction

	if underScript {
		if cntx.Txn == nil {
			panic("script execution without a transaction")
		}
		keyIndex, err := command.DetermineKeys(cid, args)
		if err != nil {
			cntx.Reply().SendError(err.Error())
			return
		}
		undeclared := false
		keyIndex.Range(func(pos int) {
			if _, ok := cntx.State.Script.Keys[args[pos]]; !ok {
				undeclared = true
			}
		})
		if undeclared {
			cntx.Reply().SendError(errUndeclaredKey)
			return
		}
		cntx.Txn.SetExecCmd(cid)
		if err := cntx.Txn.InitByArgs(cntx.State.DbIndex, args); err != nil {
			cntx.Reply().SendError(err.Error())
			return
		}
	} else {
		if isTransactional(cid) {
			distTrans = txn.New(cid, s.shards)
			cntx.Txn = distTrans
			if err := distTrans.InitByArgs(cntx.State.DbIndex, args); err != nil {
				cntx.Txn = nil
				cntx.Reply().SendError(err.Error())
				return
			}
			cntx.LastDebug.ShardsCount = distTrans.UniqueShardCnt()
		} else {
			cntx.Txn = nil
		}
	}

	cntx.Cid = cid
	cid.Invoke(args, cntx)

	s.metrics.RecordCmd(cmdName, time.Since(start).Seconds())

	if distTrans != nil {
		cntx.LastDebug.Clock = distTrans.TxID()
		cntx.LastDebug.IsOOO = distTrans.IsOOO()
	}

	if !underScript {
		cntx.Txn = nil
	}
}

// IsLocked reports whether key holds an exclusive intent lock, checked
// on the owning shard
func (s *Service) IsLocked(db int, key string) bool {
	sid := s.shards.ShardFor(key)
	open := false
	s.shards.AwaitBrief(sid, func(sh *engine.Shard) {
		open = sh.Slice().CheckLock(db, key, engine.LockExclusive)
	})
	return !open
}

// IsShardSetLocked reports whether any shard lock is held in a way that
// blocks shared access
func (s *Service) IsShardSetLocked() bool {
	var locked atomic.Uint32
	s.shards.RunBriefInParallel(func(sh *engine.Shard) {
		if !sh.ShardLock().Check(engine.LockShared) {
			locked.Add(1)
		}
	})
	return locked.Load() != 0
}

// getInterpreter picks an interpreter from the pool
func (s *Service) getInterpreter() *script.Interpreter {
	n := s.interpNext.Add(1)
	return s.interps[int(n)%len(s.interps)]
}

// cmdQuit replies OK on the Redis protocol and closes the connection
func (s *Service) cmdQuit(args []string, cntx *ConnContext) {
	if cntx.Protocol() == ProtoRedis {
		cntx.Reply().SendOK()
	}
	cntx.Reply().CloseConnection()
}

// cmdMulti opens a MULTI block
func (s *Service) cmdMulti(args []string, cntx *ConnContext) {
	if cntx.State.ExecState != ExecInactive {
		cntx.Reply().SendError(errNestedMulti)
		return
	}
	cntx.State.ExecState = ExecCollect
	cntx.Reply().SendOK()
}

// cmdExec drains the queued body through the envelope. The reply is an
// array of one element per queued command; the first handler error stops
// the body but the envelope still unlocks.
func (s *Service) cmdExec(args []string, cntx *ConnContext) {
	rb := cntx.Reply()

	switch cntx.State.ExecState {
	case ExecInactive:
		rb.SendError(errExecWithoutMulti)
		return
	case ExecError:
		cntx.State.ExecState = ExecInactive
		cntx.State.ExecBody = nil
		rb.SendError(errExecAbort)
		return
	}

	rb.StartArray(len(cntx.State.ExecBody))

	if len(cntx.State.ExecBody) > 0 {
		rb.ResetError()
		for i := range cntx.State.ExecBody {
			scmd := &cntx.State.ExecBody[i]
			cntx.Txn.SetExecCmd(scmd.Descr)
			if err := cntx.Txn.InitByArgs(cntx.State.DbIndex, scmd.Args); err != nil {
				rb.SendError(err.Error())
				break
			}
			scmd.Descr.Invoke(scmd.Args, cntx)
			if rb.GetError() != "" {
				break
			}
		}
		cntx.Txn.UnlockMulti()
	}

	cntx.State.ExecState = ExecInactive
	cntx.State.ExecBody = nil
}

// registerCommands builds the command table and seals it
func (s *Service) registerCommands() {
	execMask := command.Loading | command.NoScript | command.GlobalTrans

	s.registry.
		Register(command.New("QUIT", command.ReadOnly|command.Fast, 1, 0, 0, 0).
			SetHandler(hfunc(s.cmdQuit))).
		Register(command.New("MULTI", command.NoScript|command.Fast|command.Loading, 1, 0, 0, 0).
			SetHandler(hfunc(s.cmdMulti))).
		Register(command.New("EVAL", command.NoScript, -3, 0, 0, 0).
			SetHandler(hfunc(s.cmdEval)).SetValidator(evalValidator)).
		Register(command.New("EVALSHA", command.NoScript, -3, 0, 0, 0).
			SetHandler(hfunc(s.cmdEvalSha)).SetValidator(evalValidator)).
		Register(command.New("EXEC", execMask, 1, 0, 0, 0).
			SetHandler(hfunc(s.cmdExec)))

	s.registerServerFamily()
	s.registerStringFamily()
	s.registerGenericFamily()
	s.registerListFamily()

	s.registry.Seal()
}

// hfunc adapts a concrete handler to the registry's type-erased shape
func hfunc(f func(args []string, cntx *ConnContext)) command.Handler {
	return func(args []string, cntx command.ConnCtx) {
		f(args, cntx.(*ConnContext))
	}
}

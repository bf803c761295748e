package server

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
	"github.com/sablekv/sable/script"
)

// maxDbIndex bounds SELECT, matching the stock redis database count
const maxDbIndex = 15

func (s *Service) registerServerFamily() {
	s.registry.
		Register(command.New("AUTH", command.NoScript|command.Fast|command.Loading, 2, 0, 0, 0).
			SetHandler(hfunc(s.cmdAuth))).
		Register(command.New("SELECT", command.Loading|command.Fast, 2, 0, 0, 0).
			SetHandler(hfunc(s.cmdSelect))).
		Register(command.New("PING", command.Fast, -1, 0, 0, 0).
			SetHandler(hfunc(s.cmdPing))).
		Register(command.New("ECHO", command.ReadOnly|command.Fast, 2, 0, 0, 0).
			SetHandler(hfunc(s.cmdEcho))).
		Register(command.New("DBSIZE", command.ReadOnly|command.Fast, 1, 0, 0, 0).
			SetHandler(hfunc(s.cmdDbSize))).
		Register(command.New("INFO", command.ReadOnly|command.Loading, -1, 0, 0, 0).
			SetHandler(hfunc(s.cmdInfo))).
		Register(command.New("SHUTDOWN", command.Admin|command.NoScript|command.Loading, 1, 0, 0, 0).
			SetHandler(hfunc(s.cmdShutdown))).
		Register(command.New("SCRIPT", command.NoScript, -2, 0, 0, 0).
			SetHandler(hfunc(s.cmdScript)))
}

func (s *Service) cmdAuth(args []string, cntx *ConnContext) {
	if s.requirePass == "" {
		cntx.Reply().SendError("Client sent AUTH, but no password is set")
		return
	}

	if args[1] == s.requirePass {
		cntx.State.Mask |= Authenticated
		cntx.Reply().SendOK()
	} else {
		cntx.Reply().SendError("invalid password")
	}
}

func (s *Service) cmdSelect(args []string, cntx *ConnContext) {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		cntx.Reply().SendError(errInvalidInt)
		return
	}
	if index < 0 || index > maxDbIndex {
		cntx.Reply().SendError(errDbIndexRange)
		return
	}

	cntx.State.DbIndex = index
	cntx.Reply().SendOK()
}

func (s *Service) cmdPing(args []string, cntx *ConnContext) {
	switch len(args) {
	case 1:
		cntx.Reply().SendSimpleString("PONG")
	case 2:
		cntx.Reply().SendBulkString(args[1])
	default:
		cntx.Reply().SendError(command.WrongNumArgs("PING"))
	}
}

func (s *Service) cmdEcho(args []string, cntx *ConnContext) {
	cntx.Reply().SendBulkString(args[1])
}

func (s *Service) cmdDbSize(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	var total atomic.Int64
	s.shards.RunBriefInParallel(func(sh *engine.Shard) {
		total.Add(int64(sh.Slice().Len(db)))
	})
	cntx.Reply().SendLong(total.Load())
}

func (s *Service) cmdInfo(args []string, cntx *ConnContext) {
	var b strings.Builder
	b.WriteString("# Server\r\n")
	b.WriteString("sable_version:" + Version + "\r\n")
	b.WriteString("shard_count:" + strconv.FormatUint(uint64(s.shards.Size()), 10) + "\r\n")
	b.WriteString("# Replication\r\n")
	if s.isMaster {
		b.WriteString("role:master\r\n")
	} else {
		b.WriteString("role:replica\r\n")
	}
	cntx.Reply().SendBulkString(b.String())
}

func (s *Service) cmdShutdown(args []string, cntx *ConnContext) {
	if s.onShutdown == nil {
		cntx.Reply().SendError("shutdown is not enabled")
		return
	}
	cntx.Reply().SendOK()
	cntx.Reply().CloseConnection()
	go s.onShutdown()
}

// cmdScript implements SCRIPT LOAD, SCRIPT EXISTS and SCRIPT FLUSH over
// the process-wide registry
func (s *Service) cmdScript(args []string, cntx *ConnContext) {
	sub := strings.ToUpper(args[1])

	switch sub {
	case "LOAD":
		if len(args) != 3 {
			cntx.Reply().SendError(command.WrongNumArgs("SCRIPT"))
			return
		}
		body := strings.TrimSpace(args[2])
		interp := s.getInterpreter()
		interp.Lock()
		out, res := interp.AddFunction(body)
		interp.Unlock()
		if res == script.CompileErr {
			cntx.Reply().SendError(out)
			return
		}
		s.scripts.Insert(out, body)
		cntx.Reply().SendBulkString(out)

	case "EXISTS":
		if len(args) < 3 {
			cntx.Reply().SendError(command.WrongNumArgs("SCRIPT"))
			return
		}
		rb := cntx.Reply()
		rb.StartArray(len(args) - 2)
		for _, sha := range args[2:] {
			if s.scripts.Exists(strings.ToLower(sha)) {
				rb.SendLong(1)
			} else {
				rb.SendLong(0)
			}
		}

	case "FLUSH":
		s.scripts.Flush()
		for _, interp := range s.interps {
			interp.Lock()
			interp.FlushFunctions()
			interp.Unlock()
		}
		cntx.Reply().SendOK()

	default:
		cntx.Reply().SendError("Unknown SCRIPT subcommand or wrong number of arguments for '" + args[1] + "'")
	}
}

package server

import (
	"strconv"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
)

func (s *Service) registerListFamily() {
	s.registry.
		Register(command.New("LPUSH", command.Write|command.Fast, -3, 1, 1, 1).
			SetHandler(hfunc(s.cmdLPush))).
		Register(command.New("RPUSH", command.Write|command.Fast, -3, 1, 1, 1).
			SetHandler(hfunc(s.cmdRPush))).
		Register(command.New("LPOP", command.Write|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdLPop))).
		Register(command.New("RPOP", command.Write|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdRPop))).
		Register(command.New("LLEN", command.ReadOnly|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdLLen))).
		Register(command.New("LRANGE", command.ReadOnly, 4, 1, 1, 1).
			SetHandler(hfunc(s.cmdLRange)))
}

func (s *Service) pushGeneric(args []string, cntx *ConnContext, front bool) {
	key := args[1]
	db := cntx.State.DbIndex

	var length int64
	wrongType := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		v, ok := slice.Find(db, key)
		if ok && v.Kind != engine.KindList {
			wrongType = true
			return
		}
		if !ok {
			v = &engine.Value{Kind: engine.KindList}
		}
		for _, item := range args[2:] {
			if front {
				v.List = append([]string{item}, v.List...)
			} else {
				v.List = append(v.List, item)
			}
		}
		length = int64(len(v.List))
		slice.Set(db, key, v)
	})

	if wrongType {
		cntx.Reply().SendError(errWrongType)
		return
	}
	cntx.Reply().SendLong(length)
}

func (s *Service) cmdLPush(args []string, cntx *ConnContext) {
	s.pushGeneric(args, cntx, true)
}

func (s *Service) cmdRPush(args []string, cntx *ConnContext) {
	s.pushGeneric(args, cntx, false)
}

func (s *Service) popGeneric(args []string, cntx *ConnContext, front bool) {
	key := args[1]
	db := cntx.State.DbIndex

	var popped string
	found := false
	wrongType := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		v, ok := slice.Find(db, key)
		if !ok {
			return
		}
		if v.Kind != engine.KindList || len(v.List) == 0 {
			wrongType = v.Kind != engine.KindList
			return
		}
		if front {
			popped = v.List[0]
			v.List = v.List[1:]
		} else {
			popped = v.List[len(v.List)-1]
			v.List = v.List[:len(v.List)-1]
		}
		found = true
		if len(v.List) == 0 {
			slice.Delete(db, key)
		}
	})

	switch {
	case wrongType:
		cntx.Reply().SendError(errWrongType)
	case found:
		cntx.Reply().SendBulkString(popped)
	default:
		cntx.Reply().SendNull()
	}
}

func (s *Service) cmdLPop(args []string, cntx *ConnContext) {
	s.popGeneric(args, cntx, true)
}

func (s *Service) cmdRPop(args []string, cntx *ConnContext) {
	s.popGeneric(args, cntx, false)
}

func (s *Service) cmdLLen(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	var length int64

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		if v, ok := sh.Slice().Find(db, args[1]); ok && v.Kind == engine.KindList {
			length = int64(len(v.List))
		}
	})

	cntx.Reply().SendLong(length)
}

func (s *Service) cmdLRange(args []string, cntx *ConnContext) {
	start, err1 := strconv.Atoi(args[2])
	stop, err2 := strconv.Atoi(args[3])
	if err1 != nil || err2 != nil {
		cntx.Reply().SendError(errInvalidInt)
		return
	}

	db := cntx.State.DbIndex
	var items []string

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		v, ok := sh.Slice().Find(db, args[1])
		if !ok || v.Kind != engine.KindList {
			return
		}
		n := len(v.List)
		lo, hi := start, stop
		if lo < 0 {
			lo += n
		}
		if hi < 0 {
			hi += n
		}
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		if lo > hi {
			return
		}
		items = append(items, v.List[lo:hi+1]...)
	})

	cntx.Reply().SendStringArr(items)
}

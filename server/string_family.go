package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
	"github.com/sablekv/sable/reply"
)

func (s *Service) registerStringFamily() {
	s.registry.
		Register(command.New("SET", command.Write, -3, 1, 1, 1).
			SetHandler(hfunc(s.cmdSet))).
		Register(command.New("SETEX", command.Write, 4, 1, 1, 1).
			SetHandler(hfunc(s.cmdSetEx))).
		Register(command.New("GET", command.ReadOnly|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdGet))).
		Register(command.New("GETSET", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdGetSet))).
		Register(command.New("MGET", command.ReadOnly|command.Fast, -2, 1, -1, 1).
			SetHandler(hfunc(s.cmdMGet))).
		Register(command.New("MSET", command.Write, -3, 1, -1, 2).
			SetHandler(hfunc(s.cmdMSet))).
		Register(command.New("INCR", command.Write|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdIncr))).
		Register(command.New("DECR", command.Write|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdDecr))).
		Register(command.New("INCRBY", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdIncrBy))).
		Register(command.New("DECRBY", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdDecrBy))).
		Register(command.New("APPEND", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdAppend))).
		Register(command.New("PREPEND", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdPrepend)))
}

// setParams are the parsed SET modifiers
type setParams struct {
	nx  bool
	xx  bool
	ttl time.Duration
}

func parseSetParams(args []string) (setParams, bool) {
	var p setParams
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			p.nx = true
		case "XX":
			p.xx = true
		case "EX":
			if i+1 >= len(args) {
				return p, false
			}
			secs, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || secs <= 0 {
				return p, false
			}
			p.ttl = time.Duration(secs) * time.Second
			i++
		default:
			return p, false
		}
	}
	if p.nx && p.xx {
		return p, false
	}
	return p, true
}

func (s *Service) cmdSet(args []string, cntx *ConnContext) {
	key, value := args[1], args[2]

	params, ok := parseSetParams(args)
	if !ok {
		cntx.Reply().SendError("syntax error")
		return
	}

	flags := cntx.State.MemcacheFlag
	db := cntx.State.DbIndex
	stored := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		_, exists := slice.Find(db, key)
		if (params.nx && exists) || (params.xx && !exists) {
			return
		}
		v := &engine.Value{Kind: engine.KindString, Str: value, Flags: flags}
		if params.ttl > 0 {
			v.ExpireAt = time.Now().Add(params.ttl)
		}
		slice.Set(db, key, v)
		stored = true
	})

	if stored {
		cntx.Reply().SendStored()
	} else {
		cntx.Reply().SendNull()
	}
}

func (s *Service) cmdSetEx(args []string, cntx *ConnContext) {
	secs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || secs <= 0 {
		cntx.Reply().SendError(errInvalidInt)
		return
	}

	key, value := args[1], args[3]
	db := cntx.State.DbIndex

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		sh.Slice().Set(db, key, &engine.Value{
			Kind:     engine.KindString,
			Str:      value,
			ExpireAt: time.Now().Add(time.Duration(secs) * time.Second),
		})
	})

	cntx.Reply().SendOK()
}

func (s *Service) cmdGet(args []string, cntx *ConnContext) {
	key := args[1]
	db := cntx.State.DbIndex

	var result string
	found := false
	wrongType := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		v, ok := sh.Slice().Find(db, key)
		if !ok {
			return
		}
		if v.Kind != engine.KindString {
			wrongType = true
			return
		}
		result = v.Str
		found = true
	})

	switch {
	case wrongType:
		cntx.Reply().SendError(errWrongType)
	case found:
		cntx.Reply().SendBulkString(result)
	default:
		cntx.Reply().SendNull()
	}
}

func (s *Service) cmdGetSet(args []string, cntx *ConnContext) {
	key, value := args[1], args[2]
	db := cntx.State.DbIndex

	var prev string
	hadPrev := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		if v, ok := slice.Find(db, key); ok && v.Kind == engine.KindString {
			prev = v.Str
			hadPrev = true
		}
		slice.Set(db, key, &engine.Value{Kind: engine.KindString, Str: value})
	})

	if hadPrev {
		cntx.Reply().SendBulkString(prev)
	} else {
		cntx.Reply().SendNull()
	}
}

func (s *Service) cmdMGet(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	keys := args[1:]

	type hit struct {
		value string
		flags uint32
	}
	found := make(map[string]hit, len(keys))

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		for _, key := range cntx.Txn.ShardKeys(sid) {
			if v, ok := sh.Slice().Find(db, key); ok && v.Kind == engine.KindString {
				found[key] = hit{value: v.Str, flags: v.Flags}
			}
		}
	})

	res := make([]*reply.MGetResult, len(keys))
	for i, key := range keys {
		if h, ok := found[key]; ok {
			res[i] = &reply.MGetResult{Key: key, Value: h.value, Flags: h.flags}
		}
	}
	cntx.Reply().SendMGetResponse(res)
}

func (s *Service) cmdMSet(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex

	values := make(map[string]string, (len(args)-1)/2)
	for i := 1; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		for _, key := range cntx.Txn.ShardKeys(sid) {
			sh.Slice().Set(db, key, &engine.Value{Kind: engine.KindString, Str: values[key]})
		}
	})

	cntx.Reply().SendOK()
}

func (s *Service) cmdIncr(args []string, cntx *ConnContext) {
	s.incrByGeneric(args[1], 1, cntx)
}

func (s *Service) cmdDecr(args []string, cntx *ConnContext) {
	s.incrByGeneric(args[1], -1, cntx)
}

func (s *Service) cmdIncrBy(args []string, cntx *ConnContext) {
	delta, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		cntx.Reply().SendError(errInvalidInt)
		return
	}
	s.incrByGeneric(args[1], delta, cntx)
}

func (s *Service) cmdDecrBy(args []string, cntx *ConnContext) {
	delta, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		cntx.Reply().SendError(errInvalidInt)
		return
	}
	s.incrByGeneric(args[1], -delta, cntx)
}

func (s *Service) incrByGeneric(key string, delta int64, cntx *ConnContext) {
	db := cntx.State.DbIndex

	var result int64
	badValue := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		cur := int64(0)
		if v, ok := slice.Find(db, key); ok {
			if v.Kind != engine.KindString {
				badValue = true
				return
			}
			n, err := strconv.ParseInt(v.Str, 10, 64)
			if err != nil {
				badValue = true
				return
			}
			cur = n
		}
		result = cur + delta
		slice.Set(db, key, &engine.Value{Kind: engine.KindString, Str: strconv.FormatInt(result, 10)})
	})

	if badValue {
		cntx.Reply().SendError(errInvalidInt)
		return
	}
	cntx.Reply().SendLong(result)
}

func (s *Service) cmdAppend(args []string, cntx *ConnContext) {
	s.extendGeneric(args, cntx, false)
}

func (s *Service) cmdPrepend(args []string, cntx *ConnContext) {
	s.extendGeneric(args, cntx, true)
}

// extendGeneric implements APPEND and PREPEND. On the memcached protocol
// the operation only succeeds against an existing value, matching
// memcached store semantics; on the Redis protocol a missing key is
// created.
func (s *Service) extendGeneric(args []string, cntx *ConnContext, prepend bool) {
	key, value := args[1], args[2]
	db := cntx.State.DbIndex
	mcProto := cntx.Protocol() == ProtoMemcache

	var length int64
	existed := false
	wrongType := false

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		v, ok := slice.Find(db, key)
		if ok && v.Kind != engine.KindString {
			wrongType = true
			return
		}
		existed = ok
		if !ok {
			if mcProto {
				return
			}
			v = &engine.Value{Kind: engine.KindString}
		}
		if prepend {
			v.Str = value + v.Str
		} else {
			v.Str = v.Str + value
		}
		length = int64(len(v.Str))
		slice.Set(db, key, v)
	})

	switch {
	case wrongType:
		cntx.Reply().SendError(errWrongType)
	case mcProto && !existed:
		cntx.Reply().SendNull()
	case mcProto:
		cntx.Reply().SendStored()
	default:
		cntx.Reply().SendLong(length)
	}
}

package server

import (
	"strconv"
	"time"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
)

func (s *Service) registerGenericFamily() {
	s.registry.
		Register(command.New("DEL", command.Write, -2, 1, -1, 1).
			SetHandler(hfunc(s.cmdDel))).
		Register(command.New("EXISTS", command.ReadOnly|command.Fast, -2, 1, -1, 1).
			SetHandler(hfunc(s.cmdExists))).
		Register(command.New("TYPE", command.ReadOnly|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdType))).
		Register(command.New("EXPIRE", command.Write|command.Fast, 3, 1, 1, 1).
			SetHandler(hfunc(s.cmdExpire))).
		Register(command.New("TTL", command.ReadOnly|command.Fast, 2, 1, 1, 1).
			SetHandler(hfunc(s.cmdTTL)))
}

func (s *Service) cmdDel(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	var deleted int64

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		for _, key := range cntx.Txn.ShardKeys(sid) {
			if sh.Slice().Delete(db, key) {
				deleted++
			}
		}
	})

	if cntx.Protocol() == ProtoMemcache {
		if deleted > 0 {
			cntx.Reply().SendSimpleString("DELETED")
		} else {
			cntx.Reply().SendSimpleString("NOT_FOUND")
		}
		return
	}
	cntx.Reply().SendLong(deleted)
}

func (s *Service) cmdExists(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	var count int64

	// EXISTS counts repeated arguments per occurrence
	perKey := make(map[string]bool)
	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		for _, key := range cntx.Txn.ShardKeys(sid) {
			if _, ok := sh.Slice().Find(db, key); ok {
				perKey[key] = true
			}
		}
	})
	for _, key := range args[1:] {
		if perKey[key] {
			count++
		}
	}

	cntx.Reply().SendLong(count)
}

func (s *Service) cmdType(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	kind := "none"

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		if v, ok := sh.Slice().Find(db, args[1]); ok {
			kind = v.Kind.String()
		}
	})

	cntx.Reply().SendSimpleString(kind)
}

func (s *Service) cmdExpire(args []string, cntx *ConnContext) {
	secs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		cntx.Reply().SendError(errInvalidInt)
		return
	}

	db := cntx.State.DbIndex
	var set int64

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		slice := sh.Slice()
		v, ok := slice.Find(db, args[1])
		if !ok {
			return
		}
		if secs <= 0 {
			slice.Delete(db, args[1])
		} else {
			v.ExpireAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
		set = 1
	})

	cntx.Reply().SendLong(set)
}

func (s *Service) cmdTTL(args []string, cntx *ConnContext) {
	db := cntx.State.DbIndex
	ttl := int64(-2)

	cntx.Txn.Execute(func(sid uint32, sh *engine.Shard) {
		v, ok := sh.Slice().Find(db, args[1])
		if !ok {
			return
		}
		if !v.HasExpiry() {
			ttl = -1
			return
		}
		ttl = int64(time.Until(v.ExpireAt).Round(time.Second) / time.Second)
		if ttl < 0 {
			ttl = 0
		}
	})

	cntx.Reply().SendLong(ttl)
}

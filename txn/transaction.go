// Package txn implements the transaction envelope binding one logical
// command, or a whole MULTI/EXEC body, to the shards holding its keys.
package txn

import (
	"sort"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
)

// heldLock records one granted intent lock so it can be released exactly
// once at conclusion
type heldLock struct {
	sid  uint32
	db   int
	key  string
	mode engine.LockMode
}

// Transaction binds a command descriptor and argument vector to the
// shard set. Single commands schedule, hop and conclude inside one
// Execute call; multi-mode envelopes (EXEC bodies and scripts) accumulate
// locks across rebinds and hold them until UnlockMulti.
type Transaction struct {
	ss  *engine.ShardSet
	cid *command.Descriptor

	db   int
	args []string

	// key layout of the currently bound command
	shardKeys map[uint32][]string
	order     []uint32

	// multi keeps locks across Execute calls until UnlockMulti
	multi bool
	// global envelopes take every shard lock exclusively instead of
	// key locks
	global       bool
	globalLocked bool

	txid uint64
	ooo  bool

	held      []heldLock
	heldIndex map[heldLock]struct{}
	// shared shard-lock holds, one per participating shard
	heldShards map[uint32]struct{}
}

// New creates an envelope for a descriptor
func New(cid *command.Descriptor, ss *engine.ShardSet) *Transaction {
	return &Transaction{
		cid:        cid,
		ss:         ss,
		txid:       ss.NextTxID(),
		global:     cid.Mask().Has(command.GlobalTrans),
		heldIndex:  make(map[heldLock]struct{}),
		heldShards: make(map[uint32]struct{}),
	}
}

// SetExecCmd rebinds the envelope to another descriptor, keeping every
// lock acquired so far. Used for queued EXEC commands and nested script
// calls.
func (t *Transaction) SetExecCmd(cid *command.Descriptor) {
	t.cid = cid
	t.multi = true
}

// InitByArgs recomputes the key set and shard fan-out for the currently
// bound descriptor
func (t *Transaction) InitByArgs(db int, args []string) error {
	t.db = db
	t.args = args
	t.shardKeys = make(map[uint32][]string)
	t.order = t.order[:0]

	index, err := command.DetermineKeys(t.cid, args)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	index.Range(func(pos int) {
		key := args[pos]
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		sid := t.ss.ShardFor(key)
		t.shardKeys[sid] = append(t.shardKeys[sid], key)
	})

	for sid := range t.shardKeys {
		t.order = append(t.order, sid)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })

	return nil
}

// Schedule acquires the locks for the currently bound key set and keeps
// them until UnlockMulti. Shards are visited in ascending id order.
func (t *Transaction) Schedule() {
	t.multi = true
	t.acquire()
}

// Execute runs fn on every shard the bound command touches, in ascending
// shard id order, inside each shard's goroutine. Outside multi mode the
// envelope schedules first and concludes afterwards; in multi mode locks
// accumulate and survive the call.
func (t *Transaction) Execute(fn func(sid uint32, sh *engine.Shard)) {
	t.acquire()
	for _, sid := range t.order {
		t.ss.Await(sid, func(sh *engine.Shard) {
			fn(sid, sh)
		})
	}
	if !t.multi {
		t.unlock()
	}
}

// UnlockMulti releases every lock the envelope accumulated
func (t *Transaction) UnlockMulti() {
	t.unlock()
	t.multi = false
}

// TxID returns the envelope's transaction id
func (t *Transaction) TxID() uint64 { return t.txid }

// IsOOO reports whether the envelope touched a single shard and acquired
// its locks there without waiting; multi-shard and global envelopes
// report false
func (t *Transaction) IsOOO() bool { return t.ooo }

// UniqueShardCnt returns the number of shards the bound command touches
func (t *Transaction) UniqueShardCnt() uint32 { return uint32(len(t.order)) }

// Db returns the logical database the envelope is bound to
func (t *Transaction) Db() int { return t.db }

// ShardKeys returns the bound command's keys owned by shard sid
func (t *Transaction) ShardKeys(sid uint32) []string {
	return t.shardKeys[sid]
}

// keyLockMode picks the intent mode for key locks: multi-mode envelopes
// always lock exclusively because later rebinds may write the same keys.
func (t *Transaction) keyLockMode() engine.LockMode {
	if t.multi || t.cid.IsWrite() {
		return engine.LockExclusive
	}
	return engine.LockShared
}

// acquire takes the missing locks for the currently bound command:
// shard locks on every participating shard, key locks per key. Waiting
// happens in the calling goroutine so shard loops never block.
func (t *Transaction) acquire() {
	if t.global {
		t.acquireGlobal()
		return
	}

	mode := t.keyLockMode()
	contended := false

	for _, sid := range t.order {
		var waits []<-chan struct{}
		t.ss.Await(sid, func(sh *engine.Shard) {
			if _, ok := t.heldShards[sid]; !ok {
				if ch := sh.ShardLock().Acquire(engine.LockShared); ch != nil {
					waits = append(waits, ch)
				}
				t.heldShards[sid] = struct{}{}
			}
			for _, key := range t.shardKeys[sid] {
				hl := heldLock{sid: sid, db: t.db, key: key, mode: mode}
				if _, ok := t.heldIndex[hl]; ok {
					continue
				}
				if ch := sh.Slice().AcquireKeyLock(t.db, key, mode); ch != nil {
					waits = append(waits, ch)
				}
				t.heldIndex[hl] = struct{}{}
				t.held = append(t.held, hl)
			}
		})
		for _, ch := range waits {
			contended = true
			<-ch
		}
	}

	t.ooo = len(t.order) == 1 && !contended
}

// acquireGlobal locks every shard exclusively, once per envelope
func (t *Transaction) acquireGlobal() {
	if t.globalLocked {
		return
	}
	for sid := uint32(0); sid < t.ss.Size(); sid++ {
		var wait <-chan struct{}
		t.ss.Await(sid, func(sh *engine.Shard) {
			wait = sh.ShardLock().Acquire(engine.LockExclusive)
		})
		if wait != nil {
			<-wait
		}
	}
	t.globalLocked = true
}

// unlock releases everything acquire granted
func (t *Transaction) unlock() {
	byShard := make(map[uint32][]heldLock)
	for _, hl := range t.held {
		byShard[hl.sid] = append(byShard[hl.sid], hl)
	}

	for sid, locks := range byShard {
		shardLocks := locks
		_, holdsShard := t.heldShards[sid]
		t.ss.Await(sid, func(sh *engine.Shard) {
			for _, hl := range shardLocks {
				sh.Slice().ReleaseKeyLock(hl.db, hl.key, hl.mode)
			}
			if holdsShard {
				sh.ShardLock().Release(engine.LockShared)
			}
		})
		delete(t.heldShards, sid)
	}

	// shard locks held without key locks (zero-key rebinds)
	for sid := range t.heldShards {
		t.ss.Await(sid, func(sh *engine.Shard) {
			sh.ShardLock().Release(engine.LockShared)
		})
		delete(t.heldShards, sid)
	}

	if t.globalLocked {
		for sid := uint32(0); sid < t.ss.Size(); sid++ {
			t.ss.Await(sid, func(sh *engine.Shard) {
				sh.ShardLock().Release(engine.LockExclusive)
			})
		}
		t.globalLocked = false
	}

	t.held = t.held[:0]
	t.heldIndex = make(map[heldLock]struct{})
}

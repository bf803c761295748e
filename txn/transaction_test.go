package txn

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/engine"
)

func newSet(t *testing.T, n int) *engine.ShardSet {
	t.Helper()
	ss := engine.NewShardSet()
	ss.Init(n)
	t.Cleanup(ss.Shutdown)
	return ss
}

func mgetDescr() *command.Descriptor {
	return command.New("MGET", command.ReadOnly, -2, 1, -1, 1)
}

func setDescr() *command.Descriptor {
	return command.New("SET", command.Write, -3, 1, 1, 1)
}

func TestInitByArgsComputesShardSet(t *testing.T) {
	ss := newSet(t, 4)
	tx := New(mgetDescr(), ss)

	args := []string{"MGET", "a", "b", "c", "a"}
	require.NoError(t, tx.InitByArgs(0, args))

	// Duplicate keys collapse; every unique key lands on exactly one
	// shard of the fan-out.
	total := 0
	seen := map[string]bool{}
	for sid := uint32(0); sid < ss.Size(); sid++ {
		for _, key := range tx.ShardKeys(sid) {
			assert.Equal(t, sid, ss.ShardFor(key))
			seen[key] = true
			total++
		}
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
	assert.GreaterOrEqual(t, ss.Size(), tx.UniqueShardCnt())
}

func TestExecuteVisitsShardsInOrder(t *testing.T) {
	ss := newSet(t, 8)
	tx := New(mgetDescr(), ss)
	require.NoError(t, tx.InitByArgs(0, []string{"MGET", "a", "b", "c", "d", "e"}))

	var visited []uint32
	tx.Execute(func(sid uint32, sh *engine.Shard) {
		visited = append(visited, sid)
	})

	assert.Equal(t, int(tx.UniqueShardCnt()), len(visited))
	for i := 1; i < len(visited); i++ {
		assert.Less(t, visited[i-1], visited[i])
	}
}

func TestSingleCommandConcludesLocks(t *testing.T) {
	ss := newSet(t, 2)
	tx := New(setDescr(), ss)
	require.NoError(t, tx.InitByArgs(0, []string{"SET", "k", "v"}))

	tx.Execute(func(sid uint32, sh *engine.Shard) {})

	// After a non-multi Execute every lock is released
	sid := ss.ShardFor("k")
	free := false
	ss.AwaitBrief(sid, func(sh *engine.Shard) {
		free = sh.Slice().CheckLock(0, "k", engine.LockExclusive)
	})
	assert.True(t, free)
}

func TestScheduleHoldsLocksUntilUnlockMulti(t *testing.T) {
	ss := newSet(t, 2)
	tx := New(command.New("EVAL", command.NoScript, -3, 0, 0, 0), ss)
	require.NoError(t, tx.InitByArgs(0, []string{"EVAL", "return 1", "1", "k"}))

	tx.Schedule()

	sid := ss.ShardFor("k")
	locked := false
	ss.AwaitBrief(sid, func(sh *engine.Shard) {
		locked = !sh.Slice().CheckLock(0, "k", engine.LockExclusive)
	})
	assert.True(t, locked)

	tx.UnlockMulti()

	ss.AwaitBrief(sid, func(sh *engine.Shard) {
		locked = !sh.Slice().CheckLock(0, "k", engine.LockExclusive)
	})
	assert.False(t, locked)
}

func TestMultiRebindAccumulatesLocks(t *testing.T) {
	ss := newSet(t, 2)
	tx := New(command.New("EXEC", command.GlobalTrans|command.NoScript, 1, 0, 0, 0), ss)
	require.NoError(t, tx.InitByArgs(0, []string{"EXEC"}))

	// Rebinding to a keyed command under multi takes the shard locks
	// exclusively once for the whole envelope
	tx.SetExecCmd(setDescr())
	require.NoError(t, tx.InitByArgs(0, []string{"SET", "k", "v"}))
	tx.Execute(func(sid uint32, sh *engine.Shard) {})

	// The envelope is global: every shard lock is held exclusively
	var exclusive atomic.Uint32
	ss.RunBriefInParallel(func(sh *engine.Shard) {
		if !sh.ShardLock().Check(engine.LockShared) {
			exclusive.Add(1)
		}
	})
	assert.Equal(t, uint32(ss.Size()), exclusive.Load())

	tx.UnlockMulti()

	var stillHeld atomic.Uint32
	ss.RunBriefInParallel(func(sh *engine.Shard) {
		if !sh.ShardLock().Check(engine.LockExclusive) {
			stillHeld.Add(1)
		}
	})
	assert.Zero(t, stillHeld.Load())
}

func TestTxIDMonotonic(t *testing.T) {
	ss := newSet(t, 1)

	t1 := New(setDescr(), ss)
	t2 := New(setDescr(), ss)
	assert.Less(t, t1.TxID(), t2.TxID())
}

func TestSingleShardUncontendedIsOOO(t *testing.T) {
	ss := newSet(t, 2)

	tx := New(setDescr(), ss)
	require.NoError(t, tx.InitByArgs(0, []string{"SET", "k", "v"}))
	tx.Execute(func(sid uint32, sh *engine.Shard) {})
	assert.True(t, tx.IsOOO())

	multi := New(mgetDescr(), ss)
	require.NoError(t, multi.InitByArgs(0, []string{"MGET", "a", "b", "c", "d", "e", "f"}))
	multi.Execute(func(sid uint32, sh *engine.Shard) {})
	if multi.UniqueShardCnt() > 1 {
		assert.False(t, multi.IsOOO())
	}
}

package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSet(t *testing.T, n int) *ShardSet {
	t.Helper()
	ss := NewShardSet()
	ss.Init(n)
	t.Cleanup(ss.Shutdown)
	return ss
}

func TestShardRoutingIsStable(t *testing.T) {
	ss := newSet(t, 4)

	sid := ss.ShardFor("foo")
	for i := 0; i < 100; i++ {
		assert.Equal(t, sid, ss.ShardFor("foo"))
	}
	assert.Less(t, sid, ss.Size())
}

func TestAwaitRunsOnOwningShard(t *testing.T) {
	ss := newSet(t, 3)

	var got uint32
	ss.Await(2, func(sh *Shard) {
		got = sh.ID()
	})
	assert.Equal(t, uint32(2), got)
}

func TestAwaitIsSerialPerShard(t *testing.T) {
	ss := newSet(t, 1)

	// Tasks on one shard never run concurrently
	var inFlight, maxInFlight atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			ss.Await(0, func(*Shard) {
				cur := inFlight.Add(1)
				if cur > maxInFlight.Load() {
					maxInFlight.Store(cur)
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestRunBriefInParallelVisitsEveryShard(t *testing.T) {
	ss := newSet(t, 5)

	var visited atomic.Uint32
	ss.RunBriefInParallel(func(sh *Shard) {
		visited.Add(1)
	})
	assert.Equal(t, uint32(5), visited.Load())
}

func TestIntentLockSharedAdmitsShared(t *testing.T) {
	l := &IntentLock{}

	require.Nil(t, l.Acquire(LockShared))
	require.Nil(t, l.Acquire(LockShared))
	assert.True(t, l.Check(LockShared))
	assert.False(t, l.Check(LockExclusive))
}

func TestIntentLockExclusiveBlocksAll(t *testing.T) {
	l := &IntentLock{}

	require.Nil(t, l.Acquire(LockExclusive))
	assert.False(t, l.Check(LockShared))
	assert.False(t, l.Check(LockExclusive))

	wait := l.Acquire(LockShared)
	require.NotNil(t, wait)

	select {
	case <-wait:
		t.Fatal("shared lock granted while exclusive held")
	default:
	}

	l.Release(LockExclusive)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("waiter not granted after release")
	}
	assert.False(t, l.Check(LockExclusive))
}

func TestIntentLockFIFOGrant(t *testing.T) {
	l := &IntentLock{}

	require.Nil(t, l.Acquire(LockShared))

	// Exclusive waits behind the shared holder; a later shared request
	// queues behind the exclusive one instead of jumping it.
	exWait := l.Acquire(LockExclusive)
	require.NotNil(t, exWait)
	shWait := l.Acquire(LockShared)
	require.NotNil(t, shWait)

	l.Release(LockShared)

	select {
	case <-exWait:
	case <-time.After(time.Second):
		t.Fatal("exclusive waiter not granted")
	}
	select {
	case <-shWait:
		t.Fatal("shared waiter granted before exclusive released")
	default:
	}

	l.Release(LockExclusive)
	select {
	case <-shWait:
	case <-time.After(time.Second):
		t.Fatal("shared waiter not granted")
	}
}

func TestDbSliceExpiry(t *testing.T) {
	s := newDbSlice()

	s.Set(0, "k", &Value{Kind: KindString, Str: "v", ExpireAt: time.Now().Add(-time.Second)})
	_, ok := s.Find(0, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(0))

	s.Set(0, "k", &Value{Kind: KindString, Str: "v"})
	v, ok := s.Find(0, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v.Str)
}

func TestDbSliceKeyLocks(t *testing.T) {
	s := newDbSlice()

	require.Nil(t, s.AcquireKeyLock(0, "k", LockExclusive))
	assert.False(t, s.CheckLock(0, "k", LockExclusive))

	s.ReleaseKeyLock(0, "k", LockExclusive)
	assert.True(t, s.CheckLock(0, "k", LockExclusive))
	// Lock table reaps idle locks
	assert.Empty(t, s.locks)
}

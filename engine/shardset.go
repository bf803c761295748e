package engine

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ShardSet owns the fixed set of shard executors. Init starts one
// goroutine per shard; Shutdown stops them. Submission primitives mirror
// the coordination calls the dispatcher relies on: Await runs a closure
// on one shard and blocks until it finished there, the parallel variants
// fan out to every shard and join.
type ShardSet struct {
	shards []*Shard
	txid   atomic.Uint64
}

// NewShardSet creates an uninitialized shard set
func NewShardSet() *ShardSet {
	return &ShardSet{}
}

// Init starts n shard executors. Must be called once before any
// submission.
func (ss *ShardSet) Init(n int) {
	if n < 1 {
		n = 1
	}
	ss.shards = make([]*Shard, n)
	for i := 0; i < n; i++ {
		ss.shards[i] = newShard(uint32(i))
		go ss.shards[i].loop()
	}
}

// Shutdown stops every shard executor, draining queued tasks first
func (ss *ShardSet) Shutdown() {
	for _, sh := range ss.shards {
		sh.stop()
	}
}

// Size returns the shard count
func (ss *ShardSet) Size() uint32 {
	return uint32(len(ss.shards))
}

// NextTxID allocates a monotonically increasing transaction id
func (ss *ShardSet) NextTxID() uint64 {
	return ss.txid.Add(1)
}

// ShardFor routes a key to its owning shard id
func (ss *ShardSet) ShardFor(key string) uint32 {
	return uint32(xxhash.Sum64String(key) % uint64(len(ss.shards)))
}

// Await submits fn to shard sid and blocks until it has run there
func (ss *ShardSet) Await(sid uint32, fn func(*Shard)) {
	done := make(chan struct{})
	ss.shards[sid].tasks <- func(sh *Shard) {
		fn(sh)
		close(done)
	}
	<-done
}

// AwaitBrief is Await for short, non-suspending closures
func (ss *ShardSet) AwaitBrief(sid uint32, fn func(*Shard)) {
	ss.Await(sid, fn)
}

// RunBriefInParallel runs fn on every shard concurrently and joins
func (ss *ShardSet) RunBriefInParallel(fn func(*Shard)) {
	var wg sync.WaitGroup
	wg.Add(len(ss.shards))
	for _, sh := range ss.shards {
		sh.tasks <- func(s *Shard) {
			fn(s)
			wg.Done()
		}
	}
	wg.Wait()
}

// RunBlockingInParallel runs fn on every shard concurrently and joins.
// Unlike RunBriefInParallel the closures may block.
func (ss *ShardSet) RunBlockingInParallel(fn func(*Shard)) {
	ss.RunBriefInParallel(fn)
}

package engine

// Shard is one shard executor: a serial task loop over the slice of the
// keyspace it owns. Tasks submitted through the shard set are the only
// way other goroutines touch the slice, so the loop needs no locking of
// its own.
type Shard struct {
	id    uint32
	slice *DbSlice

	// shardLock is taken shared by key transactions touching this
	// shard and exclusive by global transactions
	shardLock *IntentLock

	tasks chan func(*Shard)
	done  chan struct{}
}

func newShard(id uint32) *Shard {
	return &Shard{
		id:        id,
		slice:     newDbSlice(),
		shardLock: &IntentLock{},
		tasks:     make(chan func(*Shard), 128),
		done:      make(chan struct{}),
	}
}

// ID returns the shard id
func (s *Shard) ID() uint32 { return s.id }

// Slice returns the shard's keyspace slice. Only call from a task
// running on this shard.
func (s *Shard) Slice() *DbSlice { return s.slice }

// ShardLock returns the shard-wide intent lock. Only call from a task
// running on this shard.
func (s *Shard) ShardLock() *IntentLock { return s.shardLock }

// loop drains the task queue until the shard is stopped
func (s *Shard) loop() {
	defer close(s.done)
	for task := range s.tasks {
		task(s)
	}
}

func (s *Shard) stop() {
	close(s.tasks)
	<-s.done
}

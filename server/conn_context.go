package server

import (
	"github.com/sablekv/sable/command"
	"github.com/sablekv/sable/reply"
	"github.com/sablekv/sable/txn"
)

// Protocol identifies the wire protocol a connection speaks
type Protocol int

const (
	ProtoRedis Protocol = iota
	ProtoMemcache
)

// Authentication mask bits
const (
	// ReqAuth is set when the server requires AUTH before other commands
	ReqAuth uint32 = 1 << iota
	// Authenticated is set once AUTH succeeded
	Authenticated
)

// MultiState is the MULTI phase of a connection
type MultiState int

const (
	// ExecInactive means no MULTI is open
	ExecInactive MultiState = iota
	// ExecCollect means commands are being queued
	ExecCollect
	// ExecError means a queued command was rejected; EXEC will abort
	ExecError
)

// StoredCmd is one queued MULTI command: the resolved descriptor plus an
// owned copy of the argument strings
type StoredCmd struct {
	Descr *command.Descriptor
	Args  []string
}

// ScriptInfo is the per-dispatch declaration of an in-progress script:
// the keys it may touch and whether it may write. Created on entering
// EVAL, cleared on exit.
type ScriptInfo struct {
	Keys    map[string]struct{}
	IsWrite bool
}

// ConnectionState is the dispatcher-visible state of one client
// connection. Only the connection's goroutine mutates it.
type ConnectionState struct {
	Mask     uint32
	DbIndex  int
	ExecState MultiState
	ExecBody []StoredCmd
	Script   *ScriptInfo

	// MemcacheFlag is the flag word of the memcached store command being
	// translated; the string family attaches it to the stored value
	MemcacheFlag uint32
}

// CommandDebug records observability fields of the last dispatched
// command
type CommandDebug struct {
	ShardsCount uint32
	Clock       uint64
	IsOOO       bool
}

// ConnContext carries everything a dispatch needs: connection state, the
// active reply sink, and the bound transaction envelope.
type ConnContext struct {
	rb    reply.Builder
	proto Protocol

	State ConnectionState
	Txn   *txn.Transaction
	Cid   *command.Descriptor

	LastDebug CommandDebug
}

// NewConnContext creates a context for a connection speaking proto,
// replying through rb. requireAuth arms the AUTH gate.
func NewConnContext(proto Protocol, rb reply.Builder, requireAuth bool) *ConnContext {
	cntx := &ConnContext{rb: rb, proto: proto}
	if requireAuth {
		cntx.State.Mask |= ReqAuth
	}
	return cntx
}

// Reply returns the connection's current reply sink
func (c *ConnContext) Reply() reply.Builder {
	return c.rb
}

// Protocol returns the connection's wire protocol
func (c *ConnContext) Protocol() Protocol {
	return c.proto
}

// Inject swaps the reply sink and returns the previous one. The script
// bridge uses it to capture nested-call replies, restoring the original
// on return.
func (c *ConnContext) Inject(rb reply.Builder) reply.Builder {
	old := c.rb
	c.rb = rb
	return old
}

// UnderScript reports whether a script is executing on this connection
func (c *ConnContext) UnderScript() bool {
	return c.State.Script != nil
}

// RequiresAuth reports whether the connection still has to authenticate
func (c *ConnContext) RequiresAuth() bool {
	return c.State.Mask&(ReqAuth|Authenticated) == ReqAuth
}

// Package server implements the command-dispatch core: the dispatcher
// and its gating rules, the per-connection state machine, MULTI/EXEC
// transaction handling, the EVAL/EVALSHA scripting bridge, the memcached
// command adapter, the service lifecycle state, and the command
// families registered with the command table.
//
// Every request follows the same path: the connection loop parses an
// argument vector, DispatchCommand validates it against the registry and
// the connection state, binds a transaction envelope when the command
// touches keys, invokes the handler, and guarantees exactly one reply on
// the connection's sink.
package server

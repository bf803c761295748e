// Package command implements the name-keyed registry of command
// descriptors: arity and key-layout metadata, option flags, optional
// validators and the type-erased handlers the dispatcher invokes.
package command

import (
	"github.com/sablekv/sable/reply"
)

// ConnCtx is the slice of the per-connection context visible to the
// registry's callbacks. The server's connection context satisfies it;
// handlers registered by the server downcast to the concrete type.
type ConnCtx interface {
	// Reply returns the connection's current reply sink
	Reply() reply.Builder
}

// Handler executes one command against a connection context
type Handler func(args []string, cntx ConnCtx)

// Validator runs after the arity checks. It owns emitting its own error
// reply; returning false tells the dispatcher to stop.
type Validator func(args []string, cntx ConnCtx) bool

// Descriptor is the registry entry for one command.
//
// Arity follows the Redis convention: positive means the exact argument
// count including the command name, negative means a minimum count.
// FirstKey/LastKey/KeyStep describe where keys sit in the argument
// vector; FirstKey == 0 means the command has no keys, LastKey == -1
// means keys run to the end, and KeyStep == 2 covers interleaved
// layouts such as MSET.
type Descriptor struct {
	name     string
	mask     Flag
	arity    int
	firstKey int
	lastKey  int
	keyStep  int

	validator Validator
	handler   Handler
}

// New creates a descriptor. Name must be canonical upper case.
func New(name string, mask Flag, arity, firstKey, lastKey, step int) *Descriptor {
	if step == 0 {
		step = 1
	}
	return &Descriptor{
		name:     name,
		mask:     mask,
		arity:    arity,
		firstKey: firstKey,
		lastKey:  lastKey,
		keyStep:  step,
	}
}

// SetHandler attaches the handler and returns the descriptor for chaining
func (d *Descriptor) SetHandler(h Handler) *Descriptor {
	d.handler = h
	return d
}

// SetValidator attaches an extra predicate run after the arity checks
func (d *Descriptor) SetValidator(v Validator) *Descriptor {
	d.validator = v
	return d
}

// Name returns the canonical upper-case command name
func (d *Descriptor) Name() string { return d.name }

// Mask returns the option flag set
func (d *Descriptor) Mask() Flag { return d.mask }

// Arity returns the declared arity
func (d *Descriptor) Arity() int { return d.arity }

// FirstKey returns the position of the first key argument, 0 if none
func (d *Descriptor) FirstKey() int { return d.firstKey }

// LastKey returns the position of the last key argument; -1 means the
// keys run to the end of the argument vector
func (d *Descriptor) LastKey() int { return d.lastKey }

// KeyStep returns the distance between consecutive key arguments
func (d *Descriptor) KeyStep() int { return d.keyStep }

// IsWrite reports whether the command may modify the keyspace
func (d *Descriptor) IsWrite() bool { return d.mask.Has(Write) }

// IsMultiKey reports whether the command may reference several keys
func (d *Descriptor) IsMultiKey() bool {
	return d.firstKey > 0 && (d.lastKey < 0 || d.lastKey > d.firstKey)
}

// Validate runs the descriptor's validator, if any. A false return means
// the validator already replied and the dispatcher must stop.
func (d *Descriptor) Validate(args []string, cntx ConnCtx) bool {
	if d.validator == nil {
		return true
	}
	return d.validator(args, cntx)
}

// Invoke runs the handler
func (d *Descriptor) Invoke(args []string, cntx ConnCtx) {
	d.handler(args, cntx)
}

// CheckArity validates the argument count, including the interleaved
// key-value layout rule for KeyStep == 2 commands.
func (d *Descriptor) CheckArity(argc int) bool {
	if d.arity > 0 && argc != d.arity {
		return false
	}
	if d.arity < 0 && argc < -d.arity {
		return false
	}
	if d.keyStep == 2 && argc%2 == 0 {
		return false
	}
	return true
}

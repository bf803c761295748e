package command

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyIndex describes the half-open range of key arguments inside an
// argument vector, with Step for interleaved layouts.
type KeyIndex struct {
	Start int
	End   int
	Step  int
}

// Range iterates the key positions described by the index
func (k KeyIndex) Range(fn func(pos int)) {
	for i := k.Start; i < k.End; i += k.Step {
		fn(i)
	}
}

// Empty reports whether the index covers no keys
func (k KeyIndex) Empty() bool {
	return k.Start >= k.End
}

// DetermineKeys computes the key range for a command's argument vector.
// args[0] is the command name. EVAL and EVALSHA declare their key count
// in args[2] and are resolved dynamically.
func DetermineKeys(d *Descriptor, args []string) (KeyIndex, error) {
	switch d.name {
	case "EVAL", "EVALSHA":
		if len(args) < 3 {
			return KeyIndex{}, fmt.Errorf("invalid eval argument vector")
		}
		numKeys, err := strconv.Atoi(args[2])
		if err != nil || numKeys < 0 || numKeys > len(args)-3 {
			return KeyIndex{}, fmt.Errorf("invalid number of keys")
		}
		return KeyIndex{Start: 3, End: 3 + numKeys, Step: 1}, nil
	}

	if d.firstKey == 0 {
		return KeyIndex{Step: 1}, nil
	}

	end := d.lastKey
	if end < 0 {
		end = len(args) + end
	}
	if end >= len(args) {
		return KeyIndex{}, fmt.Errorf("%s", WrongNumArgs(d.name))
	}

	return KeyIndex{Start: d.firstKey, End: end + 1, Step: d.keyStep}, nil
}

// WrongNumArgs formats the standard arity error for a command name
func WrongNumArgs(name string) string {
	return fmt.Sprintf("wrong number of arguments for '%s' command", strings.ToLower(name))
}

// UnknownCmd formats the standard unknown-command error
func UnknownCmd(name string) string {
	return fmt.Sprintf("unknown command `%s`", name)
}

package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// MCCommandType enumerates the memcached text commands understood by the
// adapter
type MCCommandType int

const (
	MCInvalid MCCommandType = iota
	MCSet
	MCAdd
	MCReplace
	MCAppend
	MCPrepend
	MCDelete
	MCIncr
	MCDecr
	MCGet
	MCQuit
	MCStats
	MCVersion
)

// MCCommand is a parsed memcached text command
type MCCommand struct {
	Type     MCCommandType
	Key      string
	KeysExt  []string
	Value    []byte
	Delta    uint64
	ExpireTs int64
	Flags    uint32
	NoReply  bool
}

// IsStore reports whether the command carries a data block
func (c *MCCommand) IsStore() bool {
	switch c.Type {
	case MCSet, MCAdd, MCReplace, MCAppend, MCPrepend:
		return true
	}
	return false
}

// MCError is returned for malformed memcached input; the server answers
// it with a CLIENT_ERROR line
type MCError struct {
	Message string
}

func (e *MCError) Error() string {
	return e.Message
}

// MCReader parses the memcached text protocol from a stream
type MCReader struct {
	br *bufio.Reader
}

// NewMCReader creates a memcached text protocol reader
func NewMCReader(r io.Reader) *MCReader {
	return &MCReader{br: bufio.NewReader(r)}
}

// ReadCommand reads the next memcached command, including the data block
// of store commands
func (r *MCReader) ReadCommand() (*MCCommand, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, &MCError{Message: "bad command line format"}
	}

	cmd := &MCCommand{}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "set", "add", "replace", "append", "prepend":
		cmd.Type = map[string]MCCommandType{
			"set": MCSet, "add": MCAdd, "replace": MCReplace,
			"append": MCAppend, "prepend": MCPrepend,
		}[name]
		return cmd, r.parseStore(cmd, args)
	case "get", "gets":
		cmd.Type = MCGet
		if len(args) == 0 {
			return nil, &MCError{Message: "bad command line format"}
		}
		// keys travel in KeysExt; the adapter appends them after the
		// translated command name
		cmd.KeysExt = args
		return cmd, nil
	case "delete":
		cmd.Type = MCDelete
		if len(args) < 1 {
			return nil, &MCError{Message: "bad command line format"}
		}
		cmd.Key = args[0]
		cmd.NoReply = hasNoReply(args[1:])
		return cmd, nil
	case "incr", "decr":
		if name == "incr" {
			cmd.Type = MCIncr
		} else {
			cmd.Type = MCDecr
		}
		if len(args) < 2 {
			return nil, &MCError{Message: "bad command line format"}
		}
		cmd.Key = args[0]
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return nil, &MCError{Message: "invalid numeric delta argument"}
		}
		cmd.Delta = delta
		cmd.NoReply = hasNoReply(args[2:])
		return cmd, nil
	case "stats":
		cmd.Type = MCStats
		if len(args) > 0 {
			cmd.Key = args[0]
		}
		return cmd, nil
	case "version":
		cmd.Type = MCVersion
		return cmd, nil
	case "quit":
		cmd.Type = MCQuit
		return cmd, nil
	default:
		return nil, &MCError{Message: "bad command line format"}
	}
}

// parseStore parses `<key> <flags> <exptime> <bytes> [noreply]` and the
// data block that follows
func (r *MCReader) parseStore(cmd *MCCommand, args []string) error {
	if len(args) < 4 {
		return &MCError{Message: "bad command line format"}
	}

	cmd.Key = args[0]

	flags, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return &MCError{Message: "bad command line format"}
	}
	cmd.Flags = uint32(flags)

	expire, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return &MCError{Message: "bad command line format"}
	}
	cmd.ExpireTs = expire

	size, err := strconv.ParseInt(args[3], 10, 32)
	if err != nil || size < 0 {
		return &MCError{Message: "bad data chunk"}
	}

	cmd.NoReply = hasNoReply(args[4:])

	data := make([]byte, size+2)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return err
	}
	if !bytes.HasSuffix(data, crlfBytes) {
		return &MCError{Message: "bad data chunk"}
	}
	cmd.Value = data[:size]

	return nil
}

func hasNoReply(rest []string) bool {
	return len(rest) > 0 && rest[0] == "noreply"
}

// readLine reads a line terminated by CRLF or bare LF
func (r *MCReader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", &MCError{Message: "bad command line format"}
	}
	return line, nil
}

package server

import (
	"strconv"

	"github.com/sablekv/sable/protocol"
	"github.com/sablekv/sable/reply"
)

// DispatchMC translates a parsed memcached command into a Redis argument
// vector and re-enters the dispatcher. VERSION and STATS are answered
// directly.
func (s *Service) DispatchMC(cmd *protocol.MCCommand, cntx *ConnContext) {
	mcb := cntx.Reply().(*reply.MCBuilder)

	var cmdName string
	var storeOpt string

	switch cmd.Type {
	case protocol.MCSet:
		cmdName = "SET"
	case protocol.MCAdd:
		cmdName = "SET"
		storeOpt = "NX"
	case protocol.MCReplace:
		cmdName = "SET"
		storeOpt = "XX"
	case protocol.MCDelete:
		cmdName = "DEL"
	case protocol.MCIncr:
		cmdName = "INCRBY"
		storeOpt = strconv.FormatUint(cmd.Delta, 10)
	case protocol.MCDecr:
		cmdName = "DECRBY"
		storeOpt = strconv.FormatUint(cmd.Delta, 10)
	case protocol.MCAppend:
		cmdName = "APPEND"
	case protocol.MCPrepend:
		cmdName = "PREPEND"
	case protocol.MCGet:
		cmdName = "MGET"
	case protocol.MCQuit:
		cmdName = "QUIT"
	case protocol.MCStats:
		s.statsMC(cmd.Key, mcb)
		return
	case protocol.MCVersion:
		mcb.SendDirect("VERSION " + Version + protocol.CRLF)
		return
	default:
		mcb.SendClientError("bad command line format")
		return
	}

	args := make([]string, 0, 8)
	args = append(args, cmdName)

	if cmd.Key != "" {
		args = append(args, cmd.Key)
	}

	switch {
	case cmd.IsStore():
		args = append(args, string(cmd.Value))
		if storeOpt != "" {
			args = append(args, storeOpt)
		}
		if cmd.ExpireTs != 0 && cmdName == "SET" {
			args = append(args, "EX", strconv.FormatInt(cmd.ExpireTs, 10))
		}
		cntx.State.MemcacheFlag = cmd.Flags
	case cmd.Type == protocol.MCGet:
		args = append(args, cmd.KeysExt...)
	default:
		if storeOpt != "" {
			args = append(args, storeOpt)
		}
	}

	mcb.SetNoReply(cmd.NoReply)
	s.DispatchCommand(args, cntx)
	mcb.SetNoReply(false)

	// Reset back
	cntx.State.MemcacheFlag = 0
}

// statsMC answers the STATS command directly with a minimal stat set
func (s *Service) statsMC(section string, mcb *reply.MCBuilder) {
	out := "STAT version " + Version + protocol.CRLF +
		"STAT pointer_size 64" + protocol.CRLF +
		"STAT shards " + strconv.FormatUint(uint64(s.shards.Size()), 10) + protocol.CRLF +
		"END" + protocol.CRLF
	mcb.SendDirect(out)
}

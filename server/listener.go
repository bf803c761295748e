package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/sablekv/sable/internal/logging"
	"github.com/sablekv/sable/protocol"
	"github.com/sablekv/sable/reply"
)

// connIdleTimeout bounds how long a connection may sit between commands
const connIdleTimeout = 5 * time.Minute

// ServeRESPConn runs the Redis protocol loop for one connection until
// the peer hangs up, a protocol error occurs or a handler asks to close.
func (s *Service) ServeRESPConn(conn net.Conn) {
	defer conn.Close()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)
	rb := reply.NewRESPBuilder(writer, true)
	cntx := NewConnContext(ProtoRedis, rb, s.IsPassProtected())

	for {
		_ = conn.SetReadDeadline(time.Now().Add(connIdleTimeout))

		value, err := reader.ReadNext()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConn(err) {
				rb.SendError("Protocol error: " + err.Error())
			}
			return
		}

		args, err := protocol.ParseCommand(value)
		if err != nil {
			rb.SendError("Protocol error: " + err.Error())
			continue
		}

		s.DispatchCommand(args, cntx)

		if cntx.Reply().ShouldClose() {
			return
		}
	}
}

// ServeMCConn runs the memcached text protocol loop for one connection
func (s *Service) ServeMCConn(conn net.Conn) {
	defer conn.Close()

	reader := protocol.NewMCReader(conn)
	writer := protocol.NewWriter(conn)
	mcb := reply.NewMCBuilder(writer)
	cntx := NewConnContext(ProtoMemcache, mcb, s.IsPassProtected())

	for {
		_ = conn.SetReadDeadline(time.Now().Add(connIdleTimeout))

		cmd, err := reader.ReadCommand()
		if err != nil {
			var mcErr *protocol.MCError
			if errors.As(err, &mcErr) {
				mcb.SendClientError(mcErr.Message)
				continue
			}
			return
		}

		s.DispatchMC(cmd, cntx)

		if cntx.Reply().ShouldClose() {
			return
		}
	}
}

// AcceptLoop serves every connection accepted on l with serve, one
// goroutine per connection, until the listener closes.
func AcceptLoop(l net.Listener, log logging.Logger, serve func(net.Conn)) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if isClosedConn(err) {
				return
			}
			log.Error("accept failed", logging.F("err", err))
			continue
		}
		go serve(conn)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

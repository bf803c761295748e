// Package protocol implements the wire protocols the server speaks: the
// Redis Serialization Protocol (RESP) and the memcached text protocol.
//
// The RESP side provides a streaming parser and a buffered writer:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		args, err := protocol.ParseCommand(value)
//		// Dispatch args
//	}
//
// The memcached side parses line-oriented text commands, including the
// data block of store commands, into MCCommand values the adapter
// translates into the internal command path.
package protocol

package reply

import (
	"strconv"
	"strings"

	"github.com/sablekv/sable/protocol"
)

// RESPBuilder serializes replies to the Redis wire protocol
type RESPBuilder struct {
	w         *protocol.Writer
	err       string
	close     bool
	autoFlush bool
}

// NewRESPBuilder creates a builder writing through a protocol writer.
// With autoFlush the builder flushes after every reply, which is what
// the connection loop wants; set it to false when batching.
func NewRESPBuilder(w *protocol.Writer, autoFlush bool) *RESPBuilder {
	return &RESPBuilder{w: w, autoFlush: autoFlush}
}

func (b *RESPBuilder) flush() {
	if b.autoFlush {
		_ = b.w.Flush()
	}
}

// Flush forces buffered output to the connection
func (b *RESPBuilder) Flush() {
	_ = b.w.Flush()
}

// SendSimpleString writes a + status line
func (b *RESPBuilder) SendSimpleString(s string) {
	_ = b.w.WriteSimpleString(s)
	b.flush()
}

// SendError writes an error line. Messages already carrying an error
// code token (leading '-') are passed through; everything else gets the
// generic ERR code. Embedded newlines are stripped to keep the frame
// valid.
func (b *RESPBuilder) SendError(s string) {
	if b.err == "" {
		b.err = s
	}
	s = sanitizeErr(s)
	if strings.HasPrefix(s, "-") {
		_ = b.w.WriteError(s[1:])
	} else {
		_ = b.w.WriteError("ERR " + s)
	}
	b.flush()
}

// SendOK writes +OK
func (b *RESPBuilder) SendOK() {
	b.SendSimpleString("OK")
}

// SendStored writes +OK; the memcached variant maps this to STORED
func (b *RESPBuilder) SendStored() {
	b.SendSimpleString("OK")
}

// SendNull writes a null bulk string
func (b *RESPBuilder) SendNull() {
	_ = b.w.WriteNullBulkString()
	b.flush()
}

// SendNullArray writes a null array
func (b *RESPBuilder) SendNullArray() {
	_ = b.w.WriteNullArray()
	b.flush()
}

// SendLong writes an integer
func (b *RESPBuilder) SendLong(v int64) {
	_ = b.w.WriteInteger(v)
	b.flush()
}

// SendDouble writes a double as a bulk string, RESP2 style
func (b *RESPBuilder) SendDouble(v float64) {
	_ = b.w.WriteBulkStringFromString(strconv.FormatFloat(v, 'g', 17, 64))
	b.flush()
}

// SendBulkString writes a bulk string
func (b *RESPBuilder) SendBulkString(s string) {
	_ = b.w.WriteBulkStringFromString(s)
	b.flush()
}

// SendSimpleStrArr writes an array of status lines
func (b *RESPBuilder) SendSimpleStrArr(arr []string) {
	_ = b.w.WriteArrayHeader(len(arr))
	for _, s := range arr {
		_ = b.w.WriteSimpleString(s)
	}
	b.flush()
}

// SendStringArr writes an array of bulk strings
func (b *RESPBuilder) SendStringArr(arr []string) {
	_ = b.w.WriteArrayHeader(len(arr))
	for _, s := range arr {
		_ = b.w.WriteBulkStringFromString(s)
	}
	b.flush()
}

// SendMGetResponse writes an array of value-or-nil entries
func (b *RESPBuilder) SendMGetResponse(res []*MGetResult) {
	_ = b.w.WriteArrayHeader(len(res))
	for _, r := range res {
		if r == nil {
			_ = b.w.WriteNullBulkString()
		} else {
			_ = b.w.WriteBulkStringFromString(r.Value)
		}
	}
	b.flush()
}

// StartArray writes an array header; the next n replies are its elements
func (b *RESPBuilder) StartArray(n int) {
	_ = b.w.WriteArrayHeader(n)
	b.flush()
}

// CloseConnection marks the connection for hang-up
func (b *RESPBuilder) CloseConnection() {
	b.close = true
}

// ShouldClose reports whether CloseConnection was called
func (b *RESPBuilder) ShouldClose() bool {
	return b.close
}

// GetError returns the first error sent since the last reset
func (b *RESPBuilder) GetError() string {
	return b.err
}

// ResetError clears the recorded error
func (b *RESPBuilder) ResetError() {
	b.err = ""
}

func sanitizeErr(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

package reply

import (
	"strconv"

	"github.com/sablekv/sable/protocol"
)

// MCBuilder serializes replies to the memcached text protocol. The
// mapping follows the command translation layer: OK/stored replies
// become STORED, null replies become NOT_STORED, and MGET responses
// become VALUE blocks terminated by END.
type MCBuilder struct {
	w     *protocol.Writer
	err   string
	close bool
	// noReply suppresses the next reply, for commands sent with the
	// noreply modifier
	noReply bool
}

// NewMCBuilder creates a memcached text builder
func NewMCBuilder(w *protocol.Writer) *MCBuilder {
	return &MCBuilder{w: w}
}

// SetNoReply suppresses output for the next reply
func (b *MCBuilder) SetNoReply(v bool) {
	b.noReply = v
}

func (b *MCBuilder) line(s string) {
	if b.noReply {
		return
	}
	_ = b.w.WriteRaw(s)
	_ = b.w.WriteRaw(protocol.CRLF)
	_ = b.w.Flush()
}

// SendSimpleString writes the string as its own status line
func (b *MCBuilder) SendSimpleString(s string) {
	b.line(s)
}

// SendError writes a SERVER_ERROR line
func (b *MCBuilder) SendError(s string) {
	if b.err == "" {
		b.err = s
	}
	b.line("SERVER_ERROR " + s)
}

// SendClientError writes a CLIENT_ERROR line
func (b *MCBuilder) SendClientError(s string) {
	b.line("CLIENT_ERROR " + s)
}

// SendDirect writes a preformatted line, used for VERSION and STATS
func (b *MCBuilder) SendDirect(s string) {
	_ = b.w.WriteRaw(s)
	_ = b.w.Flush()
}

// SendOK writes STORED; memcached has no bare OK
func (b *MCBuilder) SendOK() {
	b.line("STORED")
}

// SendStored writes STORED
func (b *MCBuilder) SendStored() {
	b.line("STORED")
}

// SendNull reports a failed conditional store
func (b *MCBuilder) SendNull() {
	b.line("NOT_STORED")
}

// SendNullArray reports a miss
func (b *MCBuilder) SendNullArray() {
	b.line("END")
}

// SendLong writes a bare number, the incr/decr reply shape
func (b *MCBuilder) SendLong(v int64) {
	b.line(strconv.FormatInt(v, 10))
}

// SendDouble writes a bare number
func (b *MCBuilder) SendDouble(v float64) {
	b.line(strconv.FormatFloat(v, 'g', 17, 64))
}

// SendBulkString writes the payload as a line
func (b *MCBuilder) SendBulkString(s string) {
	b.line(s)
}

// SendSimpleStrArr writes one line per element
func (b *MCBuilder) SendSimpleStrArr(arr []string) {
	for _, s := range arr {
		b.line(s)
	}
}

// SendStringArr writes one line per element
func (b *MCBuilder) SendStringArr(arr []string) {
	for _, s := range arr {
		b.line(s)
	}
}

// SendMGetResponse writes VALUE blocks for present keys and END
func (b *MCBuilder) SendMGetResponse(res []*MGetResult) {
	if b.noReply {
		return
	}
	for _, r := range res {
		if r == nil {
			continue
		}
		_ = b.w.WriteRaw("VALUE " + r.Key + " " + strconv.FormatUint(uint64(r.Flags), 10) +
			" " + strconv.Itoa(len(r.Value)) + protocol.CRLF)
		_ = b.w.WriteRaw(r.Value)
		_ = b.w.WriteRaw(protocol.CRLF)
	}
	_ = b.w.WriteRaw("END" + protocol.CRLF)
	_ = b.w.Flush()
}

// StartArray has no memcached framing; elements follow as bare lines
func (b *MCBuilder) StartArray(n int) {}

// CloseConnection marks the connection for hang-up
func (b *MCBuilder) CloseConnection() {
	b.close = true
}

// ShouldClose reports whether CloseConnection was called
func (b *MCBuilder) ShouldClose() bool {
	return b.close
}

// GetError returns the first error sent since the last reset
func (b *MCBuilder) GetError() string {
	return b.err
}

// ResetError clears the recorded error
func (b *MCBuilder) ResetError() {
	b.err = ""
}

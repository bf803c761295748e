package reply

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sablekv/sable/protocol"
)

func newRESP() (*RESPBuilder, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewRESPBuilder(protocol.NewWriter(&buf), true), &buf
}

func TestRESPSimpleReplies(t *testing.T) {
	b, buf := newRESP()

	b.SendOK()
	b.SendLong(7)
	b.SendNull()
	b.SendNullArray()
	b.SendBulkString("hey")

	assert.Equal(t, "+OK\r\n:7\r\n$-1\r\n*-1\r\n$3\r\nhey\r\n", buf.String())
}

func TestRESPErrorCodePassthrough(t *testing.T) {
	b, buf := newRESP()

	b.SendError("something went wrong")
	assert.Equal(t, "-ERR something went wrong\r\n", buf.String())

	buf.Reset()
	b.SendError("-NOAUTH Authentication required.")
	assert.Equal(t, "-NOAUTH Authentication required.\r\n", buf.String())
}

func TestRESPErrorRecorded(t *testing.T) {
	b, _ := newRESP()

	assert.Empty(t, b.GetError())
	b.SendError("first")
	b.SendError("second")
	assert.Equal(t, "first", b.GetError())

	b.ResetError()
	assert.Empty(t, b.GetError())
}

func TestRESPErrorStripsNewlines(t *testing.T) {
	b, buf := newRESP()

	b.SendError("multi\r\nline")
	assert.Equal(t, "-ERR multi  line\r\n", buf.String())
}

func TestRESPArrays(t *testing.T) {
	b, buf := newRESP()

	b.StartArray(2)
	b.SendOK()
	b.SendOK()
	b.Flush()
	assert.Equal(t, "*2\r\n+OK\r\n+OK\r\n", buf.String())

	buf.Reset()
	b.SendStringArr([]string{"a", "bc"})
	assert.Equal(t, "*2\r\n$1\r\na\r\n$2\r\nbc\r\n", buf.String())
}

func TestRESPMGetResponse(t *testing.T) {
	b, buf := newRESP()

	b.SendMGetResponse([]*MGetResult{
		{Key: "a", Value: "1"},
		nil,
	})

	assert.Equal(t, "*2\r\n$1\r\n1\r\n$-1\r\n", buf.String())
}

func TestMCBuilderReplies(t *testing.T) {
	var buf bytes.Buffer
	b := NewMCBuilder(protocol.NewWriter(&buf))

	b.SendStored()
	assert.Equal(t, "STORED\r\n", buf.String())

	buf.Reset()
	b.SendNull()
	assert.Equal(t, "NOT_STORED\r\n", buf.String())

	buf.Reset()
	b.SendLong(11)
	assert.Equal(t, "11\r\n", buf.String())

	buf.Reset()
	b.SendError("oops")
	assert.Equal(t, "SERVER_ERROR oops\r\n", buf.String())
	assert.Equal(t, "oops", b.GetError())

	buf.Reset()
	b.SendClientError("bad command line format")
	assert.Equal(t, "CLIENT_ERROR bad command line format\r\n", buf.String())
}

func TestMCBuilderMGet(t *testing.T) {
	var buf bytes.Buffer
	b := NewMCBuilder(protocol.NewWriter(&buf))

	b.SendMGetResponse([]*MGetResult{
		{Key: "foo", Value: "bar", Flags: 7},
		nil,
	})

	assert.Equal(t, "VALUE foo 7 3\r\nbar\r\nEND\r\n", buf.String())
}

func TestMCBuilderNoReply(t *testing.T) {
	var buf bytes.Buffer
	b := NewMCBuilder(protocol.NewWriter(&buf))

	b.SetNoReply(true)
	b.SendStored()
	assert.Empty(t, buf.String())

	b.SetNoReply(false)
	b.SendStored()
	assert.Equal(t, "STORED\r\n", buf.String())
}

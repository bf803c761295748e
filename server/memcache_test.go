package server

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sablekv/sable/protocol"
	"github.com/sablekv/sable/reply"
)

// mcTestConn drives the memcached adapter directly
type mcTestConn struct {
	svc  *Service
	cntx *ConnContext
	buf  *bytes.Buffer
}

func newMCTestConn(s *Service) *mcTestConn {
	buf := &bytes.Buffer{}
	mcb := reply.NewMCBuilder(protocol.NewWriter(buf))
	return &mcTestConn{
		svc:  s,
		cntx: NewConnContext(ProtoMemcache, mcb, s.IsPassProtected()),
		buf:  buf,
	}
}

// do parses one memcached request from raw text and dispatches it
func (c *mcTestConn) do(raw string) string {
	c.buf.Reset()
	if !strings.HasSuffix(raw, "\r\n") {
		raw += "\r\n"
	}
	cmd, err := protocol.NewMCReader(strings.NewReader(raw)).ReadCommand()
	if err != nil {
		return "parse error: " + err.Error()
	}
	c.svc.DispatchMC(cmd, c.cntx)
	return c.buf.String()
}

func TestMCSetAndGet(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Equal(t, "STORED\r\n", c.do("set foo 0 0 3\r\nbar\r\n"))
	assert.Equal(t, "VALUE foo 0 3\r\nbar\r\nEND\r\n", c.do("get foo"))
}

func TestMCAddTranslatesToSetNX(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Equal(t, "STORED\r\n", c.do("add foo 0 60 3\r\nbar\r\n"))
	assert.Equal(t, "NOT_STORED\r\n", c.do("add foo 0 60 3\r\nbaz\r\n"))
	assert.Equal(t, "VALUE foo 0 3\r\nbar\r\nEND\r\n", c.do("get foo"))
}

func TestMCReplaceTranslatesToSetXX(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Equal(t, "NOT_STORED\r\n", c.do("replace miss 0 0 1\r\nx\r\n"))
	c.do("set k 0 0 1\r\na\r\n")
	assert.Equal(t, "STORED\r\n", c.do("replace k 0 0 1\r\nb\r\n"))
	assert.Equal(t, "VALUE k 0 1\r\nb\r\nEND\r\n", c.do("get k"))
}

func TestMCFlagsRoundTrip(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	c.do("set flagged 7 0 2\r\nhi\r\n")
	assert.Equal(t, "VALUE flagged 7 2\r\nhi\r\nEND\r\n", c.do("get flagged"))

	// The flag travels through the connection state and resets after
	// the dispatch
	assert.Zero(t, c.cntx.State.MemcacheFlag)
}

func TestMCExpireTranslatesToEX(t *testing.T) {
	s := newTestService(t, Config{})
	mc := newMCTestConn(s)
	resp := newTestConn(s)

	assert.Equal(t, "STORED\r\n", mc.do("set tkey 0 60 1\r\nv\r\n"))

	out := resp.do("TTL", "tkey")
	assert.True(t, out == ":60\r\n" || out == ":59\r\n", out)
}

func TestMCGetMultipleKeys(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	c.do("set a 0 0 1\r\n1\r\n")
	c.do("set c 0 0 1\r\n3\r\n")

	// Misses are simply omitted from the VALUE block
	assert.Equal(t, "VALUE a 0 1\r\n1\r\nVALUE c 0 1\r\n3\r\nEND\r\n", c.do("get a b c"))
}

func TestMCDelete(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	c.do("set d 0 0 1\r\nx\r\n")
	assert.Equal(t, "DELETED\r\n", c.do("delete d"))
	assert.Equal(t, "NOT_FOUND\r\n", c.do("delete d"))
}

func TestMCIncrDecr(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	c.do("set n 0 0 2\r\n10\r\n")
	assert.Equal(t, "15\r\n", c.do("incr n 5"))
	assert.Equal(t, "12\r\n", c.do("decr n 3"))
}

func TestMCAppendPrepend(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	// memcached append only succeeds against an existing value
	assert.Equal(t, "NOT_STORED\r\n", c.do("append miss 0 0 1\r\nx\r\n"))

	c.do("set s 0 0 3\r\nmid\r\n")
	assert.Equal(t, "STORED\r\n", c.do("append s 0 0 3\r\nend\r\n"))
	assert.Equal(t, "STORED\r\n", c.do("prepend s 0 0 3\r\npre\r\n"))
	assert.Equal(t, "VALUE s 0 9\r\npremidend\r\nEND\r\n", c.do("get s"))
}

func TestMCVersionAnsweredDirectly(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Equal(t, "VERSION "+Version+"\r\n", c.do("version"))
}

func TestMCStatsAnsweredDirectly(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	out := c.do("stats")
	assert.True(t, strings.HasPrefix(out, "STAT version "), out)
	assert.True(t, strings.HasSuffix(out, "END\r\n"), out)
}

func TestMCQuitClosesConnection(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Empty(t, c.do("quit"))
	assert.True(t, c.cntx.Reply().ShouldClose())
}

func TestMCNoReplySuppressesOutput(t *testing.T) {
	s := newTestService(t, Config{})
	c := newMCTestConn(s)

	assert.Empty(t, c.do("set q 0 0 1 noreply\r\nv\r\n"))
}

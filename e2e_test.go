package sable_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sablekv/sable"
)

func startServer(t *testing.T, opts ...sable.Option) *sable.Server {
	t.Helper()

	opts = append([]sable.Option{sable.WithPort(0)}, opts...)

	srv, err := sable.New(opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })

	return srv
}

func newClient(t *testing.T, srv *sable.Server) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        srv.Addr(),
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestE2ESetGet(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key1", "value1", 0).Err())

	val, err := client.Get(ctx, "key1").Result()
	require.NoError(t, err)
	assert.Equal(t, "value1", val)

	_, err = client.Get(ctx, "missing").Result()
	assert.Equal(t, redis.Nil, err)
}

func TestE2EMGetAndDel(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, client.MSet(ctx, "a", "1", "b", "2").Err())

	vals, err := client.MGet(ctx, "a", "nope", "b").Result()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"1", nil, "2"}, vals)

	n, err := client.Del(ctx, "a", "b", "nope").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestE2EIncrAndExpire(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	n, err := client.Incr(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.IncrBy(ctx, "counter", 10).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	require.NoError(t, client.Expire(ctx, "counter", time.Minute).Err())
	ttl, err := client.TTL(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestE2EMultiExec(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	cmds, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "tx1", "a", 0)
		pipe.Set(ctx, "tx2", "b", 0)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	val, err := client.Get(ctx, "tx1").Result()
	require.NoError(t, err)
	assert.Equal(t, "a", val)
}

func TestE2EEval(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	res, err := client.Eval(ctx, "return 42", nil).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(42), res)

	require.NoError(t, client.Set(ctx, "ek", "ev", 0).Err())
	res, err = client.Eval(ctx, "return redis.call('GET', KEYS[1])", []string{"ek"}).Result()
	require.NoError(t, err)
	assert.Equal(t, "ev", res)

	_, err = client.Eval(ctx, "return redis.call('GET','undeclared')", []string{"ek"}).Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared key")
}

func TestE2EScriptLoadAndEvalSha(t *testing.T) {
	srv := startServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	sha, err := client.ScriptLoad(ctx, "return 7").Result()
	require.NoError(t, err)
	require.Len(t, sha, 40)

	res, err := client.EvalSha(ctx, sha, nil).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(7), res)

	_, err = client.EvalSha(ctx, strings.Repeat("0", 40), nil).Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSCRIPT")
}

func TestE2EAuth(t *testing.T) {
	srv := startServer(t, sable.WithRequirePass("hunter2"))

	unauthed := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer unauthed.Close()
	err := unauthed.Set(context.Background(), "k", "v", 0).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOAUTH")

	authed := redis.NewClient(&redis.Options{Addr: srv.Addr(), Password: "hunter2"})
	defer authed.Close()
	require.NoError(t, authed.Set(context.Background(), "k", "v", 0).Err())
}

// mcSession is a minimal memcached text client for the e2e tests
type mcSession struct {
	conn net.Conn
	br   *bufio.Reader
}

func dialMC(t *testing.T, addr string) *mcSession {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &mcSession{conn: conn, br: bufio.NewReader(conn)}
}

func (m *mcSession) send(raw string) {
	_, _ = m.conn.Write([]byte(raw))
}

func (m *mcSession) readLine(t *testing.T) string {
	t.Helper()
	_ = m.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := m.br.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestE2EMemcached(t *testing.T) {
	srv := startServer(t, sable.WithMemcache())
	require.NotEmpty(t, srv.MemcacheAddr())

	mc := dialMC(t, srv.MemcacheAddr())

	mc.send("add foo 0 60 3\r\nbar\r\n")
	assert.Equal(t, "STORED", mc.readLine(t))

	mc.send("add foo 0 60 3\r\nbaz\r\n")
	assert.Equal(t, "NOT_STORED", mc.readLine(t))

	mc.send("get foo\r\n")
	assert.Equal(t, "VALUE foo 0 3", mc.readLine(t))
	assert.Equal(t, "bar", mc.readLine(t))
	assert.Equal(t, "END", mc.readLine(t))

	mc.send("version\r\n")
	assert.Equal(t, "VERSION "+sable.Version, mc.readLine(t))

	mc.send("delete foo\r\n")
	assert.Equal(t, "DELETED", mc.readLine(t))

	// The memcached write is visible over the Redis listener too
	client := newClient(t, srv)
	mc.send("set shared 0 0 5\r\nhello\r\n")
	assert.Equal(t, "STORED", mc.readLine(t))

	val, err := client.Get(context.Background(), "shared").Result()
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
}

func TestE2EReadOnlyReplica(t *testing.T) {
	srv := startServer(t, sable.WithReadOnly())
	client := newClient(t, srv)
	ctx := context.Background()

	err := client.Set(ctx, "k", "v", 0).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")

	_, err = client.Get(ctx, "k").Result()
	assert.Equal(t, redis.Nil, err)
}

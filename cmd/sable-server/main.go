// Command sable-server runs the sable key-value server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sablekv/sable"
	"github.com/sablekv/sable/internal/logging"
)

var (
	port         = pflag.Uint32("port", 6380, "Redis port")
	memcachePort = pflag.Uint32("memcache_port", 0, "Memcached port (0 disables the listener)")
	requirePass  = pflag.String("requirepass", "", "Require clients to AUTH with this password")
	bindAddr     = pflag.String("bind", "0.0.0.0", "Address to bind the listeners to")
	threads      = pflag.Int("threads", 0, "Executor threads (0 means one per CPU)")
	readOnly     = pflag.Bool("read_only", false, "Run as a read-only replica")
)

// zapLogger adapts a zap SugaredLogger to the logging interface
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Debug(msg string, fields ...logging.Field) {
	l.s.Debugw(msg, flatten(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...logging.Field) {
	l.s.Infow(msg, flatten(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...logging.Field) {
	l.s.Errorw(msg, flatten(fields)...)
}

func flatten(fields []logging.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func run() error {
	pflag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	opts := []sable.Option{
		sable.WithPort(uint16(*port)),
		sable.WithMemcachePort(uint16(*memcachePort)),
		sable.WithBindAddr(*bindAddr),
		sable.WithRequirePass(*requirePass),
		sable.WithThreads(*threads),
		sable.WithLogger(&zapLogger{s: zl.Sugar()}),
	}
	if *readOnly {
		opts = append(opts, sable.WithReadOnly())
	}

	srv, err := sable.New(opts...)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return srv.Shutdown()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sable-server:", err)
		os.Exit(1)
	}
}

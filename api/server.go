package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Server accepts TCP connections and serves each one as a JSON-RPC stream.
// It runs under the supervisor; Run blocks until the context ends and all
// connection goroutines have drained.
type Server struct {
	log  *slog.Logger
	addr string
	rpc  *RPC

	readyOnce sync.Once
	ready     chan net.Addr
}

func NewServer(log *slog.Logger, addr string, rpc *RPC) *Server {
	return &Server{log: log, addr: addr, rpc: rpc, ready: make(chan net.Addr, 1)}
}

// Ready yields the bound address once, after Listen succeeds. Useful when the
// configured port is 0.
func (s *Server) Ready() <-chan net.Addr {
	return s.ready
}

func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen on %s: %w", s.addr, err)
	}
	s.readyOnce.Do(func() { s.ready <- listener.Addr() })
	s.log.Info("RPC server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpc accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ServeRWC(ctx, s.log, conn, s.rpc); err != nil {
				s.log.Warn("Connection ended with error",
					"remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

package transport

import (
	"fmt"
	"net"
	"sync/atomic"
)

// TCPListener accepts inbound TCP connections and hands each one to a
// handler goroutine. It implements the orchestrator's Service interface
// (Start/Stop/Name) so the daemon can manage it alongside other
// subsystems through the same service registry.
type TCPListener struct {
	addr     string
	ln       net.Listener
	handler  func(net.Conn)
	limiter  *ConnLimiter
	done     chan struct{}
	stopping atomic.Bool
	crashed  chan error
}

// NewTCPListener creates a TCPListener bound to addr (e.g. ":0" for any
// free port). handler is invoked in its own goroutine for every accepted
// connection that passes admission against DefaultConnLimiterConfig.
func NewTCPListener(addr string, handler func(net.Conn)) *TCPListener {
	return &TCPListener{
		addr:    addr,
		handler: handler,
		limiter: NewConnLimiter(DefaultConnLimiterConfig()),
		crashed: make(chan error, 1),
	}
}

// Name implements orchestrator.Service.
func (l *TCPListener) Name() string { return "tcp-listener" }

// Start binds the listener and begins accepting connections in the
// background.
func (l *TCPListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.addr, err)
	}
	l.ln = ln
	l.done = make(chan struct{})
	l.stopping.Store(false)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener, causing acceptLoop to exit.
func (l *TCPListener) Stop() error {
	if l.ln == nil {
		return nil
	}
	l.stopping.Store(true)
	err := l.ln.Close()
	<-l.done
	return err
}

// Addr returns the bound address. Valid only after Start succeeds.
func (l *TCPListener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Crashed reports accept-loop failures that were not caused by a
// deliberate Stop. A caller watching this channel can decide to restart
// the listener; it receives at most one value per acceptLoop exit.
func (l *TCPListener) Crashed() <-chan error {
	return l.crashed
}

func (l *TCPListener) acceptLoop() {
	defer close(l.done)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !l.stopping.Load() {
				l.crashed <- err
			}
			close(l.crashed)
			return
		}
		if !l.limiter.Acquire(conn.RemoteAddr()) {
			conn.Close()
			continue
		}
		go func(c net.Conn) {
			defer l.limiter.Release(c.RemoteAddr())
			l.handler(c)
		}(conn)
	}
}

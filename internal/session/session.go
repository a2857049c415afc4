// Package session runs the exchange's TCP accept loop: one goroutine per
// connection, reading and writing NUL-delimited wire envelopes.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/a3st/exchanged/internal/wire"
	"github.com/a3st/exchanged/pkg/logging"
)

// Handler is implemented by the dispatcher; kept as an interface here so
// session never imports the domain packages directly.
type Handler interface {
	OnConnected(sessionID uint64)
	OnClosed(sessionID uint64)
	Dispatch(sessionID uint64, req wire.Envelope) wire.Envelope
}

// Runtime owns the listener and the set of active connections.
type Runtime struct {
	handler  Handler
	log      *logging.Logger
	listener net.Listener

	nextID uint64

	mu    sync.Mutex
	conns map[uint64]net.Conn
}

// New returns a Runtime that dispatches every request to handler.
func New(handler Handler) *Runtime {
	return &Runtime{
		handler: handler,
		log:     logging.GetDefault().Component("session"),
		conns:   make(map[uint64]net.Conn),
	}
}

// Start listens on addr and begins accepting connections in the
// background. Returns once the listener is bound.
func (r *Runtime) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.listener = listener
	r.log.Info("listening", "addr", addr)

	go r.acceptLoop()
	return nil
}

// Stop closes the listener and every active connection.
func (r *Runtime) Stop() error {
	if r.listener != nil {
		r.listener.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
	return nil
}

func (r *Runtime) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			r.log.Info("accept loop stopped", "err", err)
			return
		}
		id := atomic.AddUint64(&r.nextID, 1)
		r.mu.Lock()
		r.conns[id] = conn
		r.mu.Unlock()

		r.handler.OnConnected(id)
		go r.serve(id, conn)
	}
}

func (r *Runtime) serve(id uint64, conn net.Conn) {
	defer func() {
		conn.Close()
		r.mu.Lock()
		delete(r.conns, id)
		r.mu.Unlock()
		r.handler.OnClosed(id)
	}()

	reader := wire.NewReader(conn)
	writer := wire.NewWriter(conn)

	for {
		req, err := reader.ReadEnvelope()
		if err != nil {
			r.log.Debug("connection closed", "session_id", id, "err", err)
			return
		}

		resp := r.handler.Dispatch(id, req)
		if err := writer.WriteEnvelope(resp); err != nil {
			r.log.Warn("write response failed", "session_id", id, "err", err)
			return
		}
	}
}

package session

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/a3st/exchanged/internal/wire"
)

type echoHandler struct {
	connected []uint64
	closed    []uint64
}

func (h *echoHandler) OnConnected(sessionID uint64) { h.connected = append(h.connected, sessionID) }
func (h *echoHandler) OnClosed(sessionID uint64)    { h.closed = append(h.closed, sessionID) }
func (h *echoHandler) Dispatch(sessionID uint64, req wire.Envelope) wire.Envelope {
	return wire.Envelope{Type: req.Type, Payload: req.Payload}
}

func TestRuntimeEchoesRequests(t *testing.T) {
	handler := &echoHandler{}
	runtime := New(handler)

	if err := runtime.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer runtime.Stop()

	addr := runtime.listener.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	w := wire.NewWriter(conn)
	r := wire.NewReader(conn)

	payload, _ := json.Marshal(struct{ Login string }{Login: "alice"})
	if err := w.WriteEnvelope(wire.Envelope{Type: wire.Register, Payload: payload}); err != nil {
		t.Fatalf("WriteEnvelope() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if resp.Type != wire.Register {
		t.Errorf("resp.Type = %d, want %d", resp.Type, wire.Register)
	}
}

func TestRuntimeCallsOnConnectedAndOnClosed(t *testing.T) {
	handler := &echoHandler{}
	runtime := New(handler)

	if err := runtime.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer runtime.Stop()

	addr := runtime.listener.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(handler.connected) > 0 && len(handler.closed) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(handler.connected) != 1 {
		t.Errorf("OnConnected called %d times, want 1", len(handler.connected))
	}
	if len(handler.closed) != 1 {
		t.Errorf("OnClosed called %d times, want 1", len(handler.closed))
	}
}

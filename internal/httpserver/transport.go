package httpserver

import (
	"sync"

	"github.com/fleetforge/fleetd/internal/session"
)

// rpcTransport is the session.Transport held per Mcp-Session-Id. Most RPC
// traffic is self-contained request/response over POST; sseChan is attached
// lazily by a GET request that wants server-initiated notifications
// delivered over the same session (§4.8 "also accepts GET for
// server-sent-event streams").
type rpcTransport struct {
	mu      sync.Mutex
	sseChan chan []byte
	closed  bool
}

func newRPCTransport() *rpcTransport {
	return &rpcTransport{}
}

// NewTransport builds a fresh session transport. Exported so callers can
// supply it as the session.TransportFactory used on recovery (cmd/fleetd's
// bootstrap wires session.New(store, httpserver.NewTransport)).
func NewTransport(sessionID string) (session.Transport, error) {
	return newRPCTransport(), nil
}

// attachSSE installs (or replaces) the channel a GET handler drains to push
// frames to the client. Replacing drops the previous GET connection's feed,
// matching at-most-one live stream per session.
func (t *rpcTransport) attachSSE() chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan []byte, 16)
	t.sseChan = ch
	return ch
}

func (t *rpcTransport) detachSSE(ch chan []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sseChan == ch {
		t.sseChan = nil
	}
}

// Close implements session.Transport.
func (t *rpcTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.sseChan != nil {
		close(t.sseChan)
		t.sseChan = nil
	}
	return nil
}

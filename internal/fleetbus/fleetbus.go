// Package fleetbus is an optional embedded NATS broker that fans out agent
// and task lifecycle events for any external collaborator (a dashboard, a
// RAG indexer) to subscribe to. The core never requires a subscriber to be
// present — Publish is fire-and-forget. Grounded on the teacher's
// internal/nats/server.go (EmbeddedServer wrapping nats-server/v2) and
// client.go (Client wrapping nats.go with reconnect handling), generalized
// from a bespoke connected-clients tracker to a small set of named subjects
// this domain actually publishes on.
package fleetbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// Event subjects this domain publishes. External subscribers may use NATS
// wildcards ("fleet.>") to receive all of them.
const (
	SubjectAgentUpdate   = "fleet.agent.update"
	SubjectTaskUpdate    = "fleet.task.update"
	SubjectSessionUpdate = "fleet.session.update"
	SubjectAlert         = "fleet.alert"
)

// Config configures the embedded broker.
type Config struct {
	Port      int
	JetStream bool
	DataDir   string
}

// Bus wraps an embedded NATS server plus the in-process publisher
// connection. Bus is optional: cmd/fleetd only constructs one when NATS is
// enabled; every other component takes a *Bus that may be nil and treats a
// nil Bus's Publish as a no-op.
type Bus struct {
	mu      sync.RWMutex
	server  *natsserver.Server
	conn    *nc.Conn
	running bool
	port    int
}

// New builds an unstarted Bus.
func New(cfg Config) (*Bus, error) {
	port := cfg.Port
	if port <= 0 {
		port = 4222
	}
	if cfg.JetStream && cfg.DataDir == "" {
		return nil, fmt.Errorf("fleetbus: DataDir required when JetStream is enabled")
	}
	return &Bus{port: port}, nil
}

// Start launches the embedded broker and opens the in-process publisher
// connection used by every Publish call.
func (b *Bus) Start(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("fleetbus: already running")
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       b.port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if cfg.JetStream {
		opts.JetStream = true
		opts.StoreDir = cfg.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("fleetbus: create embedded server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("fleetbus: embedded server not ready for connections")
	}

	conn, err := nc.Connect(fmt.Sprintf("nats://127.0.0.1:%d", b.port),
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("fleetbus: connect publisher: %w", err)
	}

	b.server = ns
	b.conn = conn
	b.running = true
	return nil
}

// Shutdown closes the publisher connection and stops the embedded broker.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
		b.server = nil
	}
	b.running = false
}

// Running reports whether the broker is up.
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// URL returns the broker's connection URL for an external subscriber.
func (b *Bus) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", b.port)
}

// Publish JSON-encodes payload and fans it out on subject. A nil Bus, or
// one that isn't running, is a no-op: publishing never blocks or fails the
// caller's tool-handler transaction (§9 "do not try to enclose subprocess
// and DB in one atomic unit" applies equally to this best-effort fan-out).
func (b *Bus) Publish(subject string, payload interface{}) {
	if b == nil {
		return
	}
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = conn.Publish(subject, data)
}

// PublishAgentUpdate fans out an agent lifecycle change.
func (b *Bus) PublishAgentUpdate(agentID, status string) {
	b.Publish(SubjectAgentUpdate, map[string]string{"agent_id": agentID, "status": status})
}

// PublishTaskUpdate fans out a task lifecycle change.
func (b *Bus) PublishTaskUpdate(taskID, status string) {
	b.Publish(SubjectTaskUpdate, map[string]string{"task_id": taskID, "status": status})
}

// PublishSessionUpdate fans out a session status transition.
func (b *Bus) PublishSessionUpdate(sessionID, status string) {
	b.Publish(SubjectSessionUpdate, map[string]string{"session_id": sessionID, "status": status})
}

// PublishAlert fans out an operational alert (testing-agent failure,
// session-expiry sweep, tmux unavailability).
func (b *Bus) PublishAlert(kind, message string) {
	b.Publish(SubjectAlert, map[string]string{"kind": kind, "message": message})
}

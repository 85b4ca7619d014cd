// Package session owns the in-memory active_sessions map that mirrors the
// Store's mcp_session_persistence rows: the heartbeat loop, the disconnect
// grace window, and the recovery handshake (§4.5).
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetd/internal/fleetbus"
	"github.com/fleetforge/fleetd/internal/notify"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/types"
)

// Transport is the live connection bound to a session id. The manager
// never inspects it beyond Close; internal/httpserver supplies the
// concrete streaming-HTTP implementation.
type Transport interface {
	Close() error
}

// TransportFactory builds a fresh transport for a session id being
// recovered, wired to a new RPC server instance (§4.5 try_recover).
type TransportFactory func(sessionID string) (Transport, error)

type entry struct {
	transport       Transport
	createdAt       time.Time
	lastActivity    time.Time
	isRecovered     bool
	heartbeatCancel context.CancelFunc
	cleanupTimer    *time.Timer
}

// Manager holds the process-wide active_sessions map (§4.5, §5, §9 "Global
// mutable maps" — encapsulated behind this component rather than exposed).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	store      *store.Store
	newServer  TransportFactory
	grace      time.Duration
	heartbeat  time.Duration
	sweepEvery time.Duration

	bus      *fleetbus.Bus
	notifier *notify.Notifier
}

// New constructs a session Manager. newServer builds the transport wired to
// a fresh RPC server instance for a recovered session id.
func New(st *store.Store, newServer TransportFactory) *Manager {
	return &Manager{
		sessions:   make(map[string]*entry),
		store:      st,
		newServer:  newServer,
		grace:      types.SessionGracePeriod,
		heartbeat:  types.HeartbeatInterval,
		sweepEvery: types.ExpiredSweepPeriod,
	}
}

// SetBus attaches the optional event fan-out. A nil bus (the default)
// makes every publish call below a no-op.
func (m *Manager) SetBus(b *fleetbus.Bus) {
	m.bus = b
}

// SetNotifier attaches the optional alert notifier. A nil notifier (the
// default) makes every alert call below a no-op.
func (m *Manager) SetNotifier(n *notify.Notifier) {
	m.notifier = n
}

// raiseRecoveryDeniedAlert records one denied try_recover as an operational
// alert; internal/metrics.ThresholdChecker watches the rate of these against
// RecoveryDeniedMax and escalates when it's crossed.
func (m *Manager) raiseRecoveryDeniedAlert(sessionID string) {
	alert := &types.Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      "recovery_denied",
		Message:   fmt.Sprintf("try_recover denied for session %s: not eligible for recovery", sessionID),
		Severity:  "warning",
		CreatedAt: time.Now(),
	}
	if err := m.store.AddAlert(alert); err != nil {
		log.Printf("[SESSION] add_alert(recovery_denied) failed for %s: %v", sessionID, err)
	}
	m.bus.PublishAlert("recovery_denied", alert.Message)
}

// Init persists a new session row and starts its heartbeat loop (init path,
// §4.5 "entries are added from the initialize path").
func (m *Manager) Init(ctx context.Context, sessionID string, transport Transport, workingDirectory string, metadata map[string]any) error {
	now := time.Now()
	rec := &types.SessionRecord{
		MCPSessionID:     sessionID,
		CreatedAt:        now,
		LastHeartbeat:    now,
		Status:           types.SessionActive,
		WorkingDirectory: workingDirectory,
		Metadata:         metadata,
	}
	if err := m.store.InitSession(rec); err != nil {
		return fmt.Errorf("init session %s: %w", sessionID, err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = &entry{
		transport:    transport,
		createdAt:    now,
		lastActivity: now,
	}
	m.mu.Unlock()

	m.startHeartbeat(ctx, sessionID)
	m.bus.PublishSessionUpdate(sessionID, string(types.SessionActive))
	log.Printf("[SESSION] initialized %s", sessionID)
	return nil
}

// Touch records request activity against a session without pushing a
// heartbeat (heartbeat is a fixed-interval background task, not
// per-request bookkeeping).
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		e.lastActivity = time.Now()
	}
}

// Get returns the live transport for a session id, if one is held.
func (m *Manager) Get(sessionID string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// startHeartbeat runs the per-session periodic task that pushes
// last_heartbeat=now to Store until canceled by disconnect (§4.5, §5
// "Heartbeats are cancelled on disconnect; recovery restarts them").
func (m *Manager) startHeartbeat(parent context.Context, sessionID string) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	if e, ok := m.sessions[sessionID]; ok {
		e.heartbeatCancel = cancel
	} else {
		cancel()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.store.UpdateHeartbeat(sessionID, time.Now()); err != nil {
					log.Printf("[SESSION] heartbeat failed for %s: %v", sessionID, err)
					return
				}
				m.maybePromoteToActive(sessionID)
			}
		}
	}()
}

// maybePromoteToActive implements "status becomes recovered then active on
// the first heartbeat" (§9 Open Question resolution).
func (m *Manager) maybePromoteToActive(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	wasRecovered := ok && e.isRecovered
	if ok {
		e.isRecovered = false
	}
	m.mu.Unlock()

	if wasRecovered {
		if err := m.store.SetSessionActive(sessionID); err != nil {
			log.Printf("[SESSION] promote to active failed for %s: %v", sessionID, err)
		}
	}
}

// Disconnect marks a session disconnected, opens its recovery grace window,
// stops its heartbeat, but keeps the in-memory transport handle until the
// grace window elapses (§4.5).
func (m *Manager) Disconnect(sessionID string) error {
	now := time.Now()
	if err := m.store.MarkDisconnected(sessionID, now, m.grace); err != nil {
		return fmt.Errorf("mark disconnected %s: %w", sessionID, err)
	}

	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok && e.heartbeatCancel != nil {
		e.heartbeatCancel()
		e.heartbeatCancel = nil
	}
	if ok {
		e.cleanupTimer = time.AfterFunc(m.grace, func() { m.cleanup(sessionID) })
	}
	m.mu.Unlock()

	m.bus.PublishSessionUpdate(sessionID, "disconnected")
	log.Printf("[SESSION] %s disconnected, grace window %v", sessionID, m.grace)
	return nil
}

// cleanup removes the in-memory entry once the grace window elapses
// without recovery (§4.5 "delayed cleanup at 10 min").
func (m *Manager) cleanup(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok && e.transport != nil {
		if err := e.transport.Close(); err != nil {
			log.Printf("[SESSION] close transport for %s: %v", sessionID, err)
		}
	}
	log.Printf("[SESSION] cleaned up expired entry %s", sessionID)
}

// Recover implements try_recover(sid): builds a new transport bound to the
// same session id, increments recovery_attempts, and restarts the
// heartbeat (§4.5).
func (m *Manager) Recover(ctx context.Context, sessionID string) (Transport, error) {
	ok, err := m.store.CanRecover(sessionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("check recoverability %s: %w", sessionID, err)
	}
	if !ok {
		m.raiseRecoveryDeniedAlert(sessionID)
		return nil, types.ErrRecoveryDenied
	}

	if _, err := m.store.TryRecover(sessionID, time.Now()); err != nil {
		return nil, fmt.Errorf("recover session %s: %w", sessionID, err)
	}

	transport, err := m.newServer(sessionID)
	if err != nil {
		return nil, fmt.Errorf("build recovered transport %s: %w", sessionID, err)
	}

	m.mu.Lock()
	if e, existed := m.sessions[sessionID]; existed {
		if e.cleanupTimer != nil {
			e.cleanupTimer.Stop()
		}
		e.transport = transport
		e.isRecovered = true
		e.lastActivity = time.Now()
	} else {
		m.sessions[sessionID] = &entry{
			transport:    transport,
			createdAt:    time.Now(),
			lastActivity: time.Now(),
			isRecovered:  true,
		}
	}
	m.mu.Unlock()

	m.startHeartbeat(ctx, sessionID)
	m.bus.PublishSessionUpdate(sessionID, "recovered")
	log.Printf("[SESSION] recovered %s", sessionID)
	return transport, nil
}

// StartExpiredSweeper runs the periodic task that marks every disconnected
// session whose grace window has elapsed as expired (§5 "expired-sessions
// sweeper runs every 5 minutes").
func (m *Manager) StartExpiredSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.store.ExpirePastGrace(time.Now())
				if err != nil {
					log.Printf("[SESSION] expire sweep failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[SESSION] expired %d session(s) past grace", n)
					m.notifier.SessionsExpired(n)
				}
			}
		}
	}()
}

// Shutdown marks every in-memory session disconnected so they remain
// eligible for recovery, then closes their transports (§4.8 "Graceful
// shutdown").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			log.Printf("[SESSION] shutdown disconnect failed for %s: %v", id, err)
		}
		m.mu.RLock()
		var t Transport
		if e, ok := m.sessions[id]; ok {
			t = e.transport
		}
		m.mu.RUnlock()
		if t != nil {
			if err := t.Close(); err != nil {
				log.Printf("[SESSION] shutdown close transport for %s: %v", id, err)
			}
		}
	}
}

// Count reports how many sessions are currently tracked in memory, used by
// the /stats endpoint.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

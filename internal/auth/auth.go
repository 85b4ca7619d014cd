// Package auth issues and verifies bearer tokens (spec §4.2). Unlike most
// of this repo, the teacher has no close precedent for a server-issued
// token scheme (its bootstrap/phonehome.go only consumes an externally
// issued API key) — this package is grounded more thinly, on
// google/uuid (already pack-wide for id generation) plus stdlib
// crypto/rand for token entropy. See DESIGN.md.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/types"
)

// adminTokenEnvVar is the admin-token override named in §6 "Environment
// variables consumed by the core": when set, it seeds the admin token
// instead of a freshly generated one (e.g. for a scripted/CI deployment
// that needs a stable, pre-known token).
const adminTokenEnvVar = "FLEET_ADMIN_TOKEN"

// Auth keeps an in-memory token→agent index in sync with the Store, so
// is_admin/agent_for answer in O(1) (§4.2).
type Auth struct {
	store *store.Store

	mu         sync.RWMutex
	adminToken string
	byToken    map[string]string // token -> agent_id
}

// New builds an Auth index over st. Call Bootstrap once at startup to
// populate the admin token and preload existing agent tokens.
func New(st *store.Store) *Auth {
	return &Auth{store: st, byToken: make(map[string]string)}
}

// Bootstrap implements initialize_admin_token: idempotent across restarts.
// It also preloads the in-memory index from every non-terminated agent row
// so the index survives a process restart without re-deriving anything.
func (a *Auth) Bootstrap() (string, error) {
	candidate := os.Getenv(adminTokenEnvVar)
	if candidate == "" {
		generated, err := generateToken()
		if err != nil {
			return "", types.WrapInternal("generate admin token: " + err.Error())
		}
		candidate = generated
	}
	token, err := a.store.SetAdminConfigIfAbsent("admin_token", candidate)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.adminToken = token
	a.mu.Unlock()

	agents, err := a.store.ListAgents(types.AgentCreated, types.AgentActive)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	for _, ag := range agents {
		a.byToken[ag.Token] = ag.AgentID
	}
	a.mu.Unlock()

	return token, nil
}

// AdminToken returns the bootstrapped admin token.
func (a *Auth) AdminToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adminToken
}

// GenerateAgentToken returns a new high-entropy, URL-safe bearer token.
func (a *Auth) GenerateAgentToken() (string, error) {
	return generateToken()
}

// IsAdmin reports whether token is the admin's bearer token.
func (a *Auth) IsAdmin(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return token != "" && token == a.adminToken
}

// AgentFor resolves a bearer token to its bound agent id, O(1).
func (a *Auth) AgentFor(token string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byToken[token]
	return id, ok
}

// RegisterAgentToken adds a newly created agent's token to the in-memory
// index. Must be called from the same code path that commits the agent row
// to Store, under the Store transaction's "happens-after" ordering (§5
// "Auth index... updated only from Store transactions that create/terminate
// agents").
func (a *Auth) RegisterAgentToken(agentID, token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byToken[token] = agentID
}

// RevokeAgentToken removes an agent's token from the index, called when an
// agent is terminated or torn down (§4.6.1 testing-agent re-creation).
func (a *Auth) RevokeAgentToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byToken, token)
}

// Last4 returns the lowercase last four characters of token, used to build
// deterministic tmux session names (§3, §6).
func Last4(token string) string {
	t := strings.ToLower(token)
	if len(t) <= 4 {
		return t
	}
	return t[len(t)-4:]
}

func generateToken() (string, error) {
	// 32 random bytes, base64url-encoded, prefixed with a uuid fragment so
	// tokens remain visually distinguishable from task/agent ids in logs.
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return uuid.New().String()[:8] + "." + base64.RawURLEncoding.EncodeToString(buf), nil
}

package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/resources"
	"github.com/fleetforge/fleetd/internal/session"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/supervisor"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/tools"
	"github.com/fleetforge/fleetd/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := auth.New(st)
	if _, err := a.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	tm := tmux.New()
	reg := tools.New()
	if err := reg.RegisterCatalog(tools.Definition{
		Name:        "ping",
		Description: "replies pong",
		Category:    types.CategoryBasic,
		Handler: func(ctx tools.Context, args map[string]interface{}) (types.ToolResult, error) {
			return types.TextResult("pong"), nil
		},
	}); err != nil {
		t.Fatalf("register catalog: %v", err)
	}
	reg.UpdateConfiguration([]types.ToolCategory{types.CategoryBasic})

	cat := resources.New(st, a, tm)
	sv := supervisor.New(st, a, tm, "http://localhost:0")
	sessions := session.New(st, NewTransport)

	return New(Config{
		Store:      st,
		Auth:       a,
		Tools:      reg,
		Resources:  cat,
		Supervisor: sv,
		Tmux:       tm,
		Sessions:   sessions,
		Host:       "127.0.0.1",
		Port:       0,
	})
}

func postRPC(t *testing.T, srv *Server, sessionID string, req types.MCPRequest) (*httptest.ResponseRecorder, types.MCPResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if sessionID != "" {
		r.Header.Set(sessionIDHeader, sessionID)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, r)

	var resp types.MCPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v body=%s", err, w.Body.String())
	}
	return w, resp
}

func TestInitializeAllocatesSessionID(t *testing.T) {
	srv := newTestServer(t)
	w, resp := postRPC(t, srv, "", types.MCPRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	sid := w.Header().Get(sessionIDHeader)
	if sid == "" {
		t.Fatal("expected Mcp-Session-Id response header on initialize")
	}
	if srv.sessions.Count() != 1 {
		t.Fatalf("expected 1 tracked session, got %d", srv.sessions.Count())
	}
}

func TestUnknownSessionIDRejected(t *testing.T) {
	srv := newTestServer(t)
	_, resp := postRPC(t, srv, "unknown-session", types.MCPRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/list"})

	if resp.Error == nil {
		t.Fatal("expected Bad Request error for unknown, non-recoverable session id")
	}
	if resp.Error.Code != types.RPCErrBadRequest {
		t.Fatalf("expected code %d, got %d", types.RPCErrBadRequest, resp.Error.Code)
	}
}

func TestToolsListAndCallRoundtrip(t *testing.T) {
	srv := newTestServer(t)
	_, initResp := postRPC(t, srv, "", types.MCPRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})
	if initResp.Error != nil {
		t.Fatalf("initialize failed: %+v", initResp.Error)
	}

	w, _ := postRPC(t, srv, "", types.MCPRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})
	sid := w.Header().Get(sessionIDHeader)

	_, listResp := postRPC(t, srv, sid, types.MCPRequest{JSONRPC: "2.0", ID: float64(2), Method: "tools/list"})
	if listResp.Error != nil {
		t.Fatalf("tools/list failed: %+v", listResp.Error)
	}

	_, callResp := postRPC(t, srv, sid, types.MCPRequest{
		JSONRPC: "2.0", ID: float64(3), Method: "tools/call",
		Params: map[string]interface{}{"name": "ping", "arguments": map[string]interface{}{}},
	})
	if callResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", callResp.Error)
	}
}

func TestHealthEndpointReportsStorageOK(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, r)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestUpdateConfigEnforcesBasicCategory(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(updateConfigRequest{Categories: []types.ToolCategory{types.CategoryRAG}})
	r := httptest.NewRequest(http.MethodPost, "/config", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, r)

	var applied map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &applied); err != nil {
		t.Fatalf("unmarshal config response: %v", err)
	}
	newConfig, ok := applied["new_config"].([]interface{})
	if !ok {
		t.Fatalf("expected new_config array, got %T", applied["new_config"])
	}
	found := false
	for _, c := range newConfig {
		if c == string(types.CategoryBasic) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected basic category to remain enforced after narrowing")
	}
}

package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetd/internal/tools"
	"github.com/fleetforge/fleetd/internal/types"
)

const sessionIDHeader = "Mcp-Session-Id"

// handleRPC is the single entry point named in §4.8: POST carries one
// JSON-RPC request per call; GET opens a server-sent-event stream onto an
// already-established session.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.handleRPCStream(w, r)
		return
	}
	s.handleRPCPost(w, r)
}

func (s *Server) handleRPCPost(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(w, r, MaxPayloadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req types.MCPRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondJSON(w, types.MCPResponse{JSONRPC: "2.0", Error: &types.MCPError{
			Code: types.RPCErrBadRequest, Message: "malformed request: " + err.Error(),
		}})
		return
	}

	sessionID := r.Header.Get(sessionIDHeader)
	sessionID, err = s.resolveSession(r.Context(), sessionID, req.Method)
	if err != nil {
		respondJSON(w, types.MCPResponse{JSONRPC: "2.0", ID: req.ID, Error: &types.MCPError{
			Code: types.RPCErrBadRequest, Message: err.Error(),
		}})
		return
	}

	resp := s.dispatch(r, sessionID, &req)
	w.Header().Set(sessionIDHeader, sessionID)
	respondJSON(w, resp)
}

// resolveSession implements §4.8's session-id branching: reuse an in-memory
// session, recover an eligible disconnected one, allocate a new one for
// "initialize" or a missing id, else reject.
func (s *Server) resolveSession(ctx context.Context, sessionID, method string) (string, error) {
	if sessionID != "" {
		if _, ok := s.sessions.Get(sessionID); ok {
			s.sessions.Touch(sessionID)
			return sessionID, nil
		}
		if _, err := s.sessions.Recover(ctx, sessionID); err == nil {
			return sessionID, nil
		} else if method != "initialize" {
			return "", fmt.Errorf("Bad Request: no valid session id (%v)", err)
		}
	}

	if method == "initialize" || sessionID == "" {
		newID := sessionID
		if newID == "" {
			newID = uuid.New().String()
		}
		t := newRPCTransport()
		if err := s.sessions.Init(ctx, newID, t, "", nil); err != nil {
			return "", fmt.Errorf("internal: failed to open session: %v", err)
		}
		return newID, nil
	}

	return "", fmt.Errorf("Bad Request: no valid session id provided")
}

func (s *Server) dispatch(r *http.Request, sessionID string, req *types.MCPRequest) types.MCPResponse {
	resp := types.MCPResponse{JSONRPC: "2.0", ID: req.ID}

	token := bearerToken(r)
	agentID, _ := s.auth.AgentFor(token)
	isAdmin := s.auth.IsAdmin(token)
	ctx := tools.Context{SessionID: sessionID, AgentID: agentID, RequestID: fmt.Sprint(req.ID), IsAdmin: isAdmin}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = s.handleInitialize()
	case "tools/list":
		result = map[string]interface{}{"tools": s.tools.List()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "resources/list":
		result, err = s.handleResourcesList(r.Context())
	case "resources/read":
		result, err = s.handleResourcesRead(r.Context(), req.Params, isAdmin)
	default:
		resp.Error = &types.MCPError{Code: -32601, Message: "Method not found: " + req.Method}
		return resp
	}

	if err != nil {
		log.Printf("[HTTP] rpc method %s failed: %v", req.Method, err)
		resp.Error = &types.MCPError{Code: types.RPCErrInternal, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) handleInitialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]string{"name": "fleetd", "version": "1.0.0"},
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{"listChanged": false},
		},
	}
}

// decodeParams round-trips an RPC request's loosely-typed params field
// through JSON into a concrete struct.
func decodeParams(rawParams interface{}, target interface{}) error {
	raw, err := json.Marshal(rawParams)
	if err != nil {
		return types.WrapValidation("encode params: " + err.Error())
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return types.WrapValidation("decode params: " + err.Error())
	}
	return nil
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx tools.Context, rawParams interface{}) (types.ToolResult, error) {
	var params toolCallParams
	if err := decodeParams(rawParams, &params); err != nil {
		return types.ToolResult{}, err
	}
	return s.tools.Execute(params.Name, ctx, params.Arguments)
}

func (s *Server) handleResourcesList(ctx context.Context) (map[string]interface{}, error) {
	list, err := s.resources.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"resources": list}, nil
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, rawParams interface{}, isAdmin bool) (map[string]interface{}, error) {
	var params resourceReadParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}
	content, mimeType, err := s.resources.Fetch(ctx, params.URI, isAdmin)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"contents": []map[string]interface{}{
			{"uri": params.URI, "mimeType": mimeType, "text": content},
		},
	}, nil
}

// handleRPCStream serves the GET side of /rpc: it attaches an SSE sink to
// the caller's existing session and pushes frames until the client
// disconnects or the session closes.
func (s *Server) handleRPCStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionIDHeader)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "Mcp-Session-Id header required for streaming")
		return
	}
	t, ok := s.sessions.Get(sessionID)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unknown or expired session")
		return
	}
	transport, ok := t.(*rpcTransport)
	if !ok {
		respondError(w, http.StatusInternalServerError, "session transport does not support streaming")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := transport.attachSSE()
	defer transport.detachSSE(ch)

	s.sessions.Touch(sessionID)
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			if err := s.sessions.Disconnect(sessionID); err != nil {
				log.Printf("[HTTP] disconnect session %s on stream close: %v", sessionID, err)
			}
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

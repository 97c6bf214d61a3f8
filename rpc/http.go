package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
)

// Server exposes the escrow engine over JSON-RPC. Mutating methods require
// the bearer token configured through the ESCROWD_RPC_TOKEN environment
// variable when one is set.
type Server struct {
	engine    *escrow.Engine
	feed      *events.Recorder
	authToken string
	metrics   *observability.EscrowMetrics
}

// NewServer wires a JSON-RPC server around the supplied engine.
func NewServer(engine *escrow.Engine) *Server {
	return &Server{
		engine:    engine,
		authToken: strings.TrimSpace(os.Getenv("ESCROWD_RPC_TOKEN")),
		metrics:   observability.Metrics(),
	}
}

// SetEventFeed exposes the supplied recorder through the escrow_events
// method. Without a feed the method returns an empty list.
func (s *Server) SetEventFeed(feed *events.Recorder) {
	s.feed = feed
}

// Router returns the HTTP handler serving the RPC endpoint, health check and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the supplied address until the context is
// cancelled, then drains in-flight requests before returning.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	// Only known methods become metric labels; the method string is
	// caller-supplied and must not drive label cardinality.
	if !rpcMethods[req.Method] {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency(req.Method, time.Since(start))
	}()

	switch req.Method {
	case "escrow_create":
		s.handleEscrowCreate(w, r, &req)
	case "escrow_releaseMilestone":
		s.handleEscrowReleaseMilestone(w, r, &req)
	case "escrow_dispute":
		s.handleEscrowDispute(w, r, &req)
	case "escrow_resolve":
		s.handleEscrowResolve(w, r, &req)
	case "escrow_cancel":
		s.handleEscrowCancel(w, r, &req)
	case "escrow_get":
		s.handleEscrowGet(w, &req)
	case "escrow_getMilestones":
		s.handleEscrowGetMilestones(w, &req)
	case "escrow_listByPayer":
		s.handleEscrowList(w, &req, s.engine.EscrowsByPayer)
	case "escrow_listByPayee":
		s.handleEscrowList(w, &req, s.engine.EscrowsByPayee)
	case "escrow_events":
		s.handleEscrowEvents(w, &req)
	}
}

var rpcMethods = map[string]bool{
	"escrow_create":           true,
	"escrow_releaseMilestone": true,
	"escrow_dispute":          true,
	"escrow_resolve":          true,
	"escrow_cancel":           true,
	"escrow_get":              true,
	"escrow_getMilestones":    true,
	"escrow_listByPayer":      true,
	"escrow_listByPayee":      true,
	"escrow_events":           true,
}

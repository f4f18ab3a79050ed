package rpc

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultswap/core/events"
	"vaultswap/native/escrow"
	"vaultswap/observability/metrics"
	"vaultswap/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "VAULTSWAP_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEscrowNotFound  = -32022
	codeEscrowForbidden = -32023
	codeEscrowConflict  = -32024
	codeEscrowExpired   = -32026
	codeEscrowBalance   = -32027
)

// Server exposes the escrow engine over JSON-RPC 2.0. Mutating methods
// require the bearer token from VAULTSWAP_RPC_TOKEN when one is configured.
type Server struct {
	engine    *escrow.Engine
	ledger    *state.Manager
	log       *events.Log
	authToken string
	metrics   *metrics.EscrowMetrics
}

// NewServer wires a server around the given engine, ledger and event log.
func NewServer(engine *escrow.Engine, ledger *state.Manager, log *events.Log) *Server {
	return &Server{
		engine:    engine,
		ledger:    ledger,
		log:       log,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		metrics:   metrics.Escrow(),
	}
}

// Router returns the HTTP handler: JSON-RPC on /, liveness on /healthz and
// prometheus metrics on /metrics.
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

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

func (s *Server) requireAuth(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "malformed JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", req.JSONRPC)
		return
	}

	switch req.Method {
	case "escrow_initiate":
		s.withAuth(w, r, &req, s.handleInitiate)
	case "escrow_accept":
		s.withAuth(w, r, &req, s.actorHandler("accept", s.engine.Accept))
	case "escrow_fund":
		s.withAuth(w, r, &req, s.actorHandler("fund", s.engine.Fund))
	case "escrow_sendAsset":
		s.withAuth(w, r, &req, s.actorHandler("send_asset", s.engine.SendAsset))
	case "escrow_confirm":
		s.withAuth(w, r, &req, s.actorHandler("confirm", s.engine.Confirm))
	case "escrow_refundBuyer":
		s.withAuth(w, r, &req, s.actorHandler("refund_buyer", s.engine.RefundBuyer))
	case "escrow_refundSeller":
		s.withAuth(w, r, &req, s.actorHandler("refund_seller", s.engine.RefundSeller))
	case "escrow_cancel":
		s.withAuth(w, r, &req, s.actorHandler("cancel", s.engine.Cancel))
	case "escrow_close":
		s.withAuth(w, r, &req, s.actorHandler("close", s.engine.Close))
	case "escrow_autoRelease":
		s.withAuth(w, r, &req, s.handleAutoRelease)
	case "escrow_get":
		s.handleGet(w, &req)
	case "escrow_events":
		s.handleEvents(w, &req)
	case "balance_get":
		s.handleBalanceGet(w, &req)
	case "balance_credit":
		s.withAuth(w, r, &req, s.handleBalanceCredit)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(http.ResponseWriter, *RPCRequest)) {
	if !s.requireAuth(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
		return
	}
	fn(w, req)
}

// writeEngineError maps engine guard failures onto the RPC error taxonomy.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrInvalidID),
		errors.Is(err, escrow.ErrSameParty),
		errors.Is(err, escrow.ErrSameAsset),
		errors.Is(err, escrow.ErrZeroAmount),
		errors.Is(err, escrow.ErrInvalidExpiry),
		errors.Is(err, escrow.ErrInvalidAssetType),
		errors.Is(err, escrow.ErrDefinitionMismatch):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, escrow.ErrUnauthorizedBuyer),
		errors.Is(err, escrow.ErrUnauthorizedSeller),
		errors.Is(err, escrow.ErrVaultRestricted):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrExpired),
		errors.Is(err, escrow.ErrNotExpired):
		writeError(w, http.StatusConflict, id, codeEscrowExpired, "expired", err.Error())
	case errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrOverflow):
		writeError(w, http.StatusConflict, id, codeEscrowBalance, "balance", err.Error())
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrAlreadyRefunded),
		errors.Is(err, escrow.ErrNothingToRefund),
		errors.Is(err, escrow.ErrVaultNotEmpty):
		writeError(w, http.StatusConflict, id, codeEscrowConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 20 {
		return addr, fmt.Errorf("malformed address %q", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseKey(s string) ([32]byte, error) {
	var key [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return key, fmt.Errorf("malformed escrow key %q", s)
	}
	copy(key[:], raw)
	return key, nil
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	return amount, nil
}

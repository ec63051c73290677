// Package api exposes the ledger over JSON-RPC 2.0.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/synth/pkg/synth"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against the engine
type JSONRPCServer struct {
	engine   *synth.Engine
	balances BalanceReader
	logger   log.Logger
}

// BalanceReader reports external collateral-ledger balances
type BalanceReader interface {
	Balance(user string) *big.Int
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(engine *synth.Engine) *JSONRPCServer {
	return &JSONRPCServer{
		engine: engine,
		logger: log.Root().New("module", "api"),
	}
}

// WithBalances enables synth_getBalance against a collateral ledger
func (s *JSONRPCServer) WithBalances(r BalanceReader) *JSONRPCServer {
	s.balances = r
	return s
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes, plus application codes for ledger failures
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	CodeInvalidInput    = 1000
	CodeNotFound        = 1001
	CodePolicyViolation = 1002
	CodeTransferFailed  = 1003
	CodeUnauthorized    = 1004
)

// rpcError translates an engine error into a distinguishable RPC error
func rpcError(err error) *RPCError {
	code := InternalError
	switch {
	case errors.Is(err, synth.ErrInvalidPrice),
		errors.Is(err, synth.ErrInvalidAmount),
		errors.Is(err, synth.ErrRatioTooLow),
		errors.Is(err, synth.ErrPenaltyTooHigh):
		code = CodeInvalidInput
	case errors.Is(err, synth.ErrAssetNotFound),
		errors.Is(err, synth.ErrNoPosition):
		code = CodeNotFound
	case errors.Is(err, synth.ErrAssetExists),
		errors.Is(err, synth.ErrInsufficientCollateral),
		errors.Is(err, synth.ErrInsufficientSynthetic),
		errors.Is(err, synth.ErrNotLiquidatable):
		code = CodePolicyViolation
	case errors.Is(err, synth.ErrTransferFailed):
		code = CodeTransferFailed
	case errors.Is(err, synth.ErrUnauthorized):
		code = CodeUnauthorized
	}
	return &RPCError{Code: code, Message: err.Error()}
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, &RPCError{Code: ParseError, Message: "Parse error"})
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, &RPCError{Code: InvalidRequest, Message: "Invalid Request"})
		return
	}

	result, rpcErr := s.handleMethod(req.Method, req.Params)
	if rpcErr != nil {
		s.sendError(w, req.ID, rpcErr)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	// Registry methods
	case "synth_createAsset":
		return s.createAsset(params)
	case "synth_updatePrice":
		return s.updatePrice(params)
	case "synth_getAsset":
		return s.getAsset(params)
	case "synth_listAssets":
		return s.listAssets()

	// Position methods
	case "synth_mint":
		return s.mint(params)
	case "synth_burn":
		return s.burn(params)
	case "synth_getPosition":
		return s.getPosition(params)
	case "synth_getBalance":
		return s.getBalance(params)

	// Liquidation methods
	case "synth_isLiquidatable":
		return s.isLiquidatable(params)
	case "synth_liquidate":
		return s.liquidate(params)
	case "synth_setLiquidationPenalty":
		return s.setPenalty(params)

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found: " + method}
	}
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parsePrice converts a human-readable decimal price ("50000.25") into the
// engine's 18-decimal fixed-point representation.
func parsePrice(price string) (*big.Int, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}

// formatPrice renders a fixed-point price back into decimal notation
func formatPrice(price *big.Int) string {
	return decimal.NewFromBigInt(price, -18).String()
}

// parseAmount parses an integer token amount in smallest units
func parseAmount(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return v, nil
}

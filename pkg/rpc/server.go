// Package rpc implements the JSON-RPC 2.0 server of the vault ledger.
//
// The server provides a Solana-compatible subset of the JSON-RPC API so
// that standard clients can query accounts and submit transactions.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getMinimumBalanceForRentExemption
//   - Transaction: sendTransaction, simulateTransaction, getSignatureStatuses, getTransaction, getSignaturesForAddress
//   - Block: getBlock, getBlockHeight, getLatestBlockhash, isBlockhashValid, getFirstAvailableBlock
//   - Cluster: getSlot, getHealth, getVersion, getGenesisHash, requestAirdrop
//   - Vault: getVaultBalance
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
)

// Ledger is the node state the server exposes.
type Ledger interface {
	Slot() uint64
	LatestBlockhash() (types.Hash, uint64)
	IsBlockhashValid(hash types.Hash) bool
	GetAccount(pubkey types.Pubkey) (*accounts.Account, error)
	MinimumBalanceForRentExemption(dataLen uint64) uint64
	GetSignatureStatus(sig types.Signature) (*blockstore.TransactionStatus, error)
	ProcessTransaction(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error)
	SimulateTransaction(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error)
	RequestAirdrop(ctx context.Context, pubkey types.Pubkey, lamports uint64) (types.Signature, error)
	Blocks() blockstore.Store
}

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool

	// GenesisHash is the genesis blockhash.
	GenesisHash types.Hash

	// VaultProgramID is the program getVaultBalance reads records of.
	VaultProgramID types.Pubkey
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024, // 50KB
		EnableCORS:     true,
		LogRequests:    false,
		VaultProgramID: types.DefaultVaultProgramAddr,
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config
	log    *logrus.Entry

	ledger Ledger

	healthy  bool
	healthMu sync.RWMutex

	// HTTP server
	server *http.Server

	// Method handlers
	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server.
func New(config Config, ledger Ledger) *Server {
	s := &Server{
		config:   config,
		log:      logrus.StandardLogger().WithField("type", "rpc"),
		ledger:   ledger,
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getSignatureStatuses"] = s.getSignatureStatuses
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress

	// Block methods
	s.handlers["getBlock"] = s.getBlock
	s.handlers["getBlockHeight"] = s.getBlockHeight
	s.handlers["getLatestBlockhash"] = s.getLatestBlockhash
	s.handlers["isBlockhashValid"] = s.isBlockhashValid
	s.handlers["getFirstAvailableBlock"] = s.getFirstAvailableBlock

	// Cluster methods
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getGenesisHash"] = s.getGenesisHash
	s.handlers["requestAirdrop"] = s.requestAirdrop

	// Vault methods
	s.handlers["getVaultBalance"] = s.getVaultBalance
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(requestIDMiddleware(mux))
}

// Start serves requests on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves requests on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	server := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", lis.Addr().String()).Info("rpc server listening")

	err := server.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestIDHeader carries the id that correlates an HTTP request with the
// server's log lines. Callers may supply their own.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// requestIDMiddleware tags each request with an id, generating one when
// the caller sent none, and echoes it in the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeResponse(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}

	// Batch request
	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}
	s.writeResponse(w, s.handleRequest(r.Context(), req))
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeResponse(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}

	if len(requests) == 0 {
		s.writeResponse(w, Response{JSONRPC: JSONRPCVersion, Error: ErrInvalidRequest})
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.handleRequest(ctx, req)
	}
	s.writeResponse(w, responses)
}

// handleRequest validates and dispatches one request.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if req.JSONRPC != JSONRPCVersion {
		resp.Error = ErrInvalidRequest
		return resp
	}

	start := time.Now()
	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if s.config.LogRequests {
		entry := s.log.WithFields(logrus.Fields{
			"method":     req.Method,
			"id":         req.ID,
			"request_id": requestID(ctx),
			"duration":   time.Since(start),
		})
		if rpcErr != nil {
			entry = entry.WithField("code", rpcErr.Code)
		}
		entry.Debug("rpc request")
	}

	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(ctx, params)
}

// writeResponse writes a response or a batch of responses.
func (s *Server) writeResponse(w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Warn("failure writing rpc response")
	}
}

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"stakeescrow/core"
	"stakeescrow/core/events"
	"stakeescrow/crypto"
	"stakeescrow/indexer"
	nativecommon "stakeescrow/native/common"
	"stakeescrow/observability"
)

// ServerConfig configures the JSON-RPC server.
type ServerConfig struct {
	Auth      AuthConfig
	Quota     nativecommon.Quota
	RateLimit RateLimit
	// Broker feeds the /ws/events stream; nil disables it.
	Broker           *events.Broker
	WSOriginPatterns []string
	// Events backs escrow_listEvents; nil disables the method.
	Events EventStore
	// ServeMetrics mounts the Prometheus handler on /metrics.
	ServeMetrics bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// EventStore is the indexed event history.
type EventStore interface {
	List(ctx context.Context, q indexer.Query) ([]indexer.Entry, error)
}

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	auth    *authenticator
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics interface {
		Observe(method string, code int, duration time.Duration)
		RecordThrottle(reason string)
	}
	now func() time.Time

	mu    sync.Mutex
	usage map[crypto.Address]nativecommon.Usage

	serverMu   sync.Mutex
	httpServer *http.Server
}

type handlerFunc func(ctx context.Context, req *RPCRequest) (interface{}, *RPCError)

func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "rpc"))
	auth, err := newAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		node:    node,
		cfg:     cfg,
		auth:    auth,
		limiter: cfg.RateLimit.limiter(),
		logger:  logger,
		metrics: observability.ModuleMetrics(),
		now:     time.Now,
		usage:   make(map[crypto.Address]nativecommon.Usage),
	}, nil
}

// Handler returns the HTTP surface: JSON-RPC on POST /, /healthz and
// optionally /metrics, wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Get("/healthz", s.handleHealth)
	if s.cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.With(s.auth.middleware).Get("/ws/events", s.handleEventsWS)
	r.With(s.auth.middleware, s.rateLimit).Post("/", s.handle)
	return otelhttp.NewHandler(r, "escrow-rpc")
}

// Serve accepts connections on listener until ctx is cancelled, then shuts
// the server down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"chainId": s.node.ChainID(),
	})
}

// handle decodes a JSON-RPC request and routes it to its method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	handler, ok := s.methods()[req.Method]
	if !ok {
		s.metrics.Observe(req.Method, codeMethodNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	result, rpcErr := handler(r.Context(), req)
	if rpcErr != nil {
		s.metrics.Observe(req.Method, rpcErr.Code, time.Since(start))
		if data, ok := rpcErr.Data.(ErrorData); ok {
			data.RequestID = requestIDFrom(r.Context())
			rpcErr.Data = data
		}
		writeError(w, statusFor(rpcErr), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.metrics.Observe(req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

func statusFor(err *RPCError) int {
	switch err.Code {
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
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
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to encode result", err.Error())
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: raw}
	_ = json.NewEncoder(w).Encode(resp)
}

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

// withRequestID tags every request with a correlation id, reusing the one
// supplied by the caller when it parses as a UUID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// allowSender charges one request and the attached value against the sender's
// quota window.
func (s *Server) allowSender(sender crypto.Address, valueGwei uint64) error {
	if s.cfg.Quota.MaxRequests == 0 && s.cfg.Quota.MaxValueGwei == 0 {
		return nil
	}
	window := s.cfg.Quota.Window(s.now().Unix())
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, usage := range s.usage {
		if usage.Window != window {
			delete(s.usage, addr)
		}
	}
	next, err := nativecommon.CheckQuota(s.cfg.Quota, window, s.usage[sender], 1, valueGwei)
	if err != nil {
		return err
	}
	s.usage[sender] = next
	return nil
}

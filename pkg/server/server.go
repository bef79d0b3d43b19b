// Package server exposes batch submission, run inspection, metrics and a live
// event stream over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/telemetry"
)

const (
	defaultAddr         = "127.0.0.1:4490"
	defaultMaxBodyBytes = 8 << 20
	defaultRunsLimit    = 50
)

// RunStore is the read side of the run journal.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*jobqueue.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]jobqueue.RunRecord, error)
	ListJobs(ctx context.Context, runID string) ([]jobqueue.JobRecord, error)
	ListApprovals(ctx context.Context, runID string) ([]approval.AuditEntry, error)
}

// Config configures the server.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:4490)
	Addr string

	// Queue runs submitted batches. Required.
	Queue *jobqueue.Queue

	// Store answers run history queries (optional)
	Store RunStore

	// Hub feeds /v1/events (optional)
	Hub *telemetry.Hub

	Logger *logging.Logger

	// AllowedOrigins for websocket upgrades. "*" allows any origin; requests
	// without an Origin header are always accepted.
	AllowedOrigins []string

	// MaxBodyBytes caps batch submissions (default: 8 MiB)
	MaxBodyBytes int64

	// PublicMetrics serves /metrics to non-loopback clients.
	PublicMetrics bool

	// MaxConnections caps concurrently accepted connections (0: unlimited)
	MaxConnections int
}

// Server is the batchq HTTP API.
type Server struct {
	cfg        Config
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// runCtx parents asynchronous runs so they outlive their request.
	runCtx    context.Context
	runCancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	id   string
	cont jobqueue.Continuation
	done bool
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		runCtx:    runCtx,
		runCancel: runCancel,
		active:    make(map[string]*activeRun),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metricsGuard(promhttp.Handler()))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", s.handleSubmitBatch)
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/approvals", s.handleListApprovals)
		})
		r.Get("/events", s.handleEvents)
	})
	s.router = r

	// h2c keeps the event stream reachable behind proxies that only speak
	// cleartext HTTP/2 upstream.
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully and cancels
// any runs still in flight.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.runCancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.runCancel()
	if err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ActiveRuns lists the IDs of asynchronous runs that have not finished.
func (s *Server) ActiveRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// metricsGuard keeps /metrics loopback-only unless PublicMetrics is set.
func (s *Server) metricsGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.PublicMetrics && !isLoopbackRemote(r.RemoteAddr) {
			writeError(w, http.StatusForbidden, "metrics are only served to loopback clients")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackRemote(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("http handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the status code for logging. It forwards Hijack so
// websocket upgrades still work behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > 1000 {
		return 1000
	}
	return n
}

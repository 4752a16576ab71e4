package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tfdeck/tfdeck/internal/auth"
	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/dashboard"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/remote"
	"github.com/tfdeck/tfdeck/web"
)

// sessionTTL is how long a login token stays valid.
const sessionTTL = 24 * time.Hour

// Server is the read-only share server for one tfdeck process. It
// implements dashboard.Publisher, so handing it to the dashboard as the
// publisher is all the wiring a shared session needs.
type Server struct {
	bind         string
	port         int
	passwordHash string

	store  *history.Store
	log    *logging.Logger
	assets fs.FS

	broadcast *Broadcaster
	limiter   *loginLimiter
	metrics   *metrics

	seq atomic.Uint64

	mu       sync.RWMutex
	tokens   map[string]time.Time
	snapshot []byte
	httpSrv  *http.Server
	listener net.Listener
	started  bool
}

// Options carries the server's collaborators. A nil Store serves an empty
// runs API; a nil Logger falls back to the package logger.
type Options struct {
	Store  *history.Store
	Logger *logging.Logger
}

// New builds a share server from the merged config. An empty password
// hash means the server is open: login is disabled and no endpoint
// requires a token.
func New(cfg config.ServerConfig, opts Options) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Port)
	}
	bind := cfg.Bind
	if bind == "" {
		bind = config.DefaultServerBind
	}
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	log = log.With("component", "server")

	return &Server{
		bind:         bind,
		port:         cfg.Port,
		passwordHash: cfg.PasswordHash,
		store:        opts.Store,
		log:          log,
		assets:       web.GetAssets(""),
		broadcast:    NewBroadcaster(),
		limiter:      newLoginLimiter(DefaultLimiterConfig(), log),
		metrics:      newMetrics(),
		tokens:       make(map[string]time.Time),
	}, nil
}

// Publish implements dashboard.Publisher. Each snapshot is wrapped as a
// stream event and fanned out to connected SSE clients; the latest one
// also backs /api/state.
func (s *Server) Publish(snap dashboard.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("marshal snapshot", "error", err)
		return
	}
	ev := remote.NewSnapshot(s.seq.Add(1), snap.RunID, data)
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal stream event", "error", err)
		return
	}

	s.mu.Lock()
	s.snapshot = data
	s.mu.Unlock()

	s.broadcast.Publish(ev.Seq, payload)
	s.metrics.eventsPublished.Inc()
}

// Start listens and serves until Stop is called. ctx bounds only the
// background maintenance loop; callers stop the server explicitly so an
// in-flight shutdown can still flush responses.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	addr := net.JoinHostPort(s.bind, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	// No write timeout: SSE responses stay open for the life of the run.
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpSrv
	s.started = true
	s.mu.Unlock()

	go s.maintenance(ctx)

	s.log.Info("share server listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down. Safe to call when the server
// never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started || s.httpSrv == nil {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpSrv
	s.started = false
	s.mu.Unlock()

	// Unwind SSE handlers first, otherwise Shutdown waits on them until
	// the timeout.
	s.broadcast.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ListenAddr returns the bound address, or "" before Start. With port 0
// this is how callers learn the ephemeral port.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler builds the route tree. Split out from Start so tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverPanics)
	r.Use(s.countRequests)

	r.Get("/", s.handleIndex)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/state", s.handleState)
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/runs/{id}/events", s.handleRunEvents)
	})
	return r
}

// recoverPanics keeps a handler panic from taking down the dashboard
// session the server is riding on.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("handler panic", "path", r.URL.Path, "panic", v)
				errorJSON(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// countRequests records every request under its route pattern, keeping
// label cardinality bounded regardless of run ids in the path.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.metrics.httpRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()
	})
}

// requireAuth gates a route behind a valid session token. With no
// password configured the server is open and the check disappears.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.passwordHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.validToken(bearerToken(r)) {
			errorJSON(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken pulls the session token from the Authorization header or,
// for EventSource clients that cannot set headers, the access_token query
// parameter.
func bearerToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("access_token")
}

func (s *Server) issueToken() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	expiry, ok := s.tokens[token]
	s.mu.RUnlock()
	return ok && time.Now().Before(expiry)
}

// handleLogin exchanges the share password for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.passwordHash == "" {
		errorJSON(w, http.StatusBadRequest, "no password is set")
		return
	}

	ip := clientIP(r)
	res := s.limiter.check(ip)
	if !res.allowed {
		msg := "rate limit exceeded"
		if res.blocked {
			msg = "too many failed attempts"
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.retryAfter.Seconds()))))
		errorJSON(w, http.StatusTooManyRequests, msg)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Password == "" {
		errorJSON(w, http.StatusBadRequest, "password is required")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, s.passwordHash)
	if err != nil {
		s.log.Error("verify password", "error", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.limiter.recordFailure(ip)
		s.metrics.loginFailures.Inc()
		errorJSON(w, http.StatusUnauthorized, "invalid password")
		return
	}

	s.limiter.recordSuccess(ip)
	writeJSON(w, http.StatusOK, map[string]string{"token": s.issueToken()})
}

// handleState serves the latest published snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap == nil {
		errorJSON(w, http.StatusNotFound, "no snapshot published yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snap)
}

// handleEvents streams state as server-sent events: the latest snapshot
// immediately, then every published update. The event seq rides the id
// line, so a reconnecting client sending Last-Event-ID skips a catch-up
// frame it has already seen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.broadcast.Subscribe()
	defer cancel()
	s.metrics.sseClients.Inc()
	defer s.metrics.sseClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Snapshots are cumulative, so the latest one is a complete catch-up
	// no matter how far behind the client is.
	if seq, last := s.broadcast.Last(); last != nil && seq > lastEventID(r) {
		writeSSE(w, seq, last)
		flusher.Flush()
	}

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			// Comment frame; keeps proxies from reaping an idle stream.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case m, ok := <-ch:
			if !ok {
				// Dropped as a slow client, or the server is stopping.
				return
			}
			writeSSE(w, m.seq, m.payload)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, seq uint64, payload []byte) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, remote.TypeSnapshot, payload)
}

// lastEventID parses the Last-Event-ID header, 0 when absent or garbage.
func lastEventID(r *http.Request) uint64 {
	seq, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

// handleRuns lists recorded runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	recs := []*history.RunRecord{}
	if s.store != nil {
		var err error
		recs, err = s.store.ListRuns()
		if err != nil {
			s.log.Error("list runs", "error", err)
			errorJSON(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if recs == nil {
			recs = []*history.RunRecord{}
		}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleRunEvents serves a recorded run's event log as NDJSON. An
// optional from query parameter skips that many leading lines.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		errorJSON(w, http.StatusNotFound, "run history not available")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(id); err != nil {
		errorJSON(w, http.StatusNotFound, "unknown run")
		return
	}

	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorJSON(w, http.StatusBadRequest, "invalid from offset")
			return
		}
		from = n
	}

	if from > 0 {
		lines, err := s.store.ReadEvents(id, from)
		if err != nil {
			s.log.Error("read events", "run", id, "error", err)
			errorJSON(w, http.StatusInternalServerError, "read events failed")
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	events, err := s.store.OpenEventLog(id)
	if err != nil {
		s.log.Error("open event log", "run", id, "error", err)
		errorJSON(w, http.StatusInternalServerError, "open event log failed")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if events == nil {
		// Run exists but has no events yet.
		return
	}
	defer events.Close()
	io.Copy(w, events)
}

// handleIndex serves the status page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(s.assets, "index.html")
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "status page missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// maintenance expires stale session tokens and limiter state until ctx is
// cancelled.
func (s *Server) maintenance(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireTokens()
			s.limiter.cleanup()
		}
	}
}

func (s *Server) expireTokens() {
	now := time.Now()
	s.mu.Lock()
	for token, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, token)
		}
	}
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

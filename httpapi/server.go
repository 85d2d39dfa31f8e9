package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"github.com/xaynetwork/xaynet/phase"
)

// Config holds the HTTP server's own settings, separate from the
// coordinator's phase/timing Config. Grounded on the teacher's
// HTTPServerConfig (api/httpserver/server.go), trimmed of the metrics
// sidecar and pprof toggle that package also carries: this coordinator
// exposes no separate metrics endpoint yet (see DESIGN.md's dropped-
// dependency notes), so those fields would be dead weight.
type Config struct {
	ListenAddr               string
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	GracefulShutdownDuration time.Duration
	CORSAllowedOrigins       []string
	Log                      *slog.Logger
}

// Server is the coordinator's HTTP front end: a chi router wrapping a
// Coordinator, plus the readiness/liveness endpoints every teacher
// service carries. Grounded structurally on api/httpserver.BaseServer,
// generalized from "N registrars mounted onto one router" (this
// coordinator has exactly one: itself) and with the isReady flag kept
// as the same go.uber.org/atomic.Bool the teacher uses for the same
// purpose.
type Server struct {
	cfg   Config
	coord *phase.Coordinator
	log   *slog.Logger

	isReady    atomic.Bool
	srv        *http.Server
	reassembly map[string]*reassemblyBuffer
}

// New builds a Server bound to coord, ready to be run standalone with
// Run.
func New(cfg Config, coord *phase.Coordinator) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		coord: coord,
		log:   cfg.Log,
		reassembly: map[string]*reassemblyBuffer{
			"sum":    newReassemblyBuffer(),
			"update": newReassemblyBuffer(),
			"sum2":   newReassemblyBuffer(),
		},
	}
	s.isReady.Store(true)

	router := s.router()
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// router assembles the chi mux: standard middleware, this package's
// own round endpoints, and the health checks, matching the layering of
// api/httpserver.BaseServer.createRouter and cmd/server/main.go's
// inline router setup.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	s.RegisterRoutes(r)

	r.Get("/healthz", s.handleHealthz)

	return r
}

// requestLogger logs each request's method, path, status, and duration
// via slog, tagged with chi's request ID, the same ambient request-
// logging convention api/httpserver.BaseServer.httpLogger wraps around
// every route (there built on the flashbots/go-utils httplogger
// helper; reimplemented here directly on slog and chi's own
// middleware.WrapResponseWriter since that helper is not part of this
// module's dependency set — see DESIGN.md).
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetReady toggles readiness, for callers that want to drain the
// server (e.g. before a deliberate restart) without tearing down
// listeners immediately.
func (s *Server) SetReady(ready bool) {
	s.isReady.Store(ready)
}

// Run starts serving until ctx is cancelled, then gracefully shuts
// down within cfg.GracefulShutdownDuration. Grounded on
// cmd/server/main.go's inline listen/signal/shutdown sequence,
// generalized to take a context instead of wiring its own signal
// channel (the cmd/coordinator entrypoint owns signal handling).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.isReady.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

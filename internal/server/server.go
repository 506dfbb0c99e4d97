// Package server exposes query generation, connection management and schema
// snapshots over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/pha/internal/config"
	"github.com/koustreak/pha/internal/connections"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/querygen"
	"github.com/koustreak/pha/internal/schema"
	"github.com/koustreak/pha/internal/snapshot"
)

// Connections is the part of connections.Manager the handlers use.
type Connections interface {
	List() []connections.Info
	Describe(name string) (connections.Info, error)
	Get(name string) (*connections.Spec, error)
	Register(ctx context.Context, spec connections.Spec) (connections.Info, error)
	Update(ctx context.Context, name string, spec connections.Spec) (connections.Info, error)
	Remove(ctx context.Context, name string) error
	Test(ctx context.Context, name string) (time.Duration, error)
	Inspect(ctx context.Context, name string) (*schema.Unified, error)
	Execute(ctx context.Context, name, sql string) (*connections.QueryResult, error)
}

// Snapshots is the part of snapshot.Store the handlers use.
type Snapshots interface {
	Save(ctx context.Context, connection string, s *schema.Unified) (*snapshot.Snapshot, error)
	Load(ctx context.Context, connection string) (*snapshot.Snapshot, error)
	List(ctx context.Context) ([]snapshot.Info, error)
	DownloadURL(ctx context.Context, connection string, ttl time.Duration) (string, error)
}

// Server is the HTTP front end.
type Server struct {
	cfg       config.ServerConfig
	genCfg    config.GeneratorConfig
	gen       *querygen.Generator
	conns     Connections
	snapshots Snapshots // nil when snapshot persistence is disabled
	log       *logger.Logger
	router    chi.Router
}

// New builds the router. snaps may be nil.
func New(cfg *config.Config, gen *querygen.Generator, conns Connections, snaps Snapshots, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		cfg:       cfg.Server,
		genCfg:    cfg.Generator,
		gen:       gen,
		conns:     conns,
		snapshots: snaps,
		log:       log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	if s.cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(s.cfg.MaxBodyBytes))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/queries/generate", s.handleGenerate)

		r.Get("/connections", s.handleListConnections)
		r.Post("/connections", s.handleRegisterConnection)
		r.Route("/connections/{name}", func(r chi.Router) {
			r.Get("/", s.handleDescribeConnection)
			r.Put("/", s.handleUpdateConnection)
			r.Delete("/", s.handleRemoveConnection)
			r.Post("/test", s.handleTestConnection)
			r.Get("/schema", s.handleSchema)
			r.Get("/schema/download", s.handleSchemaDownload)
			r.Post("/queries", s.handleConnectionQuery)
			r.Post("/execute", s.handleExecute)
		})

		r.Get("/snapshots", s.handleListSnapshots)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method_not_allowed", r.Method+" not allowed on "+r.URL.Path))
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("http server listening", map[string]any{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Package server provides the admin HTTP API for the cattery catalog.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meadowfold/cattery/cleanup"
	"github.com/meadowfold/cattery/gateway"
	"github.com/meadowfold/cattery/invalidate"
	"github.com/meadowfold/cattery/objectstore"
	"github.com/meadowfold/cattery/store/catalogdb"
	"github.com/meadowfold/cattery/telemetry"
	"github.com/meadowfold/cattery/upload"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// DBPath is the bbolt database file path.
	DBPath string

	// AuthToken protects the admin API. Empty disables authentication.
	AuthToken string

	// StoragePath is the root of the local object store. Used when
	// ObjectStoreURL is empty; also backs the dev /objects endpoints.
	StoragePath string

	// ObjectStoreURL is the base URL of an external S3-style object
	// store. When set, the local filesystem store is not used.
	ObjectStoreURL string

	// ObjectStoreToken authenticates against the external object store.
	ObjectStoreToken string

	// UploadBaseURL is the base URL clients PUT uploads to.
	UploadBaseURL string

	// PublicBaseURL is the base URL uploaded objects are served from.
	PublicBaseURL string

	// UploadSecret signs upload capabilities.
	UploadSecret string

	// UploadTTL is how long issued upload URLs stay valid.
	UploadTTL time.Duration

	// CredentialServiceURL switches the issuer to remote mode.
	CredentialServiceURL string

	// RendererURL is the base URL of the site renderer.
	RendererURL string

	// RendererToken authenticates renderer requests (optional).
	RendererToken string

	// CDNAPIURL is the CDN purge API base URL (optional).
	CDNAPIURL string

	// CDNToken authenticates CDN purge requests.
	CDNToken string

	// Production enables CDN purging. Off by default so development
	// runs never touch the live edge cache.
	Production bool

	// Logger for the server
	Logger *slog.Logger
}

// Server is the admin HTTP server. It owns the catalog store and the
// consistency pipeline hanging off it.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	db         catalogdb.CatalogDB
	objects    objectstore.Store
	issuer     *upload.Issuer
	agent      *cleanup.Agent
	dispatcher *invalidate.Dispatcher
	gateway    *gateway.Gateway

	// devObjects enables the local PUT/GET /objects endpoints.
	devObjects bool
}

// cleanerAdapter narrows the cleanup agent to the gateway's Cleaner port.
type cleanerAdapter struct {
	agent *cleanup.Agent
}

func (c cleanerAdapter) Delete(ctx context.Context, keys []string) {
	c.agent.Delete(ctx, keys)
}

// New creates a new server with the given configuration and opens the
// catalog database.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./catalog.db"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./objects"
	}
	if cfg.UploadSecret == "" {
		return nil, fmt.Errorf("upload secret must be configured")
	}

	db := catalogdb.NewBoltDB(catalogdb.WithLogger(cfg.Logger.With("component", "catalogdb")))
	if err := db.Open(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	var objects objectstore.Store
	devObjects := false
	if cfg.ObjectStoreURL != "" {
		objects = objectstore.NewHTTP(cfg.ObjectStoreURL, objectstore.WithToken(cfg.ObjectStoreToken))
	} else {
		fs, err := objectstore.NewFilesystem(cfg.StoragePath)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating filesystem object store: %w", err)
		}
		objects = fs
		devObjects = true
	}

	issuerOpts := []upload.IssuerOption{}
	if cfg.UploadTTL > 0 {
		issuerOpts = append(issuerOpts, upload.WithTTL(cfg.UploadTTL))
	}
	if cfg.CredentialServiceURL != "" {
		issuerOpts = append(issuerOpts, upload.WithCredentialService(cfg.CredentialServiceURL))
	}
	issuer := upload.NewIssuer(cfg.UploadBaseURL, cfg.PublicBaseURL, []byte(cfg.UploadSecret), issuerOpts...)

	agent := cleanup.NewAgent(objects,
		cleanup.WithLogger(cfg.Logger.With("component", "cleanup")))

	rendererOpts := []invalidate.RendererOption{}
	if cfg.RendererToken != "" {
		rendererOpts = append(rendererOpts, invalidate.WithRendererToken(cfg.RendererToken))
	}
	renderer := invalidate.NewRendererClient(cfg.RendererURL, rendererOpts...)

	var purger invalidate.Purger
	if cfg.CDNAPIURL != "" {
		purger = invalidate.NewCDNClient(cfg.CDNAPIURL, cfg.CDNToken)
	}

	dispatcher := invalidate.NewDispatcher(renderer, purger,
		invalidate.WithProduction(cfg.Production),
		invalidate.WithLogger(cfg.Logger))

	gw := gateway.New(db, dispatcher, cleanerAdapter{agent: agent},
		gateway.WithLogger(cfg.Logger))

	s := &Server{
		config:     cfg,
		logger:     cfg.Logger,
		db:         db,
		objects:    objects,
		issuer:     issuer,
		agent:      agent,
		dispatcher: dispatcher,
		gateway:    gw,
		devObjects: devObjects,
	}

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(s.authMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // uploads can be large
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Catalog stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Cats
	mux.HandleFunc("POST /api/cats", s.handleCreateCat)
	mux.HandleFunc("GET /api/cats", s.handleListCats)
	mux.HandleFunc("GET /api/cats/{slug}", s.handleGetCat)
	mux.HandleFunc("PUT /api/cats/{slug}", s.handleUpdateCat)
	mux.HandleFunc("DELETE /api/cats/{slug}", s.handleDeleteCat)

	// Litters
	mux.HandleFunc("POST /api/litters", s.handleCreateLitter)
	mux.HandleFunc("GET /api/litters", s.handleListLitters)
	mux.HandleFunc("GET /api/litters/{id}", s.handleGetLitter)
	mux.HandleFunc("PUT /api/litters/{id}", s.handleUpdateLitter)
	mux.HandleFunc("DELETE /api/litters/{id}", s.handleDeleteLitter)

	// Blog posts
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("GET /api/posts/{slug}", s.handleGetPost)
	mux.HandleFunc("PUT /api/posts/{slug}", s.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{slug}", s.handleDeletePost)

	// Litter picture weeks
	mux.HandleFunc("POST /api/litters/{id}/weeks", s.handleCreateLitterWeek)
	mux.HandleFunc("GET /api/litters/{id}/weeks", s.handleListLitterWeeks)
	mux.HandleFunc("GET /api/litters/{id}/weeks/{week}", s.handleGetLitterWeek)
	mux.HandleFunc("PUT /api/litters/{id}/weeks/{week}", s.handleUpdateLitterWeek)
	mux.HandleFunc("DELETE /api/litters/{id}/weeks/{week}", s.handleDeleteLitterWeek)

	// Gallery images for any owner kind
	mux.HandleFunc("POST /api/{kind}/{id}/images", s.handleAddImage)
	mux.HandleFunc("GET /api/{kind}/{id}/images", s.handleListImages)
	mux.HandleFunc("PUT /api/{kind}/{id}/images/order", s.handleReorderImages)
	mux.HandleFunc("DELETE /api/{kind}/{id}/images/{img}", s.handleRemoveImage)

	// Signed upload capabilities
	mux.HandleFunc("POST /api/uploads", s.handleIssueUploads)

	// Local object store, only wired in dev mode
	if s.devObjects {
		mux.HandleFunc("PUT /objects/{key...}", s.handlePutObject)
		mux.HandleFunc("GET /objects/{key...}", s.handleGetObject)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats reports catalog record counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cats, err := s.db.ListCats(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	litters, err := s.db.ListLitters(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	posts, err := s.db.ListPosts(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"cats":%d,"litters":%d,"posts":%d}`,
		len(cats), len(litters), len(posts))
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set endpoint, owner, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.Owner != "" {
			attrs = append(attrs, "owner", tags.Owner)
		}

		s.logger.Info("http request", attrs...)

		// Record OTel metrics
		telemetry.RecordHTTP(r.Context(), r, wrapped.status, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address, "production", s.config.Production)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, draining in-flight
// invalidation dispatches before closing the database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)

	s.dispatcher.Wait()

	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the server's root handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

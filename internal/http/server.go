package http

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"dividi/internal/cache"
	"dividi/internal/history"
	"dividi/internal/log"
	"dividi/internal/middleware/ratelimit"
	"dividi/internal/middleware/security"
	"dividi/internal/middleware/trace"
	"dividi/internal/services"
	appweb "dividi/web"
)

// Config holds the HTTP surface settings.
type Config struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	RecordCacheSize    int
	RecordCacheTTL     time.Duration
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server hosts the settlement form, the JSON API and the health probes.
type Server struct {
	http.Server

	templates *template.Template
	service   *services.SettlementService
	reader    history.Reader
	records   *cache.Loader[int64, history.Record]
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	clientIP  *security.ClientIPResolver
	tracer    *trace.Middleware
	logger    *log.Logger
	started   time.Time

	checksMu sync.RWMutex
	checks   map[string]ReadinessCheck

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(cfg Config, svc *services.SettlementService, reader history.Reader) *Server {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}
	if cfg.RecordCacheSize <= 0 {
		cfg.RecordCacheSize = 500
	}
	if cfg.RecordCacheTTL <= 0 {
		cfg.RecordCacheTTL = time.Minute
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	logger := log.New(log.Config{Component: log.ComponentHTTP, Handler: slog.Default().Handler()})
	recordCache := cache.NewLRUCache[int64, history.Record](cfg.RecordCacheSize, cfg.RecordCacheTTL)

	s := &Server{
		service:  svc,
		reader:   reader,
		records:  cache.NewLoader[int64, history.Record](recordCache),
		caches:   cache.NewManager(),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute, CleanupInterval: 5 * time.Minute}),
		clientIP: security.NewClientIPResolver(),
		logger:   logger,
		started:  time.Now(),
		checks:   make(map[string]ReadinessCheck),
	}
	s.tracer = trace.NewMiddleware(logger, s.clientIP.ClientIP)
	s.caches.Register(recordCache)
	s.caches.StartCleanup(10 * time.Minute)

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	create := s.limiter.Middleware(s.clientIP.ClientIP, s.writeRateLimited)(http.HandlerFunc(s.handleCreateSettlement))

	mux := http.NewServeMux()

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", "error", err)
	}

	page := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	mux.Handle("/{$}", page.Middleware(http.HandlerFunc(s.handleIndex)))
	mux.Handle("/settlements", page.Middleware(s.settlementsHandler(create)))
	mux.Handle("/settlements/{id}", page.Middleware(http.HandlerFunc(s.handleGetSettlement)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	// JSON mirror for other origins
	api := http.NewServeMux()
	api.Handle("/api/settlements", s.settlementsHandler(create))
	api.HandleFunc("/api/settlements/{id}", s.handleGetSettlement)
	apiCORS := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", trace.HeaderRequestID},
		ExposedHeaders: []string{trace.HeaderRequestID, "Location", "Retry-After"},
		MaxAge:         600,
	})
	apiHeaders := security.NewHeadersMiddleware(security.APIHeadersConfig())
	mux.Handle("/api/", apiCORS.Handler(apiHeaders.Middleware(api)))

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.tracer.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

// TrustProxy adds a CIDR whose X-Forwarded-For header is honoured.
func (s *Server) TrustProxy(cidr string) error {
	return s.clientIP.AddTrustedProxy(cidr)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	// Ensure shutdown logic runs only once
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()

		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// ListenAndServe starts the server; http.ErrServerClosed after Shutdown is
// not reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.Addr)
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.clientIP.ClientIP(r), "method", r.Method, "url", r.URL.Path)
	s.writeError(w, r, &RequestError{Status: http.StatusTooManyRequests, Message: "Rate limit exceeded. Please try again later."})
}

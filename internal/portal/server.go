// Package portal serves the local splash flow that unauthenticated clients
// are redirected to.
//
// The client is identified by the MAC the kernel neighbor table holds for
// the request's source address. Requests for any other path, which is
// where hijacked browser traffic lands, are redirected to the splash page.
package portal

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/giok57/lazoooSplash/internal/i18n"
	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/ratelimit"
	"github.com/giok57/lazoooSplash/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Gateway is the session lifecycle the portal drives.
type Gateway interface {
	OnClientSeen(mac, ip string) (session.Session, error)
	OnClientAuthenticated(mac, ip, token string, q session.Quota) error
	OnClientDenied(mac string) error
}

// Neighbors resolves a LAN address to the client's MAC.
type Neighbors interface {
	Lookup(ip string) (string, error)
}

// Navigator asks the authority whether a device was already allowed.
type Navigator interface {
	CanNavigate(ctx context.Context, mac string) (bool, error)
}

// Recorder receives per-request metrics.
type Recorder interface {
	RecordPortalRequest(route string, status int)
}

// Config holds the portal's addressing.
type Config struct {
	// Address and Port are where clients reach the splash page.
	Address string
	Port    int
	// SplashURL overrides the redirect target built from Address and Port.
	SplashURL string
	// LoginURL, when set, sends clients to an external login page instead
	// of the built-in splash.
	LoginURL string
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// DefaultServerConfig returns the timeouts used for the portal listener.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 5 * time.Second, // Slowloris prevention
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 14,
	}
}

// Server is the splash HTTP server.
type Server struct {
	cfg       Config
	gateway   Gateway
	neighbors Neighbors
	navigator Navigator
	recorder  Recorder
	limiter   *ratelimit.Limiter
	templates *template.Template
	logger    *logging.Logger
	router    *mux.Router
}

// Option configures optional collaborators.
type Option func(*Server)

// WithNavigator lets previously approved devices skip the splash page.
func WithNavigator(n Navigator) Option {
	return func(s *Server) { s.navigator = n }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithAuthLimit caps /auth attempts per client address.
func WithAuthLimit(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// NewServer builds the portal router.
func NewServer(cfg Config, gw Gateway, neighbors Neighbors, opts ...Option) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		gateway:   gw,
		neighbors: neighbors,
		templates: tmpl,
		logger:    logging.WithComponent("portal"),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleSplash).Methods(http.MethodGet, http.MethodHead).Name("splash")
	r.HandleFunc("/auth", s.handleAuth).Methods(http.MethodGet).Name("auth")
	r.HandleFunc("/deny", s.handleDeny).Methods(http.MethodGet).Name("deny")
	r.Use(s.instrument, i18n.Middleware)
	// Router middleware does not run for unmatched requests.
	r.NotFoundHandler = s.instrument(http.HandlerFunc(s.handleCatchAll))
	r.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(s.handleCatchAll))
	s.router = r
}

// Handler returns the portal's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	cfg := DefaultServerConfig()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	if s.limiter != nil {
		go s.limiter.RunCleanup(ctx, time.Minute, 10*time.Minute)
	}
	return serve(ctx, srv, s.logger)
}

func serve(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "addr", srv.Addr, "error", err)
		return srv.Close()
	}
	return nil
}

// splashURL is where hijacked requests are sent.
func (s *Server) splashURL() string {
	if s.cfg.SplashURL != "" {
		return s.cfg.SplashURL
	}
	host := s.cfg.Address
	if s.cfg.Port != 0 && s.cfg.Port != 80 {
		host = net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	}
	return (&url.URL{Scheme: "http", Host: host, Path: "/"}).String()
}

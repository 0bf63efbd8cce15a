// Package csrfserver serves a small CSRF-protected API: GET issues a token
// in the X-CSRF-Token response header, POST requires it back together with
// the cookie set by the GET.
package csrfserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

// NewHandler builds the router with the chi, CORS and CSRF middleware stack.
func NewHandler(cfg Config, log *zap.Logger) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowCredentials: cfg.CORS.AllowCredentials,
		Debug:            cfg.CORS.Debug,
	}
	if cfg.CORS.Debug {
		corsOpts.Logger = zap.NewStdLog(log.Named("cors"))
	}
	router.Use(cors.New(corsOpts).Handler)

	if !cfg.CSRF.Secure {
		router.Use(markPlaintext)
	}

	csrfOpts := []csrf.Option{
		csrf.Secure(cfg.CSRF.Secure),
		csrf.RequestHeader(cfg.CSRF.Header),
		csrf.ErrorHandler(forbidden(log)),
	}
	if cfg.CSRF.CookieName != "" {
		csrfOpts = append(csrfOpts, csrf.CookieName(cfg.CSRF.CookieName))
	}
	if cfg.CSRF.Path != "" {
		csrfOpts = append(csrfOpts, csrf.Path(cfg.CSRF.Path))
	}
	if origins := cfg.CSRFTrustedOrigins(); len(origins) > 0 {
		csrfOpts = append(csrfOpts, csrf.TrustedOrigins(origins))
	}
	protect := csrf.Protect([]byte(cfg.CSRF.Key), csrfOpts...)

	h := &apiHandler{header: cfg.CSRF.Header}
	router.With(protect).Get(cfg.APIPath, h.get)
	router.With(protect).Post(cfg.APIPath, h.post)

	return router, nil
}

type Server struct {
	srv *http.Server
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Server, error) {
	log = logger.OrNop(log)
	h, err := NewHandler(cfg, log)
	if err != nil {
		return nil, err
	}
	return newServer(h, cfg.Addr(), cfg.ReadTimeout, cfg.WriteTimeout, cfg.IdleTimeout, log), nil
}

func newServer(h http.Handler, addr string, read, write, idle time.Duration, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Handler:      h,
			Addr:         addr,
			ReadTimeout:  read,
			WriteTimeout: write,
			IdleTimeout:  idle,
		},
		log: log,
	}
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("starting http server", zap.String("addr", s.srv.Addr))
	return ignoreClosed(s.srv.ListenAndServe())
}

func (s *Server) Serve(l net.Listener) error {
	s.log.Info("starting http server", zap.String("addr", l.Addr().String()))
	return ignoreClosed(s.srv.Serve(l))
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.srv.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

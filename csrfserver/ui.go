package csrfserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

// UIConfig configures the static file server for the browser page that
// calls the API from another origin.
type UIConfig struct {
	Host string
	Port string
	Dir  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultUIConfig() UIConfig {
	return UIConfig{
		Port:         "3000",
		Dir:          "ui/web/static",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (c UIConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c UIConfig) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("ui port is required"))
	}
	if c.Dir == "" {
		errs = append(errs, errors.New("ui dir is required"))
	} else if fi, err := os.Stat(c.Dir); err != nil {
		errs = append(errs, fmt.Errorf("ui dir: %w", err))
	} else if !fi.IsDir() {
		errs = append(errs, fmt.Errorf("ui dir is not a directory: %q", c.Dir))
	}
	return errors.Join(errs...)
}

// NewUIHandler serves cfg.Dir with the same middleware stack as the API,
// minus CORS and CSRF.
func NewUIHandler(cfg UIConfig, log *zap.Logger) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)

	router.Handle("/*", http.FileServer(http.Dir(cfg.Dir)))
	return router, nil
}

func NewUI(cfg UIConfig, log *zap.Logger) (*Server, error) {
	log = logger.OrNop(log)
	h, err := NewUIHandler(cfg, log)
	if err != nil {
		return nil, err
	}
	return newServer(h, cfg.Addr(), cfg.ReadTimeout, cfg.WriteTimeout, cfg.IdleTimeout, log), nil
}

package csrfserver

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowedMethods   []string
	AllowCredentials bool
	Debug            bool
}

type CSRFConfig struct {
	// Key authenticates the token cookie. It must be 32 bytes long.
	Key        string
	Secure     bool
	CookieName string
	Header     string
	Path       string

	// TrustedOrigins lists host:port pairs allowed to POST cross-origin.
	// When empty, the hosts of CORS.AllowedOrigins are trusted.
	TrustedOrigins []string
}

type Config struct {
	Host string
	Port string
	// APIPath is where the token is issued (GET) and checked (POST).
	APIPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	CORS CORSConfig
	CSRF CSRFConfig
}

func DefaultConfig() Config {
	return Config{
		Host:         "",
		Port:         "8080",
		APIPath:      "/api",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		CORS: CORSConfig{
			AllowedOrigins:   []string{"http://localhost:3000"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"X-CSRF-Token"},
			AllowedMethods:   []string{"GET", "POST"},
			AllowCredentials: true,
		},
		CSRF: CSRFConfig{
			CookieName: "_gorilla_csrf",
			Header:     "X-CSRF-Token",
			Path:       "/",
		},
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// CSRFTrustedOrigins returns CSRF.TrustedOrigins, or the host:port of every
// CORS allowed origin when none are configured. A page that CORS lets read
// the token can then also POST it back.
func (c Config) CSRFTrustedOrigins() []string {
	if len(c.CSRF.TrustedOrigins) > 0 {
		return c.CSRF.TrustedOrigins
	}
	var out []string
	for _, o := range c.CORS.AllowedOrigins {
		if strings.Contains(o, "*") {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if !strings.HasPrefix(c.APIPath, "/") {
		errs = append(errs, fmt.Errorf("api path must start with /: %q", c.APIPath))
	}
	if n := len(c.CSRF.Key); n != 32 {
		errs = append(errs, fmt.Errorf("csrf key must be 32 bytes, got %d", n))
	}
	if strings.TrimSpace(c.CSRF.Header) == "" {
		errs = append(errs, errors.New("csrf header is required"))
	}
	return errors.Join(errs...)
}

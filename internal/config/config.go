// Package config loads startup configuration from flags, CSRF_* environment
// variables, an optional config file and .env files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/moegirlwiki/csrf-bootstrap-go/csrfserver"
)

const EnvPrefix = "CSRF"

const (
	ClientEndpoint               = "client.endpoint"
	ClientTimeout                = "client.timeout"
	ClientTokenHeader            = "client.tokenHeader"
	ClientUserAgent              = "client.userAgent"
	ClientCredentials            = "client.credentials"
	ClientRequireToken           = "client.requireToken"
	ClientPostOnBootstrapFailure = "client.postOnBootstrapFailure"

	ServerHost                 = "serverAPI.host"
	ServerPort                 = "serverAPI.port"
	ServerPath                 = "serverAPI.path"
	ServerTimeoutRead          = "serverAPI.timeout.read"
	ServerTimeoutWrite         = "serverAPI.timeout.write"
	ServerTimeoutIdle          = "serverAPI.timeout.idle"
	ServerCORSAllowCredentials = "serverAPI.cors.allowCredentials"
	ServerCORSAllowedHeaders   = "serverAPI.cors.allowedHeaders"
	ServerCORSExposedHeaders   = "serverAPI.cors.exposedHeaders"
	ServerCORSAllowedOrigins   = "serverAPI.cors.allowedOrigins"
	ServerCORSAllowedMethods   = "serverAPI.cors.allowedMethods"
	ServerCORSDebug            = "serverAPI.cors.debug"
	ServerCSRFSecure           = "serverAPI.csrf.secure"
	ServerCSRFKey              = "serverAPI.csrf.key"
	ServerCSRFCookieName       = "serverAPI.csrf.cookieName"
	ServerCSRFHeader           = "serverAPI.csrf.header"
	ServerCSRFTrustedOrigins   = "serverAPI.csrf.trustedOrigins"

	UIHost         = "serverUI.host"
	UIPort         = "serverUI.port"
	UIDir          = "serverUI.dir"
	UITimeoutRead  = "serverUI.timeout.read"
	UITimeoutWrite = "serverUI.timeout.write"
	UITimeoutIdle  = "serverUI.timeout.idle"

	LogEnv   = "log.env"
	LogLevel = "log.level"
)

type Client struct {
	Endpoint               string
	Timeout                time.Duration
	TokenHeader            string
	UserAgent              string
	Credentials            bool
	RequireToken           bool
	PostOnBootstrapFailure bool
}

type Log struct {
	Env   string
	Level string
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(ClientEndpoint, "http://localhost:8080/api")
	v.SetDefault(ClientTimeout, 30*time.Second)
	v.SetDefault(ClientTokenHeader, "X-CSRF-Token")
	v.SetDefault(ClientUserAgent, "csrf-bootstrap-go/0.1")
	v.SetDefault(ClientCredentials, true)
	v.SetDefault(ClientRequireToken, false)
	v.SetDefault(ClientPostOnBootstrapFailure, false)

	d := csrfserver.DefaultConfig()
	v.SetDefault(ServerHost, d.Host)
	v.SetDefault(ServerPort, d.Port)
	v.SetDefault(ServerPath, d.APIPath)
	v.SetDefault(ServerTimeoutRead, int(d.ReadTimeout/time.Second))
	v.SetDefault(ServerTimeoutWrite, int(d.WriteTimeout/time.Second))
	v.SetDefault(ServerTimeoutIdle, int(d.IdleTimeout/time.Second))
	v.SetDefault(ServerCORSAllowCredentials, d.CORS.AllowCredentials)
	v.SetDefault(ServerCORSAllowedHeaders, d.CORS.AllowedHeaders)
	v.SetDefault(ServerCORSExposedHeaders, d.CORS.ExposedHeaders)
	v.SetDefault(ServerCORSAllowedOrigins, d.CORS.AllowedOrigins)
	v.SetDefault(ServerCORSAllowedMethods, d.CORS.AllowedMethods)
	v.SetDefault(ServerCORSDebug, false)
	v.SetDefault(ServerCSRFSecure, d.CSRF.Secure)
	v.SetDefault(ServerCSRFCookieName, d.CSRF.CookieName)
	v.SetDefault(ServerCSRFHeader, d.CSRF.Header)

	ui := csrfserver.DefaultUIConfig()
	v.SetDefault(UIHost, ui.Host)
	v.SetDefault(UIPort, ui.Port)
	v.SetDefault(UIDir, ui.Dir)
	v.SetDefault(UITimeoutRead, int(ui.ReadTimeout/time.Second))
	v.SetDefault(UITimeoutWrite, int(ui.WriteTimeout/time.Second))
	v.SetDefault(UITimeoutIdle, int(ui.IdleTimeout/time.Second))

	v.SetDefault(LogEnv, "dev")
	v.SetDefault(LogLevel, "info")
}

// ReadFile merges a config file into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadClient(v *viper.Viper) (Client, error) {
	c := Client{
		Endpoint:               strings.TrimSpace(v.GetString(ClientEndpoint)),
		Timeout:                v.GetDuration(ClientTimeout),
		TokenHeader:            strings.TrimSpace(v.GetString(ClientTokenHeader)),
		UserAgent:              v.GetString(ClientUserAgent),
		Credentials:            v.GetBool(ClientCredentials),
		RequireToken:           v.GetBool(ClientRequireToken),
		PostOnBootstrapFailure: v.GetBool(ClientPostOnBootstrapFailure),
	}
	return c, c.Validate()
}

func (c Client) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", ClientEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s (expect absolute http(s) URL): %q", ClientEndpoint, c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid %s: %s", ClientTimeout, c.Timeout)
	}
	return nil
}

func LoadServer(v *viper.Viper) (csrfserver.Config, error) {
	s := csrfserver.Config{
		Host:         v.GetString(ServerHost),
		Port:         v.GetString(ServerPort),
		APIPath:      v.GetString(ServerPath),
		ReadTimeout:  time.Duration(v.GetInt(ServerTimeoutRead)) * time.Second,
		WriteTimeout: time.Duration(v.GetInt(ServerTimeoutWrite)) * time.Second,
		IdleTimeout:  time.Duration(v.GetInt(ServerTimeoutIdle)) * time.Second,
		CORS: csrfserver.CORSConfig{
			AllowedOrigins:   stringSlice(v, ServerCORSAllowedOrigins),
			AllowedHeaders:   stringSlice(v, ServerCORSAllowedHeaders),
			ExposedHeaders:   stringSlice(v, ServerCORSExposedHeaders),
			AllowedMethods:   stringSlice(v, ServerCORSAllowedMethods),
			AllowCredentials: v.GetBool(ServerCORSAllowCredentials),
			Debug:            v.GetBool(ServerCORSDebug),
		},
		CSRF: csrfserver.CSRFConfig{
			Key:            v.GetString(ServerCSRFKey),
			Secure:         v.GetBool(ServerCSRFSecure),
			CookieName:     v.GetString(ServerCSRFCookieName),
			Header:         v.GetString(ServerCSRFHeader),
			Path:           "/",
			TrustedOrigins: stringSlice(v, ServerCSRFTrustedOrigins),
		},
	}
	return s, s.Validate()
}

func LoadUI(v *viper.Viper) (csrfserver.UIConfig, error) {
	u := csrfserver.UIConfig{
		Host:         v.GetString(UIHost),
		Port:         v.GetString(UIPort),
		Dir:          v.GetString(UIDir),
		ReadTimeout:  time.Duration(v.GetInt(UITimeoutRead)) * time.Second,
		WriteTimeout: time.Duration(v.GetInt(UITimeoutWrite)) * time.Second,
		IdleTimeout:  time.Duration(v.GetInt(UITimeoutIdle)) * time.Second,
	}
	return u, u.Validate()
}

func LoadLog(v *viper.Viper) Log {
	return Log{Env: v.GetString(LogEnv), Level: v.GetString(LogLevel)}
}

// stringSlice also accepts comma separated values, which is how lists
// arrive from environment variables.
func stringSlice(v *viper.Viper, key string) []string {
	var out []string
	for _, s := range v.GetStringSlice(key) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

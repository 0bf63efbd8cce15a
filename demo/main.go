package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/csrfapi"
	"github.com/moegirlwiki/csrf-bootstrap-go/csrfserver"
	"github.com/moegirlwiki/csrf-bootstrap-go/internal/config"
	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	v       *viper.Viper
	log     *zap.Logger
	cfgFile string
	envFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:          "demo",
		Short:        "Bootstrap a CSRF-protected session, or serve the API and the page that use it",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file; already-set variables win")
	root.PersistentFlags().String("log-level", "", "debug|info|warn|error")
	mustBind(a.v, config.LogLevel, root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newBootstrapCmd(a), newServerAPICmd(a), newServerUICmd(a))
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}

	lc := config.LoadLog(a.v)
	l, err := logger.New(logger.Config{Env: lc.Env, Level: lc.Level, Name: "demo"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.log = l
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.Info("using config file", zap.String("path", used))
	}
	return nil
}

func newBootstrapCmd(a *app) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "GET the endpoint for a CSRF token, then POST to it with the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := config.LoadClient(a.v)
			if err != nil {
				return err
			}

			b := csrfapi.NewBootstrapper(
				csrfapi.WithLogger(a.log),
				csrfapi.WithTimeout(cc.Timeout),
				csrfapi.WithUserAgent(cc.UserAgent),
				csrfapi.WithTokenHeader(cc.TokenHeader),
				csrfapi.WithCredentials(cc.Credentials),
				csrfapi.WithRequireToken(cc.RequireToken),
			)

			out := csrfapi.Run(cmd.Context(), b, csrfapi.RunConfig{
				URL:                    cc.Endpoint,
				PostOnBootstrapFailure: cc.PostOnBootstrapFailure,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "stage=%s\n", out.Stage)

			if strict && out.Stage != csrfapi.StagePosted {
				return fmt.Errorf("bootstrap run ended in stage %s: %w", out.Stage, out.Err())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("endpoint", "", "URL used for the token GET and the POST")
	f.Duration("timeout", 0, "per-request timeout")
	f.String("token-header", "", "CSRF token header name")
	f.Bool("require-token", false, "fail the bootstrap when the token header is missing")
	f.Bool("post-on-failure", false, "attempt the POST even when the bootstrap failed")
	f.BoolVar(&strict, "strict", false, "exit non-zero unless the POST succeeded")

	mustBind(a.v, config.ClientEndpoint, f.Lookup("endpoint"))
	mustBind(a.v, config.ClientTimeout, f.Lookup("timeout"))
	mustBind(a.v, config.ClientTokenHeader, f.Lookup("token-header"))
	mustBind(a.v, config.ClientRequireToken, f.Lookup("require-token"))
	mustBind(a.v, config.ClientPostOnBootstrapFailure, f.Lookup("post-on-failure"))
	return cmd
}

func newServerAPICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server-api",
		Short: "Serve the CSRF-protected API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := config.LoadServer(a.v)
			if err != nil {
				return err
			}
			srv, err := csrfserver.New(sc, a.log.Named("server"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveUntilDone(ctx, srv)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "listen host")
	f.String("port", "", "listen port")
	mustBind(a.v, config.ServerHost, f.Lookup("host"))
	mustBind(a.v, config.ServerPort, f.Lookup("port"))
	return cmd
}

func newServerUICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server-ui",
		Short: "Serve the static page that calls the API from another origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := config.LoadUI(a.v)
			if err != nil {
				return err
			}
			srv, err := csrfserver.NewUI(uc, a.log.Named("ui"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveUntilDone(ctx, srv)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "listen host")
	f.String("port", "", "listen port")
	f.String("dir", "", "directory with the static files")
	mustBind(a.v, config.UIHost, f.Lookup("host"))
	mustBind(a.v, config.UIPort, f.Lookup("port"))
	mustBind(a.v, config.UIDir, f.Lookup("dir"))
	return cmd
}

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func serveUntilDone(ctx context.Context, srv server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), <-errc)
}

// mustBind only fails for a nil flag, which is a programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

package csrfapi

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

type RunConfig struct {
	// URL is fetched for the token and, unless PostURL is set, posted to.
	URL     string
	PostURL string
	// Params is the optional POST body, see Client.Post.
	Params any

	// PostOnBootstrapFailure still attempts the POST (with a nil Client,
	// which fails with ErrNoClient) when bootstrap fails. Off by default.
	PostOnBootstrapFailure bool
}

// Outcome records how far a Run got. Stage is StagePosted only when the
// POST succeeded; a failed POST after a good bootstrap leaves StageReady.
type Outcome struct {
	Stage  Stage
	Client *Client

	BootstrapErr error

	PostAttempted bool
	PostResponse  *Response
	PostErr       error
}

// Err joins the bootstrap and post errors, or returns nil.
func (o Outcome) Err() error {
	return errors.Join(o.BootstrapErr, o.PostErr)
}

// Run bootstraps a client for cfg.URL and then POSTs with it. The POST is
// never started before the bootstrap has settled. Failures are logged and
// reported in the Outcome; Run itself never fails.
func Run(ctx context.Context, b *Bootstrapper, cfg RunConfig) Outcome {
	if b == nil {
		b = NewBootstrapper()
	}
	log := b.log.With(logger.URL(cfg.URL))

	out := Outcome{Stage: StageAwaitingToken}

	c, err := b.InitializeClient(ctx, cfg.URL)
	if err != nil {
		out.Stage = StageFailed
		out.BootstrapErr = err
		log.Error("csrf bootstrap failed", logger.Stage(string(out.Stage)), zap.Error(err))
		if !cfg.PostOnBootstrapFailure {
			log.Info("skipping post: no client")
			return out
		}
	} else {
		out.Stage = StageReady
		out.Client = c
		log.Info("csrf client ready", logger.Stage(string(out.Stage)), zap.Bool("has_token", c.Token() != ""))
	}

	postURL := cfg.PostURL
	if postURL == "" {
		postURL = cfg.URL
	}

	out.PostAttempted = true
	resp, err := c.Post(ctx, postURL, cfg.Params)
	out.PostResponse = resp
	if err != nil {
		out.PostErr = err
		log.Error("post failed", zap.String("post_url", postURL), zap.Error(err))
		return out
	}

	out.Stage = StagePosted
	log.Info("post completed", zap.String("post_url", postURL), logger.Status(resp.StatusCode), logger.Stage(string(out.Stage)))
	return out
}

package csrfapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

// InitializeClient GETs rawURL, reads the CSRF token from the response
// header and returns a Client that sends it on every request.
//
// Transport failures and non-2xx responses return a *RequestError and no
// Client. A missing token header yields a Client without the header, unless
// WithRequireToken was set.
//
// Concurrent calls for the same URL share one request and one Client; the
// first caller's ctx governs it.
func (b *Bootstrapper) InitializeClient(ctx context.Context, rawURL string) (*Client, error) {
	v, err, _ := b.sf.Do(rawURL, func() (any, error) {
		return b.initialize(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (b *Bootstrapper) initialize(ctx context.Context, rawURL string) (*Client, error) {
	log := b.log.With(logger.URL(rawURL))

	hc := b.newHTTPClient()
	resp, err := doRequest(ctx, hc, b.ua, http.MethodGet, rawURL, nil)
	if err != nil {
		log.Warn("csrf bootstrap request failed", zap.Error(err))
		return nil, &RequestError{Op: "bootstrap", Kind: KindTransport, URL: rawURL, Err: err}
	}

	log.Debug("csrf bootstrap response",
		logger.Status(resp.StatusCode),
		zap.Any("header", b.redactedHeader(resp.Header)),
	)

	if !resp.OK() {
		log.Warn("csrf bootstrap rejected", logger.Status(resp.StatusCode))
		return nil, &RequestError{
			Op:         "bootstrap",
			Kind:       KindStatus,
			URL:        rawURL,
			HTTPStatus: resp.StatusCode,
			Response:   resp,
		}
	}

	token := resp.Header.Get(b.tokenHeader)
	if token == "" {
		if b.requireToken {
			log.Warn("csrf token header missing", zap.String("header", b.tokenHeader))
			return nil, &RequestError{
				Op:         "bootstrap",
				Kind:       KindMissingToken,
				URL:        rawURL,
				HTTPStatus: resp.StatusCode,
				Response:   resp,
				Err:        errors.New("response has no " + b.tokenHeader + " header"),
			}
		}
		log.Warn("csrf token header missing; client will send none", zap.String("header", b.tokenHeader))
	} else {
		log.Debug("csrf token acquired", logger.Token(token))
	}

	// doRequest already validated rawURL.
	u, _ := parseEndpoint(rawURL)
	return b.newClient(hc, u.Host, token), nil
}

func (b *Bootstrapper) redactedHeader(h http.Header) http.Header {
	out := h.Clone()
	if tok := out.Get(b.tokenHeader); tok != "" {
		out.Set(b.tokenHeader, logger.Redact(tok))
	}
	if out.Get("Set-Cookie") != "" {
		out.Set("Set-Cookie", "<redacted>")
	}
	return out
}

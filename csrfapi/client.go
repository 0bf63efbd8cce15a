package csrfapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

type Option func(*Bootstrapper)

func WithUserAgent(ua string) Option {
	return func(b *Bootstrapper) {
		if ua != "" {
			b.ua = ua
		}
	}
}

// WithHTTPClient uses a copy of hc as the template for every client the
// Bootstrapper builds. A Jar set on hc is shared by all of them.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *Bootstrapper) {
		if hc != nil {
			cp := *hc
			b.hc = &cp
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(b *Bootstrapper) {
		if b.hc == nil {
			return
		}
		if rt != nil {
			b.hc.Transport = rt
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(b *Bootstrapper) {
		if b.hc == nil {
			return
		}
		if d > 0 {
			b.hc.Timeout = d
		}
	}
}

// WithTokenHeader changes the header the token is read from and sent in.
func WithTokenHeader(name string) Option {
	return func(b *Bootstrapper) {
		if name = strings.TrimSpace(name); name != "" {
			b.tokenHeader = http.CanonicalHeaderKey(name)
		}
	}
}

// WithCredentials toggles cookie handling. When enabled (the default) the
// bootstrap GET and every request of the resulting Client share one jar.
func WithCredentials(v bool) Option {
	return func(b *Bootstrapper) {
		b.credentials = v
	}
}

// WithRequireToken makes a response without the token header a bootstrap
// failure instead of producing a Client that sends no token.
func WithRequireToken(v bool) Option {
	return func(b *Bootstrapper) {
		b.requireToken = v
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bootstrapper) {
		if l != nil {
			b.log = l
		}
	}
}

// Bootstrapper builds Clients. It is safe for concurrent use.
type Bootstrapper struct {
	hc  *http.Client
	ua  string
	log *zap.Logger

	tokenHeader  string
	credentials  bool
	requireToken bool

	sf singleflight.Group
}

func NewBootstrapper(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		hc:          &http.Client{Timeout: 30 * time.Second},
		ua:          "csrf-bootstrap-go/0.1",
		log:         zap.NewNop(),
		tokenHeader: DefaultTokenHeader,
		credentials: true,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	return b
}

// newHTTPClient returns a fresh http.Client for one bootstrap. With
// credentials enabled it gets its own cookie jar unless the template has one.
func (b *Bootstrapper) newHTTPClient() *http.Client {
	hc := *b.hc
	if !b.credentials {
		hc.Jar = nil
		return &hc
	}
	if hc.Jar == nil {
		jar, _ := cookiejar.New(nil)
		hc.Jar = jar
	}
	return &hc
}

// Client sends requests with the CSRF token header and the cookie session
// established during bootstrap. It is immutable and safe for concurrent use.
//
// A nil *Client is valid: its request methods fail with ErrNoClient.
type Client struct {
	hc          *http.Client
	token       string
	tokenHeader string
	header      http.Header
	log         *zap.Logger
}

// newClient builds the Client for a bootstrap of host. The token header is
// only sent to that host.
func (b *Bootstrapper) newClient(hc *http.Client, host, token string) *Client {
	header := http.Header{}
	if b.ua != "" {
		header.Set("User-Agent", b.ua)
	}
	if token != "" {
		header.Set(b.tokenHeader, token)
	}

	hc2 := *hc
	hc2.Transport = &headerTransport{
		base:   hc.Transport,
		header: header,
		host:   host,
		scoped: http.CanonicalHeaderKey(b.tokenHeader),
	}

	return &Client{
		hc:          &hc2,
		token:       token,
		tokenHeader: b.tokenHeader,
		header:      header,
		log:         b.log,
	}
}

// Token returns the CSRF token, or "" when the server sent none.
func (c *Client) Token() string {
	if c == nil {
		return ""
	}
	return c.token
}

// Header returns a copy of the headers attached to every request.
func (c *Client) Header() http.Header {
	if c == nil {
		return http.Header{}
	}
	return c.header.Clone()
}

func (c *Client) TokenHeader() string {
	if c == nil {
		return ""
	}
	return c.tokenHeader
}

// Credentials reports whether the client carries a cookie jar.
func (c *Client) Credentials() bool {
	return c != nil && c.hc.Jar != nil
}

// HTTPClient exposes the configured *http.Client so it can be handed to
// code that only speaks net/http. It returns nil for a nil Client.
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.hc
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c == nil {
		var u string
		if req != nil && req.URL != nil {
			u = req.URL.String()
		}
		return nil, &RequestError{Op: "do", Kind: KindNoClient, URL: u, Err: ErrNoClient}
	}
	return c.hc.Do(req)
}

func (c *Client) Get(ctx context.Context, rawURL string, p any) (*Response, error) {
	return c.send(ctx, "get", http.MethodGet, rawURL, p)
}

// Post issues a POST to rawURL. p is optional and is sent form-encoded.
func (c *Client) Post(ctx context.Context, rawURL string, p any) (*Response, error) {
	return c.send(ctx, "post", http.MethodPost, rawURL, p)
}

func (c *Client) send(ctx context.Context, op, method, rawURL string, p any) (*Response, error) {
	if c == nil {
		return nil, &RequestError{Op: op, Kind: KindNoClient, URL: rawURL, Err: ErrNoClient}
	}

	values, err := encodeParams(p)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode params: %w", op, rawURL, err)
	}

	resp, err := doRequest(ctx, c.hc, "", method, rawURL, values)
	if err != nil {
		return nil, &RequestError{Op: op, Kind: KindTransport, URL: rawURL, Err: err}
	}
	c.log.Debug("response received",
		logger.Method(method),
		logger.URL(rawURL),
		logger.Status(resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
	)

	if !resp.OK() {
		return resp, &RequestError{
			Op:         op,
			Kind:       KindStatus,
			URL:        rawURL,
			HTTPStatus: resp.StatusCode,
			Response:   resp,
		}
	}
	return resp, nil
}

// headerTransport sets fixed headers on every outgoing request unless the
// caller already set them. The scoped header is only sent to host, so a
// redirect to another host does not carry the token.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
	host   string
	scoped string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	r2 := req.Clone(req.Context())
	sameHost := strings.EqualFold(req.URL.Host, t.host)
	for k, vs := range t.header {
		if r2.Header.Get(k) != "" {
			continue
		}
		if k == t.scoped && !sameHost {
			continue
		}
		r2.Header[k] = append([]string(nil), vs...)
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r2)
}

func doRequest(ctx context.Context, hc *http.Client, ua, method, rawURL string, values url.Values) (*Response, error) {
	req, err := buildRequest(ctx, ua, method, rawURL, values)
	if err != nil {
		return nil, err
	}

	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	const maxBody = 32 << 20 // 32MiB
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       body,
	}, nil
}

func buildRequest(ctx context.Context, ua, method, rawURL string, values url.Values) (*http.Request, error) {
	u, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method == http.MethodGet {
		if len(values) > 0 {
			q := u.Query()
			for k, vs := range values {
				q.Del(k)
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		}
	} else if len(values) > 0 {
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	return req, nil
}

func parseEndpoint(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL (expect http or https): %q", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL (missing host): %q", rawURL)
	}
	return u, nil
}

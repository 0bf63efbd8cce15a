package csrfapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedBootstrapper(opts ...Option) (*Bootstrapper, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append(opts, WithLogger(zap.New(core)))
	return NewBootstrapper(opts...), logs
}

func TestRun_TokenThenPost(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{token: "abc123"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	b, logs := observedBootstrapper()
	out := Run(testContext(t), b, RunConfig{URL: srv.URL + "/api"})

	if out.Stage != StagePosted {
		t.Fatalf("stage = %s, want %s (err=%v)", out.Stage, StagePosted, out.Err())
	}
	if out.Err() != nil {
		t.Fatalf("unexpected error: %v", out.Err())
	}
	if out.Client.Header().Get("X-CSRF-Token") != "abc123" || !out.Client.Credentials() {
		t.Fatalf("client not configured: header=%v credentials=%v", out.Client.Header(), out.Client.Credentials())
	}
	if out.PostResponse == nil || out.PostResponse.StatusCode != http.StatusOK {
		t.Fatalf("post response = %+v", out.PostResponse)
	}

	ts.mu.Lock()
	hdr := ts.postHeader
	ts.mu.Unlock()
	if hdr != "abc123" {
		t.Fatalf("POST X-CSRF-Token = %q, want %q", hdr, "abc123")
	}

	acquired := logs.FilterMessage("csrf token acquired").All()
	if len(acquired) != 1 {
		t.Fatalf("expected one token log entry, got %d", len(acquired))
	}
	if got := acquired[0].ContextMap()["token"]; got != "abc1****" {
		t.Fatalf("logged token = %v, want redacted", got)
	}
}

func TestRun_ForbiddenSkipsPostByDefault(t *testing.T) {
	t.Parallel()

	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	b, logs := observedBootstrapper()
	out := Run(testContext(t), b, RunConfig{URL: srv.URL})

	if out.Stage != StageFailed {
		t.Fatalf("stage = %s, want %s", out.Stage, StageFailed)
	}
	if out.Client != nil || out.PostAttempted {
		t.Fatalf("post must be skipped after a failed bootstrap")
	}
	if !IsKind(out.BootstrapErr, KindStatus) {
		t.Fatalf("bootstrap err = %v, want status error", out.BootstrapErr)
	}
	if posts.Load() != 0 {
		t.Fatalf("server saw %d POSTs, want 0", posts.Load())
	}
	if logs.FilterMessage("csrf bootstrap failed").Len() != 1 {
		t.Fatalf("bootstrap failure was not logged")
	}
}

func TestRun_ForbiddenWithPostOnFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	b, logs := observedBootstrapper()
	out := Run(testContext(t), b, RunConfig{URL: srv.URL, PostOnBootstrapFailure: true})

	if out.Stage != StageFailed {
		t.Fatalf("stage = %s, want %s", out.Stage, StageFailed)
	}
	if !out.PostAttempted {
		t.Fatalf("post should have been attempted")
	}
	if !errors.Is(out.PostErr, ErrNoClient) {
		t.Fatalf("post err = %v, want ErrNoClient", out.PostErr)
	}
	if logs.FilterMessage("post failed").Len() != 1 {
		t.Fatalf("post failure was not logged")
	}
	if !errors.Is(out.Err(), ErrNoClient) || !IsKind(out.Err(), KindStatus) {
		t.Fatalf("joined err = %v", out.Err())
	}
}

func TestRun_TransportFailureDoesNotPanic(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := Run(testContext(t), nil, RunConfig{URL: url, PostOnBootstrapFailure: true})
	if !IsKind(out.BootstrapErr, KindTransport) {
		t.Fatalf("bootstrap err = %v, want transport error", out.BootstrapErr)
	}
	if !IsKind(out.PostErr, KindNoClient) {
		t.Fatalf("post err = %v, want no client", out.PostErr)
	}
}

func TestRun_MissingTokenStillPosts(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	b, logs := observedBootstrapper()
	out := Run(testContext(t), b, RunConfig{URL: srv.URL})

	if out.Stage != StagePosted {
		t.Fatalf("stage = %s, want %s (err=%v)", out.Stage, StagePosted, out.Err())
	}
	if out.Client.Token() != "" {
		t.Fatalf("token = %q, want empty", out.Client.Token())
	}
	if ts.postCalls.Load() != 1 {
		t.Fatalf("post calls = %d, want 1", ts.postCalls.Load())
	}
	if logs.FilterMessageSnippet("header missing").Len() != 1 {
		t.Fatalf("missing header was not logged")
	}
}

func TestRun_PostNeverPrecedesBootstrap(t *testing.T) {
	t.Parallel()

	for _, delay := range []time.Duration{0, 5 * time.Millisecond, 40 * time.Millisecond} {
		for _, status := range []int{http.StatusOK, http.StatusForbidden} {
			delay, status := delay, status
			t.Run(fmt.Sprintf("%s/%d", delay, status), func(t *testing.T) {
				t.Parallel()

				var mu sync.Mutex
				var events []string
				record := func(ev string) {
					mu.Lock()
					events = append(events, ev)
					mu.Unlock()
				}

				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodGet {
						record("get:start")
						time.Sleep(delay)
						record("get:end")
						w.Header().Set("X-CSRF-Token", "t")
						w.WriteHeader(status)
						return
					}
					record("post")
				}))
				t.Cleanup(srv.Close)

				out := Run(testContext(t), nil, RunConfig{URL: srv.URL, PostOnBootstrapFailure: true})
				if status == http.StatusOK && out.Stage != StagePosted {
					t.Fatalf("stage = %s (err=%v)", out.Stage, out.Err())
				}

				mu.Lock()
				defer mu.Unlock()
				if len(events) < 2 || events[0] != "get:start" || events[1] != "get:end" {
					t.Fatalf("events = %v", events)
				}
				for i, ev := range events {
					if ev == "post" && i < 2 {
						t.Fatalf("post before bootstrap settled: %v", events)
					}
				}
			})
		}
	}
}

func TestRun_PostURLAndParams(t *testing.T) {
	t.Parallel()

	var gotPath, gotValue atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("X-CSRF-Token", "t")
			return
		}
		_ = r.ParseForm()
		gotPath.Store(r.URL.Path)
		gotValue.Store(r.PostForm.Get("message"))
	}))
	t.Cleanup(srv.Close)

	out := Run(testContext(t), nil, RunConfig{
		URL:     srv.URL + "/api",
		PostURL: srv.URL + "/api/messages",
		Params:  map[string]any{"message": "hi"},
	})
	if out.Err() != nil {
		t.Fatalf("Run: %v", out.Err())
	}
	if p, _ := gotPath.Load().(string); p != "/api/messages" {
		t.Fatalf("post path = %q", p)
	}
	if v, _ := gotValue.Load().(string); v != "hi" {
		t.Fatalf("message = %q", v)
	}
}

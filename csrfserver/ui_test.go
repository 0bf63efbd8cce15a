package csrfserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUIHandlerServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ui</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("console.log(1)"), 0o600))

	cfg := DefaultUIConfig()
	cfg.Dir = dir
	h, err := NewUIHandler(cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "<html>ui</html>", string(body))

	res, err = http.Get(srv.URL + "/index.js")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/missing.js")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUIConfigValidate(t *testing.T) {
	cfg := DefaultUIConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "missing")
	cfg.Port = ""
	err := cfg.Validate()
	require.ErrorContains(t, err, "ui port is required")
	require.ErrorContains(t, err, "ui dir")

	_, err = NewUI(cfg, nil)
	require.Error(t, err)

	cfg = DefaultUIConfig()
	require.Equal(t, ":3000", cfg.Addr())
}

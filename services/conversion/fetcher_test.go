package conversion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaconv/pkg/config"
)

func newTestFetcher(t *testing.T, root string, hosts ...string) *HTTPFetcher {
	t.Helper()
	cfg := &config.Config{}
	cfg.Conversion.MaxFileSizeBytes = 1 << 10
	cfg.Conversion.UploadRoot = root
	cfg.Conversion.SourceHosts = hosts
	return NewHTTPFetcher(cfg)
}

func TestFetchRefusesPathsOutsideUploadRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hunter2"), 0o600))

	f := newTestFetcher(t, root)
	dst := filepath.Join(t.TempDir(), "out")

	for _, ref := range []string{
		"/etc/passwd",
		"file:///etc/passwd",
		secret,
		filepath.Join(root, "..", filepath.Base(outside), "secret.txt"),
		"../" + filepath.Base(outside) + "/secret.txt",
	} {
		_, err := f.Fetch(context.Background(), ref, dst)
		require.ErrorIs(t, err, errSourceNotAllowed, ref)
	}
}

func TestFetchRefusesSymlinkOutOfUploadRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hunter2"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link.txt")))

	f := newTestFetcher(t, root)
	_, err := f.Fetch(context.Background(), filepath.Join(root, "link.txt"), filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceNotAllowed)
}

func TestFetchLocalDisabledWithoutRoot(t *testing.T) {
	f := newTestFetcher(t, "")
	_, err := f.Fetch(context.Background(), "/etc/hostname", filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceNotAllowed)
}

func TestFetchCopiesFileUnderUploadRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "42"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "clip.mov"), []byte("source"), 0o600))

	f := newTestFetcher(t, root)
	dst := filepath.Join(t.TempDir(), "out")

	n, err := f.Fetch(context.Background(), filepath.Join(root, "42", "clip.mov"), dst)
	require.NoError(t, err)
	require.Equal(t, int64(6), n)

	n, err = f.Fetch(context.Background(), "42/clip.mov", dst)
	require.NoError(t, err)
	require.Equal(t, int64(6), n)
}

func TestFetchRefusesUnlistedHost(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("metadata"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, "", "files.example")

	_, err := f.Fetch(context.Background(), srv.URL+"/latest/meta-data", filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceNotAllowed)

	_, err = f.Fetch(context.Background(), "http://169.254.169.254/latest/meta-data", filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceNotAllowed)
	require.Zero(t, hits)
}

func TestFetchFromListedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("source"))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	f := newTestFetcher(t, "", u.Hostname())
	n, err := f.Fetch(context.Background(), srv.URL+"/clip.mov", filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	require.Equal(t, int64(6), n)
}

func TestFetchRefusesRedirectToUnlistedHost(t *testing.T) {
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	defer internal.Close()

	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL, http.StatusFound)
	}))
	defer public.Close()

	pu, err := url.Parse(public.URL)
	require.NoError(t, err)

	f := newTestFetcher(t, "", pu.Host)
	_, err = f.Fetch(context.Background(), public.URL, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceNotAllowed)
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 2<<10)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o600))

	f := newTestFetcher(t, root)
	_, err := f.Fetch(context.Background(), "big.bin", filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, errSourceTooLarge)
}

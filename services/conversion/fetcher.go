package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaconv/pkg/config"

	"go.uber.org/zap"
)

var (
	errSourceTooLarge   = errors.New("source exceeds size limit")
	errSourceNotAllowed = errors.New("source not allowed")
)

// HTTPFetcher downloads from allowed http(s) hosts and copies local files
// that live under the upload root. Anything else is refused.
type HTTPFetcher struct {
	client     *http.Client
	maxBytes   int64
	hosts      map[string]struct{}
	uploadRoot string
}

func NewHTTPFetcher(cfg *config.Config) *HTTPFetcher {
	f := &HTTPFetcher{
		maxBytes:   cfg.Conversion.MaxFileSizeBytes,
		hosts:      make(map[string]struct{}, len(cfg.Conversion.SourceHosts)),
		uploadRoot: cfg.Conversion.UploadRoot,
	}
	for _, h := range cfg.Conversion.SourceHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts[h] = struct{}{}
		}
	}
	f.client = &http.Client{
		Timeout: 5 * time.Minute,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if !f.hostAllowed(req.URL) {
				return fmt.Errorf("%w: redirect to %s", errSourceNotAllowed, req.URL.Host)
			}
			return nil
		},
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, sourceRef, dstPath string) (int64, error) {
	u, err := url.Parse(sourceRef)
	if err != nil {
		return 0, fmt.Errorf("parse source ref: %w", err)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		if !f.hostAllowed(u) {
			return 0, fmt.Errorf("%w: host %s", errSourceNotAllowed, u.Host)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
		if err != nil {
			return 0, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return 0, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return 0, fmt.Errorf("source responded %s", resp.Status)
		}
		body = resp.Body
	case "", "file":
		path := u.Path
		if path == "" {
			path = sourceRef
		}
		path, err = f.localPath(path)
		if err != nil {
			return 0, err
		}
		fh, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		body = fh
	default:
		return 0, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	defer body.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	reader := io.Reader(body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(body, f.maxBytes+1)
	}

	n, err := io.Copy(out, reader)
	if err != nil {
		return n, err
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return n, fmt.Errorf("%w: more than %d bytes", errSourceTooLarge, f.maxBytes)
	}

	zap.L().Debug("source fetched", zap.String("scheme", u.Scheme), zap.Int64("bytes", n))
	return n, out.Sync()
}

func (f *HTTPFetcher) hostAllowed(u *url.URL) bool {
	if _, ok := f.hosts[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := f.hosts[strings.ToLower(u.Hostname())]
	return ok
}

// localPath resolves p against the upload root and refuses anything that
// ends up outside it, symlinks included.
func (f *HTTPFetcher) localPath(p string) (string, error) {
	if f.uploadRoot == "" {
		return "", fmt.Errorf("%w: local sources are disabled", errSourceNotAllowed)
	}

	root, err := filepath.Abs(f.uploadRoot)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !within(root, p) {
		return "", fmt.Errorf("%w: %s is outside the upload root", errSourceNotAllowed, p)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !within(realRoot, resolved) {
		return "", fmt.Errorf("%w: %s is outside the upload root", errSourceNotAllowed, p)
	}
	return resolved, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

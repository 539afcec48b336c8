package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"
)

// Download is a fetched resource held in a temporary file. The caller owns
// Path and must remove it or hand it to a MediaStore.
type Download struct {
	Path string
	Name string
	Size int64
	Hash string
}

// Remove deletes the temporary file.
func (d *Download) Remove() {
	if d != nil && d.Path != "" {
		_ = os.Remove(d.Path)
	}
}

// Fetcher downloads a remote resource into a temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Download, error)
}

// HTTPFetcher fetches over HTTP(S).
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64  // 0 means unlimited
	TempDir  string // "" means os.TempDir()
}

// NewHTTPFetcher returns a fetcher whose requests give up after timeout.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: maxBytes,
	}
}

// Fetch streams rawURL to a temp file, computing its fingerprint on the way.
// All failures wrap ErrFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported url %q", ErrFetch, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp(f.TempDir, "postxfer-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", ErrFetch, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), body)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if f.MaxBytes > 0 && n > f.MaxBytes {
		cleanup()
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, rawURL, f.MaxBytes)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	return &Download{
		Path: tmpPath,
		Name: path.Base(u.Path),
		Size: n,
		Hash: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// FingerprintFile returns the size and hex SHA-256 of the file at path.
func FingerprintFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

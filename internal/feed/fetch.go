// Package feed downloads and parses the KEV CSV feed.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// DefaultURL is the CISA Known Exploited Vulnerabilities catalog in CSV form.
const DefaultURL = "https://www.cisa.gov/sites/default/files/csv/known_exploited_vulnerabilities.csv"

// ErrInsecureURL is returned when the feed URL does not use HTTPS and
// insecure transport has not been allowed.
var ErrInsecureURL = errors.New("feed URL must use https")

// FetcherConfig controls where and how the feed is downloaded.
type FetcherConfig struct {
	URL           string
	Timeout       time.Duration
	TempDir       string // empty means os.TempDir()
	AllowInsecure bool
	UserAgent     string
}

// Fetcher downloads the feed into a temporary spool file.
type Fetcher struct {
	client    *http.Client
	feedURL   *url.URL
	timeout   time.Duration
	tempDir   string
	userAgent string
	logger    *slog.Logger
}

// NewFetcher validates cfg and returns a Fetcher. A nil client uses
// http.DefaultClient.
func NewFetcher(cfg FetcherConfig, client *http.Client, logger *slog.Logger) (*Fetcher, error) {
	raw := cfg.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse feed URL: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !cfg.AllowInsecure {
			return nil, fmt.Errorf("%w: %s", ErrInsecureURL, raw)
		}
	default:
		return nil, fmt.Errorf("unsupported feed URL scheme %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "kevd"
	}
	return &Fetcher{
		client:    client,
		feedURL:   u,
		timeout:   cfg.Timeout,
		tempDir:   cfg.TempDir,
		userAgent: ua,
		logger:    logger,
	}, nil
}

// URL returns the feed location.
func (f *Fetcher) URL() string {
	return f.feedURL.String()
}

// Fetch downloads the feed and writes it to a new temporary file, returning
// its path. The caller owns the file and is responsible for removing it.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/csv, */*;q=0.5")

	res, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download feed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http response error: %s", res.Status)
	}

	out, err := os.CreateTemp(f.tempDir, "kev-*.csv")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	var success bool
	defer func() {
		if err := out.Close(); err != nil && success {
			f.logger.Warn("unable to close spool", "path", out.Name(), "error", err)
		}
		if !success {
			os.Remove(out.Name())
		}
	}()

	n, err := io.Copy(out, bufio.NewReader(res.Body))
	if err != nil {
		return "", fmt.Errorf("read feed body: %w", err)
	}

	success = true
	f.logger.Debug("feed downloaded", "url", f.feedURL.String(), "bytes", n, "path", out.Name())
	return out.Name(), nil
}

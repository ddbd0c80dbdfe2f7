package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultAttempts   = 3
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 5 * time.Second
	defaultContentTyp = "video/mp4"
)

// Options configures the media fetcher.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      storage.Store
	Attempts   int
	Logger     *infra.Logger
}

// Fetcher obtains a durable copy of a source video: it resolves the source
// URL through the downloader service, streams the media into object storage
// and returns the storage key. Fetching the same source twice yields the same
// key without a second upload.
type Fetcher struct {
	baseURL  string
	client   *http.Client
	store    storage.Store
	attempts int
	logger   *infra.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("media: store is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("media: downloader base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = defaultAttempts
	}
	return &Fetcher{
		baseURL:  baseURL,
		client:   client,
		store:    opts.Store,
		attempts: attempts,
		logger:   opts.Logger,
	}, nil
}

// MediaKey derives the deterministic storage key for a source URL.
func MediaKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "media/" + hex.EncodeToString(sum[:])[:20] + ".mp4"
}

type resolveRequest struct {
	URL string `json:"url"`
}

type resolveResponse struct {
	MediaURL    string `json:"media_url"`
	ContentType string `json:"content_type"`
}

// Fetch returns the storage key of a durable copy of the media behind
// sourceURL. Transient downloader failures are retried with bounded
// exponential backoff; a malformed or rejected source URL fails immediately.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (string, error) {
	parsed, err := url.ParseRequestURI(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("media: %w: %q", domain.ErrBadSource, sourceURL)
	}

	key := MediaKey(sourceURL)
	exists, err := f.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("media: check existing object: %w", err)
	}
	if exists {
		return key, nil
	}

	backoff := backoffBase
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		key, err := f.fetchOnce(ctx, sourceURL, key)
		if err == nil {
			return key, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		if f.logger != nil {
			f.logger.Warn().Err(err).Int("attempt", attempt).Str("source_url", sourceURL).Msg("media: fetch attempt failed")
		}
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
	return "", fmt.Errorf("media: fetch failed after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, sourceURL, key string) (string, error) {
	resolved, err := f.resolve(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.MediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: build download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", retryable(fmt.Errorf("media: download: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("media: download status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", retryable(err)
		}
		return "", err
	}

	contentType := resolved.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = defaultContentTyp
	}
	savedKey, err := f.store.Put(ctx, key, resp.Body, resp.ContentLength, contentType)
	if err != nil {
		return "", retryable(err)
	}
	return savedKey, nil
}

func (f *Fetcher) resolve(ctx context.Context, sourceURL string) (*resolveResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(resolveRequest{URL: sourceURL}); err != nil {
		return nil, fmt.Errorf("media: encode resolve request: %w", err)
	}
	endpoint := f.baseURL + "/v1/resolve"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("media: build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retryable(fmt.Errorf("media: resolve: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryable(fmt.Errorf("media: resolve status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("media: %w: resolver rejected url (status %d)", domain.ErrBadSource, resp.StatusCode)
	}

	var out resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retryable(fmt.Errorf("media: decode resolve response: %w", err))
	}
	if strings.TrimSpace(out.MediaURL) == "" {
		return nil, fmt.Errorf("media: %w: resolver returned no media url", domain.ErrBadSource)
	}
	return &out, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	return &retryableError{err: err}
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/storage"
	"github.com/vibast-solutions/ms-go-settlement/config"
)

var (
	// ErrAssetUnavailable marks fetch failures that retrying cannot fix,
	// such as a 404 from the provider's CDN.
	ErrAssetUnavailable = errors.New("asset permanently unavailable")
	ErrAssetTooLarge    = errors.New("asset exceeds size limit")
)

// AssetService downloads result assets and stores them under
// content-addressed keys. Storing the same bytes twice lands on the same key,
// so redeliveries never duplicate objects.
type AssetService struct {
	store      storage.ObjectStore
	httpClient *http.Client
	cfg        config.AssetsConfig
}

func NewAssetService(store storage.ObjectStore, cfg config.AssetsConfig) *AssetService {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 25 << 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "results"
	}

	return &AssetService{
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// Persist fetches the asset at sourceURL and writes it to the object store,
// retrying transient failures with exponential backoff. It returns the
// stored key, the SHA-256 hex digest of the bytes, and how many attempts
// were used.
func (s *AssetService) Persist(ctx context.Context, sourceURL string) (string, string, int32, error) {
	backoff := s.cfg.BackoffBase
	var lastErr error

	for attempt := int32(1); attempt <= int32(s.cfg.MaxAttempts); attempt++ {
		ref, digest, err := s.fetchAndStore(ctx, sourceURL)
		if err == nil {
			return ref, digest, attempt, nil
		}
		lastErr = err

		if errors.Is(err, ErrAssetUnavailable) || errors.Is(err, ErrAssetTooLarge) {
			return "", "", attempt, err
		}

		if attempt < int32(s.cfg.MaxAttempts) {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", "", attempt, ctx.Err()
			}
			backoff *= time.Duration(s.cfg.BackoffFactor)
		}
	}

	return "", "", int32(s.cfg.MaxAttempts), fmt.Errorf("persist asset after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *AssetService) fetchAndStore(ctx context.Context, sourceURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrAssetUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if terminalFetchStatus(resp.StatusCode) {
			return "", "", fmt.Errorf("%w: fetch returned status %d", ErrAssetUnavailable, resp.StatusCode)
		}
		return "", "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > s.cfg.MaxBytes {
		return "", "", fmt.Errorf("%w: content length %d", ErrAssetTooLarge, resp.ContentLength)
	}

	hasher := sha256.New()
	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(&buf, hasher), io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("read asset body: %w", err)
	}
	if n > s.cfg.MaxBytes {
		return "", "", fmt.Errorf("%w: body larger than %d bytes", ErrAssetTooLarge, s.cfg.MaxBytes)
	}
	if n == 0 {
		return "", "", fmt.Errorf("%w: empty body", ErrAssetUnavailable)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := s.objectKey(digest, contentType, sourceURL)

	exists, err := s.store.ObjectExists(ctx, key)
	if err != nil {
		return "", "", err
	}
	if !exists {
		if _, err := s.store.PutObject(ctx, key, bytes.NewReader(buf.Bytes()), n, contentType); err != nil {
			return "", "", err
		}
	}

	return key, digest, nil
}

func (s *AssetService) objectKey(digest, contentType, sourceURL string) string {
	ext := extensionFor(contentType, sourceURL)
	return fmt.Sprintf("%s/%s/%s%s", s.cfg.Namespace, digest[:2], digest, ext)
}

// terminalFetchStatus treats client errors as permanent, except the ones
// providers use for throttling and timeouts.
func terminalFetchStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func extensionFor(contentType, sourceURL string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}

	if u, err := url.Parse(sourceURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return ".bin"
}

// Package loader acquires a concrete filesystem backend for a mount
// address. One acquisition attempt fetches a backend descriptor from the
// metadata server, caches it locally, and constructs the backend through the
// kind registry; the whole thing is wrapped in the bounded retry protocol.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
	"github.com/iabetor/chdfs-go/internal/metrics"
	"github.com/iabetor/chdfs-go/internal/util"
	"github.com/iabetor/chdfs-go/pkg/errors"
	"github.com/iabetor/chdfs-go/pkg/retry"
)

const descriptorPath = "/chdfs-plugin/v1/descriptor"

// Descriptor identifies which backend implementation serves a mount and how
// to construct it.
type Descriptor struct {
	Kind    string            `json:"kind"`
	Version string            `json:"version"`
	Params  map[string]string `json:"params,omitempty"`
}

// Loader acquires backends with bounded, jittered retries.
type Loader struct {
	client  *http.Client
	retryer *retry.Retryer
	metrics *metrics.Collector
	log     zerolog.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the HTTP client used for descriptor fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.client = client }
}

// WithRetryer replaces the retry engine, mainly to drop the backoff sleep
// in tests.
func WithRetryer(r *retry.Retryer) Option {
	return func(l *Loader) { l.retryer = r }
}

// WithMetrics attaches a metrics collector for attempt counting. Nil is
// allowed and disables recording.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Loader) { l.metrics = c }
}

// New creates a Loader with the default acquisition retry protocol.
func New(opts ...Option) *Loader {
	log := util.GetLogger("loader")

	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).
			Str("retryInfo", fmt.Sprintf("%d/%d", attempt, cfg.MaxAttempts-1)).
			Dur("backoff", delay).
			Msg("init chdfs impl failed, we will retry again")
	}

	l := &Loader{
		client:  &http.Client{Timeout: 30 * time.Second},
		retryer: retry.New(cfg),
		log:     log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire obtains a usable backend for the mount address, retrying
// transient failures up to the bounded attempt count. The returned error
// after exhaustion wraps the last underlying failure.
func (l *Loader) Acquire(ctx context.Context, addr string, cfg *config.BootstrapConfig) (filesystem.Backend, error) {
	var backend filesystem.Backend

	err := l.retryer.Do(func() error {
		var attemptErr error
		backend, attemptErr = l.acquireOnce(ctx, addr, cfg)
		return attemptErr
	})
	if err != nil {
		l.log.Error().Err(err).Str("addr", addr).Msg("init chdfs impl failed")
		return nil, errors.New(errors.ErrCodeInitFailed, "init chdfs impl failed").WithCause(err)
	}
	return backend, nil
}

// acquireOnce is a single acquisition attempt.
func (l *Loader) acquireOnce(ctx context.Context, addr string, cfg *config.BootstrapConfig) (filesystem.Backend, error) {
	l.metrics.RecordAcquisitionAttempt()

	desc, err := l.fetchDescriptor(ctx, addr, cfg)
	if err != nil {
		// A stale descriptor beats no descriptor: reuse the cached copy when
		// the metadata server cannot be reached.
		cached, cacheErr := l.readCachedDescriptor(addr, cfg.CacheDirPath)
		if cacheErr != nil {
			return nil, err
		}
		l.log.Warn().Err(err).Str("addr", addr).Msg("descriptor fetch failed, using cached descriptor")
		desc = cached
	} else if cacheErr := l.writeCachedDescriptor(addr, cfg.CacheDirPath, desc); cacheErr != nil {
		l.log.Warn().Err(cacheErr).Msg("failed to cache descriptor")
	}

	factory, err := GetFactory(desc.Kind)
	if err != nil {
		e := errors.New(errors.ErrCodeConnectionFailed, err.Error())
		e.Retryable = false
		return nil, e
	}
	return factory(desc, cfg)
}

func (l *Loader) fetchDescriptor(ctx context.Context, addr string, cfg *config.BootstrapConfig) (*Descriptor, error) {
	scheme := "http"
	if cfg.TransferTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d%s?appid=%d", scheme, addr, cfg.ServerPort, descriptorPath, cfg.AppID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		e := errors.New(errors.ErrCodeConnectionFailed, "failed to build descriptor request")
		e.Retryable = false
		return nil, e.WithCause(err)
	}
	req.Header.Set("X-Chdfs-Request-Id", uuid.NewString())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeConnectionFailed,
			"failed to fetch backend descriptor from %s", addr).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := errors.Newf(errors.ErrCodeNetworkError,
			"descriptor fetch from %s returned status %d", addr, resp.StatusCode)
		// Client errors are deterministic; only server-side trouble is
		// worth another attempt.
		e.Retryable = resp.StatusCode >= http.StatusInternalServerError
		return nil, e
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetworkError, "failed to read descriptor response").WithCause(err)
	}

	var desc Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		e := errors.New(errors.ErrCodeNetworkError, "malformed backend descriptor")
		e.Retryable = false
		return nil, e.WithCause(err)
	}
	if desc.Kind == "" {
		e := errors.New(errors.ErrCodeNetworkError, "backend descriptor has no kind")
		e.Retryable = false
		return nil, e
	}
	return &desc, nil
}

func (l *Loader) cachedDescriptorPath(addr, cacheDir string) string {
	return filepath.Join(cacheDir, "descriptor-"+addr+".json")
}

func (l *Loader) readCachedDescriptor(addr, cacheDir string) (*Descriptor, error) {
	data, err := os.ReadFile(l.cachedDescriptorPath(addr, cacheDir))
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	if desc.Kind == "" {
		return nil, fmt.Errorf("cached descriptor has no kind")
	}
	return &desc, nil
}

func (l *Loader) writeCachedDescriptor(addr, cacheDir string, desc *Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return os.WriteFile(l.cachedDescriptorPath(addr, cacheDir), data, 0o644)
}

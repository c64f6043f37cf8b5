package loader

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
	"github.com/iabetor/chdfs-go/internal/metrics"
	"github.com/iabetor/chdfs-go/pkg/errors"
	"github.com/iabetor/chdfs-go/pkg/retry"
)

type fakeBackend struct {
	filesystem.UnimplementedBackend
	kind string
}

func init() {
	Register("fake", func(desc *Descriptor, cfg *config.BootstrapConfig) (filesystem.Backend, error) {
		return &fakeBackend{kind: desc.Kind}, nil
	})
}

func fastLoader(opts ...Option) *Loader {
	l := New(opts...)
	l.retryer = l.retryer.WithSleep(func(time.Duration) {})
	return l
}

// testConfig builds a BootstrapConfig pointing at the given test server.
func testConfig(t *testing.T, serverURL string) (string, *config.BootstrapConfig) {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, &config.BootstrapConfig{
		AppID:        1250000000,
		ServerPort:   port,
		TransferTLS:  false,
		CacheDirPath: t.TempDir(),
	}
}

func TestAcquire_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, descriptorPath, r.URL.Path)
		assert.Equal(t, "1250000000", r.URL.Query().Get("appid"))
		assert.NotEmpty(t, r.Header.Get("X-Chdfs-Request-Id"))
		w.Write([]byte(`{"kind":"fake","version":"1.0"}`))
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	backend, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.NoError(t, err)
	require.IsType(t, &fakeBackend{}, backend)

	// Descriptor lands in the cache dir for later offline fallback.
	cached := New().cachedDescriptorPath(addr, cfg.CacheDirPath)
	_, err = os.Stat(cached)
	assert.NoError(t, err)
}

func TestAcquire_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"kind":"fake"}`))
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	backend, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.NoError(t, err)
	assert.NotNil(t, backend)
	assert.Equal(t, int32(6), hits.Load())
}

func TestAcquire_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	_, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInitFailed), "got %v", err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError), "got %v", err)
	assert.Equal(t, int32(6), hits.Load())
}

func TestAcquire_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	_, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInitFailed), "got %v", err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAcquire_FallsBackToCachedDescriptor(t *testing.T) {
	t.Parallel()

	// Grab a port, then close the server so every fetch fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr, cfg := testConfig(t, server.URL)
	server.Close()

	l := fastLoader()
	require.NoError(t, l.writeCachedDescriptor(addr, cfg.CacheDirPath, &Descriptor{Kind: "fake"}))

	backend, err := l.Acquire(context.Background(), addr, cfg)
	require.NoError(t, err)
	assert.IsType(t, &fakeBackend{}, backend)
}

func TestAcquire_UnknownKind(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"kind":"no-such-backend"}`))
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	_, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-backend")
	assert.Equal(t, int32(1), hits.Load())
}

func TestAcquire_MalformedDescriptor(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	addr, cfg := testConfig(t, server.URL)
	_, err := fastLoader().Acquire(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInitFailed), "got %v", err)
}

func TestAcquire_CountsAttempts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := metrics.NewCollector()
	addr, cfg := testConfig(t, server.URL)
	_, err := fastLoader(WithMetrics(c)).Acquire(context.Background(), addr, cfg)
	require.Error(t, err)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var attempts float64
	for _, f := range families {
		if f.GetName() == "chdfs_adapter_acquisition_attempts_total" {
			attempts = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(6), attempts)
}

func TestGetFactory_Unknown(t *testing.T) {
	t.Parallel()

	_, err := GetFactory("definitely-not-registered")
	assert.Error(t, err)
}

func TestRetryerRespectsConfiguredBounds(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }
	r := retry.New(cfg).WithSleep(func(time.Duration) {})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	addr, bcfg := testConfig(t, server.URL)
	_, err := New(WithRetryer(r)).Acquire(context.Background(), addr, bcfg)
	require.Error(t, err)

	require.Len(t, delays, 5)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 2*time.Second)
	}
}

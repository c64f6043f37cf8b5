package adapter

import (
	"context"
	stderr "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
	"github.com/iabetor/chdfs-go/internal/loader"
	"github.com/iabetor/chdfs-go/internal/metrics"
	"github.com/iabetor/chdfs-go/pkg/errors"
)

const testMountAddr = "f4mabcdefgh-xyzw.chdfs.ap-guangzhou.myqcloud.com"

// stubBackend records forwarded calls and returns scripted results.
type stubBackend struct {
	filesystem.UnimplementedBackend

	mu         sync.Mutex
	workingDir string
	renames    [][2]string
	statErr    error
	deleteErr  error
	closed     bool
	closeErr   error
}

func init() {
	loader.Register("stub", func(*loader.Descriptor, *config.BootstrapConfig) (filesystem.Backend, error) {
		return &stubBackend{workingDir: "/"}, nil
	})
}

func (s *stubBackend) Rename(_ context.Context, src, dst string) (bool, error) {
	s.mu.Lock()
	s.renames = append(s.renames, [2]string{src, dst})
	s.mu.Unlock()
	return true, nil
}

func (s *stubBackend) Stat(_ context.Context, path string) (*filesystem.FileStatus, error) {
	if s.statErr != nil {
		return nil, s.statErr
	}
	return &filesystem.FileStatus{Path: path, IsDirectory: false, Length: 42}, nil
}

func (s *stubBackend) Delete(context.Context, string, bool) (bool, error) {
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	return true, nil
}

func (s *stubBackend) Concat(context.Context, string, []string) error {
	panic("concat exploded")
}

func (s *stubBackend) SupportsSymlinks() bool { return true }

func (s *stubBackend) CanonicalServiceName() string { return "chdfs-stub" }

func (s *stubBackend) HomeDirectory() string { return "/user/stub" }

func (s *stubBackend) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

func (s *stubBackend) SetWorkingDirectory(dir string) {
	s.mu.Lock()
	s.workingDir = dir
	s.mu.Unlock()
}

func (s *stubBackend) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.closeErr
}

// hostRewriteTransport sends every request to the test server regardless of
// the host the loader dialed.
type hostRewriteTransport struct{ host string }

func (t hostRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func newStubLoader(t *testing.T) *loader.Loader {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind":"stub","version":"1.0"}`))
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return loader.New(loader.WithHTTPClient(&http.Client{Transport: hostRewriteTransport{host: u.Host}}))
}

func testSource(t *testing.T) config.MapSource {
	t.Helper()
	return config.MapSource{
		config.KeyUserAppid:       "1250000000",
		config.KeyTmpCacheDir:     t.TempDir(),
		config.KeyMetaTransferTLS: "false",
	}
}

func newReadyAdapter(t *testing.T, opts ...Option) (*Adapter, *stubBackend) {
	t.Helper()

	opts = append([]Option{WithLoader(newStubLoader(t))}, opts...)
	a := New(opts...)
	require.NoError(t, a.Initialize(context.Background(), testMountAddr, testSource(t)))
	require.Equal(t, StateReady, a.State())

	sb, ok := a.backend.(*stubBackend)
	require.True(t, ok)
	return a, sb
}

func TestInitialize_Succeeds(t *testing.T) {
	t.Parallel()

	a, _ := newReadyAdapter(t)

	// The stub exposes no URI of its own, so the adapter synthesizes one
	// from the mount address.
	assert.Equal(t, "ofs://"+testMountAddr, a.URI())
	assert.Equal(t, "/user/stub", a.HomeDirectory())
	assert.Equal(t, "/", a.WorkingDirectory())
	assert.True(t, a.SupportsSymlinks())
	assert.Equal(t, "chdfs-stub", a.CanonicalServiceName())
}

func TestInitialize_InvalidMountAddr(t *testing.T) {
	t.Parallel()

	a := New(WithLoader(newStubLoader(t)))
	err := a.Initialize(context.Background(), "not-a-mount-addr", testSource(t))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidMountAddr), "got %v", err)
	assert.Contains(t, err.Error(), "is invalid")
	assert.Equal(t, StateUninitialized, a.State())
}

func TestInitialize_ConfigFailureShortCircuits(t *testing.T) {
	t.Parallel()

	src := testSource(t)
	delete(src, config.KeyUserAppid)

	a := New(WithLoader(newStubLoader(t)))
	err := a.Initialize(context.Background(), testMountAddr, src)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigMissing), "got %v", err)
	assert.Equal(t, StateUninitialized, a.State())
}

func TestInitialize_SecondCallRejected(t *testing.T) {
	t.Parallel()

	a, _ := newReadyAdapter(t)
	err := a.Initialize(context.Background(), testMountAddr, testSource(t))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInitFailed), "got %v", err)
	assert.Equal(t, StateReady, a.State())
}

func TestOperationsBeforeInitAreRejected(t *testing.T) {
	t.Parallel()

	a := New(WithLoader(newStubLoader(t)))
	ctx := context.Background()

	_, err := a.Rename(ctx, "/a", "/b")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)
	assert.Contains(t, err.Error(), "please init the filesystem first")

	_, err = a.Stat(ctx, "/a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)

	err = a.SetPermission(ctx, "/a", 0o644)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)

	// Infallible queries answer conservatively instead of failing.
	assert.False(t, a.SupportsSymlinks())
	assert.False(t, a.CancelDeleteOnExit(ctx, "/a"))
	assert.Equal(t, "", a.CanonicalServiceName())
}

func TestForwarding(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)
	ctx := context.Background()

	ok, err := a.Rename(ctx, "/src", "/dst")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][2]string{{"/src", "/dst"}}, sb.renames)

	status, err := a.Stat(ctx, "/data/file")
	require.NoError(t, err)
	assert.Equal(t, "/data/file", status.Path)
	assert.Equal(t, int64(42), status.Length)
}

func TestDomainErrorsPassThroughUnchanged(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)

	coded := errors.New(errors.ErrCodeUnsupported, "snapshots disabled").WithOp("stat")
	sb.statErr = coded
	_, err := a.Stat(context.Background(), "/a")
	assert.Same(t, error(coded), err)

	fsErr := &filesystem.Error{Op: "delete", Path: "/a", Err: filesystem.ErrNotExist}
	sb.deleteErr = fsErr
	_, err = a.Delete(context.Background(), "/a", false)
	assert.Same(t, error(fsErr), err)
	assert.True(t, stderr.Is(err, filesystem.ErrNotExist))
}

func TestUnrecognizedErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)
	sb.statErr = stderr.New("socket closed unexpectedly")

	_, err := a.Stat(context.Background(), "/a")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnexpected), "got %v", err)
	assert.Contains(t, err.Error(), "getFileStatus failed! a unexpected exception occur!")
	assert.True(t, stderr.Is(err, sb.statErr))
}

func TestPanicsAreRecovered(t *testing.T) {
	t.Parallel()

	a, _ := newReadyAdapter(t)

	err := a.Concat(context.Background(), "/target", []string{"/a", "/b"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnexpected), "got %v", err)
	assert.Contains(t, err.Error(), "concat failed! a unexpected exception occur!")
	assert.Contains(t, err.Error(), "concat exploded")
}

func TestSetWorkingDirectoryBeforeInit(t *testing.T) {
	t.Parallel()

	a := New(WithLoader(newStubLoader(t)))
	a.SetWorkingDirectory("/jobs/run-1")
	assert.Equal(t, "/jobs/run-1", a.WorkingDirectory())

	require.NoError(t, a.Initialize(context.Background(), testMountAddr, testSource(t)))

	// The locally stored directory wins and is pushed down to the backend.
	sb := a.backend.(*stubBackend)
	assert.Equal(t, "/jobs/run-1", a.WorkingDirectory())
	assert.Equal(t, "/jobs/run-1", sb.WorkingDirectory())
}

func TestSetWorkingDirectoryAfterInit(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)
	a.SetWorkingDirectory("/tmp/work")
	assert.Equal(t, "/tmp/work", a.WorkingDirectory())
	assert.Equal(t, "/tmp/work", sb.WorkingDirectory())
}

func TestClose(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)
	require.NoError(t, a.Close())
	assert.Equal(t, StateClosed, a.State())
	assert.True(t, sb.closed)

	// Closed is not ready: forwarded calls and a second Close are rejected.
	_, err := a.Stat(context.Background(), "/a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)

	err = a.Close()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)
}

func TestCloseBeforeInit(t *testing.T) {
	t.Parallel()

	a := New(WithLoader(newStubLoader(t)))
	err := a.Close()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized), "got %v", err)
	assert.Equal(t, StateUninitialized, a.State())
}

func TestCloseWrapsBackendFailure(t *testing.T) {
	t.Parallel()

	a, sb := newReadyAdapter(t)
	sb.closeErr = stderr.New("flush failed")

	err := a.Close()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnexpected), "got %v", err)
	assert.Equal(t, StateClosed, a.State())
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()

	c := metrics.NewCollector()
	a, sb := newReadyAdapter(t, WithMetrics(c))

	_, err := a.Rename(context.Background(), "/a", "/b")
	require.NoError(t, err)

	sb.statErr = stderr.New("boom")
	_, err = a.Stat(context.Background(), "/a")
	require.Error(t, err)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	var ops, errs float64
	for _, f := range families {
		switch f.GetName() {
		case "chdfs_adapter_operations_total":
			for _, m := range f.GetMetric() {
				ops += m.GetCounter().GetValue()
			}
		case "chdfs_adapter_operation_errors_total":
			for _, m := range f.GetMetric() {
				errs += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), ops)
	assert.Equal(t, float64(1), errs)
}

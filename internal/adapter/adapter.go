// Package adapter implements the delegating filesystem façade. The adapter
// owns no storage logic: Initialize validates the mount address, resolves
// bootstrap configuration, provisions the shared cache directory, and
// acquires a backend through the retrying loader; afterward every operation
// is forwarded to the backend with a uniform state check and error
// normalization applied in exactly one place.
package adapter

import (
	"context"
	stderr "errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/iabetor/chdfs-go/internal/cachedir"
	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
	"github.com/iabetor/chdfs-go/internal/identity"
	"github.com/iabetor/chdfs-go/internal/loader"
	"github.com/iabetor/chdfs-go/internal/metrics"
	"github.com/iabetor/chdfs-go/internal/util"
	"github.com/iabetor/chdfs-go/pkg/errors"
)

// Scheme is the URI scheme served by this adapter.
const Scheme = "ofs"

// State is the adapter lifecycle state. Transitions only move forward:
// Uninitialized -> Initializing -> Ready -> Closed, with a failed
// initialize falling back to Uninitialized.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Adapter is the delegating façade. A single instance serves one mount for
// its lifetime; it must not be reused after Close or a failed Initialize.
type Adapter struct {
	state   atomic.Int32
	backend filesystem.Backend

	loader  *loader.Loader
	metrics *metrics.Collector
	log     zerolog.Logger

	// Accessor cache, answerable without a backend.
	mu         sync.Mutex
	uri        string
	workingDir string
	homeDir    string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLoader replaces the backend loader.
func WithLoader(l *loader.Loader) Option {
	return func(a *Adapter) { a.loader = l }
}

// WithMetrics attaches a metrics collector. Nil is allowed and disables
// recording.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Adapter) { a.metrics = c }
}

// New creates an uninitialized Adapter. Unless a loader is supplied, the
// default one shares the adapter's metrics collector.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		log: util.GetLogger("adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.loader == nil {
		a.loader = loader.New(loader.WithMetrics(a.metrics))
	}
	return a
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Initialize bootstraps the adapter for the given mount address:
// address validation, config resolution, cache-directory provisioning, and
// backend acquisition, in that order, short-circuiting on the first
// failure. Only acquisition retries; validation and configuration failures
// are deterministic and surface immediately. A failed Initialize returns
// the adapter to Uninitialized, but partial progress is not rolled back and
// the instance should be discarded.
func (a *Adapter) Initialize(ctx context.Context, addr string, src config.Source) error {
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return errors.Newf(errors.ErrCodeInitFailed,
			"initialize called in state %s", a.State())
	}

	start := time.Now()
	err := a.initialize(ctx, addr, src)
	if err != nil {
		a.state.Store(int32(StateUninitialized))
		a.log.Error().Err(err).Str("addr", addr).Msg("initialize failed")
		return err
	}

	a.state.Store(int32(StateReady))
	a.metrics.ObserveInitDuration(time.Since(start))
	a.log.Debug().Dur("elapsed", time.Since(start)).Str("addr", addr).Msg("filesystem initialized")
	return nil
}

func (a *Adapter) initialize(ctx context.Context, addr string, src config.Source) error {
	if !IsValidMountPointAddr(addr) {
		return errors.Newf(errors.ErrCodeInvalidMountAddr,
			"mountPointAddr %s is invalid, exp. f4mabcdefgh-xyzw.chdfs.ap-guangzhou.myqcloud.com", addr)
	}

	cfg, err := config.Resolve(src)
	if err != nil {
		return err
	}

	if _, err := identity.Ensure(cfg.AppID); err != nil {
		return errors.New(errors.ErrCodeInitFailed, "failed to init process identity").WithCause(err)
	}

	if _, err := cachedir.Provision(cfg.CacheDirPath); err != nil {
		return err
	}

	backend, err := a.loader.Acquire(ctx, addr, cfg)
	if err != nil {
		return err
	}
	if backend == nil {
		// should never reach here
		return errors.New(errors.ErrCodeInitFailed, "impl filesystem is nil")
	}

	a.backend = backend

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uri = backend.URI()
	if a.uri == "" {
		a.uri = Scheme + "://" + addr
	}
	a.homeDir = backend.HomeDirectory()
	if a.workingDir != "" {
		// A working directory set before init wins; push it down.
		backend.SetWorkingDirectory(a.workingDir)
	} else {
		a.workingDir = backend.WorkingDirectory()
	}
	return nil
}

// invoke is the single interception point for every forwarded operation:
// state precondition, delegation, error normalization, metrics. Forwarded
// operations never retry here; retries belong to acquisition alone.
func (a *Adapter) invoke(op string, fn func(filesystem.Backend) error) (err error) {
	if a.State() != StateReady {
		return errors.New(errors.ErrCodeNotInitialized, "please init the filesystem first").WithOp(op)
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("op", op).Msg("a unexpected exception occur")
			err = errors.Newf(errors.ErrCodeUnexpected,
				"%s failed! a unexpected exception occur! %v", op, r).WithOp(op)
		}
		a.metrics.RecordOperation(op, err != nil)
	}()

	if err = fn(a.backend); err != nil {
		err = a.normalize(op, err)
	}
	return err
}

// normalize passes domain-recognized errors through unchanged and wraps
// everything else with the operation name so no backend failure escapes
// untranslated.
func (a *Adapter) normalize(op string, err error) error {
	var coded *errors.Error
	if stderr.As(err, &coded) {
		return err
	}
	var fsErr *filesystem.Error
	if stderr.As(err, &fsErr) {
		return err
	}
	a.log.Error().Err(err).Str("op", op).Msg("a unexpected exception occur")
	return errors.Newf(errors.ErrCodeUnexpected,
		"%s failed! a unexpected exception occur! %s", op, err.Error()).WithOp(op).WithCause(err)
}

// forward adapts invoke for operations that return a value.
func forward[T any](a *Adapter, op string, fn func(filesystem.Backend) (T, error)) (T, error) {
	var out T
	err := a.invoke(op, func(b filesystem.Backend) error {
		var innerErr error
		out, innerErr = fn(b)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// File operations

func (a *Adapter) Open(ctx context.Context, path string) (filesystem.File, error) {
	return forward(a, "open", func(b filesystem.Backend) (filesystem.File, error) {
		return b.Open(ctx, path)
	})
}

func (a *Adapter) Create(ctx context.Context, path string, opts filesystem.CreateOptions) (filesystem.File, error) {
	return forward(a, "create", func(b filesystem.Backend) (filesystem.File, error) {
		return b.Create(ctx, path, opts)
	})
}

func (a *Adapter) CreateNonRecursive(ctx context.Context, path string, opts filesystem.CreateOptions) (filesystem.File, error) {
	return forward(a, "createNonRecursive", func(b filesystem.Backend) (filesystem.File, error) {
		return b.CreateNonRecursive(ctx, path, opts)
	})
}

func (a *Adapter) Append(ctx context.Context, path string) (filesystem.File, error) {
	return forward(a, "append", func(b filesystem.Backend) (filesystem.File, error) {
		return b.Append(ctx, path)
	})
}

func (a *Adapter) Truncate(ctx context.Context, path string, newLength int64) (bool, error) {
	return forward(a, "truncate", func(b filesystem.Backend) (bool, error) {
		return b.Truncate(ctx, path, newLength)
	})
}

func (a *Adapter) Concat(ctx context.Context, target string, sources []string) error {
	return a.invoke("concat", func(b filesystem.Backend) error {
		return b.Concat(ctx, target, sources)
	})
}

// Namespace operations

func (a *Adapter) Rename(ctx context.Context, src, dst string) (bool, error) {
	return forward(a, "rename", func(b filesystem.Backend) (bool, error) {
		return b.Rename(ctx, src, dst)
	})
}

func (a *Adapter) Delete(ctx context.Context, path string, recursive bool) (bool, error) {
	return forward(a, "delete", func(b filesystem.Backend) (bool, error) {
		return b.Delete(ctx, path, recursive)
	})
}

func (a *Adapter) DeleteOnExit(ctx context.Context, path string) (bool, error) {
	return forward(a, "deleteOnExit", func(b filesystem.Backend) (bool, error) {
		return b.DeleteOnExit(ctx, path)
	})
}

// CancelDeleteOnExit is a best-effort query; before init there is nothing
// scheduled, so it conservatively answers false instead of failing.
func (a *Adapter) CancelDeleteOnExit(ctx context.Context, path string) bool {
	if a.State() != StateReady {
		return false
	}
	return a.backend.CancelDeleteOnExit(ctx, path)
}

func (a *Adapter) Mkdirs(ctx context.Context, path string, perm os.FileMode) (bool, error) {
	return forward(a, "mkdirs", func(b filesystem.Backend) (bool, error) {
		return b.Mkdirs(ctx, path, perm)
	})
}

// Metadata operations

func (a *Adapter) ListStatus(ctx context.Context, path string) ([]filesystem.FileStatus, error) {
	return forward(a, "listStatus", func(b filesystem.Backend) ([]filesystem.FileStatus, error) {
		return b.ListStatus(ctx, path)
	})
}

func (a *Adapter) Stat(ctx context.Context, path string) (*filesystem.FileStatus, error) {
	return forward(a, "getFileStatus", func(b filesystem.Backend) (*filesystem.FileStatus, error) {
		return b.Stat(ctx, path)
	})
}

func (a *Adapter) GetFileChecksum(ctx context.Context, path string, length int64) (*filesystem.FileChecksum, error) {
	return forward(a, "getFileChecksum", func(b filesystem.Backend) (*filesystem.FileChecksum, error) {
		return b.GetFileChecksum(ctx, path, length)
	})
}

func (a *Adapter) GetContentSummary(ctx context.Context, path string) (*filesystem.ContentSummary, error) {
	return forward(a, "getContentSummary", func(b filesystem.Backend) (*filesystem.ContentSummary, error) {
		return b.GetContentSummary(ctx, path)
	})
}

func (a *Adapter) SetPermission(ctx context.Context, path string, perm os.FileMode) error {
	return a.invoke("setPermission", func(b filesystem.Backend) error {
		return b.SetPermission(ctx, path, perm)
	})
}

func (a *Adapter) SetOwner(ctx context.Context, path, owner, group string) error {
	return a.invoke("setOwner", func(b filesystem.Backend) error {
		return b.SetOwner(ctx, path, owner, group)
	})
}

func (a *Adapter) SetTimes(ctx context.Context, path string, mtime, atime time.Time) error {
	return a.invoke("setTimes", func(b filesystem.Backend) error {
		return b.SetTimes(ctx, path, mtime, atime)
	})
}

// Extended attributes

func (a *Adapter) SetXAttr(ctx context.Context, path, name string, value []byte, flags filesystem.XAttrSetFlag) error {
	return a.invoke("setXAttr", func(b filesystem.Backend) error {
		return b.SetXAttr(ctx, path, name, value, flags)
	})
}

func (a *Adapter) GetXAttr(ctx context.Context, path, name string) ([]byte, error) {
	return forward(a, "getXAttr", func(b filesystem.Backend) ([]byte, error) {
		return b.GetXAttr(ctx, path, name)
	})
}

func (a *Adapter) GetXAttrs(ctx context.Context, path string, names []string) (map[string][]byte, error) {
	return forward(a, "getXAttrs", func(b filesystem.Backend) (map[string][]byte, error) {
		return b.GetXAttrs(ctx, path, names)
	})
}

func (a *Adapter) ListXAttrs(ctx context.Context, path string) ([]string, error) {
	return forward(a, "listXAttrs", func(b filesystem.Backend) ([]string, error) {
		return b.ListXAttrs(ctx, path)
	})
}

func (a *Adapter) RemoveXAttr(ctx context.Context, path, name string) error {
	return a.invoke("removeXAttr", func(b filesystem.Backend) error {
		return b.RemoveXAttr(ctx, path, name)
	})
}

// ACL operations, pure pass-through

func (a *Adapter) ModifyAclEntries(ctx context.Context, path string, acl []filesystem.AclEntry) error {
	return a.invoke("modifyAclEntries", func(b filesystem.Backend) error {
		return b.ModifyAclEntries(ctx, path, acl)
	})
}

func (a *Adapter) RemoveAclEntries(ctx context.Context, path string, acl []filesystem.AclEntry) error {
	return a.invoke("removeAclEntries", func(b filesystem.Backend) error {
		return b.RemoveAclEntries(ctx, path, acl)
	})
}

func (a *Adapter) RemoveDefaultAcl(ctx context.Context, path string) error {
	return a.invoke("removeDefaultAcl", func(b filesystem.Backend) error {
		return b.RemoveDefaultAcl(ctx, path)
	})
}

func (a *Adapter) RemoveAcl(ctx context.Context, path string) error {
	return a.invoke("removeAcl", func(b filesystem.Backend) error {
		return b.RemoveAcl(ctx, path)
	})
}

func (a *Adapter) SetAcl(ctx context.Context, path string, acl []filesystem.AclEntry) error {
	return a.invoke("setAcl", func(b filesystem.Backend) error {
		return b.SetAcl(ctx, path, acl)
	})
}

func (a *Adapter) GetAclStatus(ctx context.Context, path string) (*filesystem.AclStatus, error) {
	return forward(a, "getAclStatus", func(b filesystem.Backend) (*filesystem.AclStatus, error) {
		return b.GetAclStatus(ctx, path)
	})
}

// Snapshots

func (a *Adapter) CreateSnapshot(ctx context.Context, path, name string) (string, error) {
	return forward(a, "createSnapshot", func(b filesystem.Backend) (string, error) {
		return b.CreateSnapshot(ctx, path, name)
	})
}

func (a *Adapter) RenameSnapshot(ctx context.Context, path, oldName, newName string) error {
	return a.invoke("renameSnapshot", func(b filesystem.Backend) error {
		return b.RenameSnapshot(ctx, path, oldName, newName)
	})
}

func (a *Adapter) DeleteSnapshot(ctx context.Context, path, name string) error {
	return a.invoke("deleteSnapshot", func(b filesystem.Backend) error {
		return b.DeleteSnapshot(ctx, path, name)
	})
}

// Symlinks

func (a *Adapter) CreateSymlink(ctx context.Context, target, link string, createParent bool) error {
	return a.invoke("createSymlink", func(b filesystem.Backend) error {
		return b.CreateSymlink(ctx, target, link, createParent)
	})
}

func (a *Adapter) GetLinkTarget(ctx context.Context, path string) (string, error) {
	return forward(a, "getLinkTarget", func(b filesystem.Backend) (string, error) {
		return b.GetLinkTarget(ctx, path)
	})
}

// SupportsSymlinks is callable before init; the conservative answer is no.
func (a *Adapter) SupportsSymlinks() bool {
	if a.State() != StateReady {
		return false
	}
	return a.backend.SupportsSymlinks()
}

// Security / bookkeeping

func (a *Adapter) GetDelegationToken(ctx context.Context, renewer string) (*filesystem.DelegationToken, error) {
	return forward(a, "getDelegationToken", func(b filesystem.Backend) (*filesystem.DelegationToken, error) {
		return b.GetDelegationToken(ctx, renewer)
	})
}

// CanonicalServiceName is callable before init and answers empty.
func (a *Adapter) CanonicalServiceName() string {
	if a.State() != StateReady {
		return ""
	}
	return a.backend.CanonicalServiceName()
}

func (a *Adapter) ReleaseFileLock(ctx context.Context, path string) error {
	return a.invoke("releaseFileLock", func(b filesystem.Backend) error {
		return b.ReleaseFileLock(ctx, path)
	})
}

// Mount accessors. These answer from the local cache populated at
// initialization and stay usable without a backend.

func (a *Adapter) URI() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uri
}

func (a *Adapter) WorkingDirectory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workingDir
}

// SetWorkingDirectory stores the directory locally and forwards it to the
// backend only once there is one.
func (a *Adapter) SetWorkingDirectory(dir string) {
	a.mu.Lock()
	a.workingDir = dir
	a.mu.Unlock()

	if a.State() != StateReady {
		a.log.Warn().Str("dir", dir).Msg("fileSystem is not init yet")
		return
	}
	a.backend.SetWorkingDirectory(dir)
}

func (a *Adapter) HomeDirectory() string {
	a.mu.Lock()
	home := a.homeDir
	a.mu.Unlock()
	if home != "" {
		return home
	}
	if id := identity.Current(); id != nil {
		return "/user/" + id.UserName
	}
	return "/"
}

// Close tears the adapter down and forwards shutdown to the backend. The
// instance transitions to Closed even when the backend shutdown fails; the
// failure is still reported, but the adapter must not be reused.
func (a *Adapter) Close() error {
	if !a.state.CompareAndSwap(int32(StateReady), int32(StateClosed)) {
		return errors.New(errors.ErrCodeNotInitialized, "please init the filesystem first").WithOp("close")
	}

	start := time.Now()
	err := a.backend.Close()
	a.log.Debug().Dur("elapsed", time.Since(start)).Msg("filesystem closed")
	if err != nil {
		return a.normalize("close", err)
	}
	return nil
}

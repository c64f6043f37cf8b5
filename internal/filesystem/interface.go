// Package filesystem defines the capability set a backend must expose to be
// driven by the delegating adapter. The adapter owns exactly one Backend for
// its lifetime and forwards every operation to it unchanged; the backend is
// responsible for its own thread-safety under concurrent forwarded calls.
package filesystem

import (
	"context"
	"io"
	"os"
	"time"
)

// Backend is the opaque handle acquired at runtime. Every method may fail;
// failures of type *Error (or wrapping one) pass through the adapter
// untranslated, anything else is wrapped with the operation name.
type Backend interface {
	// File operations
	Open(ctx context.Context, path string) (File, error)
	Create(ctx context.Context, path string, opts CreateOptions) (File, error)
	CreateNonRecursive(ctx context.Context, path string, opts CreateOptions) (File, error)
	Append(ctx context.Context, path string) (File, error)
	Truncate(ctx context.Context, path string, newLength int64) (bool, error)
	Concat(ctx context.Context, target string, sources []string) error

	// Namespace operations
	Rename(ctx context.Context, src, dst string) (bool, error)
	Delete(ctx context.Context, path string, recursive bool) (bool, error)
	DeleteOnExit(ctx context.Context, path string) (bool, error)
	CancelDeleteOnExit(ctx context.Context, path string) bool
	Mkdirs(ctx context.Context, path string, perm os.FileMode) (bool, error)

	// Metadata operations
	ListStatus(ctx context.Context, path string) ([]FileStatus, error)
	Stat(ctx context.Context, path string) (*FileStatus, error)
	GetFileChecksum(ctx context.Context, path string, length int64) (*FileChecksum, error)
	GetContentSummary(ctx context.Context, path string) (*ContentSummary, error)
	SetPermission(ctx context.Context, path string, perm os.FileMode) error
	SetOwner(ctx context.Context, path, owner, group string) error
	SetTimes(ctx context.Context, path string, mtime, atime time.Time) error

	// Extended attributes
	SetXAttr(ctx context.Context, path, name string, value []byte, flags XAttrSetFlag) error
	GetXAttr(ctx context.Context, path, name string) ([]byte, error)
	GetXAttrs(ctx context.Context, path string, names []string) (map[string][]byte, error)
	ListXAttrs(ctx context.Context, path string) ([]string, error)
	RemoveXAttr(ctx context.Context, path, name string) error

	// ACLs (pass-through; semantics belong to the backend)
	ModifyAclEntries(ctx context.Context, path string, acl []AclEntry) error
	RemoveAclEntries(ctx context.Context, path string, acl []AclEntry) error
	RemoveDefaultAcl(ctx context.Context, path string) error
	RemoveAcl(ctx context.Context, path string) error
	SetAcl(ctx context.Context, path string, acl []AclEntry) error
	GetAclStatus(ctx context.Context, path string) (*AclStatus, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, path, name string) (string, error)
	RenameSnapshot(ctx context.Context, path, oldName, newName string) error
	DeleteSnapshot(ctx context.Context, path, name string) error

	// Symlinks
	CreateSymlink(ctx context.Context, target, link string, createParent bool) error
	GetLinkTarget(ctx context.Context, path string) (string, error)
	SupportsSymlinks() bool

	// Security / bookkeeping
	GetDelegationToken(ctx context.Context, renewer string) (*DelegationToken, error)
	CanonicalServiceName() string
	ReleaseFileLock(ctx context.Context, path string) error

	// Mount accessors
	URI() string
	HomeDirectory() string
	WorkingDirectory() string
	SetWorkingDirectory(dir string)

	// Close shuts the backend down. The handle must not be used afterward.
	Close() error
}

// File is an open handle returned by Open/Create/Append.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	Path() string
}

// CreateOptions carries the knobs for file creation.
type CreateOptions struct {
	Permission  os.FileMode
	Overwrite   bool
	BufferSize  int
	Replication int16
	BlockSize   int64
}

// FileStatus describes a single file or directory.
type FileStatus struct {
	Path        string
	Length      int64
	IsDirectory bool
	Permission  os.FileMode
	Owner       string
	Group       string
	ModTime     time.Time
	AccessTime  time.Time
	Replication int16
	BlockSize   int64
	Symlink     string
}

// FileChecksum is an opaque backend-defined checksum.
type FileChecksum struct {
	Algorithm string
	Length    int
	Bytes     []byte
}

// ContentSummary aggregates usage under a directory tree.
type ContentSummary struct {
	Length         int64
	FileCount      int64
	DirectoryCount int64
	Quota          int64
	SpaceConsumed  int64
	SpaceQuota     int64
}

// AclEntryType distinguishes the principal class of an ACL entry.
type AclEntryType string

const (
	AclUser  AclEntryType = "user"
	AclGroup AclEntryType = "group"
	AclMask  AclEntryType = "mask"
	AclOther AclEntryType = "other"
)

// AclEntry is one access-control entry.
type AclEntry struct {
	Type       AclEntryType
	Name       string
	Permission os.FileMode
	Default    bool
}

// AclStatus is the full ACL state of a path.
type AclStatus struct {
	Owner      string
	Group      string
	StickyBit  bool
	Entries    []AclEntry
	Permission os.FileMode
}

// XAttrSetFlag controls create/replace behavior of SetXAttr.
type XAttrSetFlag uint8

const (
	XAttrCreate XAttrSetFlag = 1 << iota
	XAttrReplace
)

// DelegationToken is an opaque credential issued by the backend.
type DelegationToken struct {
	Kind     string
	Service  string
	Renewer  string
	Identity []byte
	Password []byte
}

// Error is the domain error type for backend operations. The adapter
// recognizes it and propagates it unchanged.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Common sentinel causes.
var (
	ErrNotExist   = os.ErrNotExist
	ErrExist      = os.ErrExist
	ErrPermission = os.ErrPermission
	ErrInvalid    = os.ErrInvalid
)

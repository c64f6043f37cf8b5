package filesystem

import (
	"context"
	"os"
	"time"

	"github.com/iabetor/chdfs-go/pkg/errors"
)

// UnimplementedBackend is an embeddable Backend base whose every capability
// fails with an UNSUPPORTED error naming the operation. Concrete backends
// embed it and override what they actually implement, so partial backends
// keep satisfying the interface as it grows.
type UnimplementedBackend struct{}

func unsupported(op string) *errors.Error {
	return errors.Newf(errors.ErrCodeUnsupported, "operation %s is not supported by this backend", op).WithOp(op)
}

func (UnimplementedBackend) Open(context.Context, string) (File, error) {
	return nil, unsupported("open")
}

func (UnimplementedBackend) Create(context.Context, string, CreateOptions) (File, error) {
	return nil, unsupported("create")
}

func (UnimplementedBackend) CreateNonRecursive(context.Context, string, CreateOptions) (File, error) {
	return nil, unsupported("createNonRecursive")
}

func (UnimplementedBackend) Append(context.Context, string) (File, error) {
	return nil, unsupported("append")
}

func (UnimplementedBackend) Truncate(context.Context, string, int64) (bool, error) {
	return false, unsupported("truncate")
}

func (UnimplementedBackend) Concat(context.Context, string, []string) error {
	return unsupported("concat")
}

func (UnimplementedBackend) Rename(context.Context, string, string) (bool, error) {
	return false, unsupported("rename")
}

func (UnimplementedBackend) Delete(context.Context, string, bool) (bool, error) {
	return false, unsupported("delete")
}

func (UnimplementedBackend) DeleteOnExit(context.Context, string) (bool, error) {
	return false, unsupported("deleteOnExit")
}

func (UnimplementedBackend) CancelDeleteOnExit(context.Context, string) bool {
	return false
}

func (UnimplementedBackend) Mkdirs(context.Context, string, os.FileMode) (bool, error) {
	return false, unsupported("mkdirs")
}

func (UnimplementedBackend) ListStatus(context.Context, string) ([]FileStatus, error) {
	return nil, unsupported("listStatus")
}

func (UnimplementedBackend) Stat(context.Context, string) (*FileStatus, error) {
	return nil, unsupported("stat")
}

func (UnimplementedBackend) GetFileChecksum(context.Context, string, int64) (*FileChecksum, error) {
	return nil, unsupported("getFileChecksum")
}

func (UnimplementedBackend) GetContentSummary(context.Context, string) (*ContentSummary, error) {
	return nil, unsupported("getContentSummary")
}

func (UnimplementedBackend) SetPermission(context.Context, string, os.FileMode) error {
	return unsupported("setPermission")
}

func (UnimplementedBackend) SetOwner(context.Context, string, string, string) error {
	return unsupported("setOwner")
}

func (UnimplementedBackend) SetTimes(context.Context, string, time.Time, time.Time) error {
	return unsupported("setTimes")
}

func (UnimplementedBackend) SetXAttr(context.Context, string, string, []byte, XAttrSetFlag) error {
	return unsupported("setXAttr")
}

func (UnimplementedBackend) GetXAttr(context.Context, string, string) ([]byte, error) {
	return nil, unsupported("getXAttr")
}

func (UnimplementedBackend) GetXAttrs(context.Context, string, []string) (map[string][]byte, error) {
	return nil, unsupported("getXAttrs")
}

func (UnimplementedBackend) ListXAttrs(context.Context, string) ([]string, error) {
	return nil, unsupported("listXAttrs")
}

func (UnimplementedBackend) RemoveXAttr(context.Context, string, string) error {
	return unsupported("removeXAttr")
}

func (UnimplementedBackend) ModifyAclEntries(context.Context, string, []AclEntry) error {
	return unsupported("modifyAclEntries")
}

func (UnimplementedBackend) RemoveAclEntries(context.Context, string, []AclEntry) error {
	return unsupported("removeAclEntries")
}

func (UnimplementedBackend) RemoveDefaultAcl(context.Context, string) error {
	return unsupported("removeDefaultAcl")
}

func (UnimplementedBackend) RemoveAcl(context.Context, string) error {
	return unsupported("removeAcl")
}

func (UnimplementedBackend) SetAcl(context.Context, string, []AclEntry) error {
	return unsupported("setAcl")
}

func (UnimplementedBackend) GetAclStatus(context.Context, string) (*AclStatus, error) {
	return nil, unsupported("getAclStatus")
}

func (UnimplementedBackend) CreateSnapshot(context.Context, string, string) (string, error) {
	return "", unsupported("createSnapshot")
}

func (UnimplementedBackend) RenameSnapshot(context.Context, string, string, string) error {
	return unsupported("renameSnapshot")
}

func (UnimplementedBackend) DeleteSnapshot(context.Context, string, string) error {
	return unsupported("deleteSnapshot")
}

func (UnimplementedBackend) CreateSymlink(context.Context, string, string, bool) error {
	return unsupported("createSymlink")
}

func (UnimplementedBackend) GetLinkTarget(context.Context, string) (string, error) {
	return "", unsupported("getLinkTarget")
}

func (UnimplementedBackend) SupportsSymlinks() bool {
	return false
}

func (UnimplementedBackend) GetDelegationToken(context.Context, string) (*DelegationToken, error) {
	return nil, unsupported("getDelegationToken")
}

func (UnimplementedBackend) CanonicalServiceName() string {
	return ""
}

func (UnimplementedBackend) ReleaseFileLock(context.Context, string) error {
	return unsupported("releaseFileLock")
}

func (UnimplementedBackend) URI() string { return "" }

func (UnimplementedBackend) HomeDirectory() string { return "/" }

func (UnimplementedBackend) WorkingDirectory() string { return "/" }

func (UnimplementedBackend) SetWorkingDirectory(string) {}

func (UnimplementedBackend) Close() error { return nil }

// Package cachedir provisions the shared local cache directory the backend
// loader stores its artifacts in.
package cachedir

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/iabetor/chdfs-go/pkg/errors"
)

// Dir represents a provisioned cache directory.
type Dir struct {
	Path string
}

// Provision ensures path exists, is a directory, and is readable and
// writable by this process.
//
// The cache path is shared: many independent processes on the same host may
// provision it at the same time, so a failed create is only fatal if the
// directory still does not exist afterward. A freshly created directory is
// opened up to all principals, since sibling processes under other accounts
// use the same path.
func Provision(path string) (*Dir, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		mkErr := os.MkdirAll(path, 0o777)
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, errors.Newf(errors.ErrCodeCacheDirCreate,
				"mkdir for chdfs tmp dir %s failed", path).WithPath(path).WithCause(mkErr)
		}
		if mkErr == nil {
			// MkdirAll honors the umask; force the shared-mode bits.
			if err := os.Chmod(path, 0o777); err != nil {
				return nil, errors.Newf(errors.ErrCodeCacheDirCreate,
					"chmod for chdfs tmp dir %s failed", path).WithPath(path).WithCause(err)
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeCacheDirCreate,
			"stat for chdfs tmp dir %s failed", path).WithPath(path).WithCause(err)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeCacheDirNotDirectory,
			"chdfs tmp dir %s is invalid directory", path).WithPath(path)
	}

	if err := unix.Access(path, unix.R_OK); err != nil {
		return nil, errors.Newf(errors.ErrCodeCacheDirNotReadable,
			"chdfs tmp dir %s is not readable", path).WithPath(path).WithCause(err)
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return nil, errors.Newf(errors.ErrCodeCacheDirNotWritable,
			"chdfs tmp dir %s is not writable", path).WithPath(path).WithCause(err)
	}

	return &Dir{Path: path}, nil
}

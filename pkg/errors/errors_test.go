package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeConfigMissing, "config for fs.ofs.tmp.cache.dir is missing")
	assert.Equal(t, ErrCodeConfigMissing, err.Code)
	assert.Equal(t, CategoryConfiguration, err.Category)
	assert.False(t, err.Retryable)
	assert.False(t, err.Timestamp.IsZero())
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "bare",
			err:  New(ErrCodeNotInitialized, "please init the filesystem first"),
			want: "NOT_INITIALIZED: please init the filesystem first",
		},
		{
			name: "with op",
			err:  New(ErrCodeUnexpected, "boom").WithOp("rename"),
			want: "[rename] UNEXPECTED: boom",
		},
		{
			name: "with path",
			err:  New(ErrCodeCacheDirNotWritable, "not writable").WithPath("/data/chdfs/tmp"),
			want: "CACHE_DIR_NOT_WRITABLE: not writable (path: /data/chdfs/tmp)",
		},
		{
			name: "with cause",
			err:  New(ErrCodeInitFailed, "init chdfs impl failed").WithCause(fmt.Errorf("dial tcp: refused")),
			want: "INIT_FAILED: init chdfs impl failed: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidMountAddr, CategoryValidation},
		{ErrCodeConfigInvalidNumber, CategoryConfiguration},
		{ErrCodeConfigMissing, CategoryConfiguration},
		{ErrCodeConfigNotAbsolute, CategoryConfiguration},
		{ErrCodeCacheDirCreate, CategoryCacheDir},
		{ErrCodeCacheDirNotDirectory, CategoryCacheDir},
		{ErrCodeInitFailed, CategoryLifecycle},
		{ErrCodeNotInitialized, CategoryLifecycle},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeNetworkError, CategoryConnection},
		{ErrCodeOperationTimeout, CategoryConnection},
		{ErrCodeUnexpected, CategoryBackend},
		{ErrCodeUnsupported, CategoryBackend},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GetCategory(tt.code), "code %s", tt.code)
	}
}

func TestRetryableByDefault(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryableByDefault(ErrCodeConnectionFailed))
	assert.True(t, IsRetryableByDefault(ErrCodeNetworkError))
	assert.True(t, IsRetryableByDefault(ErrCodeOperationTimeout))

	assert.False(t, IsRetryableByDefault(ErrCodeInvalidMountAddr))
	assert.False(t, IsRetryableByDefault(ErrCodeConfigMissing))
	assert.False(t, IsRetryableByDefault(ErrCodeNotInitialized))
	assert.False(t, IsRetryableByDefault(ErrCodeUnexpected))
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()

	root := fmt.Errorf("connection reset")
	mid := New(ErrCodeConnectionFailed, "fetch descriptor failed").WithCause(root)
	top := New(ErrCodeInitFailed, "init chdfs impl failed").WithCause(mid)

	require.ErrorIs(t, top, mid)
	assert.True(t, stderrors.Is(top, root))

	var coded *Error
	require.True(t, stderrors.As(top, &coded))
	assert.Equal(t, ErrCodeInitFailed, coded.Code)
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	inner := New(ErrCodeNetworkError, "timeout")
	outer := New(ErrCodeInitFailed, "init failed").WithCause(inner)

	assert.True(t, IsCode(outer, ErrCodeInitFailed))
	assert.True(t, IsCode(outer, ErrCodeNetworkError))
	assert.False(t, IsCode(outer, ErrCodeConfigMissing))
	assert.False(t, IsCode(nil, ErrCodeInitFailed))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrCodeInitFailed))
}

package s3

import (
	"bytes"
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iabetor/chdfs-go/internal/filesystem"
)

// readHandle serves reads from a local copy of the object.
type readHandle struct {
	path string
	r    *bytes.Reader

	mu     sync.Mutex
	closed bool
}

func (h *readHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, &filesystem.Error{Op: "read", Path: h.path, Err: filesystem.ErrInvalid}
	}
	return h.r.Read(p)
}

func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, &filesystem.Error{Op: "seek", Path: h.path, Err: filesystem.ErrInvalid}
	}
	return h.r.Seek(offset, whence)
}

// Write on a read handle is invalid.
func (h *readHandle) Write([]byte) (int, error) {
	return 0, &filesystem.Error{Op: "write", Path: h.path, Err: filesystem.ErrInvalid}
}

func (h *readHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *readHandle) Path() string { return h.path }

// writeHandle buffers writes locally and uploads the object on Close. The
// object only becomes visible once Close succeeds.
type writeHandle struct {
	ctx     context.Context
	backend *Backend
	path    string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (h *writeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, &filesystem.Error{Op: "write", Path: h.path, Err: filesystem.ErrInvalid}
	}
	return h.buf.Write(p)
}

// Read on a write handle is invalid.
func (h *writeHandle) Read([]byte) (int, error) {
	return 0, &filesystem.Error{Op: "read", Path: h.path, Err: filesystem.ErrInvalid}
}

// Seek is unsupported while writing; uploads are sequential.
func (h *writeHandle) Seek(int64, int) (int64, error) {
	return 0, &filesystem.Error{Op: "seek", Path: h.path, Err: filesystem.ErrInvalid}
}

func (h *writeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	_, err := h.backend.client.PutObject(h.ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.backend.bucket),
		Key:    aws.String(h.backend.keyFor(h.path)),
		Body:   bytes.NewReader(h.buf.Bytes()),
	})
	if err != nil {
		return h.backend.mapError("close", h.path, err)
	}
	return nil
}

func (h *writeHandle) Path() string { return h.path }

var (
	_ filesystem.File = (*readHandle)(nil)
	_ filesystem.File = (*writeHandle)(nil)
)

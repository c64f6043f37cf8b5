// Package s3 provides the object-storage reference backend. It maps the
// filesystem capability set onto a bucket: files are objects, directories
// are key prefixes with a trailing-slash marker object. Capabilities with
// no object-storage equivalent (ACLs, snapshots, symlinks, append) stay
// unsupported through the embedded base.
package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
	"github.com/iabetor/chdfs-go/internal/loader"
	"github.com/iabetor/chdfs-go/internal/util"
)

// Kind is the descriptor kind this backend registers under.
const Kind = "s3"

// Descriptor parameter names understood by the factory.
const (
	ParamBucket       = "bucket"
	ParamRegion       = "region"
	ParamEndpoint     = "endpoint"
	ParamPrefix       = "prefix"
	ParamAccessKey    = "access-key"
	ParamSecretKey    = "secret-key"
	ParamSessionToken = "session-token"
	ParamPathStyle    = "path-style"
)

const deleteBatchSize = 1000

func init() {
	loader.Register(Kind, func(desc *loader.Descriptor, cfg *config.BootstrapConfig) (filesystem.Backend, error) {
		return New(context.Background(), desc.Params, cfg)
	})
}

var _ filesystem.Backend = (*Backend)(nil)

// Backend serves the capability set from a single bucket.
type Backend struct {
	filesystem.UnimplementedBackend

	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger

	mu           sync.Mutex
	workingDir   string
	deleteOnExit map[string]bool
}

// New builds a Backend from descriptor parameters.
func New(ctx context.Context, params map[string]string, _ *config.BootstrapConfig) (*Backend, error) {
	bucket := params[ParamBucket]
	if bucket == "" {
		return nil, &filesystem.Error{Op: "init", Path: "", Err: stderr.New("descriptor param bucket is required")}
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region := params[ParamRegion]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if ak := params[ParamAccessKey]; ak != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, params[ParamSecretKey], params[ParamSessionToken])))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &filesystem.Error{Op: "init", Path: "", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := params[ParamEndpoint]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if pathStyle, _ := strconv.ParseBool(params[ParamPathStyle]); pathStyle {
			o.UsePathStyle = true
		}
	})

	return &Backend{
		client:       client,
		bucket:       bucket,
		prefix:       normalizePrefix(params[ParamPrefix]),
		log:          util.GetLogger("s3-backend"),
		workingDir:   "/",
		deleteOnExit: map[string]bool{},
	}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}

// keyFor maps an absolute filesystem path to an object key.
func (b *Backend) keyFor(path string) string {
	return b.prefix + strings.TrimPrefix(path, "/")
}

// dirKeyFor maps a path to its directory-marker key.
func (b *Backend) dirKeyFor(path string) string {
	key := b.keyFor(path)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// pathFor maps an object key back to an absolute filesystem path.
func (b *Backend) pathFor(key string) string {
	return "/" + strings.TrimSuffix(strings.TrimPrefix(key, b.prefix), "/")
}

func (b *Backend) mapError(op, path string, err error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if stderr.As(err, &noKey) || stderr.As(err, &notFound) {
		return &filesystem.Error{Op: op, Path: path, Err: filesystem.ErrNotExist}
	}
	return &filesystem.Error{Op: op, Path: path, Err: err}
}

// Open fetches the whole object and serves reads from the local copy, so
// handles stay seekable without range requests.
func (b *Backend) Open(ctx context.Context, path string) (filesystem.File, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.keyFor(path)),
	})
	if err != nil {
		return nil, b.mapError("open", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, b.mapError("open", path, err)
	}
	return &readHandle{path: path, r: bytes.NewReader(data)}, nil
}

func (b *Backend) Create(ctx context.Context, path string, opts filesystem.CreateOptions) (filesystem.File, error) {
	if !opts.Overwrite {
		if _, err := b.headObject(ctx, b.keyFor(path)); err == nil {
			return nil, &filesystem.Error{Op: "create", Path: path, Err: filesystem.ErrExist}
		}
	}
	return &writeHandle{ctx: ctx, backend: b, path: path}, nil
}

// CreateNonRecursive additionally requires the parent directory to exist;
// object storage has no real directories, so the check is against the
// parent prefix.
func (b *Backend) CreateNonRecursive(ctx context.Context, path string, opts filesystem.CreateOptions) (filesystem.File, error) {
	parent := parentOf(path)
	if parent != "/" {
		status, err := b.Stat(ctx, parent)
		if err != nil {
			return nil, &filesystem.Error{Op: "createNonRecursive", Path: path, Err: filesystem.ErrNotExist}
		}
		if !status.IsDirectory {
			return nil, &filesystem.Error{Op: "createNonRecursive", Path: path, Err: filesystem.ErrInvalid}
		}
	}
	return b.Create(ctx, path, opts)
}

func parentOf(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// Append is emulated by read-modify-write: the existing object is pulled
// into the write buffer and the whole object is rewritten on Close.
func (b *Backend) Append(ctx context.Context, path string) (filesystem.File, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.keyFor(path)),
	})
	if err != nil {
		return nil, b.mapError("append", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, b.mapError("append", path, err)
	}

	h := &writeHandle{ctx: ctx, backend: b, path: path}
	h.buf.Write(data)
	return h, nil
}

func (b *Backend) Rename(ctx context.Context, src, dst string) (bool, error) {
	status, err := b.Stat(ctx, src)
	if err != nil {
		return false, err
	}

	if !status.IsDirectory {
		if err := b.copyObject(ctx, b.keyFor(src), b.keyFor(dst)); err != nil {
			return false, b.mapError("rename", src, err)
		}
		if _, err := b.deleteObject(ctx, b.keyFor(src)); err != nil {
			return false, b.mapError("rename", src, err)
		}
		return true, nil
	}

	// Directory rename moves every object under the prefix.
	srcPrefix, dstPrefix := b.dirKeyFor(src), b.dirKeyFor(dst)
	err = b.forEachObject(ctx, srcPrefix, func(obj s3types.Object) error {
		key := aws.ToString(obj.Key)
		if err := b.copyObject(ctx, key, dstPrefix+strings.TrimPrefix(key, srcPrefix)); err != nil {
			return err
		}
		_, err := b.deleteObject(ctx, key)
		return err
	})
	if err != nil {
		return false, b.mapError("rename", src, err)
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, path string, recursive bool) (bool, error) {
	status, err := b.Stat(ctx, path)
	if err != nil {
		var fsErr *filesystem.Error
		if stderr.As(err, &fsErr) && stderr.Is(fsErr.Err, filesystem.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if !status.IsDirectory {
		return b.deleteObject(ctx, b.keyFor(path))
	}

	if !recursive {
		children, err := b.ListStatus(ctx, path)
		if err != nil {
			return false, err
		}
		if len(children) > 0 {
			return false, &filesystem.Error{Op: "delete", Path: path, Err: stderr.New("directory is not empty")}
		}
		return b.deleteObject(ctx, b.dirKeyFor(path))
	}

	// Recursive delete goes through DeleteObjects in bounded batches.
	batch := make([]s3types.ObjectIdentifier, 0, deleteBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		return err
	}

	err = b.forEachObject(ctx, b.dirKeyFor(path), func(obj s3types.Object) error {
		batch = append(batch, s3types.ObjectIdentifier{Key: obj.Key})
		if len(batch) == deleteBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return false, b.mapError("delete", path, err)
	}
	return true, nil
}

func (b *Backend) DeleteOnExit(ctx context.Context, path string) (bool, error) {
	if _, err := b.Stat(ctx, path); err != nil {
		return false, err
	}
	b.mu.Lock()
	b.deleteOnExit[path] = true
	b.mu.Unlock()
	return true, nil
}

func (b *Backend) CancelDeleteOnExit(_ context.Context, path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.deleteOnExit[path] {
		return false
	}
	delete(b.deleteOnExit, path)
	return true
}

// Mkdirs writes a zero-byte marker object for the deepest directory. The
// permission argument is accepted but not representable in object storage.
func (b *Backend) Mkdirs(ctx context.Context, path string, _ os.FileMode) (bool, error) {
	if path == "/" || path == "" {
		return true, nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dirKeyFor(path)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return false, b.mapError("mkdirs", path, err)
	}
	return true, nil
}

func (b *Backend) ListStatus(ctx context.Context, path string) ([]filesystem.FileStatus, error) {
	prefix := ""
	if path != "/" && path != "" {
		prefix = b.dirKeyFor(path)
	} else {
		prefix = b.prefix
	}

	var out []filesystem.FileStatus
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.mapError("listStatus", path, err)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, filesystem.FileStatus{
				Path:        b.pathFor(aws.ToString(cp.Prefix)),
				IsDirectory: true,
				Permission:  0o777,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				// the listed directory's own marker
				continue
			}
			out = append(out, filesystem.FileStatus{
				Path:       b.pathFor(key),
				Length:     aws.ToInt64(obj.Size),
				Permission: 0o666,
				ModTime:    aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

func (b *Backend) Stat(ctx context.Context, path string) (*filesystem.FileStatus, error) {
	if path == "/" || path == "" {
		return &filesystem.FileStatus{Path: "/", IsDirectory: true, Permission: 0o777}, nil
	}

	head, err := b.headObject(ctx, b.keyFor(path))
	if err == nil {
		return &filesystem.FileStatus{
			Path:       path,
			Length:     aws.ToInt64(head.ContentLength),
			Permission: 0o666,
			ModTime:    aws.ToTime(head.LastModified),
		}, nil
	}

	// No object at the key: the path is a directory iff anything lives
	// under its prefix.
	list, listErr := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirKeyFor(path)),
		MaxKeys: aws.Int32(1),
	})
	if listErr != nil {
		return nil, b.mapError("getFileStatus", path, listErr)
	}
	if aws.ToInt32(list.KeyCount) > 0 {
		return &filesystem.FileStatus{Path: path, IsDirectory: true, Permission: 0o777}, nil
	}
	return nil, b.mapError("getFileStatus", path, err)
}

// GetFileChecksum surfaces the object ETag; it is not a content digest for
// multipart uploads but is stable for unchanged objects.
func (b *Backend) GetFileChecksum(ctx context.Context, path string, _ int64) (*filesystem.FileChecksum, error) {
	head, err := b.headObject(ctx, b.keyFor(path))
	if err != nil {
		return nil, b.mapError("getFileChecksum", path, err)
	}
	etag := strings.Trim(aws.ToString(head.ETag), `"`)
	return &filesystem.FileChecksum{
		Algorithm: "s3-etag",
		Length:    len(etag),
		Bytes:     []byte(etag),
	}, nil
}

func (b *Backend) GetContentSummary(ctx context.Context, path string) (*filesystem.ContentSummary, error) {
	prefix := b.prefix
	if path != "/" && path != "" {
		prefix = b.dirKeyFor(path)
	}

	summary := &filesystem.ContentSummary{Quota: -1, SpaceQuota: -1, DirectoryCount: 1}
	err := b.forEachObject(ctx, prefix, func(obj s3types.Object) error {
		if strings.HasSuffix(aws.ToString(obj.Key), "/") {
			summary.DirectoryCount++
			return nil
		}
		summary.FileCount++
		summary.Length += aws.ToInt64(obj.Size)
		return nil
	})
	if err != nil {
		return nil, b.mapError("getContentSummary", path, err)
	}
	summary.SpaceConsumed = summary.Length
	return summary, nil
}

// Extended attributes map onto object tagging.

func (b *Backend) SetXAttr(ctx context.Context, path, name string, value []byte, flags filesystem.XAttrSetFlag) error {
	tags, err := b.getTags(ctx, path)
	if err != nil {
		return b.mapError("setXAttr", path, err)
	}

	_, exists := tags[name]
	if exists && flags&filesystem.XAttrCreate != 0 {
		return &filesystem.Error{Op: "setXAttr", Path: path, Err: filesystem.ErrExist}
	}
	if !exists && flags&filesystem.XAttrReplace != 0 {
		return &filesystem.Error{Op: "setXAttr", Path: path, Err: filesystem.ErrNotExist}
	}

	tags[name] = string(value)
	if err := b.putTags(ctx, path, tags); err != nil {
		return b.mapError("setXAttr", path, err)
	}
	return nil
}

func (b *Backend) GetXAttr(ctx context.Context, path, name string) ([]byte, error) {
	tags, err := b.getTags(ctx, path)
	if err != nil {
		return nil, b.mapError("getXAttr", path, err)
	}
	value, ok := tags[name]
	if !ok {
		return nil, &filesystem.Error{Op: "getXAttr", Path: path, Err: filesystem.ErrNotExist}
	}
	return []byte(value), nil
}

func (b *Backend) GetXAttrs(ctx context.Context, path string, names []string) (map[string][]byte, error) {
	tags, err := b.getTags(ctx, path)
	if err != nil {
		return nil, b.mapError("getXAttrs", path, err)
	}
	out := make(map[string][]byte)
	if names == nil {
		for k, v := range tags {
			out[k] = []byte(v)
		}
		return out, nil
	}
	for _, name := range names {
		if v, ok := tags[name]; ok {
			out[name] = []byte(v)
		}
	}
	return out, nil
}

func (b *Backend) ListXAttrs(ctx context.Context, path string) ([]string, error) {
	tags, err := b.getTags(ctx, path)
	if err != nil {
		return nil, b.mapError("listXAttrs", path, err)
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) RemoveXAttr(ctx context.Context, path, name string) error {
	tags, err := b.getTags(ctx, path)
	if err != nil {
		return b.mapError("removeXAttr", path, err)
	}
	if _, ok := tags[name]; !ok {
		return &filesystem.Error{Op: "removeXAttr", Path: path, Err: filesystem.ErrNotExist}
	}
	delete(tags, name)
	if err := b.putTags(ctx, path, tags); err != nil {
		return b.mapError("removeXAttr", path, err)
	}
	return nil
}

// Mount accessors

func (b *Backend) URI() string {
	uri := "s3://" + b.bucket
	if b.prefix != "" {
		uri += "/" + strings.TrimSuffix(b.prefix, "/")
	}
	return uri
}

func (b *Backend) WorkingDirectory() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workingDir
}

func (b *Backend) SetWorkingDirectory(dir string) {
	b.mu.Lock()
	b.workingDir = dir
	b.mu.Unlock()
}

// Close removes the paths scheduled for deletion on exit. Failures are
// logged rather than aggregated; teardown keeps going.
func (b *Backend) Close() error {
	b.mu.Lock()
	pending := make([]string, 0, len(b.deleteOnExit))
	for path := range b.deleteOnExit {
		pending = append(pending, path)
	}
	b.deleteOnExit = map[string]bool{}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, path := range pending {
		if _, err := b.Delete(ctx, path, true); err != nil {
			b.log.Warn().Err(err).Str("path", path).Msg("delete-on-exit failed")
		}
	}
	return nil
}

// Internal helpers

func (b *Backend) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
}

func (b *Backend) copyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(b.bucket + "/" + srcKey),
	})
	return err
}

func (b *Backend) deleteObject(ctx context.Context, key string) (bool, error) {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) forEachObject(ctx context.Context, prefix string, fn func(s3types.Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) getTags(ctx context.Context, path string) (map[string]string, error) {
	out, err := b.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.keyFor(path)),
	})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

func (b *Backend) putTags(ctx context.Context, path string, tags map[string]string) error {
	tagSet := make([]s3types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(b.bucket),
		Key:     aws.String(b.keyFor(path)),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	return err
}

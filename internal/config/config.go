// Package config resolves the bootstrap parameters the adapter needs before
// it can acquire a backend: account id, metadata server port, transport
// security flag, and the shared cache directory path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/iabetor/chdfs-go/pkg/errors"
)

// Configuration keys. The fs.ofs.* names match what existing deployments
// already carry in their site configuration.
const (
	KeyUserAppid       = "fs.ofs.user.appid"
	KeyTmpCacheDir     = "fs.ofs.tmp.cache.dir"
	KeyMetaServerPort  = "fs.ofs.meta.server.port"
	KeyMetaTransferTLS = "fs.ofs.meta.transfer.tls"
)

const (
	DefaultMetaServerPort  = 443
	DefaultMetaTransferTLS = true
)

// Source is a generic key-value configuration source.
type Source interface {
	// Get returns the raw string value for key, and whether it was present.
	Get(key string) (string, bool)
}

// MapSource is an in-memory Source, used directly by callers and by tests.
type MapSource map[string]string

func (m MapSource) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// LoadFile reads a flat YAML mapping of configuration keys to values.
func LoadFile(path string) (MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	src := make(MapSource, len(raw))
	for k, v := range raw {
		src[k] = fmt.Sprintf("%v", v)
	}
	return src, nil
}

// BootstrapConfig is the validated parameter set required before a backend
// can be acquired. Constructed once per adapter lifetime, never mutated.
type BootstrapConfig struct {
	AppID        int64
	ServerPort   int
	TransferTLS  bool
	CacheDirPath string
}

// Resolve extracts and validates the bootstrap parameters from src.
//
// The four checks are independent: each distinct failure carries the
// offending key in its message so operators can fix their site config
// without guesswork.
func Resolve(src Source) (*BootstrapConfig, error) {
	appid, err := resolveAppID(src)
	if err != nil {
		return nil, err
	}

	port, err := resolveServerPort(src)
	if err != nil {
		return nil, err
	}

	tls := resolveTransferTLS(src)

	cacheDir, err := resolveCacheDir(src)
	if err != nil {
		return nil, err
	}

	return &BootstrapConfig{
		AppID:        appid,
		ServerPort:   port,
		TransferTLS:  tls,
		CacheDirPath: cacheDir,
	}, nil
}

func resolveAppID(src Source) (int64, error) {
	raw, ok := src.Get(KeyUserAppid)
	if !ok {
		return 0, errors.Newf(errors.ErrCodeConfigMissing,
			"config for %s is missing or invalid appid number", KeyUserAppid)
	}
	appid, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrCodeConfigInvalidNumber,
			"config for %s is invalid appid number", KeyUserAppid).WithCause(err)
	}
	if appid <= 0 {
		return 0, errors.Newf(errors.ErrCodeConfigMissing,
			"config for %s is missing or invalid appid number", KeyUserAppid)
	}
	return appid, nil
}

// resolveServerPort never fails: a malformed value falls back to the default
// the same way an absent one does.
func resolveServerPort(src Source) (int, error) {
	raw, ok := src.Get(KeyMetaServerPort)
	if !ok {
		return DefaultMetaServerPort, nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultMetaServerPort, nil
	}
	return port, nil
}

func resolveTransferTLS(src Source) bool {
	raw, ok := src.Get(KeyMetaTransferTLS)
	if !ok {
		return DefaultMetaTransferTLS
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return DefaultMetaTransferTLS
	}
}

func resolveCacheDir(src Source) (string, error) {
	raw, ok := src.Get(KeyTmpCacheDir)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.Newf(errors.ErrCodeConfigMissing,
			"config %s is missing", KeyTmpCacheDir)
	}
	path := strings.TrimSpace(raw)
	if !strings.HasPrefix(path, "/") {
		return "", errors.Newf(errors.ErrCodeConfigNotAbsolute,
			"config [%s: %s] must be absolute path", KeyTmpCacheDir, path).WithPath(path)
	}
	return path, nil
}

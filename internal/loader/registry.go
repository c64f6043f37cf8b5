package loader

import (
	"fmt"
	"sync"

	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/filesystem"
)

// Factory constructs a backend from a fetched descriptor and the bootstrap
// configuration.
type Factory func(desc *Descriptor, cfg *config.BootstrapConfig) (filesystem.Backend, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register ties a backend factory to a descriptor kind and should be called
// for each backend kind during app init.
func Register(kind string, factory Factory) {
	mu.Lock()
	factories[kind] = factory
	mu.Unlock()
}

// GetFactory picks the factory registered for the descriptor's kind.
func GetFactory(kind string) (Factory, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no backend factory for kind %q", kind)
	}
	return f, nil
}

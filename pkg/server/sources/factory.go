package sources

import (
	"fmt"
	"sort"
	"sync"
)

var (
	factories = make(map[string]AdapterFactory)
	mu        sync.RWMutex
)

// Register adds an adapter factory under key ("<type>.<name>", e.g. "exchange.binance").
func Register(key string, factory AdapterFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[key] = factory
}

// Create creates a new adapter instance by factory key
func Create(key string, config map[string]interface{}) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[key]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, key)
	}

	return factory(config)
}

// List returns all registered factory keys, sorted
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

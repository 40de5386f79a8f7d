package provider

import (
	"sort"
	"sync"

	"github.com/postlinehq/postline/internal/apperrors"
)

var (
	providers     = make(map[string]Provider)
	providerMutex sync.RWMutex
)

// Register adds a provider to the registry. Registering the same ID twice
// replaces the previous entry; last registration wins.
func Register(p Provider) {
	providerMutex.Lock()
	defer providerMutex.Unlock()
	providers[p.Config().ID] = p
}

// Get returns the provider registered under id.
func Get(id string) (Provider, error) {
	providerMutex.RLock()
	defer providerMutex.RUnlock()

	p, ok := providers[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeUnknownProvider, "unknown provider: "+id)
	}
	return p, nil
}

// IsRegistered reports whether a provider exists under id.
func IsRegistered(id string) bool {
	providerMutex.RLock()
	defer providerMutex.RUnlock()
	_, ok := providers[id]
	return ok
}

// IDs returns the registered provider IDs in sorted order.
func IDs() []string {
	providerMutex.RLock()
	defer providerMutex.RUnlock()

	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unregister removes a provider. Mostly useful in tests.
func Unregister(id string) {
	providerMutex.Lock()
	defer providerMutex.Unlock()
	delete(providers, id)
}

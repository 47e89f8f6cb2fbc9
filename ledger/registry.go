// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"strings"
	"sync"

	"github.com/zeebo/errs"

	"storj.io/eventledger/blob"
)

// Resolver returns the blob store behind a connection name. The empty name
// selects the default connection of the resolver.
type Resolver interface {
	Resolve(ctx context.Context, connectionName string) (blob.Store, error)
}

// Static returns a resolver answering every connection name with store.
func Static(store blob.Store) Resolver { return staticResolver{store: store} }

type staticResolver struct{ store blob.Store }

func (r staticResolver) Resolve(ctx context.Context, connectionName string) (blob.Store, error) {
	return r.store, nil
}

// OpenFunc dials the blob store behind a connection name.
type OpenFunc func(ctx context.Context, connectionName string) (blob.Store, error)

// Connections resolves connection names by dialing on first use and
// caching the handles. It is safe for concurrent use.
type Connections struct {
	open OpenFunc

	mu     sync.Mutex
	stores map[string]blob.Store
}

// NewConnections creates a caching resolver around open.
func NewConnections(open OpenFunc) *Connections {
	return &Connections{
		open:   open,
		stores: map[string]blob.Store{},
	}
}

// Resolve returns the cached store for connectionName, dialing when needed.
func (conns *Connections) Resolve(ctx context.Context, connectionName string) (blob.Store, error) {
	conns.mu.Lock()
	defer conns.mu.Unlock()

	if store, ok := conns.stores[connectionName]; ok {
		return store, nil
	}
	store, err := conns.open(ctx, connectionName)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	conns.stores[connectionName] = store
	return store, nil
}

// Close closes all dialed stores.
func (conns *Connections) Close() error {
	conns.mu.Lock()
	defer conns.mu.Unlock()

	var group errs.Group
	for name, store := range conns.stores {
		group.Add(store.Close())
		delete(conns.stores, name)
	}
	return Error.Wrap(group.Err())
}

// Registry maps configured store type keys to resolvers. Lookup is
// case-insensitive. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]Resolver{}}
}

// Register adds or replaces the resolver behind a type key.
func (registry *Registry) Register(typeKey string, resolver Resolver) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.types[strings.ToLower(typeKey)] = resolver
}

// Lookup returns the resolver behind a type key.
func (registry *Registry) Lookup(typeKey string) (Resolver, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	resolver, ok := registry.types[strings.ToLower(typeKey)]
	if !ok {
		return nil, ErrUnknownStoreType.New("%q", typeKey)
	}
	return resolver, nil
}

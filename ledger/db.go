// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"

	"go.uber.org/zap"

	"storj.io/eventledger/blob"
)

// DB is the entrypoint into the event ledger.
//
// All operations are safe for concurrent use; correctness on the same
// object relies on blob ETags only, so independent processes can share the
// same backing stores.
type DB struct {
	log      *zap.Logger
	config   Config
	registry *Registry
}

// Open creates a DB using store for every concern under the default
// "blob" type key. Additional store types and connections are added
// through Registry.
func Open(log *zap.Logger, store blob.Store, config Config) *DB {
	db := &DB{
		log:      log,
		config:   config.normalized(),
		registry: NewRegistry(),
	}
	db.registry.Register(DefaultStoreType, Static(store))
	return db
}

// Registry returns the store type registry of the database.
func (db *DB) Registry() *Registry { return db.registry }

// Config returns the normalized configuration of the database.
func (db *DB) Config() Config { return db.config }

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (db *DB) resolve(ctx context.Context, typeKey, connectionName string) (blob.Store, error) {
	resolver, err := db.registry.Lookup(typeKey)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(ctx, connectionName)
}

// documentStore resolves the store holding object documents. An explicit
// store name (per-call override) wins over the configured default.
func (db *DB) documentStore(ctx context.Context, override string) (blob.Store, error) {
	return db.resolve(ctx, db.config.DocumentType,
		coalesce(override, db.config.DefaultDocumentStore))
}

// dataStore resolves the store holding the event stream of active.
// Precedence: DataStore, then StreamConnectionName, then the default.
func (db *DB) dataStore(ctx context.Context, active *StreamInformation) (blob.Store, error) {
	return db.resolve(ctx,
		coalesce(active.StreamType, db.config.StreamType),
		coalesce(active.DataStore, active.StreamConnectionName))
}

// snapshotStore resolves the store holding snapshots of active.
func (db *DB) snapshotStore(ctx context.Context, active *StreamInformation) (blob.Store, error) {
	return db.resolve(ctx,
		coalesce(active.StreamType, db.config.StreamType),
		coalesce(active.SnapShotStore, active.SnapShotConnectionName, db.config.DefaultSnapShotStore))
}

// documentTagStore resolves the store holding the document tag index.
func (db *DB) documentTagStore(ctx context.Context, active *StreamInformation) (blob.Store, error) {
	return db.resolve(ctx,
		coalesce(active.DocumentTagType, db.config.DocumentTagType),
		coalesce(active.DocumentTagStore, active.DocumentTagConnectionName, db.config.DefaultDocumentTagStore))
}

// streamTagStore resolves the store holding the stream tag index.
func (db *DB) streamTagStore(ctx context.Context, active *StreamInformation) (blob.Store, error) {
	return db.resolve(ctx,
		coalesce(active.EventStreamTagType, db.config.EventStreamTagType),
		coalesce(active.StreamTagStore, active.StreamTagConnectionName, db.config.DefaultDocumentTagStore))
}

// ensureContainer auto-creates container when configured to do so.
func (db *DB) ensureContainer(ctx context.Context, store blob.Store, container string) error {
	if db.config.DisableContainerAutoCreate {
		return nil
	}
	if err := store.EnsureContainer(ctx, container); err != nil {
		return ErrContainerAutoCreate.Wrap(err)
	}
	return nil
}

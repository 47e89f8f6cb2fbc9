// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"

	"storj.io/eventledger/blob"
)

// SetSnapshot contains arguments for DB.SetSnapshot.
type SetSnapshot struct {
	Document *ObjectDocument
	// Version is the stream version the state accounts for.
	Version int64
	// Name distinguishes multiple snapshot families of one stream.
	Name string
	// State is the serialized aggregate state, opaque to the engine.
	State []byte
}

// Verify request fields.
func (opts *SetSnapshot) Verify() error {
	if err := opts.Document.Verify(); err != nil {
		return err
	}
	if opts.Version < 0 {
		return ErrInvalidRequest.New("Version invalid: %v", opts.Version)
	}
	return nil
}

// SetSnapshot stores materialized aggregate state at a stream version,
// overwriting a previous snapshot of the same version and name. The
// snapshot is recorded in the document's active configuration in memory.
func (db *DB) SetSnapshot(ctx context.Context, opts SetSnapshot) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}

	active := opts.Document.Active
	store, err := db.snapshotStore(ctx, active)
	if err != nil {
		return err
	}

	ref := snapshotRef(opts.Document.ObjectName, active.StreamIdentifier, opts.Version, opts.Name)
	if err := db.ensureContainer(ctx, store, ref.Container); err != nil {
		return err
	}

	_, err = store.Upload(ctx, ref, opts.State, blob.UploadOptions{ContentType: "application/json"})
	switch {
	case blob.ErrContainerNotFound.Has(err):
		return ErrContainerNotFound.New("%q", ref.Container)
	case err != nil:
		return Error.Wrap(err)
	}

	info := SnapshotInfo{UntilVersion: opts.Version, Name: opts.Name}
	for _, existing := range active.SnapShots {
		if existing == info {
			return nil
		}
	}
	active.SnapShots = append(active.SnapShots, info)
	return nil
}

// GetSnapshot contains arguments for DB.GetSnapshot.
type GetSnapshot struct {
	Document *ObjectDocument
	Version  int64
	Name     string
}

// Verify request fields.
func (opts *GetSnapshot) Verify() error {
	if err := opts.Document.Verify(); err != nil {
		return err
	}
	if opts.Version < 0 {
		return ErrInvalidRequest.New("Version invalid: %v", opts.Version)
	}
	return nil
}

// GetSnapshot returns the stored state at a stream version, nil when no
// such snapshot exists.
func (db *DB) GetSnapshot(ctx context.Context, opts GetSnapshot) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}

	active := opts.Document.Active
	store, err := db.snapshotStore(ctx, active)
	if err != nil {
		return nil, err
	}

	ref := snapshotRef(opts.Document.ObjectName, active.StreamIdentifier, opts.Version, opts.Name)
	state, err := store.Download(ctx, ref, blob.DownloadOptions{})
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return nil, nil
	case err != nil:
		return nil, Error.Wrap(err)
	}
	return state, nil
}

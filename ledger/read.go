// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"encoding/json"
	"math"

	"storj.io/eventledger/blob"
)

// ReadEvents contains arguments for DB.ReadEvents.
type ReadEvents struct {
	Document *ObjectDocument
	// StartVersion and EndVersion bound the returned versions, inclusive.
	StartVersion *int64
	EndVersion   *int64
	// Chunk reads a single chunk blob instead of resolving by version.
	Chunk *uint32
}

// Verify request fields.
func (opts *ReadEvents) Verify() error {
	if err := opts.Document.Verify(); err != nil {
		return err
	}
	if opts.StartVersion != nil && opts.EndVersion != nil && *opts.StartVersion > *opts.EndVersion {
		return ErrInvalidRequest.New("StartVersion after EndVersion")
	}
	return nil
}

func (opts *ReadEvents) window() (start, end int64) {
	start, end = 0, math.MaxInt64
	if opts.StartVersion != nil {
		start = *opts.StartVersion
	}
	if opts.EndVersion != nil {
		end = *opts.EndVersion
	}
	return start, end
}

// ReadEvents replays stored events of the active stream in version order,
// calling fn for each event inside the requested window. A missing stream
// blob yields an empty iteration, not an error.
func (db *DB) ReadEvents(ctx context.Context, opts ReadEvents, fn func(Event) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	if fn == nil {
		return ErrInvalidRequest.New("callback missing")
	}

	store, err := db.dataStore(ctx, opts.Document.Active)
	if err != nil {
		return err
	}
	start, end := opts.window()

	for _, ref := range db.readRefs(opts) {
		events, err := db.downloadStream(ctx, store, ref)
		if err != nil {
			return err
		}
		for _, event := range events {
			if event.EventVersion < start {
				continue
			}
			if event.EventVersion > end {
				return nil
			}
			if err := fn(event); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListEvents collects the events ReadEvents would yield.
func (db *DB) ListEvents(ctx context.Context, opts ReadEvents) (_ []Event, err error) {
	defer mon.Task()(&ctx)(&err)

	var events []Event
	err = db.ReadEvents(ctx, opts, func(event Event) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

// readRefs resolves the stream blobs intersecting the requested window,
// in stream order.
func (db *DB) readRefs(opts ReadEvents) []blob.Ref {
	doc, active := opts.Document, opts.Document.Active
	if !active.Chunked() || opts.Chunk != nil {
		return []blob.Ref{streamRef(doc.ObjectName, active, opts.Chunk)}
	}

	start, end := opts.window()
	var refs []blob.Ref
	for _, chunk := range active.StreamChunks {
		if chunk.LastEventVersion < start || chunk.FirstEventVersion > end {
			continue
		}
		refs = append(refs, chunkRef(doc.ObjectName, active.StreamIdentifier, chunk.ChunkIdentifier))
	}
	if len(refs) == 0 && len(active.StreamChunks) == 0 {
		// a chunked stream that never rolled still has its zero chunk
		refs = append(refs, chunkRef(doc.ObjectName, active.StreamIdentifier, 0))
	}
	return refs
}

func (db *DB) downloadStream(ctx context.Context, store blob.Store, ref blob.Ref) ([]Event, error) {
	raw, err := store.Download(ctx, ref, blob.DownloadOptions{})
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return nil, nil
	case err != nil:
		return nil, Error.Wrap(err)
	}

	var stream StreamDocument
	if err := json.Unmarshal(raw, &stream); err != nil {
		return nil, ErrProcessing.New("undecodable stream document %q: %v", ref, err)
	}
	return stream.Events, nil
}

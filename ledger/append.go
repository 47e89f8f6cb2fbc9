// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"encoding/json"

	"storj.io/eventledger/blob"
)

// createRetries bounds how often an append restarts after losing the
// blob-creation race to a concurrent writer.
const createRetries = 2

// AppendEvents contains arguments for DB.AppendEvents.
type AppendEvents struct {
	Document *ObjectDocument
	Events   []Event
}

// Verify request fields.
func (opts *AppendEvents) Verify() error {
	if err := opts.Document.Verify(); err != nil {
		return err
	}
	if len(opts.Events) == 0 {
		return ErrInvalidRequest.New("Events missing")
	}
	for i := range opts.Events {
		if err := opts.Events[i].Verify(); err != nil {
			return err
		}
	}
	return nil
}

// AppendResult contains the committed positions of an append.
type AppendResult struct {
	Tokens []VersionToken
}

// AppendEvents appends events to the active stream of the document.
//
// Versions are assigned contiguously after the document's current stream
// version. When chunking is enabled the events are split across chunk
// blobs, rolling to a fresh blob whenever the active chunk is full. The
// write is conditional on the stream blob's ETag; a lost cycle surfaces as
// ErrConcurrencyConflict and the caller reloads and retries, while a
// stream head bound to a document revision this document has never seen
// surfaces as ErrHashChainBroken.
//
// On success the document's active configuration is advanced in memory
// only; persisting it is the caller's SetDocument call.
func (db *DB) AppendEvents(ctx context.Context, opts AppendEvents) (_ AppendResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return AppendResult{}, err
	}

	doc, active := opts.Document, opts.Document.Active
	store, err := db.dataStore(ctx, active)
	if err != nil {
		return AppendResult{}, err
	}
	if err := db.ensureContainer(ctx, store, ContainerName(doc.ObjectName)); err != nil {
		return AppendResult{}, err
	}

	events := make([]Event, len(opts.Events))
	copy(events, opts.Events)
	for i := range events {
		events[i].EventVersion = active.CurrentStreamVersion + 1 + int64(i)
		if events[i].SchemaVersion == 0 {
			events[i].SchemaVersion = DefaultEventSchemaVersion
		}
	}

	chunks, err := db.writeEvents(ctx, store, doc, events)
	if err != nil {
		return AppendResult{}, err
	}

	// commit the new positions in memory
	active.StreamChunks = chunks
	active.CurrentStreamVersion = events[len(events)-1].EventVersion
	mon.Meter("appended_events").Mark(len(events))

	tokens := make([]VersionToken, len(events))
	for i := range events {
		tokens[i] = VersionToken{
			ObjectName: doc.ObjectName,
			ObjectID:   doc.ObjectID,
			StreamID:   active.StreamIdentifier,
			Version:    events[i].EventVersion,
		}
	}
	return AppendResult{Tokens: tokens}, nil
}

// writeEvents stores the already versioned events and returns the updated
// chunk table. The document is not mutated so a failed write leaves it
// consistent with storage.
func (db *DB) writeEvents(ctx context.Context, store blob.Store, doc *ObjectDocument, events []Event) ([]StreamChunk, error) {
	active := doc.Active
	if !active.Chunked() {
		ref := streamRef(doc.ObjectName, active, nil)
		return nil, db.appendToStream(ctx, store, ref, doc, events)
	}

	size := active.ChunkSettings.ChunkSize
	chunks := append([]StreamChunk(nil), active.StreamChunks...)
	if len(chunks) == 0 {
		chunks = append(chunks, StreamChunk{
			ChunkIdentifier:   0,
			FirstEventVersion: events[0].EventVersion,
			LastEventVersion:  events[0].EventVersion - 1,
		})
	}

	remaining := events
	for len(remaining) > 0 {
		current := &chunks[len(chunks)-1]
		capacity := size - (remaining[0].EventVersion - current.FirstEventVersion)
		if capacity <= 0 {
			chunks = append(chunks, StreamChunk{
				ChunkIdentifier:   current.ChunkIdentifier + 1,
				FirstEventVersion: remaining[0].EventVersion,
				LastEventVersion:  remaining[0].EventVersion - 1,
			})
			mon.Counter("chunk_rolls").Inc(1)
			continue
		}

		take := min(capacity, int64(len(remaining)))
		batch := remaining[:take]
		ref := chunkRef(doc.ObjectName, active.StreamIdentifier, current.ChunkIdentifier)
		if err := db.appendToStream(ctx, store, ref, doc, batch); err != nil {
			return nil, err
		}
		current.LastEventVersion = batch[len(batch)-1].EventVersion
		remaining = remaining[take:]
	}
	return chunks, nil
}

// linkedTo reports whether a stream head binding is compatible with doc.
// The binding may trail the document by exactly one revision because the
// document is persisted after the events it accounts for.
func linkedTo(link string, doc *ObjectDocument) bool {
	return link == AnyDocumentHash || doc.Hash == "" ||
		link == doc.Hash || link == doc.PrevHash
}

func (db *DB) appendToStream(ctx context.Context, store blob.Store, ref blob.Ref, doc *ObjectDocument, events []Event) error {
	for attempt := 0; attempt <= createRetries; attempt++ {
		props, err := store.Properties(ctx, ref)
		switch {
		case blob.ErrNotFound.Has(err):
			created, err := db.createStream(ctx, store, ref, doc, events)
			if err != nil {
				return err
			}
			if created {
				return nil
			}
			// somebody else created the blob, retry as a conditional update
			continue
		case blob.ErrContainerNotFound.Has(err):
			return ErrContainerNotFound.New("%q", ref.Container)
		case err != nil:
			return Error.Wrap(err)
		}

		raw, err := store.Download(ctx, ref, blob.DownloadOptions{IfMatch: props.ETag})
		switch {
		case blob.ErrNotFound.Has(err):
			continue
		case blob.ErrPreconditionFailed.Has(err):
			return ErrConcurrencyConflict.New("stream %q changed behind our back", ref)
		case err != nil:
			return Error.Wrap(err)
		}

		var stream StreamDocument
		if err := json.Unmarshal(raw, &stream); err != nil {
			return ErrProcessing.New("undecodable stream document %q: %v", ref, err)
		}
		if !linkedTo(stream.LastObjectDocumentHash, doc) {
			return ErrHashChainBroken.New("stream %q is bound to document revision %q", ref, stream.LastObjectDocumentHash)
		}

		stream.Events = append(stream.Events, events...)
		if doc.Hash != "" {
			stream.LastObjectDocumentHash = doc.Hash
		}
		body, err := json.Marshal(stream)
		if err != nil {
			return ErrProcessing.Wrap(err)
		}

		_, err = store.Upload(ctx, ref, body, blob.UploadOptions{
			ContentType: "application/json",
			IfMatch:     props.ETag,
		})
		switch {
		case blob.ErrPreconditionFailed.Has(err):
			return ErrConcurrencyConflict.New("stream %q changed behind our back", ref)
		case err != nil:
			return Error.Wrap(err)
		}
		return nil
	}
	return ErrConcurrencyConflict.New("stream %q kept changing behind our back", ref)
}

// createStream uploads a fresh stream blob, false when it lost the race.
func (db *DB) createStream(ctx context.Context, store blob.Store, ref blob.Ref, doc *ObjectDocument, events []Event) (created bool, err error) {
	link := doc.Hash
	if link == "" {
		link = AnyDocumentHash
	}
	body, err := json.Marshal(StreamDocument{
		ObjectID:               doc.ObjectID,
		ObjectName:             doc.ObjectName,
		LastObjectDocumentHash: link,
		Events:                 events,
	})
	if err != nil {
		return false, ErrProcessing.Wrap(err)
	}

	_, err = store.Upload(ctx, ref, body, blob.UploadOptions{
		ContentType: "application/json",
		IfNoneMatch: blob.Wildcard,
	})
	switch {
	case blob.ErrConflict.Has(err):
		return false, nil
	case blob.ErrContainerNotFound.Has(err):
		return false, ErrContainerNotFound.New("%q", ref.Container)
	case err != nil:
		return false, Error.Wrap(err)
	}
	return true, nil
}

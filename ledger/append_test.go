// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/memblob"
	"storj.io/eventledger/ledger"
)

func TestAppendAndReplay(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	result, err := db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	require.Equal(t, "order__o-1__o-1__00000000000000000000", result.Tokens[0].String())
	require.EqualValues(t, 0, doc.Active.CurrentStreamVersion)

	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: doc})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Created", events[0].EventType)
	require.EqualValues(t, 0, events[0].EventVersion)
	require.Equal(t, ledger.DefaultEventSchemaVersion, events[0].SchemaVersion)

	// the stream blob is bound to the current document revision
	raw, err := store.Download(ctx, blob.Ref{Container: "order", Key: "o-1.json"}, blob.DownloadOptions{})
	require.NoError(t, err)
	var stream ledger.StreamDocument
	require.NoError(t, json.Unmarshal(raw, &stream))
	require.Equal(t, doc.Hash, stream.LastObjectDocumentHash)
	// the schema version is omitted from the stored form when default
	require.NotContains(t, string(raw), "schemaVersion")
}

func TestAppendVersionsAreContiguous(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	var next int64
	for call := 0; call < 4; call++ {
		batch := []ledger.Event{
			newEvent("Updated", fmt.Sprintf(`{"call":%d}`, call)),
			newEvent("Updated", fmt.Sprintf(`{"call":%d}`, call)),
		}
		result, err := db.AppendEvents(ctx, ledger.AppendEvents{Document: doc, Events: batch})
		require.NoError(t, err)
		for _, token := range result.Tokens {
			require.Equal(t, next, token.Version)
			next++
		}
		require.NoError(t, db.SetDocument(ctx, doc))
	}

	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: doc})
	require.NoError(t, err)
	require.Len(t, events, 8)
	for i, event := range events {
		require.EqualValues(t, i, event.EventVersion)
	}
}

func TestReadWindow(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	var batch []ledger.Event
	for i := 0; i < 10; i++ {
		batch = append(batch, newEvent("Updated", fmt.Sprintf(`{"i":%d}`, i)))
	}
	_, err = db.AppendEvents(ctx, ledger.AppendEvents{Document: doc, Events: batch})
	require.NoError(t, err)

	start, end := versionRange(3, 6)
	events, err := db.ListEvents(ctx, ledger.ReadEvents{
		Document: doc, StartVersion: start, EndVersion: end,
	})
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.EqualValues(t, 3, events[0].EventVersion)
	require.EqualValues(t, 6, events[3].EventVersion)

	// a window after the last event is empty
	start, end = versionRange(100, 200)
	events, err = db.ListEvents(ctx, ledger.ReadEvents{
		Document: doc, StartVersion: start, EndVersion: end,
	})
	require.NoError(t, err)
	require.Empty(t, events)

	start, end = versionRange(6, 3)
	_, err = db.ListEvents(ctx, ledger.ReadEvents{
		Document: doc, StartVersion: start, EndVersion: end,
	})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)
}

func TestReadMissingStream(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	// nothing appended yet, the stream blob does not exist
	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: doc})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestAppendValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{Document: doc})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{{Payload: "{}"}},
	})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)

	blank := *doc
	blank.Active = ledger.NewStreamInformation("  ")
	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: &blank,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)
}

func TestAppendHashChainBroken(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.NoError(t, err)

	// two document revisions without an append in between leave the
	// stream head bound to a revision this lineage no longer covers
	doc.SchemaVersion = "2.0"
	require.NoError(t, db.SetDocument(ctx, doc))
	doc.SchemaVersion = "3.0"
	require.NoError(t, db.SetDocument(ctx, doc))

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Updated", "{}")},
	})
	require.True(t, ledger.ErrHashChainBroken.Has(err), "got %v", err)

	// the documented repair makes appends work again
	repaired, err := db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "o-1",
		Configure: func(active *ledger.StreamInformation) {},
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: repaired,
		Events:   []ledger.Event{newEvent("Updated", "{}")},
	})
	require.NoError(t, err)
}

// interceptStore runs a hook after every successful download, simulating
// a writer sneaking in between the read and the conditional write.
type interceptStore struct {
	blob.Store
	onDownload func(ref blob.Ref)
}

func (store *interceptStore) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) ([]byte, error) {
	data, err := store.Store.Download(ctx, ref, opts)
	if err == nil && store.onDownload != nil {
		store.onDownload(ref)
	}
	return data, err
}

func TestAppendConcurrencyConflict(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	inner := memblob.New()
	intercept := &interceptStore{Store: inner}
	db := ledger.Open(zaptest.NewLogger(t), intercept, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.NoError(t, err)

	// between our read of the stream and the conditional write another
	// writer replaces the blob, so our ETag cycle is lost
	streamBlob := blob.Ref{Container: "order", Key: "o-1.json"}
	intercept.onDownload = func(ref blob.Ref) {
		if ref != streamBlob {
			return
		}
		intercept.onDownload = nil
		raw, err := inner.Download(ctx, streamBlob, blob.DownloadOptions{})
		require.NoError(t, err)
		_, err = inner.Upload(ctx, streamBlob, raw, blob.UploadOptions{ContentType: "application/json"})
		require.NoError(t, err)
	}

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Updated", "{}")},
	})
	require.True(t, ledger.ErrConcurrencyConflict.Has(err), "got %v", err)

	// the document position was not advanced by the failed append
	require.EqualValues(t, 0, doc.Active.CurrentStreamVersion)

	// with the interference gone the retry goes through
	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Updated", "{}")},
	})
	require.NoError(t, err)
}

func TestAppendAfterSetKeepsChainLinked(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = db.AppendEvents(ctx, ledger.AppendEvents{
			Document: doc,
			Events:   []ledger.Event{newEvent("Updated", "{}")},
		})
		require.NoError(t, err)
		require.NoError(t, db.SetDocument(ctx, doc))
	}

	raw, err := store.Download(ctx, blob.Ref{Container: "order", Key: "o-1.json"}, blob.DownloadOptions{})
	require.NoError(t, err)
	var stream ledger.StreamDocument
	require.NoError(t, json.Unmarshal(raw, &stream))
	require.Equal(t, doc.PrevHash, stream.LastObjectDocumentHash)
}

func TestChunkRollAcrossCalls(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store := newTestDB(t, ledger.Config{
		EnableStreamChunks: true,
		DefaultChunkSize:   100,
	})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)
	require.True(t, doc.Active.ChunkSettings.EnableChunks)

	appendN := func(n int) {
		var batch []ledger.Event
		for i := 0; i < n; i++ {
			batch = append(batch, newEvent("Updated", "{}"))
		}
		_, err := db.AppendEvents(ctx, ledger.AppendEvents{Document: doc, Events: batch})
		require.NoError(t, err)
	}
	appendN(100)
	appendN(50)

	require.EqualValues(t, 149, doc.Active.CurrentStreamVersion)
	require.Len(t, doc.Active.StreamChunks, 2)
	require.EqualValues(t, 0, doc.Active.StreamChunks[0].FirstEventVersion)
	require.EqualValues(t, 99, doc.Active.StreamChunks[0].LastEventVersion)
	require.EqualValues(t, 100, doc.Active.StreamChunks[1].FirstEventVersion)
	require.EqualValues(t, 149, doc.Active.StreamChunks[1].LastEventVersion)
	require.Equal(t, doc.Active.StreamChunks[0].LastEventVersion+1, doc.Active.StreamChunks[1].FirstEventVersion)

	for chunk, key := range map[uint32]string{0: "o-1-0000000000.json", 1: "o-1-0000000001.json"} {
		exists, err := store.Exists(ctx, blob.Ref{Container: "order", Key: key})
		require.NoError(t, err)
		require.True(t, exists, "chunk %d missing", chunk)
	}

	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: doc})
	require.NoError(t, err)
	require.Len(t, events, 150)
	for i, event := range events {
		require.EqualValues(t, i, event.EventVersion)
	}

	// a window crossing the chunk boundary reads both blobs
	start, end := versionRange(95, 105)
	events, err = db.ListEvents(ctx, ledger.ReadEvents{
		Document: doc, StartVersion: start, EndVersion: end,
	})
	require.NoError(t, err)
	require.Len(t, events, 11)

	// a single chunk can be read directly
	chunk := uint32(1)
	events, err = db.ListEvents(ctx, ledger.ReadEvents{Document: doc, Chunk: &chunk})
	require.NoError(t, err)
	require.Len(t, events, 50)
	require.EqualValues(t, 100, events[0].EventVersion)
}

func TestChunkRollWithinOneCall(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{
		EnableStreamChunks: true,
		DefaultChunkSize:   20,
	})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	var batch []ledger.Event
	for i := 0; i < 70; i++ {
		batch = append(batch, newEvent("Updated", "{}"))
	}
	_, err = db.AppendEvents(ctx, ledger.AppendEvents{Document: doc, Events: batch})
	require.NoError(t, err)

	require.Len(t, doc.Active.StreamChunks, 4)
	for i := 1; i < len(doc.Active.StreamChunks); i++ {
		require.Equal(t,
			doc.Active.StreamChunks[i-1].LastEventVersion+1,
			doc.Active.StreamChunks[i].FirstEventVersion)
	}

	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: doc})
	require.NoError(t, err)
	require.Len(t, events, 70)
}

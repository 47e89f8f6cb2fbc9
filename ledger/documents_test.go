// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/ledger"
)

func TestGetOrCreateDocument(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)
	require.Equal(t, "order", doc.ObjectName)
	require.Equal(t, "o-1", doc.ObjectID)
	require.Equal(t, "o-1", doc.Active.StreamIdentifier)
	require.EqualValues(t, -1, doc.Active.CurrentStreamVersion)
	require.NotEmpty(t, doc.Hash)
	require.Empty(t, doc.PrevHash)

	// the blob landed where the path conventions say
	exists, err := store.Exists(ctx, blob.Ref{Container: "ledger", Key: "order/o-1.json"})
	require.NoError(t, err)
	require.True(t, exists)

	// creating again loads the stored one
	again, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)
	require.Equal(t, doc.Hash, again.Hash)
	require.Equal(t, doc.ETag(), again.ETag())

	_, err = db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{ObjectName: "order"})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)
}

func TestGetDocument(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	_, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "missing"})
	require.True(t, ledger.ErrDocumentNotFound.Has(err) || ledger.ErrContainerNotFound.Has(err), "got %v", err)

	created, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "missing"})
	require.True(t, ledger.ErrDocumentNotFound.Has(err), "got %v", err)

	loaded, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "o-1"})
	require.NoError(t, err)
	require.Equal(t, created.Hash, loaded.Hash)
	require.Equal(t, created.PrevHash, loaded.PrevHash)
	require.Equal(t, created.Active.StreamIdentifier, loaded.Active.StreamIdentifier)
}

func TestSetDocumentHashChain(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)
	initial := doc.Hash

	doc.SchemaVersion = "2.0"
	require.NoError(t, db.SetDocument(ctx, doc))
	require.NotEqual(t, initial, doc.Hash)
	require.Equal(t, initial, doc.PrevHash)

	// reloading recomputes the same chain position
	loaded, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "o-1"})
	require.NoError(t, err)
	require.Equal(t, doc.Hash, loaded.Hash)
	require.Equal(t, doc.PrevHash, loaded.PrevHash)
}

func TestSetDocumentConcurrencyConflict(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	_, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	first, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "o-1"})
	require.NoError(t, err)
	second, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "o-1"})
	require.NoError(t, err)

	first.SchemaVersion = "2.0"
	require.NoError(t, db.SetDocument(ctx, first))

	// the second copy lost the etag cycle
	second.SchemaVersion = "3.0"
	err = db.SetDocument(ctx, second)
	require.True(t, ledger.ErrConcurrencyConflict.Has(err), "got %v", err)
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/memblob"
	"storj.io/eventledger/ledger"
)

func TestRegistryDispatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	defaultStore := memblob.New()
	streamStore := memblob.New()

	db := ledger.Open(zaptest.NewLogger(t), defaultStore, ledger.Config{
		StreamType: "secondary",
	})
	db.Registry().Register("Secondary", ledger.Static(streamStore))

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.NoError(t, err)

	// the document went to the default store, the stream to the secondary
	exists, err := defaultStore.Exists(ctx, blob.Ref{Container: "ledger", Key: "order/o-1.json"})
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = streamStore.Exists(ctx, blob.Ref{Container: "order", Key: "o-1.json"})
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = defaultStore.Exists(ctx, blob.Ref{Container: "order", Key: "o-1.json"})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRegistryUnknownType(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := ledger.Open(zaptest.NewLogger(t), memblob.New(), ledger.Config{
		StreamType: "cosmos",
	})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", "{}")},
	})
	require.True(t, ledger.ErrUnknownStoreType.Has(err), "got %v", err)
}

func TestConnectionsCaching(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	opened := map[string]int{}
	conns := ledger.NewConnections(func(ctx context.Context, connectionName string) (blob.Store, error) {
		opened[connectionName]++
		return memblob.New(), nil
	})
	defer func() { require.NoError(t, conns.Close()) }()

	first, err := conns.Resolve(ctx, "primary")
	require.NoError(t, err)
	again, err := conns.Resolve(ctx, "primary")
	require.NoError(t, err)
	require.Same(t, first, again)

	_, err = conns.Resolve(ctx, "secondary")
	require.NoError(t, err)

	require.Equal(t, map[string]int{"primary": 1, "secondary": 1}, opened)
}

func TestConfigNormalization(t *testing.T) {
	db := ledger.Open(zaptest.NewLogger(t), memblob.New(), ledger.Config{})
	config := db.Config()
	require.Equal(t, "ledger", config.DefaultDocumentContainerName)
	require.EqualValues(t, 1000, config.DefaultChunkSize)
	require.Equal(t, ledger.DefaultStoreType, config.DocumentType)
	require.Equal(t, ledger.DefaultStoreType, config.StreamType)
	require.Equal(t, "1.0", config.SchemaVersion)
}

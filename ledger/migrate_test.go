// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/ledger"
)

func TestUpdateActiveConfiguration(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store := newTestDB(t, ledger.Config{})

	doc, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	_, err = db.AppendEvents(ctx, ledger.AppendEvents{
		Document: doc,
		Events:   []ledger.Event{newEvent("Created", `{"first":true}`)},
	})
	require.NoError(t, err)

	corrected := ledger.NewStreamInformation("replaced-anyway")
	corrected.DocumentTagStore = "tags-secondary"
	migrated, err := db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "o-1",
		Corrected: corrected,
	})
	require.NoError(t, err)

	// the stream identity and position survive the replacement
	require.Equal(t, "o-1", migrated.Active.StreamIdentifier)
	require.EqualValues(t, 0, migrated.Active.CurrentStreamVersion)
	require.Equal(t, "tags-secondary", migrated.Active.DocumentTagStore)

	// the stream head was re-bound to the migrated revision
	raw, err := store.Download(ctx, blob.Ref{Container: "order", Key: "o-1.json"}, blob.DownloadOptions{})
	require.NoError(t, err)
	var stream ledger.StreamDocument
	require.NoError(t, json.Unmarshal(raw, &stream))
	require.Equal(t, migrated.Hash, stream.LastObjectDocumentHash)

	// appends continue where the old configuration left off
	result, err := db.AppendEvents(ctx, ledger.AppendEvents{
		Document: migrated,
		Events:   []ledger.Event{newEvent("Updated", "{}")},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Tokens[0].Version)

	events, err := db.ListEvents(ctx, ledger.ReadEvents{Document: migrated})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "Created", events[0].EventType)
}

func TestUpdateActiveConfigurationConfigure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	_, err := db.GetOrCreateDocument(ctx, ledger.GetOrCreateDocument{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.NoError(t, err)

	// the stream blob does not exist yet, re-binding is skipped
	migrated, err := db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "o-1",
		Configure: func(active *ledger.StreamInformation) {
			active.SnapShotStore = "snapshots-secondary"
		},
	})
	require.NoError(t, err)
	require.Equal(t, "snapshots-secondary", migrated.Active.SnapShotStore)

	loaded, err := db.GetDocument(ctx, ledger.GetDocument{ObjectName: "order", ObjectID: "o-1"})
	require.NoError(t, err)
	require.Equal(t, "snapshots-secondary", loaded.Active.SnapShotStore)
	require.Equal(t, migrated.Hash, loaded.Hash)
}

func TestUpdateActiveConfigurationValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _ := newTestDB(t, ledger.Config{})

	_, err := db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "o-1",
	})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)

	_, err = db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "o-1",
		Corrected: ledger.NewStreamInformation("o-1"),
		Configure: func(*ledger.StreamInformation) {},
	})
	require.True(t, ledger.ErrInvalidRequest.Has(err), "got %v", err)

	_, err = db.UpdateActiveConfiguration(ctx, ledger.UpdateActiveConfiguration{
		ObjectName: "order", ObjectID: "missing",
		Configure: func(*ledger.StreamInformation) {},
	})
	require.True(t, ledger.ErrDocumentNotFound.Has(err) || ledger.ErrContainerNotFound.Has(err), "got %v", err)
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package projection_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/memblob"
	"storj.io/eventledger/hashchain"
	"storj.io/eventledger/ledger"
	"storj.io/eventledger/projection"
)

func newStore(t *testing.T, config projection.Config) (*projection.Store, *memblob.Client) {
	blobs := memblob.New()
	return projection.New(zaptest.NewLogger(t), blobs, config), blobs
}

func token(name, id, stream string, version int64) ledger.VersionToken {
	return ledger.VersionToken{ObjectName: name, ObjectID: id, StreamID: stream, Version: version}
}

func TestCheckpointAccumulation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, blobs := newStore(t, projection.Config{HasExternalCheckpoint: true})

	view, err := store.GetOrCreate(ctx, "company-overview")
	require.NoError(t, err)
	require.Empty(t, view.Checkpoint)

	view.Body = json.RawMessage(`{"companies":1}`)
	view.UpdateCheckpoint(token("company", "company-1", "company-1", 4))
	require.NoError(t, store.Save(ctx, view))

	// a later worker loads, folds another stream and saves
	view, err = store.GetOrCreate(ctx, "company-overview")
	require.NoError(t, err)
	require.Equal(t, "company-1__00000000000000000004", view.Checkpoint["company__company-1"])

	view.Body = json.RawMessage(`{"companies":2}`)
	view.UpdateCheckpoint(token("company", "company-2", "company-2", 0))
	require.NoError(t, store.Save(ctx, view))

	// both positions survived the save/load cycles
	view, err = store.GetOrCreate(ctx, "company-overview")
	require.NoError(t, err)
	require.Len(t, view.Checkpoint, 2)
	require.Equal(t, "company-1__00000000000000000004", view.Checkpoint["company__company-1"])
	require.Equal(t, "company-2__00000000000000000000", view.Checkpoint["company__company-2"])
	require.JSONEq(t, `{"companies":2}`, string(view.Body))

	// the checkpoint blob is content-addressed by its fingerprint
	fingerprint, _, err := hashchain.Fingerprint(view.Checkpoint)
	require.NoError(t, err)
	exists, err := blobs.Exists(ctx, blob.Ref{
		Container: "projections",
		Key:       "checkpoints/company-overview/" + fingerprint + ".json",
	})
	require.NoError(t, err)
	require.True(t, exists)

	// advancing an already tracked stream overwrites its position
	view.UpdateCheckpoint(token("company", "company-1", "company-1", 9))
	require.NoError(t, store.Save(ctx, view))
	view, err = store.GetOrCreate(ctx, "company-overview")
	require.NoError(t, err)
	require.Len(t, view.Checkpoint, 2)
	require.Equal(t, "company-1__00000000000000000009", view.Checkpoint["company__company-1"])
}

func TestInlineCheckpoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, blobs := newStore(t, projection.Config{})

	view, err := store.GetOrCreate(ctx, "inline")
	require.NoError(t, err)
	view.UpdateCheckpoint(token("order", "o-1", "o-1", 3))
	require.NoError(t, store.Save(ctx, view))

	view, err = store.GetOrCreate(ctx, "inline")
	require.NoError(t, err)
	require.Equal(t, "o-1__00000000000000000003", view.Checkpoint["order__o-1"])

	// no checkpoint blobs are written in inline mode
	result, err := blobs.List(ctx, blob.ListOptions{
		Container: "projections",
		Prefix:    "checkpoints/",
	})
	require.NoError(t, err)
	require.Empty(t, result.Items)
}

func TestStatusLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _ := newStore(t, projection.Config{})

	// a projection that never stored a status is active
	info, err := store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusActive, info.Status)

	rebuild, err := store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{})
	require.NoError(t, err)
	require.Equal(t, projection.StrategyBlockingWithCatchUp, rebuild.Strategy)
	require.Equal(t, projection.PhaseRebuilding, rebuild.Phase)
	require.NotEmpty(t, rebuild.TokenID)

	info, err = store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusRebuilding, info.Status)

	// only one rebuild at a time
	_, err = store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{})
	require.True(t, projection.ErrStatusConflict.Has(err), "got %v", err)

	// ready requires the catch-up phase first
	err = store.MarkReady(ctx, "orders", rebuild)
	require.True(t, projection.ErrStatusConflict.Has(err), "got %v", err)

	require.NoError(t, store.StartCatchUp(ctx, "orders", rebuild))
	require.Equal(t, projection.PhaseCatchingUp, rebuild.Phase)

	require.NoError(t, store.MarkReady(ctx, "orders", rebuild))
	require.Equal(t, projection.PhaseReady, rebuild.Phase)

	info, err = store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusReadyForSwap, info.Status)

	require.NoError(t, store.CompleteRebuild(ctx, "orders", rebuild))
	require.Equal(t, projection.PhaseCompleted, rebuild.Phase)

	info, err = store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusActive, info.Status)
	require.Nil(t, info.Token)
}

func TestTokenValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := projection.NewWithClock(zaptest.NewLogger(t), memblob.New(), projection.Config{},
		func() time.Time { return now })

	rebuild, err := store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{TTL: time.Hour})
	require.NoError(t, err)

	err = store.StartCatchUp(ctx, "orders", nil)
	require.True(t, projection.ErrInvalidToken.Has(err), "got %v", err)

	wrongName := *rebuild
	wrongName.ProjectionName = "invoices"
	err = store.StartCatchUp(ctx, "orders", &wrongName)
	require.True(t, projection.ErrInvalidToken.Has(err), "got %v", err)

	wrongID := *rebuild
	wrongID.TokenID = "someone-elses"
	err = store.StartCatchUp(ctx, "orders", &wrongID)
	require.True(t, projection.ErrInvalidToken.Has(err), "got %v", err)

	// past the TTL the real token is dead as well
	now = now.Add(2 * time.Hour)
	err = store.StartCatchUp(ctx, "orders", rebuild)
	require.True(t, projection.ErrInvalidToken.Has(err), "got %v", err)
}

func TestBlueGreenRebuild(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, blobs := newStore(t, projection.Config{HasExternalCheckpoint: true})

	live, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	live.Body = json.RawMessage(`{"generation":"blue"}`)
	require.NoError(t, store.Save(ctx, live))

	rebuild, err := store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{
		Strategy: projection.StrategyBlueGreen,
	})
	require.NoError(t, err)

	staged, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	staged.Body = json.RawMessage(`{"generation":"green"}`)
	staged.UpdateCheckpoint(token("order", "o-1", "o-1", 7))
	require.NoError(t, store.SaveRebuild(ctx, staged, rebuild))

	// the live body is untouched while the rebuild runs
	current, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	require.JSONEq(t, `{"generation":"blue"}`, string(current.Body))

	require.NoError(t, store.StartCatchUp(ctx, "orders", rebuild))
	require.NoError(t, store.MarkReady(ctx, "orders", rebuild))
	require.NoError(t, store.CompleteRebuild(ctx, "orders", rebuild))

	// the swap promoted body and checkpoint together
	current, err = store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	require.JSONEq(t, `{"generation":"green"}`, string(current.Body))
	require.Equal(t, "o-1__00000000000000000007", current.Checkpoint["order__o-1"])

	exists, err := blobs.Exists(ctx, blob.Ref{Container: "projections", Key: "orders.rebuild.json"})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCancelRebuild(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, blobs := newStore(t, projection.Config{})

	live, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	live.Body = json.RawMessage(`{"generation":"blue"}`)
	require.NoError(t, store.Save(ctx, live))

	rebuild, err := store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{
		Strategy: projection.StrategyBlueGreen,
	})
	require.NoError(t, err)

	staged, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	staged.Body = json.RawMessage(`{"generation":"green"}`)
	require.NoError(t, store.SaveRebuild(ctx, staged, rebuild))

	require.NoError(t, store.CancelRebuild(ctx, "orders", rebuild))
	require.Equal(t, projection.PhaseCancelled, rebuild.Phase)

	info, err := store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusActive, info.Status)

	// the staging body is discarded, the live one stands
	exists, err := blobs.Exists(ctx, blob.Ref{Container: "projections", Key: "orders.rebuild.json"})
	require.NoError(t, err)
	require.False(t, exists)

	current, err := store.GetOrCreate(ctx, "orders")
	require.NoError(t, err)
	require.JSONEq(t, `{"generation":"blue"}`, string(current.Body))
}

func TestSetStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _ := newStore(t, projection.Config{})

	require.NoError(t, store.SetStatus(ctx, "orders", projection.StatusDisabled))

	info, err := store.Status(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, projection.StatusDisabled, info.Status)

	// a disabled projection cannot start a rebuild
	_, err = store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{})
	require.True(t, projection.ErrStatusConflict.Has(err), "got %v", err)

	// only the terminal states can be forced
	err = store.SetStatus(ctx, "orders", projection.StatusRebuilding)
	require.True(t, projection.ErrStatusConflict.Has(err), "got %v", err)

	require.NoError(t, store.SetStatus(ctx, "orders", projection.StatusActive))
	_, err = store.StartRebuild(ctx, "orders", projection.StartRebuildOptions{})
	require.NoError(t, err)
}

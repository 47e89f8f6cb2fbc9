// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
)

const leaseTTL = 15 * time.Second

func testLease(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	container := newContainer(t, ctx, store)
	ref := blob.Ref{Container: container, Key: "locks/alpha.lock"}

	_, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.True(t, blob.ErrNotFound.Has(err), "expected not found, got %v", err)

	_, err = store.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	_, err = store.AcquireLease(ctx, ref, 0)
	require.True(t, blob.ErrInvalidOptions.Has(err), "expected invalid options, got %v", err)

	id, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	props, err := store.Properties(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, blob.LeaseHeld, props.Lease)

	_, err = store.AcquireLease(ctx, ref, leaseTTL)
	require.True(t, blob.ErrConflict.Has(err), "expected conflict, got %v", err)

	require.NoError(t, store.ReleaseLease(ctx, ref, id))
}

func testLeaseRenewRelease(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	container := newContainer(t, ctx, store)
	ref := blob.Ref{Container: container, Key: "locks/beta.lock"}

	_, err := store.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	id, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.NoError(t, err)

	require.NoError(t, store.RenewLease(ctx, ref, id))

	err = store.RenewLease(ctx, ref, "bogus")
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)

	err = store.ReleaseLease(ctx, ref, "bogus")
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)

	require.NoError(t, store.ReleaseLease(ctx, ref, id))

	err = store.RenewLease(ctx, ref, id)
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)

	props, err := store.Properties(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, blob.LeaseAvailable, props.Lease)

	// releasing frees the blob for the next holder
	next, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.NoError(t, err)
	require.NotEqual(t, id, next)
	require.NoError(t, store.ReleaseLease(ctx, ref, next))
}

func testBreakLease(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	container := newContainer(t, ctx, store)
	ref := blob.Ref{Container: container, Key: "locks/gamma.lock"}

	_, err := store.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	id, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.NoError(t, err)

	require.NoError(t, store.BreakLease(ctx, ref))

	err = store.RenewLease(ctx, ref, id)
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)

	next, err := store.AcquireLease(ctx, ref, leaseTTL)
	require.NoError(t, err)
	require.NoError(t, store.ReleaseLease(ctx, ref, next))

	// breaking an unleased blob is a no-op
	require.NoError(t, store.BreakLease(ctx, ref))
}

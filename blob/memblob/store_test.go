// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package memblob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/blobtest"
)

var _ blob.Store = (*Client)(nil)

func TestSuite(t *testing.T) {
	blobtest.RunSuite(t, New())
}

func BenchmarkSuite(b *testing.B) {
	blobtest.RunBenchmarks(b, New())
}

func TestLeaseExpiry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client := NewWithClock(func() time.Time { return now })

	require.NoError(t, client.EnsureContainer(ctx, "locks"))
	ref := blob.Ref{Container: "locks", Key: "expiry.lock"}
	_, err := client.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	id, err := client.AcquireLease(ctx, ref, 15*time.Second)
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	require.NoError(t, client.RenewLease(ctx, ref, id))

	// the renewal pushed expiry to +25s, so +20s is still held
	now = now.Add(10 * time.Second)
	props, err := client.Properties(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, blob.LeaseHeld, props.Lease)

	now = now.Add(6 * time.Second)
	props, err = client.Properties(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, blob.LeaseAvailable, props.Lease)

	err = client.RenewLease(ctx, ref, id)
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)

	next, err := client.AcquireLease(ctx, ref, 15*time.Second)
	require.NoError(t, err)
	require.NotEqual(t, id, next)
}

func TestLeasedBlobWriteProtection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client := New()
	require.NoError(t, client.EnsureContainer(ctx, "locks"))
	ref := blob.Ref{Container: "locks", Key: "guard.lock"}
	_, err := client.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	id, err := client.AcquireLease(ctx, ref, 15*time.Second)
	require.NoError(t, err)

	_, err = client.Upload(ctx, ref, []byte("overwrite"), blob.UploadOptions{})
	require.True(t, blob.ErrConflict.Has(err), "expected conflict, got %v", err)

	err = client.Delete(ctx, ref, blob.DeleteOptions{})
	require.True(t, blob.ErrConflict.Has(err), "expected conflict, got %v", err)

	require.NoError(t, client.ReleaseLease(ctx, ref, id))
	require.NoError(t, client.Delete(ctx, ref, blob.DeleteOptions{}))
}

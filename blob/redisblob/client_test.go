// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package redisblob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/blobtest"
	"storj.io/eventledger/private/testredis"
)

var _ blob.Store = (*Client)(nil)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testredis.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, server.Close()) }()

	client, err := OpenClient(ctx, server.Addr(), "", 1)
	if err != nil {
		t.Fatal(err)
	}

	blobtest.RunSuite(t, client)
}

func TestInvalidConnection(t *testing.T) {
	_, err := OpenClient(t.Context(), "", "", 1)
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestLeaseExpiry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testredis.Start(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, server.Close()) }()

	client, err := OpenClient(ctx, server.Addr(), "", 1)
	require.NoError(t, err)

	require.NoError(t, client.EnsureContainer(ctx, "locks"))
	ref := blob.Ref{Container: "locks", Key: "ttl.lock"}
	_, err = client.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	id, err := client.AcquireLease(ctx, ref, time.Second)
	require.NoError(t, err)

	_, err = client.AcquireLease(ctx, ref, time.Second)
	require.True(t, blob.ErrConflict.Has(err), "expected conflict, got %v", err)

	server.FastForward(2 * time.Second)

	next, err := client.AcquireLease(ctx, ref, time.Second)
	require.NoError(t, err)
	require.NotEqual(t, id, next)

	err = client.RenewLease(ctx, ref, id)
	require.True(t, blob.ErrLeaseLost.Has(err), "expected lease lost, got %v", err)
}

func BenchmarkSuite(b *testing.B) {
	ctx := b.Context()

	server, err := testredis.Start(ctx)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { require.NoError(b, server.Close()) }()

	client, err := OpenClient(ctx, server.Addr(), "", 1)
	if err != nil {
		b.Fatal(err)
	}
	blobtest.RunBenchmarks(b, client)
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobtest provides a conformance suite for blob.Store
// implementations.
package blobtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/eventledger/blob"
)

// RunSuite runs the common blob.Store tests against store.
//
// Every subtest works in a freshly created container so that suites can
// share a server between backends and test runs.
func RunSuite(t *testing.T, store blob.Store) {
	t.Run("UploadDownload", func(t *testing.T) { testUploadDownload(t, store) })
	t.Run("ConditionalCreate", func(t *testing.T) { testConditionalCreate(t, store) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, store) })
	t.Run("ConditionalDownload", func(t *testing.T) { testConditionalDownload(t, store) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, store) })
	t.Run("MissingContainer", func(t *testing.T) { testMissingContainer(t, store) })
	t.Run("List", func(t *testing.T) { testList(t, store) })
	t.Run("ListPaging", func(t *testing.T) { testListPaging(t, store) })
	t.Run("Lease", func(t *testing.T) { testLease(t, store) })
	t.Run("LeaseRenewRelease", func(t *testing.T) { testLeaseRenewRelease(t, store) })
	t.Run("BreakLease", func(t *testing.T) { testBreakLease(t, store) })
}

func newContainer(t testing.TB, ctx *testcontext.Context, store blob.Store) string {
	name := "suite-" + testrand.UUID().String()
	require.NoError(t, store.EnsureContainer(ctx, name))
	return name
}

func testUploadDownload(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: newContainer(t, ctx, store), Key: "docs/alpha.json"}
	data := testrand.Bytes(256)

	props, err := store.Upload(ctx, ref, data, blob.UploadOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"origin": "suite"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, props.ETag)
	require.EqualValues(t, len(data), props.Size)

	downloaded, err := store.Download(ctx, ref, blob.DownloadOptions{})
	require.NoError(t, err)
	require.Equal(t, data, downloaded)

	stat, err := store.Properties(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, props.ETag, stat.ETag)
	require.EqualValues(t, len(data), stat.Size)
	require.Equal(t, "application/json", stat.ContentType)
	require.Equal(t, "suite", stat.Metadata["origin"])

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	require.True(t, exists)

	// unconditional overwrite rotates the etag
	updated, err := store.Upload(ctx, ref, testrand.Bytes(64), blob.UploadOptions{})
	require.NoError(t, err)
	require.NotEqual(t, props.ETag, updated.ETag)
}

func testConditionalCreate(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: newContainer(t, ctx, store), Key: "docs/create.json"}

	_, err := store.Upload(ctx, ref, []byte("first"), blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	_, err = store.Upload(ctx, ref, []byte("second"), blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.True(t, blob.ErrConflict.Has(err), "expected conflict, got %v", err)

	data, err := store.Download(ctx, ref, blob.DownloadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)

	_, err = store.Upload(ctx, ref, nil, blob.UploadOptions{IfMatch: "1", IfNoneMatch: blob.Wildcard})
	require.True(t, blob.ErrInvalidOptions.Has(err), "expected invalid options, got %v", err)

	_, err = store.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: "etag"})
	require.True(t, blob.ErrInvalidOptions.Has(err), "expected invalid options, got %v", err)
}

func testConditionalUpdate(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: newContainer(t, ctx, store), Key: "docs/update.json"}

	props, err := store.Upload(ctx, ref, []byte("v1"), blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	require.NoError(t, err)

	_, err = store.Upload(ctx, ref, []byte("v2"), blob.UploadOptions{IfMatch: "bogus"})
	require.True(t, blob.ErrPreconditionFailed.Has(err), "expected precondition failure, got %v", err)

	next, err := store.Upload(ctx, ref, []byte("v2"), blob.UploadOptions{IfMatch: props.ETag})
	require.NoError(t, err)
	require.NotEqual(t, props.ETag, next.ETag)

	// the old etag no longer matches
	_, err = store.Upload(ctx, ref, []byte("v3"), blob.UploadOptions{IfMatch: props.ETag})
	require.True(t, blob.ErrPreconditionFailed.Has(err), "expected precondition failure, got %v", err)

	missing := blob.Ref{Container: ref.Container, Key: "docs/never.json"}
	_, err = store.Upload(ctx, missing, []byte("v1"), blob.UploadOptions{IfMatch: next.ETag})
	require.True(t, blob.ErrPreconditionFailed.Has(err), "expected precondition failure, got %v", err)
}

func testConditionalDownload(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: newContainer(t, ctx, store), Key: "docs/read.json"}

	props, err := store.Upload(ctx, ref, []byte("payload"), blob.UploadOptions{})
	require.NoError(t, err)

	data, err := store.Download(ctx, ref, blob.DownloadOptions{IfMatch: props.ETag})
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	_, err = store.Download(ctx, ref, blob.DownloadOptions{IfMatch: "bogus"})
	require.True(t, blob.ErrPreconditionFailed.Has(err), "expected precondition failure, got %v", err)

	_, err = store.Download(ctx, blob.Ref{Container: ref.Container, Key: "docs/none.json"}, blob.DownloadOptions{})
	require.True(t, blob.ErrNotFound.Has(err), "expected not found, got %v", err)
}

func testDelete(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: newContainer(t, ctx, store), Key: "docs/delete.json"}

	err := store.Delete(ctx, ref, blob.DeleteOptions{})
	require.True(t, blob.ErrNotFound.Has(err), "expected not found, got %v", err)

	props, err := store.Upload(ctx, ref, []byte("x"), blob.UploadOptions{})
	require.NoError(t, err)

	err = store.Delete(ctx, ref, blob.DeleteOptions{IfMatch: "bogus"})
	require.True(t, blob.ErrPreconditionFailed.Has(err), "expected precondition failure, got %v", err)

	require.NoError(t, store.Delete(ctx, ref, blob.DeleteOptions{IfMatch: props.ETag}))

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	require.False(t, exists)
}

func testMissingContainer(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ref := blob.Ref{Container: "suite-absent-" + testrand.UUID().String(), Key: "docs/x.json"}

	_, err := store.Download(ctx, ref, blob.DownloadOptions{})
	require.True(t, blob.ErrContainerNotFound.Has(err), "expected container not found, got %v", err)

	_, err = store.Properties(ctx, ref)
	require.True(t, blob.ErrContainerNotFound.Has(err), "expected container not found, got %v", err)

	_, err = store.Upload(ctx, ref, []byte("x"), blob.UploadOptions{})
	require.True(t, blob.ErrContainerNotFound.Has(err), "expected container not found, got %v", err)

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	require.False(t, exists)

	result, err := store.List(ctx, blob.ListOptions{Container: ref.Container})
	require.NoError(t, err)
	require.Empty(t, result.Items)
	require.False(t, result.More)

	// creating the container twice is fine
	require.NoError(t, store.EnsureContainer(ctx, ref.Container))
	require.NoError(t, store.EnsureContainer(ctx, ref.Container))

	_, err = store.Upload(ctx, ref, []byte("x"), blob.UploadOptions{})
	require.NoError(t, err)
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
)

func testList(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	container := newContainer(t, ctx, store)
	keys := []string{
		"streams/a-0000000000.json",
		"streams/a-0000000001.json",
		"streams/b-0000000000.json",
		"tags/document/red.json",
	}
	for _, key := range keys {
		_, err := store.Upload(ctx, blob.Ref{Container: container, Key: key}, []byte(key), blob.UploadOptions{})
		require.NoError(t, err)
	}

	result, err := store.List(ctx, blob.ListOptions{Container: container, Prefix: "streams/a-"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"streams/a-0000000000.json",
		"streams/a-0000000001.json",
	}, result.Items.Keys())
	require.False(t, result.More)

	result, err = store.List(ctx, blob.ListOptions{Container: container, Prefix: "streams/"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"streams/a-0000000000.json",
		"streams/a-0000000001.json",
		"streams/b-0000000000.json",
	}, result.Items.Keys())

	result, err = store.List(ctx, blob.ListOptions{Container: container})
	require.NoError(t, err)
	require.Len(t, result.Items, len(keys))

	result, err = store.List(ctx, blob.ListOptions{Container: container, Prefix: "missing/"})
	require.NoError(t, err)
	require.Empty(t, result.Items)
}

func testListPaging(t *testing.T, store blob.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	container := newContainer(t, ctx, store)
	var keys []string
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("page/%03d.json", i)
		keys = append(keys, key)
		_, err := store.Upload(ctx, blob.Ref{Container: container, Key: key}, []byte{byte(i)}, blob.UploadOptions{})
		require.NoError(t, err)
	}

	var listed []string
	cursor := ""
	pages := 0
	for {
		result, err := store.List(ctx, blob.ListOptions{
			Container: container,
			Prefix:    "page/",
			Cursor:    cursor,
			Limit:     2,
		})
		require.NoError(t, err)
		require.LessOrEqual(t, len(result.Items), 2)

		listed = append(listed, result.Items.Keys()...)
		pages++
		if !result.More {
			break
		}
		require.NotEmpty(t, result.Cursor)
		cursor = result.Cursor
	}
	require.Equal(t, keys, listed)
	require.Equal(t, 3, pages)
}

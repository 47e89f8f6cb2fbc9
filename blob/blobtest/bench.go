// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blobtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/eventledger/blob"
)

// RunBenchmarks runs the common blob.Store benchmarks against store.
func RunBenchmarks(b *testing.B, store blob.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	container := newContainer(b, ctx, store)
	data := testrand.Bytes(4096)

	b.Run("Upload", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			ref := blob.Ref{Container: container, Key: fmt.Sprintf("bench/up-%06d.json", i)}
			_, err := store.Upload(ctx, ref, data, blob.UploadOptions{})
			require.NoError(b, err)
		}
	})

	ref := blob.Ref{Container: container, Key: "bench/down.json"}
	_, err := store.Upload(ctx, ref, data, blob.UploadOptions{})
	require.NoError(b, err)

	b.Run("Download", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err := store.Download(ctx, ref, blob.DownloadOptions{})
			require.NoError(b, err)
		}
	})

	b.Run("Properties", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err := store.Properties(ctx, ref)
			require.NoError(b, err)
		}
	})
}

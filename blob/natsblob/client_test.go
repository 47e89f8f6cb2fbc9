// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package natsblob

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/blobtest"
	"storj.io/eventledger/private/testnats"
)

var _ blob.Store = (*Client)(nil)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testnats.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, server.Close()) }()

	client, err := Open(ctx, server.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, client.Close()) }()

	blobtest.RunSuite(t, client)
}

func TestInvalidConnection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := Open(ctx, "nats://127.0.0.1:1")
	require.Error(t, err)
}

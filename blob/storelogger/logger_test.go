// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/blobtest"
	"storj.io/eventledger/blob/memblob"
)

var _ blob.Store = (*Logger)(nil)

func TestSuite(t *testing.T) {
	blobtest.RunSuite(t, New(zaptest.NewLogger(t), memblob.New()))
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"storj.io/eventledger/blob"
	"storj.io/eventledger/blob/memblob"
	"storj.io/eventledger/ledger"
)

func newTestDB(t *testing.T, config ledger.Config) (*ledger.DB, blob.Store) {
	store := memblob.New()
	return ledger.Open(zaptest.NewLogger(t), store, config), store
}

func newEvent(eventType, payload string) ledger.Event {
	return ledger.Event{
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		EventType: eventType,
	}
}

func versionRange(start, end int64) (*int64, *int64) {
	return &start, &end
}

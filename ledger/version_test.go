// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/eventledger/ledger"
)

func TestVersionToken(t *testing.T) {
	vt := ledger.VersionToken{
		ObjectName: "order",
		ObjectID:   "o-1",
		StreamID:   "o-1",
		Version:    42,
	}
	encoded := vt.String()
	require.Equal(t, "order__o-1__o-1__00000000000000000042", encoded)
	require.Equal(t, "order__o-1", vt.ObjectIdentifier())
	require.Equal(t, "o-1__00000000000000000042", vt.VersionIdentifier())

	parsed, err := ledger.ParseVersionToken(encoded)
	require.NoError(t, err)
	require.Equal(t, vt, parsed)
}

func TestVersionTokenOrdering(t *testing.T) {
	earlier := ledger.VersionToken{ObjectName: "order", ObjectID: "o-1", StreamID: "o-1", Version: 9}
	later := ledger.VersionToken{ObjectName: "order", ObjectID: "o-1", StreamID: "o-1", Version: 10}
	require.Less(t, earlier.String(), later.String())
}

func TestParseVersionTokenRejects(t *testing.T) {
	for _, encoded := range []string{
		"",
		"order__o-1__o-1",
		"order__o-1__o-1__1__extra",
		"order__o-1__o-1__not-a-number",
		"order__o-1__o-1__-00000000000000000001",
		"__o-1__o-1__00000000000000000001",
		"order____o-1__00000000000000000001",
	} {
		_, err := ledger.ParseVersionToken(encoded)
		require.True(t, ledger.ErrProcessing.Has(err), "expected rejection of %q, got %v", encoded, err)
	}
}

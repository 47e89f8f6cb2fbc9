// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ledger implements an event-sourcing storage engine on top of
// conditional blob stores.
//
// Every business object owns an object document with its stream
// configuration and an append-only event stream stored as one or more
// blobs. The document and the stream head are linked by a hash chain that
// detects split-brain writers, and all updates rely on blob ETags for
// optimistic concurrency.
package ledger

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class of the package.
	Error = errs.Class("ledger")

	// ErrInvalidRequest is used to indicate invalid requests.
	ErrInvalidRequest = errs.Class("invalid request")

	// ErrDocumentNotFound is returned when an object document does not exist.
	ErrDocumentNotFound = errs.Class("document not found")

	// ErrContainerNotFound is returned when the backing container is missing.
	ErrContainerNotFound = errs.Class("container not found")

	// ErrContainerAutoCreate is returned when container auto-creation fails.
	ErrContainerAutoCreate = errs.Class("container auto-create failed")

	// ErrConcurrencyConflict is returned when a conditional write lost an
	// ETag cycle; the caller reloads and retries.
	ErrConcurrencyConflict = errs.Class("concurrency conflict")

	// ErrHashChainBroken is returned when the stream head disagrees with the
	// document hash chain; appends stop until the configuration is repaired.
	ErrHashChainBroken = errs.Class("hash chain broken")

	// ErrUnknownStoreType is returned for unregistered store type keys.
	ErrUnknownStoreType = errs.Class("unknown store type")

	// ErrProcessing is returned for undecodable stored state.
	ErrProcessing = errs.Class("processing")

	mon = monkit.Package()
)

// AnyDocumentHash is the stream binding wildcard written when a stream is
// created without a persisted document revision; it matches any hash.
const AnyDocumentHash = "*"

// maxUpdateRetries bounds optimistic retries on shared blobs like tag
// documents and projection status files.
const maxUpdateRetries = 5

// JSONSuffix terminates every blob key written by the engine.
const JSONSuffix = ".json"

// ContainerName derives the container holding streams, tags and snapshots
// of an object name: lowercased with everything but letters, digits and
// dashes stripped.
func ContainerName(objectName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(objectName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeTag turns a user-supplied tag into a filename stem. Characters
// that are unsafe in blob keys are dropped, the rest is lowercased.
func SanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tag) {
		switch r {
		case '\\', '/', '*', '?', '<', '>', '|', '"', '\r', '\n', ':':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// jitteredBackoff returns the pause before the next optimistic retry.
// Attempt counts from zero; the pause grows linearly with a random
// component so contending writers fall out of lockstep.
func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(attempt+1) * 20 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(10*time.Millisecond)))
}

// sleepFor pauses for d, false when ctx ended first.
func sleepFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

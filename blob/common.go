// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blob defines the contract for conditional blob storage backends.
//
// A Store keeps opaque byte blobs addressed by container and key. Every
// write and delete can be made conditional on the blob's current ETag,
// which is the only concurrency primitive the rest of the system relies
// on. Backends additionally expose time-limited exclusive leases used for
// distributed locking.
package blob

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Delimiter separates nested keys in a container.
const Delimiter = '/'

// Wildcard is the only accepted IfNoneMatch value and matches any ETag.
const Wildcard = "*"

// DefaultListLimit is used by List when the caller does not set one.
const DefaultListLimit = 1000

var (
	// Error is the default error class of the package.
	Error = errs.Class("blob")

	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errs.Class("blob not found")

	// ErrContainerNotFound is returned when the container does not exist.
	ErrContainerNotFound = errs.Class("container not found")

	// ErrPreconditionFailed is returned when an IfMatch condition does not hold.
	ErrPreconditionFailed = errs.Class("precondition failed")

	// ErrConflict is returned when an IfNoneMatch write hits an existing blob
	// or a lease is already held by someone else.
	ErrConflict = errs.Class("conflict")

	// ErrLeaseLost is returned when a lease operation presents a lease id
	// that is no longer current.
	ErrLeaseLost = errs.Class("lease lost")

	// ErrInvalidOptions is returned for malformed conditional options.
	ErrInvalidOptions = errs.Class("invalid options")
)

// Ref addresses a single blob within a container.
type Ref struct {
	Container string
	Key       string
}

// IsZero returns true if the ref is the zero value.
func (ref Ref) IsZero() bool { return ref.Container == "" && ref.Key == "" }

// String implements the Stringer interface.
func (ref Ref) String() string { return ref.Container + string(Delimiter) + ref.Key }

// LeaseState reports whether a blob is currently leased.
type LeaseState byte

const (
	// LeaseAvailable means no lease is held on the blob.
	LeaseAvailable LeaseState = iota
	// LeaseHeld means a lease is currently held on the blob.
	LeaseHeld
)

// String implements the Stringer interface.
func (state LeaseState) String() string {
	switch state {
	case LeaseAvailable:
		return "available"
	case LeaseHeld:
		return "held"
	default:
		return "unknown"
	}
}

// Properties describe a stored blob without its content.
type Properties struct {
	ETag        string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Lease       LeaseState
}

// Item is a single listing entry.
type Item struct {
	Key  string
	Size int64
	ETag string
}

// Items is a page of listing entries.
type Items []Item

// Keys returns the keys of all entries.
func (items Items) Keys() []string {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	return keys
}

// Store describes conditional blob stores like in-memory, bbolt, redis,
// NATS JetStream and S3.
type Store interface {
	// Properties returns metadata of a blob without downloading the content.
	Properties(ctx context.Context, ref Ref) (Properties, error)
	// Download returns the full content of a blob.
	Download(ctx context.Context, ref Ref, opts DownloadOptions) ([]byte, error)
	// Upload stores content, honoring the conditional options.
	Upload(ctx context.Context, ref Ref, data []byte, opts UploadOptions) (Properties, error)
	// Delete removes a blob, honoring the conditional options.
	Delete(ctx context.Context, ref Ref, opts DeleteOptions) error
	// Exists reports whether a blob exists.
	Exists(ctx context.Context, ref Ref) (bool, error)
	// EnsureContainer creates the container when it does not exist yet.
	EnsureContainer(ctx context.Context, container string) error
	// List returns a page of keys under a prefix in lexical order.
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	// AcquireLease takes an exclusive lease on a blob for the given duration.
	AcquireLease(ctx context.Context, ref Ref, ttl time.Duration) (leaseID string, err error)
	// RenewLease extends a held lease by its original duration.
	RenewLease(ctx context.Context, ref Ref, leaseID string) error
	// ReleaseLease ends a held lease.
	ReleaseLease(ctx context.Context, ref Ref, leaseID string) error
	// BreakLease forcibly ends any lease on a blob.
	BreakLease(ctx context.Context, ref Ref) error
	// Close closes the store.
	Close() error
}

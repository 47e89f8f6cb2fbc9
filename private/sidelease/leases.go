// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sidelease emulates blob leases for backends without native ones.
//
// The lease lives in a sidecar blob next to the leased one, suffixed with
// ".lease", and every transition is a conditional write on the sidecar, so
// two contenders can never both win. Backends using the emulation must
// hide the sidecar suffix from listings.
package sidelease

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
)

// Error is the default error class of the package.
var Error = errs.Class("sidelease")

// Suffix marks sidecar lease blobs.
const Suffix = ".lease"

// Backend is the set of conditional primitives the emulation drives.
type Backend interface {
	// Load returns content and etag of a blob, blob.ErrNotFound when missing.
	Load(ctx context.Context, ref blob.Ref) (data []byte, etag string, err error)
	// Store writes content, honoring the conditional options.
	Store(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (etag string, err error)
	// Remove deletes a blob, honoring the conditional options.
	Remove(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) error
}

// Leases emulates lease operations for a single backend.
type Leases struct {
	backend Backend
	now     func() time.Time
}

type record struct {
	ID      string        `json:"id"`
	TTL     time.Duration `json:"ttl"`
	Expires time.Time     `json:"expires"`
}

func (rec *record) active(now time.Time) bool {
	return rec != nil && now.Before(rec.Expires)
}

// New creates a lease emulation over backend.
func New(backend Backend) *Leases { return NewWithClock(backend, time.Now) }

// NewWithClock creates a lease emulation using the given clock.
func NewWithClock(backend Backend, now func() time.Time) *Leases {
	return &Leases{backend: backend, now: now}
}

// Sidecar returns the lease blob ref for ref.
func Sidecar(ref blob.Ref) blob.Ref {
	return blob.Ref{Container: ref.Container, Key: ref.Key + Suffix}
}

// IsSidecar reports whether key belongs to a lease blob.
func IsSidecar(key string) bool {
	return len(key) >= len(Suffix) && key[len(key)-len(Suffix):] == Suffix
}

func (leases *Leases) load(ctx context.Context, ref blob.Ref) (*record, string, error) {
	data, etag, err := leases.backend.Load(ctx, Sidecar(ref))
	if blob.ErrNotFound.Has(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", Error.Wrap(err)
	}
	return &rec, etag, nil
}

// Acquire takes the lease when it is free or expired. The caller is
// responsible for verifying that the leased blob itself exists.
func (leases *Leases) Acquire(ctx context.Context, ref blob.Ref, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", blob.ErrInvalidOptions.New("lease ttl must be positive")
	}

	rec, etag, err := leases.load(ctx, ref)
	if err != nil {
		return "", err
	}
	if rec.active(leases.now()) {
		return "", blob.ErrConflict.New("%q is leased", ref)
	}

	id, err := uuid.New()
	if err != nil {
		return "", Error.Wrap(err)
	}
	next := record{
		ID:      id.String(),
		TTL:     ttl,
		Expires: leases.now().Add(ttl),
	}
	data, err := json.Marshal(next)
	if err != nil {
		return "", Error.Wrap(err)
	}

	opts := blob.UploadOptions{IfNoneMatch: blob.Wildcard}
	if rec != nil {
		// replace the expired lease only if nobody else has yet
		opts = blob.UploadOptions{IfMatch: etag}
	}
	_, err = leases.backend.Store(ctx, Sidecar(ref), data, opts)
	if blob.ErrConflict.Has(err) || blob.ErrPreconditionFailed.Has(err) || blob.ErrNotFound.Has(err) {
		return "", blob.ErrConflict.New("%q is leased", ref)
	}
	if err != nil {
		return "", err
	}
	return next.ID, nil
}

// Renew extends a held lease by its original duration.
func (leases *Leases) Renew(ctx context.Context, ref blob.Ref, leaseID string) error {
	rec, etag, err := leases.load(ctx, ref)
	if err != nil {
		return err
	}
	if !rec.active(leases.now()) || rec.ID != leaseID {
		return blob.ErrLeaseLost.New("%q", ref)
	}

	rec.Expires = leases.now().Add(rec.TTL)
	data, err := json.Marshal(rec)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = leases.backend.Store(ctx, Sidecar(ref), data, blob.UploadOptions{IfMatch: etag})
	if blob.ErrPreconditionFailed.Has(err) || blob.ErrNotFound.Has(err) {
		return blob.ErrLeaseLost.New("%q", ref)
	}
	return err
}

// Release ends a held lease.
func (leases *Leases) Release(ctx context.Context, ref blob.Ref, leaseID string) error {
	rec, etag, err := leases.load(ctx, ref)
	if err != nil {
		return err
	}
	if !rec.active(leases.now()) || rec.ID != leaseID {
		return blob.ErrLeaseLost.New("%q", ref)
	}

	err = leases.backend.Remove(ctx, Sidecar(ref), blob.DeleteOptions{IfMatch: etag})
	if blob.ErrPreconditionFailed.Has(err) || blob.ErrNotFound.Has(err) {
		return blob.ErrLeaseLost.New("%q", ref)
	}
	return err
}

// Break forcibly ends any lease on a blob.
func (leases *Leases) Break(ctx context.Context, ref blob.Ref) error {
	err := leases.backend.Remove(ctx, Sidecar(ref), blob.DeleteOptions{})
	if blob.ErrNotFound.Has(err) {
		return nil
	}
	return err
}

// State reports whether ref is currently leased.
func (leases *Leases) State(ctx context.Context, ref blob.Ref) (blob.LeaseState, error) {
	rec, _, err := leases.load(ctx, ref)
	if err != nil {
		return blob.LeaseAvailable, err
	}
	if rec.active(leases.now()) {
		return blob.LeaseHeld, nil
	}
	return blob.LeaseAvailable, nil
}

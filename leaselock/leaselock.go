// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package leaselock implements a distributed lock on blob leases.
//
// A lock key maps to a dedicated blob; holding the lock means holding the
// blob's lease. Leases carry a TTL so a crashed holder frees the lock by
// itself, and live holders renew in the background until released.
package leaselock

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/eventledger/blob"
)

var (
	// Error is the default error class of the package.
	Error = errs.Class("leaselock")

	// ErrTimeout is returned when the acquisition window elapses with the
	// lock still held elsewhere.
	ErrTimeout = errs.Class("lock timeout")

	// ErrLeaseLost is returned when the backing lease expired or was taken
	// over while the lock was considered held.
	ErrLeaseLost = errs.Class("lease lost")

	mon = monkit.Package()
)

// ProviderName identifies this lock implementation in configuration.
const ProviderName = "blob-lease"

// Suffix terminates every lock blob key.
const Suffix = ".lock"

// Lease TTL bounds mirror what blob services accept.
const (
	minTTL = 15 * time.Second
	maxTTL = 60 * time.Second
)

// Acquisition backoff bounds.
const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Config contains configurable values for a Locker.
type Config struct {
	Container string        `help:"container holding lock blobs" default:"locks"`
	TTL       time.Duration `help:"lease duration of held locks" default:"30s"`

	// AllowShortTTL disables the TTL clamp, for tests with fast clocks.
	AllowShortTTL bool `internal:"true"`
}

// Locker acquires distributed locks backed by a blob store.
type Locker struct {
	log    *zap.Logger
	store  blob.Store
	config Config
}

// New creates a Locker on store.
func New(log *zap.Logger, store blob.Store, config Config) *Locker {
	if config.Container == "" {
		config.Container = "locks"
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if !config.AllowShortTTL {
		config.TTL = min(max(config.TTL, minTTL), maxTTL)
	}
	return &Locker{log: log, store: store, config: config}
}

// SanitizeKey turns a lock key into a blob key stem; separators and other
// characters unsafe in blob keys become dashes.
func SanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '?', '#', '@', '[', ']':
			return '-'
		}
		return r
	}, key)
}

func (locker *Locker) ref(key string) blob.Ref {
	return blob.Ref{Container: locker.config.Container, Key: SanitizeKey(key) + Suffix}
}

// Acquire takes the lock for key, waiting up to timeout for the current
// holder to let go. A zero timeout attempts exactly once. When the window
// elapses the returned error is ErrTimeout.
func (locker *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (_ *Handle, err error) {
	defer mon.Task()(&ctx)(&err)

	ref := locker.ref(key)
	if err := locker.store.EnsureContainer(ctx, ref.Container); err != nil {
		return nil, Error.Wrap(err)
	}
	_, err = locker.store.Upload(ctx, ref, nil, blob.UploadOptions{IfNoneMatch: blob.Wildcard})
	if err != nil && !blob.ErrConflict.Has(err) {
		return nil, Error.Wrap(err)
	}

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		leaseID, err := locker.store.AcquireLease(ctx, ref, locker.config.TTL)
		if err == nil {
			return locker.newHandle(key, ref, leaseID), nil
		}
		if !blob.ErrConflict.Has(err) {
			return nil, Error.Wrap(err)
		}

		mon.Counter("lock_retries").Inc(1)
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		if time.Now().Add(wait).After(deadline) {
			return nil, ErrTimeout.New("%q still held after %v", key, timeout)
		}
		if !sleepFor(ctx, wait) {
			return nil, Error.Wrap(ctx.Err())
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// IsLocked reports whether key is currently held by anyone. A missing
// lock blob means nobody ever locked the key.
func (locker *Locker) IsLocked(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	props, err := locker.store.Properties(ctx, locker.ref(key))
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return false, nil
	case err != nil:
		return false, Error.Wrap(err)
	}
	return props.Lease == blob.LeaseHeld, nil
}

// Handle is a held lock. It renews its lease in the background; when a
// renewal fails the handle is lost, Done is closed and Err reports why.
type Handle struct {
	locker  *Locker
	key     string
	ref     blob.Ref
	leaseID string

	renew  *sync2.Cycle
	done   chan struct{}
	closed sync.Once

	mu  sync.Mutex
	err error
}

func (locker *Locker) newHandle(key string, ref blob.Ref, leaseID string) *Handle {
	handle := &Handle{
		locker:  locker,
		key:     key,
		ref:     ref,
		leaseID: leaseID,
		renew:   sync2.NewCycle(locker.config.TTL / 3),
		done:    make(chan struct{}),
	}
	go func() {
		_ = handle.renew.Run(context.Background(), handle.renewOnce)
	}()
	return handle
}

func (handle *Handle) renewOnce(ctx context.Context) error {
	err := handle.locker.store.RenewLease(ctx, handle.ref, handle.leaseID)
	if err == nil {
		return nil
	}
	if blob.ErrLeaseLost.Has(err) {
		err = ErrLeaseLost.New("%q", handle.key)
	}
	handle.locker.log.Warn("lock lease renewal failed",
		zap.String("key", handle.key), zap.Error(err))
	handle.fail(err)
	return err
}

func (handle *Handle) fail(err error) {
	handle.mu.Lock()
	if handle.err == nil {
		handle.err = err
	}
	handle.mu.Unlock()
	handle.closed.Do(func() { close(handle.done) })
}

// LockID returns the lease id backing the lock.
func (handle *Handle) LockID() string { return handle.leaseID }

// Key returns the lock key.
func (handle *Handle) Key() string { return handle.key }

// Done is closed when the lock is released or lost.
func (handle *Handle) Done() <-chan struct{} { return handle.done }

// Err returns why the lock ended, nil after a clean release.
func (handle *Handle) Err() error {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.err
}

// Release stops renewing and frees the lease. When the lease cannot be
// released cleanly it is broken so the next contender does not have to
// wait out the TTL.
func (handle *Handle) Release(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	handle.renew.Close()
	defer handle.closed.Do(func() { close(handle.done) })

	err = handle.locker.store.ReleaseLease(ctx, handle.ref, handle.leaseID)
	if err == nil {
		return nil
	}
	if blob.ErrLeaseLost.Has(err) {
		handle.fail(ErrLeaseLost.New("%q", handle.key))
		return nil
	}
	if berr := handle.locker.store.BreakLease(ctx, handle.ref); berr == nil {
		return nil
	}
	return Error.Wrap(err)
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

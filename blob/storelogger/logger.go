// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storelogger implements a logging wrapper around blob.Store.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/eventledger/blob"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap logging blob.Store.
type Logger struct {
	log   *zap.Logger
	store blob.Store
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store blob.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Properties returns metadata of a blob without downloading the content.
func (store *Logger) Properties(ctx context.Context, ref blob.Ref) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Properties", zap.Stringer("ref", ref))
	return store.store.Properties(ctx, ref)
}

// Download returns the full content of a blob.
func (store *Logger) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Download", zap.Stringer("ref", ref), zap.String("if match", opts.IfMatch))
	return store.store.Download(ctx, ref, opts)
}

// Upload stores content, honoring the conditional options.
func (store *Logger) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Upload", zap.Stringer("ref", ref),
		zap.Int("length", len(data)), zap.Binary("truncated", truncate(data)),
		zap.String("if match", opts.IfMatch), zap.String("if none match", opts.IfNoneMatch))
	return store.store.Upload(ctx, ref, data, opts)
}

// Delete removes a blob, honoring the conditional options.
func (store *Logger) Delete(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.Stringer("ref", ref), zap.String("if match", opts.IfMatch))
	return store.store.Delete(ctx, ref, opts)
}

// Exists reports whether a blob exists.
func (store *Logger) Exists(ctx context.Context, ref blob.Ref) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Exists", zap.Stringer("ref", ref))
	return store.store.Exists(ctx, ref)
}

// EnsureContainer creates the container when it does not exist yet.
func (store *Logger) EnsureContainer(ctx context.Context, container string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("EnsureContainer", zap.String("container", container))
	return store.store.EnsureContainer(ctx, container)
}

// List returns a page of keys under a prefix in lexical order.
func (store *Logger) List(ctx context.Context, opts blob.ListOptions) (_ blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("List", zap.String("container", opts.Container),
		zap.String("prefix", opts.Prefix), zap.String("cursor", opts.Cursor), zap.Int("limit", opts.Limit))
	return store.store.List(ctx, opts)
}

// AcquireLease takes an exclusive lease on a blob for the given duration.
func (store *Logger) AcquireLease(ctx context.Context, ref blob.Ref, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("AcquireLease", zap.Stringer("ref", ref), zap.Duration("ttl", ttl))
	return store.store.AcquireLease(ctx, ref, ttl)
}

// RenewLease extends a held lease by its original duration.
func (store *Logger) RenewLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("RenewLease", zap.Stringer("ref", ref))
	return store.store.RenewLease(ctx, ref, leaseID)
}

// ReleaseLease ends a held lease.
func (store *Logger) ReleaseLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ReleaseLease", zap.Stringer("ref", ref))
	return store.store.ReleaseLease(ctx, ref, leaseID)
}

// BreakLease forcibly ends any lease on a blob.
func (store *Logger) BreakLease(ctx context.Context, ref blob.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("BreakLease", zap.Stringer("ref", ref))
	return store.store.BreakLease(ctx, ref)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}

func truncate(v []byte) (t []byte) {
	if len(v)-1 < 10 {
		t = v
	} else {
		t = v[:10]
	}
	return t
}

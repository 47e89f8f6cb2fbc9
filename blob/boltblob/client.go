// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltblob implements a blob.Store on a single bbolt file.
//
// Containers map to top-level buckets and blobs are stored as JSON records
// carrying content, etag and lease state. ETags come from the bucket
// sequence, so every write under a container produces a fresh one.
package boltblob

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.etcd.io/bbolt"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
)

var mon = monkit.Package()

// Error is the default error class of the package.
var Error = errs.Class("boltblob")

var defaultTimeout = 1 * time.Second

// fileMode sets permissions so owner can read and write.
const fileMode = 0600

// Client implements a blob.Store on a bbolt file.
type Client struct {
	db   *bbolt.DB
	path string
}

type record struct {
	Data        []byte            `json:"data"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Lease       *leaseRecord      `json:"lease,omitempty"`
}

type leaseRecord struct {
	ID      string        `json:"id"`
	TTL     time.Duration `json:"ttl"`
	Expires time.Time     `json:"expires"`
}

func (l *leaseRecord) active(now time.Time) bool {
	return l != nil && now.Before(l.Expires)
}

// New instantiates a blob store at path.
func New(path string) (*Client, error) {
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db, path: path}, nil
}

// Close closes the bbolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

func bucketOf(tx *bbolt.Tx, container string) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(container))
	if bucket == nil {
		return nil, blob.ErrContainerNotFound.New("%q", container)
	}
	return bucket, nil
}

func loadRecord(bucket *bbolt.Bucket, ref blob.Ref) (record, error) {
	value := bucket.Get([]byte(ref.Key))
	if value == nil {
		return record{}, blob.ErrNotFound.New("%q", ref)
	}
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return record{}, Error.Wrap(err)
	}
	return rec, nil
}

func (rec *record) properties() blob.Properties {
	state := blob.LeaseAvailable
	if rec.Lease.active(time.Now()) {
		state = blob.LeaseHeld
	}
	return blob.Properties{
		ETag:        rec.ETag,
		Size:        int64(len(rec.Data)),
		ContentType: rec.ContentType,
		Metadata:    rec.Metadata,
		Lease:       state,
	}
}

// Properties returns metadata of a blob without downloading the content.
func (client *Client) Properties(ctx context.Context, ref blob.Ref) (props blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	err = client.db.View(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		props = rec.properties()
		return nil
	})
	return props, err
}

// Download returns the full content of a blob.
func (client *Client) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (data []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	err = client.db.View(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		if opts.IfMatch != "" && opts.IfMatch != rec.ETag {
			return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, rec.ETag)
		}
		data = append([]byte(nil), rec.Data...)
		return nil
	})
	return data, err
}

// Upload stores content, honoring the conditional options.
func (client *Client) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (props blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := opts.Check(); err != nil {
		return blob.Properties{}, err
	}

	err = client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}

		var existing *record
		if value := bucket.Get([]byte(ref.Key)); value != nil {
			var rec record
			if err := json.Unmarshal(value, &rec); err != nil {
				return Error.Wrap(err)
			}
			existing = &rec
		}

		switch {
		case opts.IfNoneMatch == blob.Wildcard && existing != nil:
			return blob.ErrConflict.New("%q already exists", ref)
		case opts.IfMatch != "" && existing == nil:
			return blob.ErrPreconditionFailed.New("%q does not exist", ref)
		case opts.IfMatch != "" && opts.IfMatch != existing.ETag:
			return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, existing.ETag)
		}
		if existing != nil && existing.Lease.active(time.Now()) {
			return blob.ErrConflict.New("%q is leased", ref)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return Error.Wrap(err)
		}
		rec := record{
			Data:        data,
			ETag:        strconv.FormatUint(seq, 10),
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
		}
		if existing != nil {
			rec.Lease = existing.Lease
		}

		value, err := json.Marshal(rec)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := bucket.Put([]byte(ref.Key), value); err != nil {
			return Error.Wrap(err)
		}
		props = rec.properties()
		return nil
	})
	return props, err
}

// Delete removes a blob, honoring the conditional options.
func (client *Client) Delete(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		if opts.IfMatch != "" && opts.IfMatch != rec.ETag {
			return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, rec.ETag)
		}
		if rec.Lease.active(time.Now()) {
			return blob.ErrConflict.New("%q is leased", ref)
		}
		return Error.Wrap(bucket.Delete([]byte(ref.Key)))
	})
}

// Exists reports whether a blob exists.
func (client *Client) Exists(ctx context.Context, ref blob.Ref) (exists bool, err error) {
	defer mon.Task()(&ctx)(&err)
	err = client.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ref.Container))
		if bucket == nil {
			return nil
		}
		exists = bucket.Get([]byte(ref.Key)) != nil
		return nil
	})
	return exists, err
}

// EnsureContainer creates the container when it does not exist yet.
func (client *Client) EnsureContainer(ctx context.Context, container string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(container))
		return Error.Wrap(err)
	})
}

// List returns a page of keys under a prefix in lexical order.
func (client *Client) List(ctx context.Context, opts blob.ListOptions) (result blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := opts.Limit
	if limit <= 0 {
		limit = blob.DefaultListLimit
	}

	err = client.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(opts.Container))
		if bucket == nil {
			return nil
		}

		start := opts.Prefix
		if opts.Cursor > start {
			start = opts.Cursor + "\x00"
		}

		cur := bucket.Cursor()
		for k, v := cur.Seek([]byte(start)); k != nil; k, v = cur.Next() {
			if !strings.HasPrefix(string(k), opts.Prefix) {
				break
			}
			if len(result.Items) == limit {
				result.More = true
				break
			}
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return Error.Wrap(err)
			}
			result.Items = append(result.Items, blob.Item{
				Key:  string(k),
				Size: int64(len(rec.Data)),
				ETag: rec.ETag,
			})
		}
		return nil
	})
	if err != nil {
		return blob.ListResult{}, err
	}
	if len(result.Items) > 0 {
		result.Cursor = result.Items[len(result.Items)-1].Key
	}
	return result, nil
}

// AcquireLease takes an exclusive lease on a blob for the given duration.
func (client *Client) AcquireLease(ctx context.Context, ref blob.Ref, ttl time.Duration) (leaseID string, err error) {
	defer mon.Task()(&ctx)(&err)
	if ttl <= 0 {
		return "", blob.ErrInvalidOptions.New("lease ttl must be positive")
	}

	err = client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		if rec.Lease.active(time.Now()) {
			return blob.ErrConflict.New("%q is leased", ref)
		}

		id, err := uuid.New()
		if err != nil {
			return Error.Wrap(err)
		}
		rec.Lease = &leaseRecord{
			ID:      id.String(),
			TTL:     ttl,
			Expires: time.Now().Add(ttl),
		}
		leaseID = rec.Lease.ID
		return putRecord(bucket, ref, rec)
	})
	return leaseID, err
}

// RenewLease extends a held lease by its original duration.
func (client *Client) RenewLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		if !rec.Lease.active(time.Now()) || rec.Lease.ID != leaseID {
			return blob.ErrLeaseLost.New("%q", ref)
		}
		rec.Lease.Expires = time.Now().Add(rec.Lease.TTL)
		return putRecord(bucket, ref, rec)
	})
}

// ReleaseLease ends a held lease.
func (client *Client) ReleaseLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		if !rec.Lease.active(time.Now()) || rec.Lease.ID != leaseID {
			return blob.ErrLeaseLost.New("%q", ref)
		}
		rec.Lease = nil
		return putRecord(bucket, ref, rec)
	})
}

// BreakLease forcibly ends any lease on a blob.
func (client *Client) BreakLease(ctx context.Context, ref blob.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := bucketOf(tx, ref.Container)
		if err != nil {
			return err
		}
		rec, err := loadRecord(bucket, ref)
		if err != nil {
			return err
		}
		rec.Lease = nil
		return putRecord(bucket, ref, rec)
	})
}

func putRecord(bucket *bbolt.Bucket, ref blob.Ref, rec record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(bucket.Put([]byte(ref.Key), value))
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package natsblob implements a blob.Store on NATS JetStream key-value
// buckets.
//
// Containers map to KV buckets and the entry revision doubles as the ETag,
// so conditional writes translate directly to Create and Update calls.
// JetStream has no blob leases; they are emulated with sidecar blobs via
// the sidelease package and the sidecars are hidden from listings.
package natsblob

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/eventledger/blob"
	"storj.io/eventledger/private/sidelease"
)

var (
	// Error is a natsblob error.
	Error = errs.Class("natsblob")

	mon = monkit.Package()
)

// Client is the entrypoint into JetStream key-value storage.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	leases *sidelease.Leases

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

type envelope struct {
	Data        []byte            `json:"data"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Open connects to a NATS server and prepares JetStream access.
func Open(ctx context.Context, url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, Error.New("connect failed: %v", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, Error.Wrap(err)
	}

	client := &Client{
		conn:    conn,
		js:      js,
		buckets: map[string]jetstream.KeyValue{},
	}
	client.leases = sidelease.New(rawBackend{client})
	return client, nil
}

// Close closes the NATS connection.
func (client *Client) Close() error {
	client.conn.Close()
	return nil
}

func (client *Client) bucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	client.mu.Lock()
	kv, ok := client.buckets[name]
	client.mu.Unlock()
	if ok {
		return kv, nil
	}

	kv, err := client.js.KeyValue(ctx, name)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, blob.ErrContainerNotFound.New("%q", name)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	client.mu.Lock()
	client.buckets[name] = kv
	client.mu.Unlock()
	return kv, nil
}

func wrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func revision(etag string) (uint64, error) {
	rev, err := strconv.ParseUint(etag, 10, 64)
	if err != nil {
		return 0, blob.ErrPreconditionFailed.New("etag %q is not a revision", etag)
	}
	return rev, nil
}

// rawBackend adapts the client for the lease emulation without the
// envelope encoding.
type rawBackend struct {
	client *Client
}

func (raw rawBackend) Load(ctx context.Context, ref blob.Ref) ([]byte, string, error) {
	kv, err := raw.client.bucket(ctx, ref.Container)
	if err != nil {
		return nil, "", err
	}
	entry, err := kv.Get(ctx, ref.Key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, "", blob.ErrNotFound.New("%q", ref)
	}
	if err != nil {
		return nil, "", Error.Wrap(err)
	}
	return entry.Value(), strconv.FormatUint(entry.Revision(), 10), nil
}

func (raw rawBackend) Store(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (string, error) {
	if err := opts.Check(); err != nil {
		return "", err
	}
	kv, err := raw.client.bucket(ctx, ref.Container)
	if err != nil {
		return "", err
	}

	var rev uint64
	switch {
	case opts.IfNoneMatch == blob.Wildcard:
		rev, err = kv.Create(ctx, ref.Key, data)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return "", blob.ErrConflict.New("%q already exists", ref)
		}
	case opts.IfMatch != "":
		var expected uint64
		expected, err = revision(opts.IfMatch)
		if err != nil {
			return "", err
		}
		rev, err = kv.Update(ctx, ref.Key, data, expected)
		if wrongLastSequence(err) || errors.Is(err, jetstream.ErrKeyExists) {
			return "", blob.ErrPreconditionFailed.New("etag %q does not match", opts.IfMatch)
		}
	default:
		rev, err = kv.Put(ctx, ref.Key, data)
	}
	if err != nil {
		return "", Error.Wrap(err)
	}
	return strconv.FormatUint(rev, 10), nil
}

func (raw rawBackend) Remove(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) error {
	kv, err := raw.client.bucket(ctx, ref.Container)
	if err != nil {
		return err
	}

	// a KV delete of a missing key still writes a tombstone, check first
	entry, err := kv.Get(ctx, ref.Key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return blob.ErrNotFound.New("%q", ref)
	}
	if err != nil {
		return Error.Wrap(err)
	}

	expected := entry.Revision()
	if opts.IfMatch != "" {
		expected, err = revision(opts.IfMatch)
		if err != nil {
			return err
		}
		if expected != entry.Revision() {
			return blob.ErrPreconditionFailed.New("etag %q does not match", opts.IfMatch)
		}
	}

	err = kv.Delete(ctx, ref.Key, jetstream.LastRevision(expected))
	if wrongLastSequence(err) {
		return blob.ErrPreconditionFailed.New("etag %q does not match", opts.IfMatch)
	}
	return Error.Wrap(err)
}

// Properties returns metadata of a blob without downloading the content.
func (client *Client) Properties(ctx context.Context, ref blob.Ref) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	data, etag, err := rawBackend{client}.Load(ctx, ref)
	if err != nil {
		return blob.Properties{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return blob.Properties{}, Error.Wrap(err)
	}

	state, err := client.leases.State(ctx, ref)
	if err != nil {
		return blob.Properties{}, err
	}

	return blob.Properties{
		ETag:        etag,
		Size:        int64(len(env.Data)),
		ContentType: env.ContentType,
		Metadata:    env.Metadata,
		Lease:       state,
	}, nil
}

// Download returns the full content of a blob.
func (client *Client) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	data, etag, err := rawBackend{client}.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if opts.IfMatch != "" && opts.IfMatch != etag {
		return nil, blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, etag)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Error.Wrap(err)
	}
	return env.Data, nil
}

// Upload stores content, honoring the conditional options.
func (client *Client) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := json.Marshal(envelope{
		Data:        data,
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return blob.Properties{}, Error.Wrap(err)
	}

	etag, err := rawBackend{client}.Store(ctx, ref, value, opts)
	if err != nil {
		return blob.Properties{}, err
	}
	return blob.Properties{
		ETag:        etag,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	}, nil
}

// Delete removes a blob, honoring the conditional options.
func (client *Client) Delete(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)
	return rawBackend{client}.Remove(ctx, ref, opts)
}

// Exists reports whether a blob exists.
func (client *Client) Exists(ctx context.Context, ref blob.Ref) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, _, err = rawBackend{client}.Load(ctx, ref)
	if blob.ErrNotFound.Has(err) || blob.ErrContainerNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (client *Client) EnsureContainer(ctx context.Context, container string) (err error) {
	defer mon.Task()(&ctx)(&err)

	kv, err := client.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  container,
		History: 1,
	})
	if err != nil {
		return Error.Wrap(err)
	}

	client.mu.Lock()
	client.buckets[container] = kv
	client.mu.Unlock()
	return nil
}

// List returns a page of keys under a prefix in lexical order.
func (client *Client) List(ctx context.Context, opts blob.ListOptions) (result blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := opts.Limit
	if limit <= 0 {
		limit = blob.DefaultListLimit
	}

	kv, err := client.bucket(ctx, opts.Container)
	if blob.ErrContainerNotFound.Has(err) {
		return blob.ListResult{}, nil
	}
	if err != nil {
		return blob.ListResult{}, err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return blob.ListResult{}, Error.Wrap(err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, opts.Prefix) || sidelease.IsSidecar(key) {
			continue
		}
		if opts.Cursor != "" && key <= opts.Cursor {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if len(keys) > limit {
		keys = keys[:limit]
		result.More = true
	}

	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return blob.ListResult{}, Error.Wrap(err)
		}
		var env envelope
		if err := json.Unmarshal(entry.Value(), &env); err != nil {
			return blob.ListResult{}, Error.Wrap(err)
		}
		result.Items = append(result.Items, blob.Item{
			Key:  key,
			Size: int64(len(env.Data)),
			ETag: strconv.FormatUint(entry.Revision(), 10),
		})
	}
	if len(result.Items) > 0 {
		result.Cursor = result.Items[len(result.Items)-1].Key
	}
	return result, nil
}

// AcquireLease takes an exclusive lease on a blob for the given duration.
func (client *Client) AcquireLease(ctx context.Context, ref blob.Ref, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := client.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if !exists {
		if _, err := client.bucket(ctx, ref.Container); err != nil {
			return "", err
		}
		return "", blob.ErrNotFound.New("%q", ref)
	}
	return client.leases.Acquire(ctx, ref, ttl)
}

// RenewLease extends a held lease by its original duration.
func (client *Client) RenewLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.leases.Renew(ctx, ref, leaseID)
}

// ReleaseLease ends a held lease.
func (client *Client) ReleaseLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.leases.Release(ctx, ref, leaseID)
}

// BreakLease forcibly ends any lease on a blob.
func (client *Client) BreakLease(ctx context.Context, ref blob.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.leases.Break(ctx, ref)
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisblob implements a blob.Store on Redis.
//
// Blobs are stored as JSON envelopes under "b:<container>:<key>" with a
// per-container sorted set keeping the keys in lexical order for listing.
// Conditional writes run inside WATCH transactions. Leases use dedicated
// keys with a native TTL, so expiry is handled by the server.
package redisblob

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
)

var (
	// Error is a redisblob error.
	Error = errs.Class("redisblob")

	mon = monkit.Package()
)

// txRetries bounds how often a WATCH transaction is re-run after losing a
// race before giving up.
const txRetries = 5

// Client is the entrypoint into Redis.
type Client struct {
	db *redis.Client
}

type envelope struct {
	Data        []byte            `json:"data"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OpenClient returns a configured Client instance, verifying a successful
// connection to redis.
func OpenClient(ctx context.Context, address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// OpenClientFrom returns a configured Client instance from a redis address,
// verifying a successful connection to redis.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, err
	}

	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()

	db := 0
	if dbs := q.Get("db"); dbs != "" {
		db, err = strconv.Atoi(dbs)
		if err != nil {
			return nil, err
		}
	}

	return OpenClient(ctx, redisurl.Host, q.Get("password"), db)
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}

func blobKey(ref blob.Ref) string     { return "b:" + ref.Container + ":" + ref.Key }
func leaseKey(ref blob.Ref) string    { return "l:" + ref.Container + ":" + ref.Key }
func containerKey(name string) string { return "c:" + name }
func indexKey(name string) string     { return "z:" + name }

// watch re-runs txf until it does not lose the optimistic race anymore.
func (client *Client) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < txRetries; attempt++ {
		err := client.db.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return Error.New("transaction retries exhausted")
}

func (client *Client) containerExists(ctx context.Context, cmdable redis.Cmdable, name string) (bool, error) {
	n, err := cmdable.Exists(ctx, containerKey(name)).Result()
	if err != nil {
		return false, Error.New("exists error: %v", err)
	}
	return n > 0, nil
}

func getEnvelope(ctx context.Context, cmdable redis.Cmdable, key string) (_ *envelope, err error) {
	value, err := cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return nil, Error.New("get error: %v", err)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, Error.Wrap(err)
	}
	return &env, nil
}

// load resolves the envelope for ref, mapping missing container and blob
// to their error classes.
func (client *Client) load(ctx context.Context, cmdable redis.Cmdable, ref blob.Ref) (*envelope, error) {
	env, err := getEnvelope(ctx, cmdable, blobKey(ref))
	if err != nil {
		return nil, err
	}
	if env == nil {
		exists, err := client.containerExists(ctx, cmdable, ref.Container)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, blob.ErrContainerNotFound.New("%q", ref.Container)
		}
		return nil, blob.ErrNotFound.New("%q", ref)
	}
	return env, nil
}

// Properties returns metadata of a blob without downloading the content.
func (client *Client) Properties(ctx context.Context, ref blob.Ref) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	env, err := client.load(ctx, client.db, ref)
	if err != nil {
		return blob.Properties{}, err
	}

	state := blob.LeaseAvailable
	leased, err := client.db.Exists(ctx, leaseKey(ref)).Result()
	if err != nil {
		return blob.Properties{}, Error.New("exists error: %v", err)
	}
	if leased > 0 {
		state = blob.LeaseHeld
	}

	return blob.Properties{
		ETag:        env.ETag,
		Size:        int64(len(env.Data)),
		ContentType: env.ContentType,
		Metadata:    env.Metadata,
		Lease:       state,
	}, nil
}

// Download returns the full content of a blob.
func (client *Client) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	env, err := client.load(ctx, client.db, ref)
	if err != nil {
		return nil, err
	}
	if opts.IfMatch != "" && opts.IfMatch != env.ETag {
		return nil, blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, env.ETag)
	}
	return env.Data, nil
}

// Upload stores content, honoring the conditional options.
func (client *Client) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (props blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := opts.Check(); err != nil {
		return blob.Properties{}, err
	}

	txf := func(tx *redis.Tx) error {
		exists, err := client.containerExists(ctx, tx, ref.Container)
		if err != nil {
			return err
		}
		if !exists {
			return blob.ErrContainerNotFound.New("%q", ref.Container)
		}

		existing, err := getEnvelope(ctx, tx, blobKey(ref))
		if err != nil {
			return err
		}

		switch {
		case opts.IfNoneMatch == blob.Wildcard && existing != nil:
			return blob.ErrConflict.New("%q already exists", ref)
		case opts.IfMatch != "" && existing == nil:
			return blob.ErrPreconditionFailed.New("%q does not exist", ref)
		case opts.IfMatch != "" && opts.IfMatch != existing.ETag:
			return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, existing.ETag)
		}

		leased, err := tx.Exists(ctx, leaseKey(ref)).Result()
		if err != nil {
			return Error.New("exists error: %v", err)
		}
		if leased > 0 {
			return blob.ErrConflict.New("%q is leased", ref)
		}

		etag, err := uuid.New()
		if err != nil {
			return Error.Wrap(err)
		}
		env := envelope{
			Data:        data,
			ETag:        etag.String(),
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
		}
		value, err := json.Marshal(env)
		if err != nil {
			return Error.Wrap(err)
		}

		// runs only if the watched keys remain unchanged
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, blobKey(ref), value, 0)
			pipe.ZAdd(ctx, indexKey(ref.Container), redis.Z{Score: 0, Member: ref.Key})
			return nil
		})
		if err != nil {
			return err
		}

		props = blob.Properties{
			ETag:        env.ETag,
			Size:        int64(len(env.Data)),
			ContentType: env.ContentType,
			Metadata:    env.Metadata,
		}
		return nil
	}

	if err := client.watch(ctx, txf, blobKey(ref)); err != nil {
		return blob.Properties{}, err
	}
	return props, nil
}

// Delete removes a blob, honoring the conditional options.
func (client *Client) Delete(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	txf := func(tx *redis.Tx) error {
		env, err := client.load(ctx, tx, ref)
		if err != nil {
			return err
		}
		if opts.IfMatch != "" && opts.IfMatch != env.ETag {
			return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, env.ETag)
		}

		leased, err := tx.Exists(ctx, leaseKey(ref)).Result()
		if err != nil {
			return Error.New("exists error: %v", err)
		}
		if leased > 0 {
			return blob.ErrConflict.New("%q is leased", ref)
		}

		// runs only if the watched keys remain unchanged
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, blobKey(ref))
			pipe.ZRem(ctx, indexKey(ref.Container), ref.Key)
			return nil
		})
		return err
	}

	return client.watch(ctx, txf, blobKey(ref))
}

// Exists reports whether a blob exists.
func (client *Client) Exists(ctx context.Context, ref blob.Ref) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	n, err := client.db.Exists(ctx, blobKey(ref)).Result()
	if err != nil {
		return false, Error.New("exists error: %v", err)
	}
	return n > 0, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (client *Client) EnsureContainer(ctx context.Context, container string) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = client.db.Set(ctx, containerKey(container), "1", 0).Err()
	if err != nil {
		return Error.New("set error: %v", err)
	}
	return nil
}

// List returns a page of keys under a prefix in lexical order.
func (client *Client) List(ctx context.Context, opts blob.ListOptions) (result blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := opts.Limit
	if limit <= 0 {
		limit = blob.DefaultListLimit
	}

	exists, err := client.containerExists(ctx, client.db, opts.Container)
	if err != nil {
		return blob.ListResult{}, err
	}
	if !exists {
		return blob.ListResult{}, nil
	}

	lexMin, lexMax := "-", "+"
	if opts.Prefix != "" {
		lexMin = "[" + opts.Prefix
		lexMax = "[" + opts.Prefix + "\xff"
	}
	if opts.Cursor != "" {
		lexMin = "(" + opts.Cursor
	}

	keys, err := client.db.ZRangeByLex(ctx, indexKey(opts.Container), &redis.ZRangeBy{
		Min:   lexMin,
		Max:   lexMax,
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return blob.ListResult{}, Error.New("zrangebylex error: %v", err)
	}

	if len(keys) > limit {
		keys = keys[:limit]
		result.More = true
	}

	for _, key := range keys {
		// skip entries whose prefix no longer matches after the cursor jump
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		env, err := getEnvelope(ctx, client.db, blobKey(blob.Ref{Container: opts.Container, Key: key}))
		if err != nil {
			return blob.ListResult{}, err
		}
		if env == nil {
			continue
		}
		result.Items = append(result.Items, blob.Item{
			Key:  key,
			Size: int64(len(env.Data)),
			ETag: env.ETag,
		})
	}
	if len(result.Items) > 0 {
		result.Cursor = result.Items[len(result.Items)-1].Key
	}
	return result, nil
}

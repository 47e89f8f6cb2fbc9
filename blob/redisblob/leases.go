// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package redisblob

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
)

// Lease keys store "<ttlMillis>:<leaseID>" with a native TTL, so an expired
// lease simply disappears. The scripts verify the holder before touching
// the key to keep renew and release atomic.

var renewScript = redis.NewScript(`
local v = redis.call("get", KEYS[1])
if not v then return 0 end
local sep = string.find(v, ":", 1, true)
local ttl = string.sub(v, 1, sep - 1)
if string.sub(v, sep + 1) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ttl))
end
return 0
`)

var releaseScript = redis.NewScript(`
local v = redis.call("get", KEYS[1])
if not v then return 0 end
local sep = string.find(v, ":", 1, true)
if string.sub(v, sep + 1) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLease takes an exclusive lease on a blob for the given duration.
func (client *Client) AcquireLease(ctx context.Context, ref blob.Ref, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	if ttl <= 0 {
		return "", blob.ErrInvalidOptions.New("lease ttl must be positive")
	}

	if _, err := client.load(ctx, client.db, ref); err != nil {
		return "", err
	}

	id, err := uuid.New()
	if err != nil {
		return "", Error.Wrap(err)
	}

	value := strconv.FormatInt(ttl.Milliseconds(), 10) + ":" + id.String()
	ok, err := client.db.SetNX(ctx, leaseKey(ref), value, ttl).Result()
	if err != nil {
		return "", Error.New("setnx error: %v", err)
	}
	if !ok {
		return "", blob.ErrConflict.New("%q is leased", ref)
	}
	return id.String(), nil
}

// RenewLease extends a held lease by its original duration.
func (client *Client) RenewLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := renewScript.Run(ctx, client.db, []string{leaseKey(ref)}, leaseID).Int()
	if err != nil {
		return Error.New("renew script error: %v", err)
	}
	if res == 0 {
		if _, err := client.load(ctx, client.db, ref); err != nil {
			return err
		}
		return blob.ErrLeaseLost.New("%q", ref)
	}
	return nil
}

// ReleaseLease ends a held lease.
func (client *Client) ReleaseLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := releaseScript.Run(ctx, client.db, []string{leaseKey(ref)}, leaseID).Int()
	if err != nil {
		return Error.New("release script error: %v", err)
	}
	if res == 0 {
		if _, err := client.load(ctx, client.db, ref); err != nil {
			return err
		}
		return blob.ErrLeaseLost.New("%q", ref)
	}
	return nil
}

// BreakLease forcibly ends any lease on a blob.
func (client *Client) BreakLease(ctx context.Context, ref blob.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := client.load(ctx, client.db, ref); err != nil {
		return err
	}
	if err := client.db.Del(ctx, leaseKey(ref)).Err(); err != nil {
		return Error.New("del error: %v", err)
	}
	return nil
}

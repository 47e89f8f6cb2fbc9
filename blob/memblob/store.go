// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memblob implements an in-memory blob store.
//
// It is the reference implementation of the blob.Store semantics and backs
// most of the engine tests. The clock is injectable so lease expiry can be
// tested without sleeping.
package memblob

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
)

var mon = monkit.Package()

// Client implements an in-memory blob.Store.
type Client struct {
	mu         sync.Mutex
	now        func() time.Time
	rev        int64
	containers map[string]*container
}

type container struct {
	entries []entry // sorted by key
}

type entry struct {
	key         string
	data        []byte
	etag        string
	contentType string
	metadata    map[string]string
	lease       lease
}

type lease struct {
	id      string
	ttl     time.Duration
	expires time.Time
}

func (l *lease) active(now time.Time) bool {
	return l.id != "" && now.Before(l.expires)
}

// New creates an in-memory blob store.
func New() *Client { return NewWithClock(time.Now) }

// NewWithClock creates an in-memory blob store using the given clock.
func NewWithClock(now func() time.Time) *Client {
	return &Client{
		now:        now,
		containers: map[string]*container{},
	}
}

func (c *container) indexOf(key string) (int, bool) {
	i := sort.Search(len(c.entries), func(k int) bool {
		return c.entries[k].key >= key
	})
	if i >= len(c.entries) {
		return i, false
	}
	return i, c.entries[i].key == key
}

// lookup returns the entry for ref, errs classed per the blob contract.
func (client *Client) lookup(ref blob.Ref) (*container, *entry, error) {
	cont, ok := client.containers[ref.Container]
	if !ok {
		return nil, nil, blob.ErrContainerNotFound.New("%q", ref.Container)
	}
	i, found := cont.indexOf(ref.Key)
	if !found {
		return cont, nil, blob.ErrNotFound.New("%q", ref)
	}
	return cont, &cont.entries[i], nil
}

func (client *Client) nextETag() string {
	client.rev++
	return strconv.FormatInt(client.rev, 10)
}

func (client *Client) properties(e *entry) blob.Properties {
	state := blob.LeaseAvailable
	if e.lease.active(client.now()) {
		state = blob.LeaseHeld
	}
	return blob.Properties{
		ETag:        e.etag,
		Size:        int64(len(e.data)),
		ContentType: e.contentType,
		Metadata:    cloneMap(e.metadata),
		Lease:       state,
	}
}

// Properties returns metadata of a blob without downloading the content.
func (client *Client) Properties(ctx context.Context, ref blob.Ref) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return blob.Properties{}, err
	}
	return client.properties(e), nil
}

// Download returns the full content of a blob.
func (client *Client) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return nil, err
	}
	if opts.IfMatch != "" && opts.IfMatch != e.etag {
		return nil, blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, e.etag)
	}
	return append([]byte(nil), e.data...), nil
}

// Upload stores content, honoring the conditional options.
func (client *Client) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := opts.Check(); err != nil {
		return blob.Properties{}, err
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	cont, ok := client.containers[ref.Container]
	if !ok {
		return blob.Properties{}, blob.ErrContainerNotFound.New("%q", ref.Container)
	}

	i, found := cont.indexOf(ref.Key)
	switch {
	case opts.IfNoneMatch == blob.Wildcard && found:
		return blob.Properties{}, blob.ErrConflict.New("%q already exists", ref)
	case opts.IfMatch != "" && !found:
		return blob.Properties{}, blob.ErrPreconditionFailed.New("%q does not exist", ref)
	case opts.IfMatch != "" && opts.IfMatch != cont.entries[i].etag:
		return blob.Properties{}, blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, cont.entries[i].etag)
	}

	if found && cont.entries[i].lease.active(client.now()) {
		return blob.Properties{}, blob.ErrConflict.New("%q is leased", ref)
	}

	e := entry{
		key:         ref.Key,
		data:        append([]byte(nil), data...),
		etag:        client.nextETag(),
		contentType: opts.ContentType,
		metadata:    cloneMap(opts.Metadata),
	}
	if found {
		e.lease = cont.entries[i].lease
		cont.entries[i] = e
	} else {
		cont.entries = append(cont.entries, entry{})
		copy(cont.entries[i+1:], cont.entries[i:])
		cont.entries[i] = e
	}
	return client.properties(&cont.entries[i]), nil
}

// Delete removes a blob, honoring the conditional options.
func (client *Client) Delete(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	cont, e, err := client.lookup(ref)
	if err != nil {
		return err
	}
	if opts.IfMatch != "" && opts.IfMatch != e.etag {
		return blob.ErrPreconditionFailed.New("etag %q does not match %q", opts.IfMatch, e.etag)
	}
	if e.lease.active(client.now()) {
		return blob.ErrConflict.New("%q is leased", ref)
	}

	i, _ := cont.indexOf(ref.Key)
	copy(cont.entries[i:], cont.entries[i+1:])
	cont.entries = cont.entries[:len(cont.entries)-1]
	return nil
}

// Exists reports whether a blob exists.
func (client *Client) Exists(ctx context.Context, ref blob.Ref) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	cont, ok := client.containers[ref.Container]
	if !ok {
		return false, nil
	}
	_, found := cont.indexOf(ref.Key)
	return found, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (client *Client) EnsureContainer(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	if _, ok := client.containers[name]; !ok {
		client.containers[name] = &container{}
	}
	return nil
}

// List returns a page of keys under a prefix in lexical order.
func (client *Client) List(ctx context.Context, opts blob.ListOptions) (_ blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = blob.DefaultListLimit
	}

	cont, ok := client.containers[opts.Container]
	if !ok {
		return blob.ListResult{}, nil
	}

	start := opts.Prefix
	if opts.Cursor > start {
		start = opts.Cursor + "\x00"
	}
	i, _ := cont.indexOf(start)

	var result blob.ListResult
	for ; i < len(cont.entries); i++ {
		e := &cont.entries[i]
		if !strings.HasPrefix(e.key, opts.Prefix) {
			break
		}
		if len(result.Items) == limit {
			result.More = true
			break
		}
		result.Items = append(result.Items, blob.Item{
			Key:  e.key,
			Size: int64(len(e.data)),
			ETag: e.etag,
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
	if ttl <= 0 {
		return "", blob.ErrInvalidOptions.New("lease ttl must be positive")
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return "", err
	}
	if e.lease.active(client.now()) {
		return "", blob.ErrConflict.New("%q is leased", ref)
	}

	id, err := uuid.New()
	if err != nil {
		return "", blob.Error.Wrap(err)
	}
	e.lease = lease{
		id:      id.String(),
		ttl:     ttl,
		expires: client.now().Add(ttl),
	}
	return e.lease.id, nil
}

// RenewLease extends a held lease by its original duration.
func (client *Client) RenewLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return err
	}
	if !e.lease.active(client.now()) || e.lease.id != leaseID {
		return blob.ErrLeaseLost.New("%q", ref)
	}
	e.lease.expires = client.now().Add(e.lease.ttl)
	return nil
}

// ReleaseLease ends a held lease.
func (client *Client) ReleaseLease(ctx context.Context, ref blob.Ref, leaseID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return err
	}
	if !e.lease.active(client.now()) || e.lease.id != leaseID {
		return blob.ErrLeaseLost.New("%q", ref)
	}
	e.lease = lease{}
	return nil
}

// BreakLease forcibly ends any lease on a blob.
func (client *Client) BreakLease(ctx context.Context, ref blob.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.mu.Lock()
	defer client.mu.Unlock()

	_, e, err := client.lookup(ref)
	if err != nil {
		return err
	}
	e.lease = lease{}
	return nil
}

// Close closes the store.
func (client *Client) Close() error { return nil }

func cloneMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

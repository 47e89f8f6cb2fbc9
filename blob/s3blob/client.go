// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package s3blob implements a blob.Store on Amazon S3.
//
// Containers map to buckets and conditional writes translate to the
// IfMatch and IfNoneMatch preconditions of PutObject. S3 has no blob
// leases; they are emulated with sidecar blobs via the sidelease package
// and the sidecars are hidden from listings. Conditional deletes are
// emulated with a head-and-compare, which is best effort only.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/eventledger/blob"
	"storj.io/eventledger/private/sidelease"
)

var (
	// Error is a s3blob error.
	Error = errs.Class("s3blob")

	mon = monkit.Package()
)

// API is the subset of the S3 client the store uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Client implements a blob.Store on S3.
type Client struct {
	api    API
	leases *sidelease.Leases
}

// Open creates a client from the ambient AWS configuration.
func Open(ctx context.Context, optFns ...func(*s3.Options)) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return New(s3.NewFromConfig(cfg, optFns...)), nil
}

// New creates a client around an existing S3 API handle.
func New(api API) *Client {
	client := &Client{api: api}
	client.leases = sidelease.New(rawBackend{client})
	return client
}

// Close closes the store.
func (client *Client) Close() error { return nil }

// trimETag strips the quoting S3 wraps ETags in.
func trimETag(etag string) string { return strings.Trim(etag, `"`) }

// quoteETag restores the quoting the S3 API expects in preconditions.
func quoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

// classify maps S3 API failures onto the blob error classes.
func classify(err error, ref blob.Ref) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return blob.ErrNotFound.New("%q", ref)
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return blob.ErrContainerNotFound.New("%q", ref.Container)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return blob.ErrNotFound.New("%q", ref)
		case "NoSuchBucket":
			return blob.ErrContainerNotFound.New("%q", ref.Container)
		case "PreconditionFailed":
			return blob.ErrPreconditionFailed.New("%q", ref)
		case "ConditionalRequestConflict":
			return blob.ErrConflict.New("%q", ref)
		}
	}
	return Error.Wrap(err)
}

// rawBackend exposes the primitive object calls for the lease emulation
// and the store itself.
type rawBackend struct {
	client *Client
}

func (raw rawBackend) Load(ctx context.Context, ref blob.Ref) ([]byte, string, error) {
	out, err := raw.client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, "", classify(err, ref)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", Error.Wrap(err)
	}
	return data, trimETag(aws.ToString(out.ETag)), nil
}

func (raw rawBackend) Store(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (string, error) {
	if err := opts.Check(); err != nil {
		return "", err
	}

	put := &s3.PutObjectInput{
		Bucket:   aws.String(ref.Container),
		Key:      aws.String(ref.Key),
		Body:     bytes.NewReader(data),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		put.ContentType = aws.String(opts.ContentType)
	}
	switch {
	case opts.IfNoneMatch == blob.Wildcard:
		put.IfNoneMatch = aws.String(blob.Wildcard)
	case opts.IfMatch != "":
		put.IfMatch = aws.String(quoteETag(opts.IfMatch))
	}

	out, err := raw.client.api.PutObject(ctx, put)
	if err != nil {
		err = classify(err, ref)
		// a failed create precondition means the blob already exists
		if opts.IfNoneMatch == blob.Wildcard && blob.ErrPreconditionFailed.Has(err) {
			return "", blob.ErrConflict.New("%q already exists", ref)
		}
		// a failed update precondition on a missing blob is still 412 in
		// S3 terms, keep the precondition class
		return "", err
	}
	return trimETag(aws.ToString(out.ETag)), nil
}

func (raw rawBackend) Remove(ctx context.Context, ref blob.Ref, opts blob.DeleteOptions) error {
	// S3 deletes are unconditional and idempotent, emulate both the
	// missing-blob error and the IfMatch check with a head first
	head, err := raw.client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return classify(err, ref)
	}
	if opts.IfMatch != "" && opts.IfMatch != trimETag(aws.ToString(head.ETag)) {
		return blob.ErrPreconditionFailed.New("etag %q does not match", opts.IfMatch)
	}

	_, err = raw.client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	return classify(err, ref)
}

// Properties returns metadata of a blob without downloading the content.
func (client *Client) Properties(ctx context.Context, ref blob.Ref) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	out, err := client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return blob.Properties{}, classify(err, ref)
	}

	state, err := client.leases.State(ctx, ref)
	if err != nil {
		return blob.Properties{}, err
	}
	return blob.Properties{
		ETag:        trimETag(aws.ToString(out.ETag)),
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
		Lease:       state,
	}, nil
}

// Download returns the full content of a blob.
func (client *Client) Download(ctx context.Context, ref blob.Ref, opts blob.DownloadOptions) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	get := &s3.GetObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	}
	if opts.IfMatch != "" {
		get.IfMatch = aws.String(quoteETag(opts.IfMatch))
	}
	out, err := client.api.GetObject(ctx, get)
	if err != nil {
		return nil, classify(err, ref)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Upload stores content, honoring the conditional options.
func (client *Client) Upload(ctx context.Context, ref blob.Ref, data []byte, opts blob.UploadOptions) (_ blob.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	etag, err := rawBackend{client}.Store(ctx, ref, data, opts)
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

	_, err = client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Container),
		Key:    aws.String(ref.Key),
	})
	err = classify(err, ref)
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

	_, err = client.api.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(container),
	})
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return Error.Wrap(err)
}

// List returns a page of keys under a prefix in lexical order.
func (client *Client) List(ctx context.Context, opts blob.ListOptions) (result blob.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := opts.Limit
	if limit <= 0 {
		limit = blob.DefaultListLimit
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(opts.Container),
		MaxKeys: aws.Int32(int32(limit) + 1),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.Cursor != "" {
		in.StartAfter = aws.String(opts.Cursor)
	}

	for {
		out, err := client.api.ListObjectsV2(ctx, in)
		if err != nil {
			err = classify(err, blob.Ref{Container: opts.Container})
			if blob.ErrContainerNotFound.Has(err) {
				return blob.ListResult{}, nil
			}
			return blob.ListResult{}, err
		}

		for _, object := range out.Contents {
			key := aws.ToString(object.Key)
			if sidelease.IsSidecar(key) {
				continue
			}
			if len(result.Items) == limit {
				result.More = true
				return finishListing(result), nil
			}
			result.Items = append(result.Items, blob.Item{
				Key:  key,
				Size: aws.ToInt64(object.Size),
				ETag: trimETag(aws.ToString(object.ETag)),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return finishListing(result), nil
		}
		in.ContinuationToken = out.NextContinuationToken
		in.StartAfter = nil
	}
}

func finishListing(result blob.ListResult) blob.ListResult {
	if len(result.Items) > 0 {
		result.Cursor = result.Items[len(result.Items)-1].Key
	}
	return result
}

// AcquireLease takes an exclusive lease on a blob for the given duration.
func (client *Client) AcquireLease(ctx context.Context, ref blob.Ref, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := client.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if !exists {
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

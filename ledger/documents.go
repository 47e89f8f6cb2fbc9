// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storj.io/eventledger/blob"
)

// GetOrCreateDocument contains arguments for DB.GetOrCreateDocument.
type GetOrCreateDocument struct {
	ObjectName string
	ObjectID   string
	// Store overrides the configured document store connection.
	Store string
}

// Verify request fields.
func (opts *GetOrCreateDocument) Verify() error {
	switch {
	case strings.TrimSpace(opts.ObjectName) == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case strings.TrimSpace(opts.ObjectID) == "":
		return ErrInvalidRequest.New("ObjectID missing")
	}
	return nil
}

// GetOrCreateDocument loads the object document, creating it with a default
// active stream configuration when it does not exist yet. Creation is
// idempotent: losing the create race loads whatever the winner stored.
func (db *DB) GetOrCreateDocument(ctx context.Context, opts GetOrCreateDocument) (_ *ObjectDocument, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}
	store, err := db.documentStore(ctx, opts.Store)
	if err != nil {
		return nil, err
	}

	ref := documentRef(db.config.DefaultDocumentContainerName, opts.ObjectName, opts.ObjectID)
	if err := db.ensureContainer(ctx, store, ref.Container); err != nil {
		return nil, err
	}

	if doc, err := db.downloadDocument(ctx, store, ref); err == nil {
		return doc, nil
	} else if !ErrDocumentNotFound.Has(err) {
		return nil, err
	}

	doc := &ObjectDocument{
		ObjectID:      opts.ObjectID,
		ObjectName:    opts.ObjectName,
		Active:        NewStreamInformation(opts.ObjectID),
		SchemaVersion: db.config.SchemaVersion,
		DocumentPath:  ref.String(),
	}
	if db.config.EnableStreamChunks {
		doc.Active.ChunkSettings = &ChunkSettings{
			EnableChunks: true,
			ChunkSize:    db.config.DefaultChunkSize,
		}
	}

	body, err := doc.serialize()
	if err != nil {
		return nil, err
	}
	props, err := store.Upload(ctx, ref, body, blob.UploadOptions{
		ContentType: "application/json",
		IfNoneMatch: blob.Wildcard,
	})
	switch {
	case blob.ErrConflict.Has(err):
		// somebody else created it since the existence check
		return db.downloadDocument(ctx, store, ref)
	case blob.ErrContainerNotFound.Has(err):
		return nil, ErrContainerNotFound.New("%q", ref.Container)
	case err != nil:
		return nil, Error.Wrap(err)
	}

	doc.commit(body, props.ETag)
	mon.Counter("document_created").Inc(1)
	db.log.Debug("document created",
		zap.String("objectName", doc.ObjectName),
		zap.String("objectId", doc.ObjectID))
	return doc, nil
}

// GetDocument contains arguments for DB.GetDocument.
type GetDocument struct {
	ObjectName string
	ObjectID   string
	// Store overrides the configured document store connection.
	Store string
}

// Verify request fields.
func (opts *GetDocument) Verify() error {
	switch {
	case strings.TrimSpace(opts.ObjectName) == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case strings.TrimSpace(opts.ObjectID) == "":
		return ErrInvalidRequest.New("ObjectID missing")
	}
	return nil
}

// GetDocument loads an existing object document. A missing document is
// ErrDocumentNotFound, a missing container ErrContainerNotFound.
func (db *DB) GetDocument(ctx context.Context, opts GetDocument) (_ *ObjectDocument, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}
	store, err := db.documentStore(ctx, opts.Store)
	if err != nil {
		return nil, err
	}

	ref := documentRef(db.config.DefaultDocumentContainerName, opts.ObjectName, opts.ObjectID)
	return db.downloadDocument(ctx, store, ref)
}

func (db *DB) downloadDocument(ctx context.Context, store blob.Store, ref blob.Ref) (*ObjectDocument, error) {
	props, err := store.Properties(ctx, ref)
	switch {
	case blob.ErrNotFound.Has(err):
		return nil, ErrDocumentNotFound.New("%q", ref)
	case blob.ErrContainerNotFound.Has(err):
		return nil, ErrContainerNotFound.New("%q", ref.Container)
	case err != nil:
		return nil, Error.Wrap(err)
	}

	raw, err := store.Download(ctx, ref, blob.DownloadOptions{})
	switch {
	case blob.ErrNotFound.Has(err):
		return nil, ErrDocumentNotFound.New("%q", ref)
	case err != nil:
		return nil, Error.Wrap(err)
	}
	return ParseObjectDocument(raw, props.ETag)
}

// SetDocument persists doc, advancing its hash chain. The write is
// conditional on the ETag the document was loaded with, so a concurrent
// writer surfaces as ErrConcurrencyConflict.
func (db *DB) SetDocument(ctx context.Context, doc *ObjectDocument) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := doc.Verify(); err != nil {
		return err
	}
	store, err := db.documentStore(ctx, "")
	if err != nil {
		return err
	}
	return db.uploadDocument(ctx, store, doc)
}

func (db *DB) uploadDocument(ctx context.Context, store blob.Store, doc *ObjectDocument) error {
	ref := documentRef(db.config.DefaultDocumentContainerName, doc.ObjectName, doc.ObjectID)

	body, err := doc.serialize()
	if err != nil {
		return err
	}
	opts := blob.UploadOptions{ContentType: "application/json"}
	if doc.etag != "" {
		opts.IfMatch = doc.etag
	} else {
		opts.IfNoneMatch = blob.Wildcard
	}

	props, err := store.Upload(ctx, ref, body, opts)
	switch {
	case blob.ErrPreconditionFailed.Has(err), blob.ErrConflict.Has(err):
		return ErrConcurrencyConflict.New("document %q changed behind our back", ref)
	case blob.ErrContainerNotFound.Has(err):
		return ErrContainerNotFound.New("%q", ref.Container)
	case err != nil:
		return Error.Wrap(err)
	}

	doc.commit(body, props.ETag)
	return nil
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"storj.io/eventledger/blob"
)

// UpdateActiveConfiguration contains arguments for
// DB.UpdateActiveConfiguration. Exactly one of Corrected and Configure
// must be set.
type UpdateActiveConfiguration struct {
	ObjectName string
	ObjectID   string

	// Corrected replaces the active configuration wholesale. The stream
	// identity and position fields are preserved from the stored one.
	Corrected *StreamInformation
	// Configure mutates the active configuration in place.
	Configure func(*StreamInformation)

	// Store overrides the configured document store connection.
	Store string
}

// Verify request fields.
func (opts *UpdateActiveConfiguration) Verify() error {
	switch {
	case opts.ObjectName == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case opts.ObjectID == "":
		return ErrInvalidRequest.New("ObjectID missing")
	case opts.Corrected == nil && opts.Configure == nil:
		return ErrInvalidRequest.New("Corrected or Configure missing")
	case opts.Corrected != nil && opts.Configure != nil:
		return ErrInvalidRequest.New("Corrected and Configure are mutually exclusive")
	}
	return nil
}

// UpdateActiveConfiguration rewrites the active stream configuration of a
// document and re-binds the stream head to the new document revision, so
// the next append passes the hash chain check.
//
// The stream blob is located with the old configuration because only the
// metadata referring to it changes, the blob itself does not move. The
// document is written first, then the stream head; a missing stream blob
// means nothing was appended yet and is skipped. Concurrent migrations of
// the same object should be serialized with a leaselock.Locker.
func (db *DB) UpdateActiveConfiguration(ctx context.Context, opts UpdateActiveConfiguration) (_ *ObjectDocument, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}

	doc, err := db.GetDocument(ctx, GetDocument{
		ObjectName: opts.ObjectName,
		ObjectID:   opts.ObjectID,
		Store:      opts.Store,
	})
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Active == nil {
		return nil, ErrProcessing.New("document %q/%q has no active stream", opts.ObjectName, opts.ObjectID)
	}

	oldActive := *doc.Active
	dataStore, err := db.dataStore(ctx, &oldActive)
	if err != nil {
		return nil, err
	}
	streamBlob := streamRef(doc.ObjectName, &oldActive, nil)

	if opts.Corrected != nil {
		corrected := *opts.Corrected
		corrected.StreamIdentifier = oldActive.StreamIdentifier
		corrected.CurrentStreamVersion = oldActive.CurrentStreamVersion
		corrected.StreamChunks = oldActive.StreamChunks
		corrected.SnapShots = oldActive.SnapShots
		doc.Active = &corrected
	} else {
		opts.Configure(doc.Active)
	}
	if err := doc.Active.Verify(); err != nil {
		return nil, err
	}

	documentStore, err := db.documentStore(ctx, opts.Store)
	if err != nil {
		return nil, err
	}
	if err := db.uploadDocument(ctx, documentStore, doc); err != nil {
		return nil, err
	}

	if err := db.rebindStream(ctx, dataStore, streamBlob, doc.Hash); err != nil {
		return nil, err
	}
	mon.Counter("active_configuration_updates").Inc(1)
	db.log.Info("active configuration updated",
		zap.String("objectName", doc.ObjectName),
		zap.String("objectId", doc.ObjectID),
		zap.String("stream", doc.Active.StreamIdentifier))
	return doc, nil
}

// rebindStream points the stream head at documentHash. A missing stream
// blob is skipped, the binding is written on the first append instead.
func (db *DB) rebindStream(ctx context.Context, store blob.Store, ref blob.Ref, documentHash string) error {
	props, err := store.Properties(ctx, ref)
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return nil
	case err != nil:
		return Error.Wrap(err)
	}

	raw, err := store.Download(ctx, ref, blob.DownloadOptions{IfMatch: props.ETag})
	switch {
	case blob.ErrPreconditionFailed.Has(err):
		return ErrConcurrencyConflict.New("stream %q changed behind our back", ref)
	case err != nil:
		return Error.Wrap(err)
	}

	var stream StreamDocument
	if err := json.Unmarshal(raw, &stream); err != nil {
		return ErrProcessing.New("undecodable stream document %q: %v", ref, err)
	}
	stream.LastObjectDocumentHash = documentHash

	body, err := json.Marshal(stream)
	if err != nil {
		return ErrProcessing.Wrap(err)
	}
	_, err = store.Upload(ctx, ref, body, blob.UploadOptions{
		ContentType: "application/json",
		IfMatch:     props.ETag,
	})
	if blob.ErrPreconditionFailed.Has(err) {
		return ErrConcurrencyConflict.New("stream %q changed behind our back", ref)
	}
	return Error.Wrap(err)
}

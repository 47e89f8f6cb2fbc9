// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"encoding/json"
	"strings"

	"storj.io/eventledger/blob"
)

// tagKind selects one of the two parallel tag indices.
type tagKind string

const (
	documentTags tagKind = "tags/document/"
	streamTags   tagKind = "tags/stream-by-tag/"
)

func tagRef(objectName string, kind tagKind, tag string) blob.Ref {
	return blob.Ref{
		Container: ContainerName(objectName),
		Key:       string(kind) + SanitizeTag(tag) + JSONSuffix,
	}
}

// SetTag contains arguments for the tag add operations.
type SetTag struct {
	Document *ObjectDocument
	Tag      string
}

// Verify request fields.
func (opts *SetTag) Verify() error {
	if err := opts.Document.Verify(); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Tag) == "" {
		return ErrInvalidRequest.New("Tag missing")
	}
	if SanitizeTag(opts.Tag) == "" {
		return ErrInvalidRequest.New("Tag %q sanitizes to nothing", opts.Tag)
	}
	return nil
}

// GetTag contains arguments for the tag lookup operations.
type GetTag struct {
	ObjectName string
	Tag        string
}

// Verify request fields.
func (opts *GetTag) Verify() error {
	switch {
	case opts.ObjectName == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case strings.TrimSpace(opts.Tag) == "":
		return ErrInvalidRequest.New("Tag missing")
	}
	return nil
}

// SetDocumentTag adds the document's object id to the document tag index.
// Adding an already present member is a no-op.
func (db *DB) SetDocumentTag(ctx context.Context, opts SetTag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	store, err := db.documentTagStore(ctx, opts.Document.Active)
	if err != nil {
		return err
	}
	return db.addTagMember(ctx, store,
		tagRef(opts.Document.ObjectName, documentTags, opts.Tag),
		opts.Tag, opts.Document.ObjectID)
}

// RemoveDocumentTag removes the document's object id from the document tag
// index, deleting the index blob when it was the last member.
func (db *DB) RemoveDocumentTag(ctx context.Context, opts SetTag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	store, err := db.documentTagStore(ctx, opts.Document.Active)
	if err != nil {
		return err
	}
	return db.removeTagMember(ctx, store,
		tagRef(opts.Document.ObjectName, documentTags, opts.Tag),
		opts.Document.ObjectID)
}

// GetDocumentTag returns the object ids tagged with tag, empty when the
// tag does not exist.
func (db *DB) GetDocumentTag(ctx context.Context, opts GetTag) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}
	store, err := db.resolve(ctx, db.config.DocumentTagType, db.config.DefaultDocumentTagStore)
	if err != nil {
		return nil, err
	}
	return db.readTagMembers(ctx, store, tagRef(opts.ObjectName, documentTags, opts.Tag))
}

// SetStreamTag adds the active stream identifier to the stream tag index.
func (db *DB) SetStreamTag(ctx context.Context, opts SetTag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	store, err := db.streamTagStore(ctx, opts.Document.Active)
	if err != nil {
		return err
	}
	return db.addTagMember(ctx, store,
		tagRef(opts.Document.ObjectName, streamTags, opts.Tag),
		opts.Tag, opts.Document.Active.StreamIdentifier)
}

// RemoveStreamTag removes the active stream identifier from the stream tag
// index, deleting the index blob when it was the last member.
func (db *DB) RemoveStreamTag(ctx context.Context, opts SetTag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}
	store, err := db.streamTagStore(ctx, opts.Document.Active)
	if err != nil {
		return err
	}
	return db.removeTagMember(ctx, store,
		tagRef(opts.Document.ObjectName, streamTags, opts.Tag),
		opts.Document.Active.StreamIdentifier)
}

// GetStreamTag returns the stream identifiers tagged with tag, empty when
// the tag does not exist.
func (db *DB) GetStreamTag(ctx context.Context, opts GetTag) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}
	store, err := db.resolve(ctx, db.config.EventStreamTagType, db.config.DefaultDocumentTagStore)
	if err != nil {
		return nil, err
	}
	return db.readTagMembers(ctx, store, tagRef(opts.ObjectName, streamTags, opts.Tag))
}

// addTagMember inserts member into the tag blob with bounded optimistic
// retries, creating the blob when the tag is new.
func (db *DB) addTagMember(ctx context.Context, store blob.Store, ref blob.Ref, tag, member string) error {
	if err := db.ensureContainer(ctx, store, ref.Container); err != nil {
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		doc, etag, err := db.downloadTag(ctx, store, ref)
		if err != nil {
			return err
		}

		var opts blob.UploadOptions
		if doc == nil {
			doc = &TagDocument{Tag: tag}
			opts = blob.UploadOptions{IfNoneMatch: blob.Wildcard}
		} else {
			if doc.Contains(member) {
				return nil
			}
			opts = blob.UploadOptions{IfMatch: etag}
		}
		doc.ObjectIDs = append(doc.ObjectIDs, member)
		opts.ContentType = "application/json"

		body, err := json.Marshal(doc)
		if err != nil {
			return ErrProcessing.Wrap(err)
		}
		_, err = store.Upload(ctx, ref, body, opts)
		switch {
		case blob.ErrConflict.Has(err), blob.ErrPreconditionFailed.Has(err):
			// a concurrent writer touched the tag, reload and retry
			mon.Counter("tag_update_races").Inc(1)
			if !sleepFor(ctx, jitteredBackoff(attempt)) {
				return Error.Wrap(ctx.Err())
			}
			continue
		case blob.ErrContainerNotFound.Has(err):
			return ErrContainerNotFound.New("%q", ref.Container)
		case err != nil:
			return Error.Wrap(err)
		}
		return nil
	}
	return ErrConcurrencyConflict.New("tag %q kept changing behind our back", ref)
}

// removeTagMember removes member from the tag blob, deleting the blob when
// the last member leaves. A missing tag is a no-op.
func (db *DB) removeTagMember(ctx context.Context, store blob.Store, ref blob.Ref, member string) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		doc, etag, err := db.downloadTag(ctx, store, ref)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}

		kept := doc.ObjectIDs[:0]
		for _, id := range doc.ObjectIDs {
			if id != member {
				kept = append(kept, id)
			}
		}
		doc.ObjectIDs = kept

		if len(doc.ObjectIDs) == 0 {
			err = store.Delete(ctx, ref, blob.DeleteOptions{IfMatch: etag})
			if blob.ErrNotFound.Has(err) {
				return nil
			}
		} else {
			body, merr := json.Marshal(doc)
			if merr != nil {
				return ErrProcessing.Wrap(merr)
			}
			_, err = store.Upload(ctx, ref, body, blob.UploadOptions{
				ContentType: "application/json",
				IfMatch:     etag,
			})
		}
		switch {
		case blob.ErrPreconditionFailed.Has(err), blob.ErrConflict.Has(err):
			mon.Counter("tag_update_races").Inc(1)
			if !sleepFor(ctx, jitteredBackoff(attempt)) {
				return Error.Wrap(ctx.Err())
			}
			continue
		case err != nil:
			return Error.Wrap(err)
		}
		return nil
	}
	return ErrConcurrencyConflict.New("tag %q kept changing behind our back", ref)
}

func (db *DB) readTagMembers(ctx context.Context, store blob.Store, ref blob.Ref) ([]string, error) {
	doc, _, err := db.downloadTag(ctx, store, ref)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.ObjectIDs, nil
}

func (db *DB) downloadTag(ctx context.Context, store blob.Store, ref blob.Ref) (*TagDocument, string, error) {
	props, err := store.Properties(ctx, ref)
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return nil, "", nil
	case err != nil:
		return nil, "", Error.Wrap(err)
	}

	raw, err := store.Download(ctx, ref, blob.DownloadOptions{IfMatch: props.ETag})
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrPreconditionFailed.Has(err):
		// deleted or replaced since the stat, treat as missing and let the
		// caller's conditional write sort it out
		return nil, "", nil
	case err != nil:
		return nil, "", Error.Wrap(err)
	}

	var doc TagDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", ErrProcessing.New("undecodable tag document %q: %v", ref, err)
	}
	return &doc, props.ETag, nil
}

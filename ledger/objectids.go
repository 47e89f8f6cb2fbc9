// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"
	"strings"

	"storj.io/eventledger/blob"
)

// ListObjectIDs contains arguments for DB.ListObjectIDs.
type ListObjectIDs struct {
	ObjectName string
	// Cursor resumes listing after the given object id, exclusive.
	Cursor string
	// Limit caps the page size, blob.DefaultListLimit when zero.
	Limit int
}

// Verify request fields.
func (opts *ListObjectIDs) Verify() error {
	if opts.ObjectName == "" {
		return ErrInvalidRequest.New("ObjectName missing")
	}
	return nil
}

// ObjectIDPage is a single page of object ids.
type ObjectIDPage struct {
	IDs []string
	// Cursor continues the listing when More is set.
	Cursor string
	More   bool
}

// ListObjectIDs enumerates the ids of stored object documents by listing
// the document blobs under the object name prefix. An absent container
// yields an empty page.
func (db *DB) ListObjectIDs(ctx context.Context, opts ListObjectIDs) (page ObjectIDPage, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return ObjectIDPage{}, err
	}
	store, err := db.documentStore(ctx, "")
	if err != nil {
		return ObjectIDPage{}, err
	}

	prefix := strings.ToLower(opts.ObjectName) + string(blob.Delimiter)
	cursor := ""
	if opts.Cursor != "" {
		cursor = prefix + opts.Cursor + JSONSuffix
	}

	result, err := store.List(ctx, blob.ListOptions{
		Container: db.config.DefaultDocumentContainerName,
		Prefix:    prefix,
		Cursor:    cursor,
		Limit:     opts.Limit,
	})
	if err != nil {
		return ObjectIDPage{}, Error.Wrap(err)
	}

	seen := map[string]bool{}
	for _, item := range result.Items {
		id, ok := objectIDFromKey(prefix, item.Key)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		page.IDs = append(page.IDs, id)
	}
	if len(page.IDs) > 0 {
		page.Cursor = page.IDs[len(page.IDs)-1]
	}
	page.More = result.More
	return page, nil
}

// ObjectExists reports whether a document for the object id is stored.
func (db *DB) ObjectExists(ctx context.Context, objectName, objectID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if objectName == "" || objectID == "" {
		return false, ErrInvalidRequest.New("ObjectName and ObjectID required")
	}
	store, err := db.documentStore(ctx, "")
	if err != nil {
		return false, err
	}
	return store.Exists(ctx, documentRef(db.config.DefaultDocumentContainerName, objectName, objectID))
}

// CountObjects returns the number of stored object documents of a name by
// enumerating the full prefix.
func (db *DB) CountObjects(ctx context.Context, objectName string) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	opts := ListObjectIDs{ObjectName: objectName}
	for {
		page, err := db.ListObjectIDs(ctx, opts)
		if err != nil {
			return 0, err
		}
		count += int64(len(page.IDs))
		if !page.More {
			return count, nil
		}
		opts.Cursor = page.Cursor
	}
}

// objectIDFromKey parses a document blob key back into an object id.
func objectIDFromKey(prefix, key string) (string, bool) {
	stem, found := strings.CutPrefix(key, prefix)
	if !found {
		return "", false
	}
	stem, found = strings.CutSuffix(stem, JSONSuffix)
	if !found || stem == "" || strings.ContainsRune(stem, blob.Delimiter) {
		return "", false
	}
	return stem, true
}

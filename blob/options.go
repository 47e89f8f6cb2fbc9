// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blob

// UploadOptions control a conditional write.
//
// At most one of IfMatch and IfNoneMatch may be set. An unconditional
// upload overwrites whatever is stored.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string

	// IfMatch makes the write succeed only when the stored ETag matches.
	IfMatch string
	// IfNoneMatch must be Wildcard when set and makes the write succeed
	// only when the blob does not exist yet.
	IfNoneMatch string
}

// Check verifies that the conditional options are well formed.
func (opts UploadOptions) Check() error {
	if opts.IfMatch != "" && opts.IfNoneMatch != "" {
		return ErrInvalidOptions.New("IfMatch and IfNoneMatch are mutually exclusive")
	}
	if opts.IfNoneMatch != "" && opts.IfNoneMatch != Wildcard {
		return ErrInvalidOptions.New("IfNoneMatch supports only %q", Wildcard)
	}
	return nil
}

// DownloadOptions control a conditional read.
type DownloadOptions struct {
	// IfMatch makes the read succeed only when the stored ETag matches.
	IfMatch string
}

// DeleteOptions control a conditional delete.
type DeleteOptions struct {
	// IfMatch makes the delete succeed only when the stored ETag matches.
	IfMatch string
}

// ListOptions select a page of keys from a container.
type ListOptions struct {
	Container string
	// Prefix restricts the listing to keys starting with it.
	Prefix string
	// Cursor resumes listing after the given key, exclusive.
	Cursor string
	// Limit caps the page size, DefaultListLimit when zero.
	Limit int
}

// ListResult is a single page of a listing.
type ListResult struct {
	Items Items
	// Cursor continues the listing when More is set.
	Cursor string
	More   bool
}

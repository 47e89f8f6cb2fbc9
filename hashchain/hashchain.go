// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package hashchain computes the digests linking documents to streams.
//
// The canonical form of a value is the exact output of encoding/json.Marshal
// for the typed Go structs: lower-camel field names via struct tags, no
// indentation, struct fields in declaration order and map keys sorted. Any
// change to the struct tags or field order changes digests of previously
// stored bodies, so the serialized types are append-only.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/errs"
)

// Error is the default error class of the package.
var Error = errs.Class("hashchain")

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the digest of the canonical serialization of v
// together with the canonical bytes themselves.
func Fingerprint(v any) (fingerprint string, canonical []byte, err error) {
	canonical, err = json.Marshal(v)
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	return Digest(canonical), canonical, nil
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// versionTokenSeparator joins the four version token fields.
const versionTokenSeparator = "__"

// VersionToken identifies a single committed event position.
//
// Its encoded form is "{objectName}__{objectId}__{streamId}__{version}"
// with the version zero-padded to twenty digits so tokens of one stream
// sort in event order.
type VersionToken struct {
	ObjectName string
	ObjectID   string
	StreamID   string
	Version    int64
}

// String encodes the token.
func (vt VersionToken) String() string {
	return fmt.Sprintf("%s%s%s%s%s%s%020d",
		vt.ObjectName, versionTokenSeparator,
		vt.ObjectID, versionTokenSeparator,
		vt.StreamID, versionTokenSeparator,
		vt.Version)
}

// ObjectIdentifier returns the checkpoint key of the token's object.
func (vt VersionToken) ObjectIdentifier() string {
	return vt.ObjectName + versionTokenSeparator + vt.ObjectID
}

// VersionIdentifier returns the checkpoint value of the token's position.
func (vt VersionToken) VersionIdentifier() string {
	return fmt.Sprintf("%s%s%020d", vt.StreamID, versionTokenSeparator, vt.Version)
}

// Verify token fields.
func (vt VersionToken) Verify() error {
	switch {
	case vt.ObjectName == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case vt.ObjectID == "":
		return ErrInvalidRequest.New("ObjectID missing")
	case vt.StreamID == "":
		return ErrInvalidRequest.New("StreamID missing")
	case vt.Version < 0:
		return ErrInvalidRequest.New("Version invalid: %v", vt.Version)
	}
	return nil
}

// ParseVersionToken decodes an encoded version token.
func ParseVersionToken(encoded string) (VersionToken, error) {
	elements := strings.Split(encoded, versionTokenSeparator)
	if len(elements) != 4 {
		return VersionToken{}, ErrProcessing.New("invalid version token %q", encoded)
	}
	version, err := strconv.ParseInt(elements[3], 10, 64)
	if err != nil || version < 0 {
		return VersionToken{}, ErrProcessing.New("invalid version token %q", encoded)
	}
	vt := VersionToken{
		ObjectName: elements[0],
		ObjectID:   elements[1],
		StreamID:   elements[2],
		Version:    version,
	}
	if err := vt.Verify(); err != nil {
		return VersionToken{}, ErrProcessing.New("invalid version token %q", encoded)
	}
	return vt, nil
}

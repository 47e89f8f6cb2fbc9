// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storj.io/eventledger/blob"
	"storj.io/eventledger/hashchain"
)

// ObjectDocument is the authoritative metadata of one business object.
//
// The hash chain works on stored bytes: the in-memory Hash is always the
// digest of the body as last uploaded or downloaded, while the serialized
// hash field carries the digest of the revision before it. Both are
// refreshed by commit after every successful upload and recomputed by
// ParseObjectDocument on every load, so a document round-trips through
// storage without losing its place in the chain.
type ObjectDocument struct {
	ObjectID          string               `json:"objectId"`
	ObjectName        string               `json:"objectName"`
	Active            *StreamInformation   `json:"active"`
	TerminatedStreams []*StreamInformation `json:"terminatedStreams"`
	SchemaVersion     string               `json:"schemaVersion"`
	Hash              string               `json:"hash"`
	PrevHash          string               `json:"prevHash"`
	DocumentPath      string               `json:"documentPath"`

	etag string
}

// StreamInformation configures one event stream of an object.
//
// The *Store fields name a registered connection directly; the
// *ConnectionName fields are the older way of saying the same thing and
// lose when both are set. Empty means the engine default.
type StreamInformation struct {
	StreamIdentifier     string `json:"streamIdentifier"`
	StreamType           string `json:"streamType,omitempty"`
	CurrentStreamVersion int64  `json:"currentStreamVersion"`

	StreamConnectionName      string `json:"streamConnectionName,omitempty"`
	DataStore                 string `json:"dataStore,omitempty"`
	SnapShotConnectionName    string `json:"snapShotConnectionName,omitempty"`
	SnapShotStore             string `json:"snapShotStore,omitempty"`
	DocumentTagConnectionName string `json:"documentTagConnectionName,omitempty"`
	DocumentTagStore          string `json:"documentTagStore,omitempty"`
	StreamTagConnectionName   string `json:"streamTagConnectionName,omitempty"`
	StreamTagStore            string `json:"streamTagStore,omitempty"`

	ChunkSettings *ChunkSettings `json:"chunkSettings,omitempty"`
	StreamChunks  []StreamChunk  `json:"streamChunks,omitempty"`
	SnapShots     []SnapshotInfo `json:"snapShots,omitempty"`

	DocumentTagType    string `json:"documentTagType,omitempty"`
	EventStreamTagType string `json:"eventStreamTagType,omitempty"`
	DocumentRefType    string `json:"documentRefType,omitempty"`
}

// ChunkSettings enable splitting a stream into fixed-size blobs.
type ChunkSettings struct {
	EnableChunks bool  `json:"enableChunks"`
	ChunkSize    int64 `json:"chunkSize"`
}

// StreamChunk records the version range stored in one chunk blob.
type StreamChunk struct {
	ChunkIdentifier   uint32 `json:"chunkIdentifier"`
	FirstEventVersion int64  `json:"firstEventVersion"`
	LastEventVersion  int64  `json:"lastEventVersion"`
}

// SnapshotInfo records a stored snapshot of the stream.
type SnapshotInfo struct {
	UntilVersion int64  `json:"untilVersion"`
	Name         string `json:"name,omitempty"`
}

// Chunked reports whether the stream stores events in chunk blobs.
func (info *StreamInformation) Chunked() bool {
	return info.ChunkSettings != nil && info.ChunkSettings.EnableChunks && info.ChunkSettings.ChunkSize > 0
}

// LastChunk returns the currently written chunk, false when none exist yet.
func (info *StreamInformation) LastChunk() (StreamChunk, bool) {
	if len(info.StreamChunks) == 0 {
		return StreamChunk{}, false
	}
	return info.StreamChunks[len(info.StreamChunks)-1], true
}

// Verify stream information fields.
func (info *StreamInformation) Verify() error {
	switch {
	case info == nil:
		return ErrInvalidRequest.New("Active missing")
	case strings.TrimSpace(info.StreamIdentifier) == "":
		return ErrInvalidRequest.New("StreamIdentifier missing")
	case info.CurrentStreamVersion < -1:
		return ErrInvalidRequest.New("CurrentStreamVersion invalid: %v", info.CurrentStreamVersion)
	}
	return nil
}

// NewStreamInformation returns a fresh stream configuration for streamID.
// A fresh stream is at version -1 so its first event gets version 0.
func NewStreamInformation(streamID string) *StreamInformation {
	return &StreamInformation{
		StreamIdentifier:     streamID,
		CurrentStreamVersion: -1,
	}
}

// Verify document fields.
func (doc *ObjectDocument) Verify() error {
	switch {
	case doc == nil:
		return ErrInvalidRequest.New("Document missing")
	case doc.ObjectName == "":
		return ErrInvalidRequest.New("ObjectName missing")
	case doc.ObjectID == "":
		return ErrInvalidRequest.New("ObjectID missing")
	}
	return doc.Active.Verify()
}

// ETag returns the blob ETag the document was last loaded or stored with.
func (doc *ObjectDocument) ETag() string { return doc.etag }

// serialize returns the body as it will be uploaded. The embedded hash
// field is the digest of the previous stored revision.
func (doc *ObjectDocument) serialize() ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, ErrProcessing.Wrap(err)
	}
	return body, nil
}

// commit records a successful upload of body, advancing the hash chain.
func (doc *ObjectDocument) commit(body []byte, etag string) {
	doc.PrevHash = doc.Hash
	doc.Hash = hashchain.Digest(body)
	doc.etag = etag
}

// ParseObjectDocument decodes a stored document body.
//
// It returns nil without error when the body is empty or JSON null, which
// some backends produce for half-written blobs.
func ParseObjectDocument(raw []byte, etag string) (*ObjectDocument, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc ObjectDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ErrProcessing.New("undecodable object document: %v", err)
	}
	// the stored hash field holds the previous revision digest
	doc.PrevHash = doc.Hash
	doc.Hash = hashchain.Digest(raw)
	doc.etag = etag
	return &doc, nil
}

// StreamDocument is the stored form of one stream blob.
type StreamDocument struct {
	ObjectID               string  `json:"objectId"`
	ObjectName             string  `json:"objectName"`
	LastObjectDocumentHash string  `json:"lastObjectDocumentHash"`
	Events                 []Event `json:"events"`
}

// TagDocument is the stored form of one tag index entry.
type TagDocument struct {
	Tag       string   `json:"tag"`
	ObjectIDs []string `json:"objectIds"`
}

// Contains reports whether objectID is a member of the tag.
func (tag *TagDocument) Contains(objectID string) bool {
	for _, id := range tag.ObjectIDs {
		if id == objectID {
			return true
		}
	}
	return false
}

// DefaultEventSchemaVersion is assumed when an event has no explicit one
// and is omitted from the serialized form.
const DefaultEventSchemaVersion = int16(1)

// Event is a single entry of an event stream. Payload is an opaque JSON
// string interpreted only by the application.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	Payload           string    `json:"payload"`
	EventType         string    `json:"type"`
	EventVersion      int64     `json:"version"`
	SchemaVersion     int16     `json:"schemaVersion,omitempty"`
	ExternalSequencer string    `json:"exseq,omitempty"`
	ActionMetadata    string    `json:"action,omitempty"`
	Metadata          string    `json:"metadata,omitempty"`
}

type serializedEvent Event

// MarshalJSON omits the schema version when it is the default.
func (event Event) MarshalJSON() ([]byte, error) {
	clone := serializedEvent(event)
	if clone.SchemaVersion == DefaultEventSchemaVersion {
		clone.SchemaVersion = 0
	}
	return json.Marshal(clone)
}

// UnmarshalJSON restores the default schema version when it was omitted.
func (event *Event) UnmarshalJSON(data []byte) error {
	var clone serializedEvent
	if err := json.Unmarshal(data, &clone); err != nil {
		return err
	}
	if clone.SchemaVersion == 0 {
		clone.SchemaVersion = DefaultEventSchemaVersion
	}
	*event = Event(clone)
	return nil
}

// Verify event fields.
func (event *Event) Verify() error {
	switch {
	case event.EventType == "":
		return ErrInvalidRequest.New("EventType missing")
	case event.SchemaVersion < 0:
		return ErrInvalidRequest.New("SchemaVersion invalid: %v", event.SchemaVersion)
	}
	return nil
}

// documentRef returns the blob location of an object document inside the
// configured documents container.
func documentRef(container, objectName, objectID string) blob.Ref {
	return blob.Ref{
		Container: container,
		Key:       strings.ToLower(objectName) + string(blob.Delimiter) + objectID + JSONSuffix,
	}
}

// streamRef returns the blob location of the stream head, or of a specific
// chunk blob when the stream is chunked.
func streamRef(objectName string, info *StreamInformation, chunk *uint32) blob.Ref {
	container := ContainerName(objectName)
	if !info.Chunked() {
		return blob.Ref{Container: container, Key: info.StreamIdentifier + JSONSuffix}
	}
	id := uint32(0)
	if chunk != nil {
		id = *chunk
	} else if last, ok := info.LastChunk(); ok {
		id = last.ChunkIdentifier
	}
	return chunkRef(objectName, info.StreamIdentifier, id)
}

// chunkRef returns the blob location of one chunk of a stream.
func chunkRef(objectName, streamID string, chunk uint32) blob.Ref {
	return blob.Ref{
		Container: ContainerName(objectName),
		Key:       fmt.Sprintf("%s-%010d%s", streamID, chunk, JSONSuffix),
	}
}

// snapshotRef returns the blob location of a snapshot of a stream version.
func snapshotRef(objectName, streamID string, version int64, name string) blob.Ref {
	key := fmt.Sprintf("snapshot/%s-%020d", streamID, version)
	if name != "" {
		key += "_" + name
	}
	return blob.Ref{Container: ContainerName(objectName), Key: key + JSONSuffix}
}

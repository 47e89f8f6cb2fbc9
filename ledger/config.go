// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ledger

// DefaultStoreType is the store type the engine registers by itself.
const DefaultStoreType = "blob"

// Config contains configurable values for the engine.
type Config struct {
	DefaultDocumentContainerName string `help:"container holding object documents and projections" default:"ledger"`
	DefaultDocumentStore         string `help:"connection name of the default document store" default:""`
	DefaultSnapShotStore         string `help:"connection name of the default snapshot store" default:""`
	DefaultDocumentTagStore      string `help:"connection name of the default tag store" default:""`

	EnableStreamChunks bool  `help:"split new event streams into chunked blobs" default:"false"`
	DefaultChunkSize   int64 `help:"events per chunk when chunking is enabled" default:"1000"`

	DisableContainerAutoCreate bool `help:"do not create missing containers on first write" default:"false"`

	DocumentType       string `help:"registered store type for object documents" default:"blob"`
	StreamType         string `help:"registered store type for event streams" default:"blob"`
	DocumentTagType    string `help:"registered store type for document tags" default:"blob"`
	EventStreamTagType string `help:"registered store type for stream tags" default:"blob"`

	SchemaVersion string `help:"schema version recorded on new documents" default:"1.0"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultDocumentContainerName: "ledger",
		DefaultChunkSize:             1000,
		DocumentType:                 DefaultStoreType,
		StreamType:                   DefaultStoreType,
		DocumentTagType:              DefaultStoreType,
		EventStreamTagType:           DefaultStoreType,
		SchemaVersion:                "1.0",
	}
}

// normalized fills zero values with the documented defaults so a partially
// filled literal behaves like DefaultConfig.
func (config Config) normalized() Config {
	def := DefaultConfig()
	if config.DefaultDocumentContainerName == "" {
		config.DefaultDocumentContainerName = def.DefaultDocumentContainerName
	}
	if config.DefaultChunkSize <= 0 {
		config.DefaultChunkSize = def.DefaultChunkSize
	}
	if config.DocumentType == "" {
		config.DocumentType = def.DocumentType
	}
	if config.StreamType == "" {
		config.StreamType = def.StreamType
	}
	if config.DocumentTagType == "" {
		config.DocumentTagType = def.DocumentTagType
	}
	if config.EventStreamTagType == "" {
		config.EventStreamTagType = def.EventStreamTagType
	}
	if config.SchemaVersion == "" {
		config.SchemaVersion = def.SchemaVersion
	}
	return config
}

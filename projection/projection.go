// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package projection coordinates materialized read views built from event
// streams.
//
// A projection is stored as a body blob plus an externally persisted
// checkpoint addressed by its content fingerprint, and a status document
// driving the rebuild lifecycle. Rebuild phases are authorized by
// time-limited tokens so a stalled rebuilder cannot wedge a projection
// forever.
package projection

import (
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/eventledger/ledger"
)

var (
	// Error is the default error class of the package.
	Error = errs.Class("projection")

	// ErrInvalidToken is returned when a rebuild token is missing, expired
	// or belongs to a different rebuild.
	ErrInvalidToken = errs.Class("invalid rebuild token")

	// ErrProjectionNotFound is returned when a projection body is missing.
	ErrProjectionNotFound = errs.Class("projection not found")

	// ErrStatusConflict is returned when a lifecycle transition is not
	// allowed from the current status.
	ErrStatusConflict = errs.Class("status conflict")

	mon = monkit.Package()
)

// Status is the lifecycle state of a projection.
type Status string

// Projection lifecycle states.
const (
	StatusActive       Status = "Active"
	StatusRebuilding   Status = "Rebuilding"
	StatusReadyForSwap Status = "ReadyForSwap"
	StatusDisabled     Status = "Disabled"
)

// Strategy selects how a rebuild replaces the live projection.
type Strategy string

// Rebuild strategies.
const (
	// StrategyBlockingWithCatchUp rebuilds in place while writes pause.
	StrategyBlockingWithCatchUp Strategy = "BlockingWithCatchUp"
	// StrategyBlueGreen rebuilds into a staging body swapped in on completion.
	StrategyBlueGreen Strategy = "BlueGreen"
)

// Phase is the progress of a rebuild.
type Phase string

// Rebuild phases.
const (
	PhaseRebuilding Phase = "Rebuilding"
	PhaseCatchingUp Phase = "CatchingUp"
	PhaseReady      Phase = "Ready"
	PhaseCompleted  Phase = "Completed"
	PhaseCancelled  Phase = "Cancelled"
)

// RebuildToken authorizes the phases of one projection rebuild.
type RebuildToken struct {
	ProjectionName string    `json:"projectionName"`
	ObjectID       string    `json:"objectId"`
	Strategy       Strategy  `json:"strategy"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Phase          Phase     `json:"phase"`
	TokenID        string    `json:"tokenId"`
}

// Expired reports whether the token is no longer valid at now.
func (token *RebuildToken) Expired(now time.Time) bool {
	return !now.Before(token.ExpiresAt)
}

// Checkpoint maps object identifiers to the last consumed version
// identifier of their stream.
type Checkpoint map[string]string

// Clone returns an independent copy of the checkpoint.
func (ckpt Checkpoint) Clone() Checkpoint {
	clone := make(Checkpoint, len(ckpt))
	for k, v := range ckpt {
		clone[k] = v
	}
	return clone
}

// Projection is a loaded read view. Instances are obtained only through
// Store.GetOrCreate so the prior checkpoint is always accumulated;
// constructing one directly starts the checkpoint from scratch and loses
// entries on the next save.
type Projection struct {
	Name          string
	SchemaVersion string
	// Body is the application-defined view state, opaque to the engine.
	Body json.RawMessage
	// Checkpoint tracks per-stream replay positions.
	Checkpoint Checkpoint

	etag string
}

// UpdateCheckpoint records that the stream position of vt was consumed.
func (projection *Projection) UpdateCheckpoint(vt ledger.VersionToken) {
	if projection.Checkpoint == nil {
		projection.Checkpoint = Checkpoint{}
	}
	projection.Checkpoint[vt.ObjectIdentifier()] = vt.VersionIdentifier()
}

// StatusInfo is the stored lifecycle state of a projection.
type StatusInfo struct {
	Status Status        `json:"status"`
	Token  *RebuildToken `json:"token,omitempty"`
	// SchemaVersion of the status document format.
	SchemaVersion string `json:"schemaVersion"`
}

// bodyFile is the stored form of a projection body. With an external
// checkpoint only the fingerprint is recorded here; the checkpoint itself
// lives in a separate content-addressed blob.
type bodyFile struct {
	Name                  string          `json:"name"`
	SchemaVersion         string          `json:"schemaVersion"`
	CheckpointFingerprint string          `json:"checkpointFingerprint,omitempty"`
	Checkpoint            Checkpoint      `json:"checkpoint,omitempty"`
	Body                  json.RawMessage `json:"body,omitempty"`
}

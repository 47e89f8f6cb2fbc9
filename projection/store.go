// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package projection

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"
	"storj.io/eventledger/blob"
	"storj.io/eventledger/hashchain"
)

// DefaultRebuildTTL bounds a rebuild that never states its own deadline.
const DefaultRebuildTTL = time.Hour

// maxStatusRetries bounds optimistic retries on the shared status blob.
const maxStatusRetries = 5

// Config contains configurable values for a Store.
type Config struct {
	Container string `help:"container holding projection blobs" default:"projections"`
	// HasExternalCheckpoint stores checkpoints in separate
	// fingerprint-addressed blobs instead of inline in the body.
	HasExternalCheckpoint bool   `help:"persist checkpoints as external fingerprint-addressed blobs" default:"true"`
	SchemaVersion         string `help:"schema version recorded on projection documents" default:"1"`
}

// Store persists projections, their checkpoints and their status.
type Store struct {
	log    *zap.Logger
	blobs  blob.Store
	config Config
	now    func() time.Time
}

// New creates a projection store.
func New(log *zap.Logger, blobs blob.Store, config Config) *Store {
	return NewWithClock(log, blobs, config, time.Now)
}

// NewWithClock creates a projection store using the given clock.
func NewWithClock(log *zap.Logger, blobs blob.Store, config Config, now func() time.Time) *Store {
	if config.Container == "" {
		config.Container = "projections"
	}
	if config.SchemaVersion == "" {
		config.SchemaVersion = "1"
	}
	return &Store{log: log, blobs: blobs, config: config, now: now}
}

func (store *Store) bodyRef(name string) blob.Ref {
	return blob.Ref{Container: store.config.Container, Key: name + ".json"}
}

func (store *Store) stagingRef(name string) blob.Ref {
	return blob.Ref{Container: store.config.Container, Key: name + ".rebuild.json"}
}

func (store *Store) statusRef(name string) blob.Ref {
	return blob.Ref{Container: store.config.Container, Key: name + ".status.json"}
}

func (store *Store) checkpointRef(name, fingerprint string) blob.Ref {
	return blob.Ref{Container: store.config.Container, Key: "checkpoints/" + name + "/" + fingerprint + ".json"}
}

// GetOrCreate loads the projection, creating an empty one when it does not
// exist. The previously saved checkpoint is always loaded along, which is
// what keeps checkpoint entries accumulating across save/load cycles.
func (store *Store) GetOrCreate(ctx context.Context, name string) (_ *Projection, err error) {
	defer mon.Task()(&ctx)(&err)

	if name == "" {
		return nil, Error.New("projection name missing")
	}
	if err := store.blobs.EnsureContainer(ctx, store.config.Container); err != nil {
		return nil, Error.Wrap(err)
	}
	return store.load(ctx, name, store.bodyRef(name))
}

func (store *Store) load(ctx context.Context, name string, ref blob.Ref) (*Projection, error) {
	props, err := store.blobs.Properties(ctx, ref)
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return &Projection{
			Name:          name,
			SchemaVersion: store.config.SchemaVersion,
			Checkpoint:    Checkpoint{},
		}, nil
	case err != nil:
		return nil, Error.Wrap(err)
	}

	raw, err := store.blobs.Download(ctx, ref, blob.DownloadOptions{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var file bodyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, Error.New("undecodable projection %q: %v", name, err)
	}

	projection := &Projection{
		Name:          name,
		SchemaVersion: file.SchemaVersion,
		Body:          file.Body,
		Checkpoint:    file.Checkpoint,
		etag:          props.ETag,
	}
	if file.CheckpointFingerprint != "" {
		ckptRaw, err := store.blobs.Download(ctx, store.checkpointRef(name, file.CheckpointFingerprint), blob.DownloadOptions{})
		if blob.ErrNotFound.Has(err) {
			return nil, Error.New("projection %q misses checkpoint %q", name, file.CheckpointFingerprint)
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}
		var ckpt Checkpoint
		if err := json.Unmarshal(ckptRaw, &ckpt); err != nil {
			return nil, Error.New("undecodable checkpoint %q of projection %q: %v", file.CheckpointFingerprint, name, err)
		}
		projection.Checkpoint = ckpt
	}
	if projection.Checkpoint == nil {
		projection.Checkpoint = Checkpoint{}
	}
	return projection, nil
}

// Save persists the projection body and checkpoint. With an external
// checkpoint the checkpoint blob is written first under its fingerprint,
// idempotently, and the body only records the fingerprint.
func (store *Store) Save(ctx context.Context, projection *Projection) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.save(ctx, projection, store.bodyRef(projection.Name))
}

// SaveRebuild persists the projection into the staging body used by the
// BlueGreen strategy; CompleteRebuild promotes it.
func (store *Store) SaveRebuild(ctx context.Context, projection *Projection, token *RebuildToken) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, _, err := store.loadStatus(ctx, projection.Name)
	if err != nil {
		return err
	}
	if err := store.validateToken(info, projection.Name, token); err != nil {
		return err
	}
	return store.save(ctx, projection, store.stagingRef(projection.Name))
}

func (store *Store) save(ctx context.Context, projection *Projection, ref blob.Ref) error {
	if projection == nil || projection.Name == "" {
		return Error.New("projection missing")
	}
	if err := store.blobs.EnsureContainer(ctx, store.config.Container); err != nil {
		return Error.Wrap(err)
	}
	if projection.SchemaVersion == "" {
		projection.SchemaVersion = store.config.SchemaVersion
	}

	file := bodyFile{
		Name:          projection.Name,
		SchemaVersion: projection.SchemaVersion,
		Body:          projection.Body,
	}
	if store.config.HasExternalCheckpoint {
		fingerprint, canonical, err := hashchain.Fingerprint(projection.Checkpoint)
		if err != nil {
			return Error.Wrap(err)
		}
		// content-addressed, an equal checkpoint is already there
		_, err = store.blobs.Upload(ctx, store.checkpointRef(projection.Name, fingerprint), canonical, blob.UploadOptions{
			ContentType: "application/json",
			IfNoneMatch: blob.Wildcard,
		})
		if err != nil && !blob.ErrConflict.Has(err) {
			return Error.Wrap(err)
		}
		file.CheckpointFingerprint = fingerprint
	} else {
		file.Checkpoint = projection.Checkpoint
	}

	body, err := json.Marshal(file)
	if err != nil {
		return Error.Wrap(err)
	}
	props, err := store.blobs.Upload(ctx, ref, body, blob.UploadOptions{ContentType: "application/json"})
	if err != nil {
		return Error.Wrap(err)
	}
	projection.etag = props.ETag
	return nil
}

// Status returns the lifecycle state of a projection; a projection that
// never persisted a status is Active.
func (store *Store) Status(ctx context.Context, name string) (_ StatusInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	info, _, err := store.loadStatus(ctx, name)
	return info, err
}

func (store *Store) loadStatus(ctx context.Context, name string) (StatusInfo, string, error) {
	ref := store.statusRef(name)
	props, err := store.blobs.Properties(ctx, ref)
	switch {
	case blob.ErrNotFound.Has(err), blob.ErrContainerNotFound.Has(err):
		return StatusInfo{Status: StatusActive, SchemaVersion: store.config.SchemaVersion}, "", nil
	case err != nil:
		return StatusInfo{}, "", Error.Wrap(err)
	}

	raw, err := store.blobs.Download(ctx, ref, blob.DownloadOptions{})
	if err != nil {
		return StatusInfo{}, "", Error.Wrap(err)
	}
	var info StatusInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return StatusInfo{}, "", Error.New("undecodable status of projection %q: %v", name, err)
	}
	return info, props.ETag, nil
}

func (store *Store) storeStatus(ctx context.Context, name string, info StatusInfo, etag string) error {
	if err := store.blobs.EnsureContainer(ctx, store.config.Container); err != nil {
		return Error.Wrap(err)
	}
	info.SchemaVersion = store.config.SchemaVersion

	body, err := json.Marshal(info)
	if err != nil {
		return Error.Wrap(err)
	}
	opts := blob.UploadOptions{ContentType: "application/json"}
	if etag != "" {
		opts.IfMatch = etag
	} else {
		opts.IfNoneMatch = blob.Wildcard
	}
	_, err = store.blobs.Upload(ctx, store.statusRef(name), body, opts)
	if blob.ErrPreconditionFailed.Has(err) || blob.ErrConflict.Has(err) {
		return ErrStatusConflict.New("status of %q changed behind our back", name)
	}
	return Error.Wrap(err)
}

// transition loads the status, lets fn derive the next one and stores it
// conditionally, retrying a bounded number of times on interleaving
// writers.
func (store *Store) transition(ctx context.Context, name string, fn func(StatusInfo) (StatusInfo, error)) (StatusInfo, error) {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		info, etag, err := store.loadStatus(ctx, name)
		if err != nil {
			return StatusInfo{}, err
		}
		next, err := fn(info)
		if err != nil {
			return StatusInfo{}, err
		}
		err = store.storeStatus(ctx, name, next, etag)
		if ErrStatusConflict.Has(err) {
			if !sleepFor(ctx, time.Duration(attempt+1)*20*time.Millisecond+time.Duration(rand.Int63n(int64(10*time.Millisecond)))) {
				return StatusInfo{}, Error.Wrap(ctx.Err())
			}
			continue
		}
		if err != nil {
			return StatusInfo{}, err
		}
		return next, nil
	}
	return StatusInfo{}, ErrStatusConflict.New("status of %q kept changing behind our back", name)
}

// SetStatus forces the lifecycle state to Active or Disabled, discarding
// any rebuild token.
func (store *Store) SetStatus(ctx context.Context, name string, status Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	if status != StatusActive && status != StatusDisabled {
		return ErrStatusConflict.New("cannot set status %q directly", status)
	}
	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		return StatusInfo{Status: status}, nil
	})
	return err
}

// StartRebuildOptions configure a rebuild.
type StartRebuildOptions struct {
	Strategy Strategy
	// TTL bounds the rebuild; DefaultRebuildTTL when zero.
	TTL time.Duration
	// OwnerID identifies the rebuilder; a fresh id when empty.
	OwnerID string
}

// StartRebuild moves an Active projection into Rebuilding and issues the
// token authorizing the rebuild phases.
func (store *Store) StartRebuild(ctx context.Context, name string, opts StartRebuildOptions) (_ *RebuildToken, err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.Strategy == "" {
		opts.Strategy = StrategyBlockingWithCatchUp
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRebuildTTL
	}
	if opts.OwnerID == "" {
		id, err := uuid.New()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		opts.OwnerID = id.String()
	}
	tokenID, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	now := store.now()
	token := &RebuildToken{
		ProjectionName: name,
		ObjectID:       opts.OwnerID,
		Strategy:       opts.Strategy,
		IssuedAt:       now,
		ExpiresAt:      now.Add(opts.TTL),
		Phase:          PhaseRebuilding,
		TokenID:        tokenID.String(),
	}

	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		if info.Status != StatusActive {
			return StatusInfo{}, ErrStatusConflict.New("projection %q is %v, not %v", name, info.Status, StatusActive)
		}
		return StatusInfo{Status: StatusRebuilding, Token: token}, nil
	})
	if err != nil {
		return nil, err
	}
	mon.Counter("rebuilds_started").Inc(1)
	return token, nil
}

// validateToken checks a token against the stored rebuild state.
func (store *Store) validateToken(info StatusInfo, name string, token *RebuildToken) error {
	switch {
	case token == nil:
		return ErrInvalidToken.New("token missing")
	case token.ProjectionName != name:
		return ErrInvalidToken.New("token belongs to projection %q", token.ProjectionName)
	case token.Expired(store.now()):
		return ErrInvalidToken.New("token expired at %v", token.ExpiresAt)
	case info.Token == nil || info.Token.TokenID != token.TokenID:
		return ErrInvalidToken.New("token does not match the current rebuild")
	}
	return nil
}

// StartCatchUp records that the bulk rebuild finished and the projection
// is folding the events that arrived meanwhile.
func (store *Store) StartCatchUp(ctx context.Context, name string, token *RebuildToken) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		if info.Status != StatusRebuilding {
			return StatusInfo{}, ErrStatusConflict.New("projection %q is %v, not %v", name, info.Status, StatusRebuilding)
		}
		if err := store.validateToken(info, name, token); err != nil {
			return StatusInfo{}, err
		}
		next := *info.Token
		next.Phase = PhaseCatchingUp
		token.Phase = PhaseCatchingUp
		return StatusInfo{Status: StatusRebuilding, Token: &next}, nil
	})
	return err
}

// MarkReady moves a caught-up rebuild into ReadyForSwap.
func (store *Store) MarkReady(ctx context.Context, name string, token *RebuildToken) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		if info.Status != StatusRebuilding {
			return StatusInfo{}, ErrStatusConflict.New("projection %q is %v, not %v", name, info.Status, StatusRebuilding)
		}
		if err := store.validateToken(info, name, token); err != nil {
			return StatusInfo{}, err
		}
		if info.Token.Phase != PhaseCatchingUp {
			return StatusInfo{}, ErrStatusConflict.New("rebuild of %q is %v, not %v", name, info.Token.Phase, PhaseCatchingUp)
		}
		next := *info.Token
		next.Phase = PhaseReady
		token.Phase = PhaseReady
		return StatusInfo{Status: StatusReadyForSwap, Token: &next}, nil
	})
	return err
}

// CompleteRebuild finishes a rebuild and returns the projection to
// Active. With the BlueGreen strategy the staging body is promoted to the
// live one; checkpoints swap along via the fingerprint it records.
func (store *Store) CompleteRebuild(ctx context.Context, name string, token *RebuildToken) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, _, err := store.loadStatus(ctx, name)
	if err != nil {
		return err
	}
	if info.Status != StatusReadyForSwap {
		return ErrStatusConflict.New("projection %q is %v, not %v", name, info.Status, StatusReadyForSwap)
	}
	if err := store.validateToken(info, name, token); err != nil {
		return err
	}

	if token.Strategy == StrategyBlueGreen {
		if err := store.promoteStaging(ctx, name); err != nil {
			return err
		}
	}

	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		if err := store.validateToken(info, name, token); err != nil {
			return StatusInfo{}, err
		}
		return StatusInfo{Status: StatusActive}, nil
	})
	if err != nil {
		return err
	}
	token.Phase = PhaseCompleted
	mon.Counter("rebuilds_completed").Inc(1)
	return nil
}

// CancelRebuild discards the rebuild and returns the projection to Active.
func (store *Store) CancelRebuild(ctx context.Context, name string, token *RebuildToken) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.transition(ctx, name, func(info StatusInfo) (StatusInfo, error) {
		if err := store.validateToken(info, name, token); err != nil {
			return StatusInfo{}, err
		}
		return StatusInfo{Status: StatusActive}, nil
	})
	if err != nil {
		return err
	}

	err = store.blobs.Delete(ctx, store.stagingRef(name), blob.DeleteOptions{})
	if err != nil && !blob.ErrNotFound.Has(err) && !blob.ErrContainerNotFound.Has(err) {
		return Error.Wrap(err)
	}
	token.Phase = PhaseCancelled
	return nil
}

// promoteStaging replaces the live body with the staging one.
func (store *Store) promoteStaging(ctx context.Context, name string) error {
	raw, err := store.blobs.Download(ctx, store.stagingRef(name), blob.DownloadOptions{})
	switch {
	case blob.ErrNotFound.Has(err):
		return ErrProjectionNotFound.New("staging body of %q missing", name)
	case err != nil:
		return Error.Wrap(err)
	}

	_, err = store.blobs.Upload(ctx, store.bodyRef(name), raw, blob.UploadOptions{ContentType: "application/json"})
	if err != nil {
		return Error.Wrap(err)
	}
	err = store.blobs.Delete(ctx, store.stagingRef(name), blob.DeleteOptions{})
	if err != nil && !blob.ErrNotFound.Has(err) {
		return Error.Wrap(err)
	}
	return nil
}

// sleepFor pauses for d, false when ctx ended first.
func sleepFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

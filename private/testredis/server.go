// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testredis provides an in-process redis server for tests.
package testredis

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/zeebo/errs"
)

// Error is the default error class of the package.
var Error = errs.Class("testredis")

// Redis is a running redis server usable from tests.
type Redis interface {
	// Addr returns the host:port the server listens on.
	Addr() string
	// FastForward advances the server clock, expiring keys with a TTL.
	FastForward(d time.Duration)
	// Close shuts the server down.
	Close() error
}

// Start starts an in-process redis server.
func Start(ctx context.Context) (Redis, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &mini{server: server}, nil
}

type mini struct {
	server *miniredis.Miniredis
}

func (m *mini) Addr() string                { return m.server.Addr() }
func (m *mini) FastForward(d time.Duration) { m.server.FastForward(d) }
func (m *mini) Close() error                { m.server.Close(); return nil }

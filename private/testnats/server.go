// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testnats provides an embedded NATS server with JetStream for
// tests.
package testnats

import (
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/zeebo/errs"
)

// Error is the default error class of the package.
var Error = errs.Class("testnats")

// Server is a running in-process NATS server.
type Server struct {
	server  *server.Server
	dataDir string
}

// Start starts an embedded NATS server with JetStream on a random port.
func Start() (*Server, error) {
	dataDir, err := os.MkdirTemp("", "testnats-*")
	if err != nil {
		return nil, Error.Wrap(err)
	}

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random
		JetStream: true,
		StoreDir:  dataDir,
		NoLog:     true,
		NoSigs:    true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, Error.Wrap(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		_ = os.RemoveAll(dataDir)
		return nil, Error.New("server did not become ready")
	}
	return &Server{server: srv, dataDir: dataDir}, nil
}

// Addr returns the client url of the server.
func (srv *Server) Addr() string { return srv.server.ClientURL() }

// Close shuts the server down and removes its data directory.
func (srv *Server) Close() error {
	srv.server.Shutdown()
	srv.server.WaitForShutdown()
	return Error.Wrap(os.RemoveAll(srv.dataDir))
}

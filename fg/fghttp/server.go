// Package fghttp serves a small status API over HTTP,
// exposing the node's finality state for operators and the CLI.
package fghttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gordian-engine/gfg/fg/fgauthority"
	"github.com/gordian-engine/gfg/fg/fgchain"
)

// Server is the long-lived HTTP listener.
type Server struct {
	done chan struct{}
}

// ServerConfig holds the inputs to NewServer.
type ServerConfig struct {
	Listener net.Listener

	// Name is the node's diagnostic label.
	Name string

	AuthoritySet *fgauthority.Set
	Chain        fgchain.Client
}

// Status is the JSON shape of the /status response.
type Status struct {
	Name string

	SetID          uint64
	Authorities    int
	PendingChanges int

	FinalizedHash   string
	FinalizedNumber uint64
}

// NewServer starts serving on the configured listener
// until the context is cancelled.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

// Wait blocks until the server has shut down.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		// Serve returned on its own, nothing left to do here.
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg ServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, cfg)).Methods("GET")

	return r
}

func handleStatus(log *slog.Logger, cfg ServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		finalized, err := cfg.Chain.FinalizedHead(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		rec := cfg.AuthoritySet.Record()

		st := Status{
			Name: cfg.Name,

			SetID:          rec.SetID,
			Authorities:    len(rec.Authorities),
			PendingChanges: len(rec.PendingChanges),

			FinalizedHash:   finalized.Hash.String(),
			FinalizedNumber: finalized.Number,
		}

		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Warn("Failed to write status response", "err", err)
		}
	}
}

// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
)

// shutdownGrace bounds how long in-flight requests get to finish.
const shutdownGrace = 10 * time.Second

// Server runs the control-surface HTTP listener as a supervised
// service.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
}

// NewServer builds the service around an assembled router.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Serve listens until the context is cancelled, then shuts down
// gracefully. Suitable for a suture supervisor.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       2 * s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

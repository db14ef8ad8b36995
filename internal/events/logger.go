// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
)

// watermillLogger adapts watermill's LoggerAdapter to zerolog. Info and
// below are demoted to debug; watermill's own lifecycle chatter is not
// operator-relevant.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger() watermill.LoggerAdapter {
	return watermillLogger{
		logger: logging.With().Str("component", "events").Logger(),
	}
}

func (w watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.logger.Error().Err(err), fields).Msg(msg)
}

func (w watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.logger.Debug(), fields).Msg(msg)
}

func (w watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.logger.Debug(), fields).Msg(msg)
}

func (w watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.logger.Trace(), fields).Msg(msg)
}

func (w watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return watermillLogger{logger: ctx.Logger()}
}

func (w watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTestLogger_CapturesGlobalOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	defer SetLogger(prev)

	Warn().Str("guid", "plex://movie/a").Msg("Enrichment failed, skipping item for this cycle")
	Err(errors.New("connection refused")).Msg("Deferred delivery attempt failed")

	out := buf.String()
	if !strings.Contains(out, `"guid":"plex://movie/a"`) {
		t.Errorf("output = %q, missing structured field", out)
	}
	if !strings.Contains(out, `"error":"connection refused"`) {
		t.Errorf("output = %q, Err did not attach the error", out)
	}
	if !strings.Contains(out, `"level":"error"`) {
		t.Errorf("output = %q, Err did not log at error level", out)
	}
}

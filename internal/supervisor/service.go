// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package supervisor

import (
	"context"

	"github.com/thejerf/suture/v4"
)

// named gives a service a stable name in supervisor logs. Suture falls
// back to the type's %v rendering otherwise, which is noise for
// struct-pointer services.
type named struct {
	name string
	svc  suture.Service
}

// Named wraps a service with a display name for supervisor events.
func Named(name string, svc suture.Service) suture.Service {
	return &named{name: name, svc: svc}
}

func (n *named) Serve(ctx context.Context) error {
	return n.svc.Serve(ctx)
}

func (n *named) String() string {
	return n.name
}

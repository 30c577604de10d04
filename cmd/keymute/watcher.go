package main

import (
	"context"
	"fmt"
	"log/slog"
)

// registryConn is the slice of the server connection the watcher drives.
// *serverConn implements it; tests substitute a scripted fake.
type registryConn interface {
	SetHandlers(onAdded func(Global), onRemoved func(uint32))
	Subscribe() error
	Service() error
	Bind(id uint32) (Handle, error)
	SetEndpointMute(h Handle, mute bool) error
	Roundtrip() error
}

// nodeNameProp is the directory property carrying an endpoint's name.
const nodeNameProp = "node.name"

// objectTypeNode marks directory objects that are audio endpoints.
const objectTypeNode = "Node"

// endpointWatcher owns one server connection and keeps the binding table
// in sync with the server's object directory. It subscribes for the
// lifetime of the process: endpoints that appear after startup are bound
// when they show up, and removals purge their entries.
type endpointWatcher struct {
	conn     registryConn
	table    *BindingTable
	bindings []Binding
	logger   *slog.Logger

	err error // first fatal error raised by a notification handler
}

func newEndpointWatcher(conn registryConn, table *BindingTable, bindings []Binding, logger *slog.Logger) *endpointWatcher {
	w := &endpointWatcher{
		conn:     conn,
		table:    table,
		bindings: bindings,
		logger:   logger,
	}
	conn.SetHandlers(w.handleAdded, w.handleRemoved)
	return w
}

// run subscribes and services notifications until the connection fails or
// ctx is canceled. The caller is expected to close the connection on
// cancellation to unblock the read.
func (w *endpointWatcher) run(ctx context.Context) error {
	if err := w.conn.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		if err := w.conn.Service(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if w.err != nil {
			return w.err
		}
	}
}

// handleAdded binds a directory object if it is an audio endpoint whose
// name one of the configured bindings claims. The new endpoint is forced
// to muted before the watcher returns to servicing notifications, so a
// hot mic never slips through between discovery and the first key event.
func (w *endpointWatcher) handleAdded(g Global) {
	if w.err != nil {
		return
	}
	if g.Type != objectTypeNode {
		return
	}
	name := g.Props[nodeNameProp]
	if name == "" {
		return
	}

	var matched []Binding
	for _, b := range w.bindings {
		if b.Endpoint == name {
			matched = append(matched, b)
		}
	}
	if len(matched) == 0 {
		return
	}

	handle, err := w.conn.Bind(g.ID)
	if err != nil {
		w.err = fmt.Errorf("bind endpoint %q (id %d): %w", name, g.ID, err)
		return
	}

	for _, b := range matched {
		collision := w.table.Insert(&tableEntry{
			Endpoint: name,
			ServerID: g.ID,
			Handle:   handle,
			KeyCode:  b.KeyCode,
			Mode:     b.Mode,
			muted:    true,
		})
		if collision {
			w.logger.Warn("multiple live endpoints share a configured name; binding all",
				"endpoint", name, "id", g.ID)
		}
		w.logger.Info("bound endpoint", "endpoint", name, "id", g.ID, "handle", handle, "key", b.KeyName, "mode", b.Mode)
	}

	if err := w.conn.SetEndpointMute(handle, true); err != nil {
		w.err = err
		return
	}
	if err := w.conn.Roundtrip(); err != nil {
		w.err = fmt.Errorf("confirm initial mute of %q: %w", name, err)
		return
	}
}

// handleRemoved drops every table entry bound to the departed object.
// The handle dies with the entries; the dispatcher can no longer reach it.
func (w *endpointWatcher) handleRemoved(id uint32) {
	if n := w.table.RemoveByServerID(id); n > 0 {
		w.logger.Info("endpoint removed", "id", id, "entries", n)
	}
}

package main

import (
	"context"
	"log/slog"
	"time"
)

// mutationConn is the slice of the server connection the dispatcher
// drives: the single mute seam plus the barrier that confirms a batch.
type mutationConn interface {
	SetEndpointMute(h Handle, mute bool) error
	Roundtrip() error
}

// keyEvent is one normalized physical key transition. Auto-repeat has
// already been filtered by the input layer.
type keyEvent struct {
	Code   uint16
	Press  bool
	Device string
}

// keyDispatcher owns one server connection and converts key events into
// mute mutations according to each matching entry's mode. After every
// event that produced at least one request it runs a roundtrip, so the
// server has applied the batch before the next event is considered.
type keyDispatcher struct {
	conn         mutationConn
	table        *BindingTable
	releaseDelay time.Duration
	logger       *slog.Logger
}

func newKeyDispatcher(conn mutationConn, table *BindingTable, releaseDelay time.Duration, logger *slog.Logger) *keyDispatcher {
	return &keyDispatcher{
		conn:         conn,
		table:        table,
		releaseDelay: releaseDelay,
		logger:       logger,
	}
}

// run consumes events until the channel closes, ctx is canceled, or a
// request fails. A failure ends this worker only.
func (d *keyDispatcher) run(ctx context.Context, events <-chan keyEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.onEvent(ev); err != nil {
				return err
			}
		}
	}
}

// onEvent applies the hold/toggle rules for one key transition.
//
// The lookup and the sends happen in one pass under the table lock, so a
// concurrent removal cannot invalidate a handle between the two. The
// configured release delay is slept before that pass and outside the
// lock; the post-sleep lookup re-validates liveness on its own.
func (d *keyDispatcher) onEvent(ev keyEvent) error {
	bound, hold := d.table.HasKey(ev.Code)
	if !bound {
		return nil
	}

	if !ev.Press && hold && d.releaseDelay > 0 {
		time.Sleep(d.releaseDelay)
	}

	sent := 0
	var sendErr error
	d.table.WithKey(ev.Code, func(entries []*tableEntry) {
		for _, e := range entries {
			var mute bool
			switch e.Mode {
			case ModeHold:
				mute = !ev.Press
			case ModeToggle:
				if !ev.Press {
					continue
				}
				e.muted = !e.muted
				mute = e.muted
			default:
				continue
			}
			if err := d.conn.SetEndpointMute(e.Handle, mute); err != nil {
				sendErr = err
				return
			}
			d.logger.Debug("mute request", "endpoint", e.Endpoint, "handle", e.Handle, "mute", mute)
			sent++
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if sent == 0 {
		return nil
	}

	return d.conn.Roundtrip()
}

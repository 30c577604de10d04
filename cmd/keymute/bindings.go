package main

import (
	"fmt"
	"sync"
)

// BindMode selects how a key controls the mute state of its endpoints.
type BindMode string

const (
	// ModeHold unmutes while the key is held and mutes on release.
	ModeHold BindMode = "hold"
	// ModeToggle flips the remembered mute state on every press.
	ModeToggle BindMode = "toggle"
)

// Binding is one configured rule, immutable after startup: when the key
// with KeyCode is pressed, act on every live endpoint named Endpoint.
type Binding struct {
	Endpoint string
	KeyName  string
	KeyCode  uint16
	Mode     BindMode
}

func (b Binding) String() string {
	return fmt.Sprintf("%s -> %s (%s)", b.KeyName, b.Endpoint, b.Mode)
}

// tableEntry associates one bound endpoint with the binding that claimed
// it. muted is the toggle state, meaningful for ModeToggle only; it starts
// true because the watcher forces new endpoints to muted at bind time.
// The handle is owned by this entry and must not be used once the entry
// has been removed from the table.
type tableEntry struct {
	Endpoint string
	ServerID uint32
	Handle   Handle
	KeyCode  uint16
	Mode     BindMode
	muted    bool
}

// BindingTable is the only state shared between the watcher and the
// dispatcher. All access goes through its lock.
type BindingTable struct {
	mu      sync.Mutex
	entries []*tableEntry
}

func NewBindingTable() *BindingTable {
	return &BindingTable{}
}

// Insert publishes a freshly bound endpoint. Returns whether another live
// entry already carries the same endpoint name, so the caller can warn
// about name collisions.
func (t *BindingTable) Insert(e *tableEntry) (collision bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cur := range t.entries {
		if cur.Endpoint == e.Endpoint && cur.ServerID != e.ServerID {
			collision = true
			break
		}
	}
	t.entries = append(t.entries, e)
	return collision
}

// RemoveByServerID purges every entry bound to the given directory id and
// returns how many were dropped. Once it returns, no dispatcher lookup
// can observe the removed handles.
func (t *BindingTable) RemoveByServerID(id uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.ServerID == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return removed
}

// WithKey runs fn with every entry matching the key code, holding the
// table lock for the duration. This is the dispatcher's lookup-and-send
// window: fn may mutate toggle state and issue the mute requests, and
// nothing else; in particular it must not block on acks.
func (t *BindingTable) WithKey(code uint16, fn func(entries []*tableEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var matched []*tableEntry
	for _, e := range t.entries {
		if e.KeyCode == code {
			matched = append(matched, e)
		}
	}
	if len(matched) > 0 {
		fn(matched)
	}
}

// HasKey reports whether any live entry is bound to the key code, and
// whether any of those entries is a hold binding. Used by the dispatcher
// to decide if the release delay applies before it takes the real
// lookup-and-send pass.
func (t *BindingTable) HasKey(code uint16) (bound bool, hold bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.KeyCode == code {
			bound = true
			if e.Mode == ModeHold {
				hold = true
			}
		}
	}
	return bound, hold
}

// EntryStatus is the exported view of a table entry, served over IPC.
type EntryStatus struct {
	Endpoint string   `json:"endpoint"`
	ServerID uint32   `json:"server_id"`
	KeyCode  uint16   `json:"key_code"`
	Mode     BindMode `json:"mode"`
	Muted    bool     `json:"muted"`
}

// Snapshot returns a copy of the live entries for status reporting.
func (t *BindingTable) Snapshot() []EntryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EntryStatus, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, EntryStatus{
			Endpoint: e.Endpoint,
			ServerID: e.ServerID,
			KeyCode:  e.KeyCode,
			Mode:     e.Mode,
			Muted:    e.muted,
		})
	}
	return out
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// fakeRegistryConn feeds a scripted notification stream to the watcher
// and records the bind/mute/roundtrip traffic it provokes. Service
// returns io.EOF once the script runs out, which ends run().
type fakeRegistryConn struct {
	script    []any // Global (added) or uint32 (removed)
	onAdded   func(Global)
	onRemoved func(uint32)

	subscribed bool
	binds      []uint32
	nextHandle Handle
	bindErr    error
	mutes      []muteCall
	roundtrips int
}

func (f *fakeRegistryConn) SetHandlers(onAdded func(Global), onRemoved func(uint32)) {
	f.onAdded = onAdded
	f.onRemoved = onRemoved
}

func (f *fakeRegistryConn) Subscribe() error {
	f.subscribed = true
	return nil
}

func (f *fakeRegistryConn) Service() error {
	if len(f.script) == 0 {
		return io.EOF
	}
	item := f.script[0]
	f.script = f.script[1:]
	switch v := item.(type) {
	case Global:
		f.onAdded(v)
	case uint32:
		f.onRemoved(v)
	}
	return nil
}

func (f *fakeRegistryConn) Bind(id uint32) (Handle, error) {
	if f.bindErr != nil {
		return 0, f.bindErr
	}
	f.binds = append(f.binds, id)
	f.nextHandle++
	return f.nextHandle, nil
}

func (f *fakeRegistryConn) SetEndpointMute(h Handle, mute bool) error {
	f.mutes = append(f.mutes, muteCall{Handle: h, Mute: mute})
	return nil
}

func (f *fakeRegistryConn) Roundtrip() error {
	f.roundtrips++
	return nil
}

func node(id uint32, name string) Global {
	return Global{ID: id, Type: objectTypeNode, Props: map[string]string{nodeNameProp: name}}
}

func runWatcher(t *testing.T, conn *fakeRegistryConn, table *BindingTable, bindings []Binding) {
	t.Helper()
	w := newEndpointWatcher(conn, table, bindings, slog.Default())
	if err := w.run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("watcher exited with %v, want script end", err)
	}
	if !conn.subscribed {
		t.Fatal("watcher never subscribed")
	}
}

func TestWatcher_BindsMatchingEndpoint(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{
			node(10, "Mic1"),
			node(11, "Speakers"), // configured? no
		},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
	}

	runWatcher(t, conn, table, bindings)

	if len(conn.binds) != 1 || conn.binds[0] != 10 {
		t.Fatalf("expected a single bind of id 10, got %v", conn.binds)
	}

	// The new endpoint is forced to muted, confirmed by a roundtrip.
	if len(conn.mutes) != 1 || conn.mutes[0] != (muteCall{Handle: 1, Mute: true}) {
		t.Fatalf("expected initial mute=true on handle 1, got %v", conn.mutes)
	}
	if conn.roundtrips != 1 {
		t.Errorf("expected 1 roundtrip, got %d", conn.roundtrips)
	}

	snap := table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 table entry, got %d", len(snap))
	}
	if snap[0].Endpoint != "Mic1" || snap[0].ServerID != 10 || !snap[0].Muted {
		t.Errorf("unexpected entry: %+v", snap[0])
	}
}

func TestWatcher_IgnoresNonNodesAndMissingNames(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{
			// A port object: right name, wrong type.
			Global{ID: 30, Type: "Port", Props: map[string]string{nodeNameProp: "Mic1"}},
			// A node without a name property.
			Global{ID: 31, Type: objectTypeNode, Props: map[string]string{}},
		},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
	}

	runWatcher(t, conn, table, bindings)

	if len(conn.binds) != 0 {
		t.Errorf("non-node objects must not be bound, got %v", conn.binds)
	}
	if len(table.Snapshot()) != 0 {
		t.Error("table must stay empty")
	}
}

func TestWatcher_RemovalPurgesEntries(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{
			node(10, "Mic1"),
			uint32(10), // removal
		},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeToggle},
	}

	runWatcher(t, conn, table, bindings)

	if len(table.Snapshot()) != 0 {
		t.Fatalf("removal must purge the table, still has %v", table.Snapshot())
	}
}

// TestWatcher_LateAppearingEndpoint checks the live-subscription mode:
// endpoints that show up long after startup are still bound.
func TestWatcher_LateAppearingEndpoint(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{
			node(10, "Speakers"), // unrelated churn first
			uint32(10),
			node(42, "Mic1"), // then the one we want
		},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
	}

	runWatcher(t, conn, table, bindings)

	if len(conn.binds) != 1 || conn.binds[0] != 42 {
		t.Fatalf("expected late endpoint 42 to be bound, got %v", conn.binds)
	}
}

// TestWatcher_NameCollisionBindsAll: two live endpoints report the same
// configured name; both get bound and controlled.
func TestWatcher_NameCollisionBindsAll(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{
			node(10, "Mic1"),
			node(20, "Mic1"),
		},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
	}

	runWatcher(t, conn, table, bindings)

	if len(conn.binds) != 2 {
		t.Fatalf("expected both endpoints bound, got %v", conn.binds)
	}
	if len(table.Snapshot()) != 2 {
		t.Errorf("expected 2 table entries, got %v", table.Snapshot())
	}
}

// TestWatcher_MultipleBindingsSameEndpoint: one endpoint claimed by two
// bindings gets one handle but two table entries.
func TestWatcher_MultipleBindingsSameEndpoint(t *testing.T) {
	conn := &fakeRegistryConn{
		script: []any{node(10, "Mic1")},
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
		{Endpoint: "Mic1", KeyName: "KEY_F10", KeyCode: 68, Mode: ModeToggle},
	}

	runWatcher(t, conn, table, bindings)

	if len(conn.binds) != 1 {
		t.Fatalf("expected a single bind, got %v", conn.binds)
	}
	if len(table.Snapshot()) != 2 {
		t.Fatalf("expected 2 entries, got %v", table.Snapshot())
	}
	// One forced mute per bound handle, not per entry.
	if len(conn.mutes) != 1 {
		t.Errorf("expected 1 initial mute, got %v", conn.mutes)
	}
}

func TestWatcher_BindErrorIsFatal(t *testing.T) {
	conn := &fakeRegistryConn{
		script:  []any{node(10, "Mic1")},
		bindErr: errTest,
	}
	table := NewBindingTable()
	bindings := []Binding{
		{Endpoint: "Mic1", KeyName: "KEY_F9", KeyCode: 67, Mode: ModeHold},
	}

	w := newEndpointWatcher(conn, table, bindings, slog.Default())
	err := w.run(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected bind failure to end the watcher, got %v", err)
	}
	if len(table.Snapshot()) != 0 {
		t.Error("failed bind must not leave table entries")
	}
}

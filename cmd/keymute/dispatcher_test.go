package main

import (
	"log/slog"
	"testing"
	"time"
)

// fakeMutationConn records mute requests and roundtrips in order, so
// tests can assert the exact request sequence a key event produced.
type muteCall struct {
	Handle Handle
	Mute   bool
}

type fakeMutationConn struct {
	calls      []muteCall
	roundtrips int
	// barrierAt records how many mute calls had been issued when each
	// roundtrip happened, to check the barrier comes after the batch.
	barrierAt []int
	sendErr   error
}

func (f *fakeMutationConn) SetEndpointMute(h Handle, mute bool) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.calls = append(f.calls, muteCall{Handle: h, Mute: mute})
	return nil
}

func (f *fakeMutationConn) Roundtrip() error {
	f.roundtrips++
	f.barrierAt = append(f.barrierAt, len(f.calls))
	return nil
}

func testDispatcher(conn mutationConn, table *BindingTable, delay time.Duration) *keyDispatcher {
	return newKeyDispatcher(conn, table, delay, slog.Default())
}

func TestDispatcher_HoldPressRelease(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))

	d := testDispatcher(conn, table, 0)

	if err := d.onEvent(keyEvent{Code: 67, Press: true}); err != nil {
		t.Fatalf("press: %v", err)
	}
	if err := d.onEvent(keyEvent{Code: 67, Press: false}); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := []muteCall{
		{Handle: 5, Mute: false}, // press unmutes
		{Handle: 5, Mute: true},  // release mutes
	}
	if len(conn.calls) != len(want) {
		t.Fatalf("expected %d requests, got %d: %v", len(want), len(conn.calls), conn.calls)
	}
	for i := range want {
		if conn.calls[i] != want[i] {
			t.Errorf("request %d: got %+v, want %+v", i, conn.calls[i], want[i])
		}
	}

	// One barrier per event, each after its request was sent.
	if conn.roundtrips != 2 {
		t.Fatalf("expected 2 roundtrips, got %d", conn.roundtrips)
	}
	if conn.barrierAt[0] != 1 || conn.barrierAt[1] != 2 {
		t.Errorf("barriers must follow the mutation batch, got barrierAt=%v", conn.barrierAt)
	}
}

func TestDispatcher_ToggleSequence(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic2", 11, 7, 48, ModeToggle))

	d := testDispatcher(conn, table, 0)

	// Three presses; releases must be ignored in toggle mode.
	for i := 0; i < 3; i++ {
		if err := d.onEvent(keyEvent{Code: 48, Press: true}); err != nil {
			t.Fatalf("press %d: %v", i, err)
		}
		if err := d.onEvent(keyEvent{Code: 48, Press: false}); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	// Toggle state starts at muted, so presses yield false, true, false.
	want := []bool{false, true, false}
	if len(conn.calls) != len(want) {
		t.Fatalf("expected %d requests, got %d: %v", len(want), len(conn.calls), conn.calls)
	}
	for i, mute := range want {
		if conn.calls[i].Mute != mute {
			t.Errorf("press %d: got mute=%v, want %v", i+1, conn.calls[i].Mute, mute)
		}
	}
	if conn.roundtrips != 3 {
		t.Errorf("expected 3 roundtrips (one per press), got %d", conn.roundtrips)
	}
}

func TestDispatcher_UnboundKeyIsSilent(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))

	d := testDispatcher(conn, table, 0)

	if err := d.onEvent(keyEvent{Code: 99, Press: true}); err != nil {
		t.Fatalf("unbound press: %v", err)
	}
	if err := d.onEvent(keyEvent{Code: 99, Press: false}); err != nil {
		t.Fatalf("unbound release: %v", err)
	}

	if len(conn.calls) != 0 || conn.roundtrips != 0 {
		t.Errorf("unbound key must produce no requests and no barrier, got %d/%d",
			len(conn.calls), conn.roundtrips)
	}
}

// TestDispatcher_NeverBoundEndpoint covers the configured-but-absent
// case: a binding exists but its endpoint never appeared on the server,
// so the table stays empty and its key does nothing.
func TestDispatcher_NeverBoundEndpoint(t *testing.T) {
	conn := &fakeMutationConn{}
	d := testDispatcher(conn, NewBindingTable(), 0)

	if err := d.onEvent(keyEvent{Code: 67, Press: true}); err != nil {
		t.Fatalf("press: %v", err)
	}
	if len(conn.calls) != 0 || conn.roundtrips != 0 {
		t.Error("events for a never-bound endpoint must be no-ops")
	}
}

func TestDispatcher_ReleaseDelay(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))

	const delay = 50 * time.Millisecond
	d := testDispatcher(conn, table, delay)

	start := time.Now()
	if err := d.onEvent(keyEvent{Code: 67, Press: false}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("release handled in %v, want >= %v", elapsed, delay)
	}
	if len(conn.calls) != 1 || !conn.calls[0].Mute {
		t.Fatalf("expected one mute request after the delay, got %v", conn.calls)
	}

	// The delay only applies to hold-mode releases.
	conn.calls = nil
	start = time.Now()
	if err := d.onEvent(keyEvent{Code: 67, Press: true}); err != nil {
		t.Fatalf("press: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= delay {
		t.Errorf("press took %v, must not sleep", elapsed)
	}
}

// TestDispatcher_RemovalDuringDelay removes the endpoint while the
// release delay is sleeping. The post-sleep lookup must come up empty:
// no request may be issued against the dead handle.
func TestDispatcher_RemovalDuringDelay(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))

	d := testDispatcher(conn, table, 40*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		table.RemoveByServerID(10)
	}()

	if err := d.onEvent(keyEvent{Code: 67, Press: false}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(conn.calls) != 0 || conn.roundtrips != 0 {
		t.Errorf("removed endpoint must not receive requests, got %v", conn.calls)
	}
}

func TestDispatcher_SendErrorIsFatal(t *testing.T) {
	conn := &fakeMutationConn{sendErr: errTest}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))

	d := testDispatcher(conn, table, 0)

	if err := d.onEvent(keyEvent{Code: 67, Press: true}); err == nil {
		t.Fatal("expected the send error to propagate")
	}
	if conn.roundtrips != 0 {
		t.Error("no barrier after a failed batch")
	}
}

// TestDispatcher_MultipleEndpointsOneKey drives a key bound to two live
// endpoints and expects one request each plus a single barrier.
func TestDispatcher_MultipleEndpointsOneKey(t *testing.T) {
	conn := &fakeMutationConn{}
	table := NewBindingTable()
	table.Insert(testEntry("Mic1", 10, 5, 67, ModeHold))
	table.Insert(testEntry("Mic1", 20, 6, 67, ModeHold))

	d := testDispatcher(conn, table, 0)

	if err := d.onEvent(keyEvent{Code: 67, Press: true}); err != nil {
		t.Fatalf("press: %v", err)
	}
	if len(conn.calls) != 2 {
		t.Fatalf("expected 2 requests, got %v", conn.calls)
	}
	if conn.roundtrips != 1 {
		t.Errorf("expected a single barrier for the batch, got %d", conn.roundtrips)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

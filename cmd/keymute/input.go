package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// inputEvent mirrors the Linux input event structure:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// parseInputEvent decodes one raw evdev record.
func parseInputEvent(buf []byte) (inputEvent, error) {
	var ev inputEvent
	if len(buf) < inputEventSize {
		return ev, fmt.Errorf("short input event: %d bytes", len(buf))
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// normalizeKeyEvent filters a raw evdev record down to the press/release
// stream the dispatcher consumes. Non-key events and auto-repeat are
// dropped here so the dispatcher never sees them.
func normalizeKeyEvent(ev inputEvent, device string) (keyEvent, bool) {
	if ev.Type != EV_KEY {
		return keyEvent{}, false
	}
	switch ev.Value {
	case evValuePress:
		return keyEvent{Code: ev.Code, Press: true, Device: device}, true
	case evValueRelease:
		return keyEvent{Code: ev.Code, Press: false, Device: device}, true
	default:
		// evValueRepeat and anything exotic.
		return keyEvent{}, false
	}
}

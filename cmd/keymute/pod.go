package main

import "encoding/binary"

// SPA type and property identifiers needed to build a Props param that
// sets the mute flag on a node. Values are from the SPA headers
// (spa/utils/type.h, spa/param/props.h).
const (
	spaTypeBool   = 2
	spaTypeObject = 15

	spaTypeObjectProps = 0x40002 // SPA_TYPE_OBJECT_Props
	spaParamProps      = 2       // SPA_PARAM_Props
	spaPropMute        = 0x10004 // SPA_PROP_mute
)

// encodeMuteParam serializes a Props object pod containing a single
// boolean property, SPA_PROP_mute. The layout is the standard pod
// framing: an 8-byte (size, type) header followed by the object body
// (object type, object id, then properties). Pods are native-endian;
// we target little-endian hosts.
//
//	offset  field
//	     0  body size (32)
//	     8  object type SPA_TYPE_OBJECT_Props
//	    12  object id   SPA_PARAM_Props
//	    16  property key SPA_PROP_mute
//	    20  property flags (0)
//	    24  bool pod: size 4, type Bool, value, padding
func encodeMuteParam(mute bool) []byte {
	buf := make([]byte, 40)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], 32) // object body size
	le.PutUint32(buf[4:], spaTypeObject)
	le.PutUint32(buf[8:], spaTypeObjectProps)
	le.PutUint32(buf[12:], spaParamProps)
	le.PutUint32(buf[16:], spaPropMute)
	le.PutUint32(buf[20:], 0) // property flags
	le.PutUint32(buf[24:], 4) // bool body size
	le.PutUint32(buf[28:], spaTypeBool)
	if mute {
		le.PutUint32(buf[32:], 1)
	}
	// buf[36:40] is pod padding, already zero.

	return buf
}

// MutePayloads holds the two request payloads the daemon ever sends.
// They are built once at startup and shared read-only by the watcher
// and the dispatcher.
type MutePayloads struct {
	Mute   []byte
	Unmute []byte
}

func newMutePayloads() MutePayloads {
	return MutePayloads{
		Mute:   encodeMuteParam(true),
		Unmute: encodeMuteParam(false),
	}
}

// For selects the payload for the requested mute state.
func (p MutePayloads) For(mute bool) []byte {
	if mute {
		return p.Mute
	}
	return p.Unmute
}

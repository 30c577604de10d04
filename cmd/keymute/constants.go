package main

// Linux input event types (from <linux/input.h>)
const (
	EV_KEY = 0x01
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Defaults shared by config and flags.
const (
	defaultServerWsURL   = "ws://127.0.0.1:9610"
	defaultReadTimeoutMS = 500 // per-read timeout while waiting for server acks (ms)
	defaultIPCSocket     = "/tmp/keymute.sock"
	defaultMdnsService   = "_keymute-server._tcp"
)

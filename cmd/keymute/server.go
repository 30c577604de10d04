package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Routing-server control protocol
// ============================================================================
// The daemon talks to the audio routing server over a websocket carrying
// JSON text frames. Handles returned by "bind" are session-scoped tokens:
// every connection dialed with the same session id may address them. That
// keeps each websocket owned by exactly one goroutine while the binding
// table only ever stores plain integers.
//
// Client frames:
//   {"subscribe": {}}
//   {"bind":      {"seq": N, "id": ID}}
//   {"set_param": {"handle": H, "param": "Props", "payload": "<base64>"}}
//   {"sync":      {"seq": N}}
//
// Server frames:
//   {"added":   {"id": ID, "type": "Node", "props": {"node.name": "..."}}}
//   {"removed": {"id": ID}}
//   {"bound":   {"seq": N, "handle": H}}
//   {"done":    {"seq": N}}
//   {"error":   {"message": "..."}}
//
// The server processes frames from one connection in order and acks a
// "sync" only after everything sent before it has been applied. That is
// the whole point of Roundtrip below.
// ============================================================================

// Handle addresses one bound server object for property requests.
type Handle uint32

// Global describes an object announced by the server's directory.
type Global struct {
	ID    uint32            `json:"id"`
	Type  string            `json:"type"`
	Props map[string]string `json:"props"`
}

type serverMessage struct {
	Added   *Global `json:"added,omitempty"`
	Removed *struct {
		ID uint32 `json:"id"`
	} `json:"removed,omitempty"`
	Bound *struct {
		Seq    uint32 `json:"seq"`
		Handle Handle `json:"handle"`
	} `json:"bound,omitempty"`
	Done *struct {
		Seq uint32 `json:"seq"`
	} `json:"done,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// serverConn is one websocket connection to the routing server. It is not
// safe for concurrent use: each worker owns its connection outright and is
// the only goroutine that reads or writes it.
type serverConn struct {
	ws          *websocket.Conn
	logger      *slog.Logger
	readTimeout time.Duration
	pods        MutePayloads

	seq     uint32
	doneSeq uint32
	bound   map[uint32]Handle

	onAdded   func(Global)
	onRemoved func(uint32)
}

// dialServer connects to the routing server, attaching to the given client
// session. readTimeout bounds each read while waiting for an ack; zero
// means wait forever.
func dialServer(wsURL, session string, pods MutePayloads, logger *slog.Logger, readTimeout time.Duration) (*serverConn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ws url: %w", err)
	}
	q := u.Query()
	q.Set("session", session)
	u.RawQuery = q.Encode()

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}
	ws, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return &serverConn{
		ws:          ws,
		logger:      logger,
		readTimeout: readTimeout,
		pods:        pods,
		bound:       make(map[uint32]Handle),
	}, nil
}

// SetHandlers installs the notification callbacks. Must be called before
// the first Service/Roundtrip; notifications arriving with no handler are
// dropped with a debug log.
func (c *serverConn) SetHandlers(onAdded func(Global), onRemoved func(uint32)) {
	c.onAdded = onAdded
	c.onRemoved = onRemoved
}

func (c *serverConn) Close() error {
	return c.ws.Close()
}

func (c *serverConn) nextSeq() uint32 {
	c.seq++
	return c.seq
}

func (c *serverConn) write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Subscribe asks the server to stream directory add/remove notifications
// on this connection.
func (c *serverConn) Subscribe() error {
	return c.write(map[string]any{"subscribe": map[string]any{}})
}

// Service reads and dispatches exactly one frame, blocking until one
// arrives. The watcher's steady state is a loop over Service.
func (c *serverConn) Service() error {
	return c.service(false)
}

func (c *serverConn) service(deadline bool) error {
	if deadline && c.readTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		defer c.ws.SetReadDeadline(time.Time{})
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case msg.Added != nil:
		if c.onAdded != nil {
			c.onAdded(*msg.Added)
		} else {
			c.logger.Debug("dropping added notification", "id", msg.Added.ID)
		}
	case msg.Removed != nil:
		if c.onRemoved != nil {
			c.onRemoved(msg.Removed.ID)
		} else {
			c.logger.Debug("dropping removed notification", "id", msg.Removed.ID)
		}
	case msg.Bound != nil:
		c.bound[msg.Bound.Seq] = msg.Bound.Handle
	case msg.Done != nil:
		if msg.Done.Seq > c.doneSeq {
			c.doneSeq = msg.Done.Seq
		}
	case msg.Error != nil:
		return fmt.Errorf("server error: %s", msg.Error.Message)
	default:
		c.logger.Debug("ignoring unknown frame", "frame", string(data))
	}

	return nil
}

// Bind attaches a client handle to the object with the given directory id.
// It services the connection until the server replies, dispatching any
// notifications that arrive in between.
func (c *serverConn) Bind(id uint32) (Handle, error) {
	seq := c.nextSeq()
	if err := c.write(map[string]any{"bind": map[string]any{"seq": seq, "id": id}}); err != nil {
		return 0, err
	}
	for {
		if h, ok := c.bound[seq]; ok {
			delete(c.bound, seq)
			return h, nil
		}
		if err := c.service(true); err != nil {
			return 0, fmt.Errorf("bind %d: %w", id, err)
		}
	}
}

// SetParam sends a raw param payload to a handle. Requests are applied
// asynchronously; callers that need confirmation follow up with Roundtrip.
func (c *serverConn) SetParam(h Handle, payload []byte) error {
	return c.write(map[string]any{"set_param": map[string]any{
		"handle":  h,
		"param":   "Props",
		"payload": base64.StdEncoding.EncodeToString(payload),
	}})
}

// SetEndpointMute is the one seam through which mute mutations leave the
// process. It reuses the payloads cached at startup.
func (c *serverConn) SetEndpointMute(h Handle, mute bool) error {
	if err := c.SetParam(h, c.pods.For(mute)); err != nil {
		return fmt.Errorf("set mute=%v on handle %d: %w", mute, h, err)
	}
	return nil
}

// Roundtrip blocks until the server has processed every request sent on
// this connection before the call. Notifications arriving while waiting
// are dispatched normally. Acks are recorded on the connection, so a
// nested wait (a Bind triggered by a dispatched notification) cannot
// starve an outer Roundtrip.
func (c *serverConn) Roundtrip() error {
	seq := c.nextSeq()
	if err := c.write(map[string]any{"sync": map[string]any{"seq": seq}}); err != nil {
		return err
	}
	for c.doneSeq < seq {
		if err := c.service(true); err != nil {
			return fmt.Errorf("sync %d: %w", seq, err)
		}
	}
	return nil
}

// keymute-tap subscribes to a routing server's object directory and
// prints the notification stream. Useful for checking what node names
// the server reports before writing keymute bindings.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:9610", "Routing server websocket URL")
		session = flag.String("session", "tap", "Client session id")
		doSync  = flag.Bool("sync", false, "Measure one sync roundtrip after subscribing")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}
	q := u.Query()
	q.Set("session", *session)
	u.RawQuery = q.Encode()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	send := func(v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Fatalf("write: %v", err)
		}
	}

	send(map[string]any{"subscribe": map[string]any{}})
	log.Printf("subscribed (press Ctrl+C to exit)")

	var syncStart time.Time
	if *doSync {
		syncStart = time.Now()
		send(map[string]any{"sync": map[string]any{"seq": 1}})
	}

	go func() {
		<-sigc
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("connection closed: %v", err)
			return
		}

		var msg struct {
			Added *struct {
				ID    uint32            `json:"id"`
				Type  string            `json:"type"`
				Props map[string]string `json:"props"`
			} `json:"added,omitempty"`
			Removed *struct {
				ID uint32 `json:"id"`
			} `json:"removed,omitempty"`
			Done *struct {
				Seq uint32 `json:"seq"`
			} `json:"done,omitempty"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("undecodable frame: %s", data)
			continue
		}

		switch {
		case msg.Added != nil:
			log.Printf("added   id=%d type=%s name=%q", msg.Added.ID, msg.Added.Type, msg.Added.Props["node.name"])
		case msg.Removed != nil:
			log.Printf("removed id=%d", msg.Removed.ID)
		case msg.Done != nil:
			if *doSync && msg.Done.Seq == 1 {
				log.Printf("sync roundtrip: %s", time.Since(syncStart))
			} else {
				log.Printf("done    seq=%d", msg.Done.Seq)
			}
		default:
			log.Printf("frame: %s", data)
		}
	}
}

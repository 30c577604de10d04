package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets external clients inject key events and inspect the
// live binding table, which makes the daemon scriptable and testable
// without a real input device.
//
// Protocol: line-delimited JSON
//   - {"type": "key", "data": {"key": "KEY_F9", "phase": "press"}}
//   - {"type": "status"}
// Responses: {"status": "ok", ...} or {"status": "error", "error": "msg"}
// ============================================================================

type ipcRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcKeyData struct {
	Key   string `json:"key"`
	Phase string `json:"phase"` // "press" or "release"
}

type ipcResponse struct {
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Entries []EntryStatus `json:"entries,omitempty"`
}

// runIPCServer serves the Unix domain socket until ctx is canceled.
// Connection handlers run in an errgroup so shutdown waits for them.
func runIPCServer(ctx context.Context, socketPath string, events chan<- keyEvent, table *BindingTable, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	logger.Info("IPC listening", "socket", socketPath)

	g, ctx := errgroup.WithContext(ctx)

	// Close the listener on shutdown. This unblocks Accept().
	g.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					logger.Debug("IPC listener closed")
					return nil
				}
				logger.Error("IPC accept error", "error", err)
				continue
			}
			g.Go(func() error {
				handleIPCConnection(ctx, conn, events, table, logger)
				return nil
			})
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- keyEvent, table *BindingTable, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp ipcResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var req ipcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			respond(ipcResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)})
			continue
		}

		switch req.Type {
		case "key":
			var data ipcKeyData
			if err := json.Unmarshal(req.Data, &data); err != nil {
				respond(ipcResponse{Status: "error", Error: fmt.Sprintf("parse key data: %v", err)})
				continue
			}
			code, err := resolveKeyName(data.Key)
			if err != nil {
				respond(ipcResponse{Status: "error", Error: err.Error()})
				continue
			}
			var press bool
			switch strings.ToLower(data.Phase) {
			case "press":
				press = true
			case "release":
				press = false
			default:
				respond(ipcResponse{Status: "error", Error: fmt.Sprintf("phase must be press or release, got %q", data.Phase)})
				continue
			}

			select {
			case events <- keyEvent{Code: code, Press: press, Device: "ipc"}:
				respond(ipcResponse{Status: "ok"})
			case <-ctx.Done():
				return
			}

		case "status":
			respond(ipcResponse{Status: "ok", Entries: table.Snapshot()})

		default:
			respond(ipcResponse{Status: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)})
		}
	}
}

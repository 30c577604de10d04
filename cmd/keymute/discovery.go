package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandcat/zeroconf"
)

// discoverServerURL browses mDNS for the routing server and returns the
// websocket URL of the first instance found. Used only when the config
// leaves server.ws_url empty and enables discovery.
func discoverServerURL(ctx context.Context, service string, logger *slog.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("initialize mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, service, "local.", entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", service, err)
	}

	for {
		select {
		case entry := <-entries:
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			url := fmt.Sprintf("ws://%s:%d", entry.AddrIPv4[0], entry.Port)
			logger.Info("discovered routing server", "instance", entry.Instance, "url", url)
			cancel()
			return url, nil
		case <-browseCtx.Done():
			return "", fmt.Errorf("no %s instance found", service)
		}
	}
}

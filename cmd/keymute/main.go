package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("keymute v%s\n", version)
	fmt.Println("Key-driven mute control for routing audio servers")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  keymute [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that binds physical keys to the mute state of named audio")
	fmt.Println("  endpoints on a routing server. Endpoints are discovered live and")
	fmt.Println("  forced to muted as they appear; keys then control them in hold")
	fmt.Println("  (unmuted while held) or toggle mode.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Linux input event device (overrides input.devices)")
	fmt.Println()
	fmt.Println("  -server-ws-url string")
	fmt.Printf("        Routing server websocket URL (default %q)\n", defaultServerWsURL)
	fmt.Println()
	fmt.Println("  -server-timeout-ms int")
	fmt.Printf("        Per-read timeout while waiting for server acks, 0 waits forever (default %d)\n", defaultReadTimeoutMS)
	fmt.Println()
	fmt.Println("  -bind ENDPOINT:KEY:MODE")
	fmt.Println("        Add a binding (repeatable); MODE is hold or toggle")
	fmt.Println("        e.g. -bind Mic1:KEY_F9:hold -bind Mic2:KEY_F10:toggle")
	fmt.Println()
	fmt.Println("  -release-delay-ms int")
	fmt.Println("        Delay before the mute request on a hold-mode release (default 0)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version / -help")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input devices (run as root or add")
	fmt.Println("    the user to the 'input' group)")
	fmt.Println("  - An unknown key name is a startup error; an endpoint name that")
	fmt.Println("    never appears on the server is not")
}

// bindingList collects repeated -bind flags.
type bindingList []BindingConfig

func (b *bindingList) String() string {
	return fmt.Sprintf("%d bindings", len(*b))
}

func (b *bindingList) Set(s string) error {
	bc, err := parseBindingSpec(s)
	if err != nil {
		return err
	}
	*b = append(*b, bc)
	return nil
}

func newSessionID() string {
	var buf [8]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		device          = flag.String("device", "", "Linux input event device (overrides input.devices)")
		serverWsURL     = flag.String("server-ws-url", "", "Routing server websocket URL")
		serverTimeoutMs = flag.Int("server-timeout-ms", -1, "Per-read timeout waiting for server acks in ms (0 waits forever)")
		releaseDelayMs  = flag.Int("release-delay-ms", -1, "Delay before the mute request on hold-mode release in ms")
		ipcSocketPath   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		logLevelStr     = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)
	var binds bindingList
	flag.Var(&binds, "bind", "Binding as ENDPOINT:KEY:MODE (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Defaults, then file, then flag overrides.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	overrides := FlagOverrides{Bindings: binds}
	if *device != "" {
		overrides.Device = device
	}
	if *serverWsURL != "" {
		overrides.ServerWsURL = serverWsURL
	}
	if *serverTimeoutMs >= 0 {
		overrides.TimeoutMS = serverTimeoutMs
	}
	if *releaseDelayMs >= 0 {
		overrides.ReleaseDelayMS = releaseDelayMs
	}
	if *ipcSocketPath != "" {
		overrides.IPCSocketPath = ipcSocketPath
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	// A binding naming a key we cannot resolve is refused outright.
	bindings, err := cfg.ResolveBindings()
	if err != nil {
		logger.Error("invalid binding", "error", err)
		os.Exit(1)
	}
	for _, b := range bindings {
		logger.Info("configured binding", "endpoint", b.Endpoint, "key", b.KeyName, "code", b.KeyCode, "mode", b.Mode)
	}

	// Open input devices.
	files := make([]*os.File, 0, len(cfg.Input.Devices))
	for _, dev := range cfg.Input.Devices {
		f, err := os.Open(dev)
		if err != nil {
			logger.Error("failed to open input device", "device", dev, "error", err,
				"tip", "run as root or add user to 'input' group")
			os.Exit(1)
		}
		defer f.Close()
		files = append(files, f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL := cfg.Server.WsURL
	if wsURL == "" {
		wsURL, err = discoverServerURL(ctx, cfg.Discovery.Service, logger)
		if err != nil {
			logger.Error("server discovery failed", "error", err)
			os.Exit(1)
		}
	}

	// Both command payloads exist before either connection does.
	pods := newMutePayloads()
	timeout := time.Duration(cfg.Server.TimeoutMS) * time.Millisecond
	session := newSessionID()

	// Watcher and dispatcher each own a private connection; handles bound
	// in the shared session are addressable from both.
	watchConn, err := dialServer(wsURL, session, pods, logger, timeout)
	if err != nil {
		logger.Error("failed to connect watcher to routing server", "url", wsURL, "error", err)
		os.Exit(1)
	}
	defer watchConn.Close()

	dispatchConn, err := dialServer(wsURL, session, pods, logger, timeout)
	if err != nil {
		logger.Error("failed to connect dispatcher to routing server", "url", wsURL, "error", err)
		os.Exit(1)
	}
	defer dispatchConn.Close()

	table := NewBindingTable()
	watcher := newEndpointWatcher(watchConn, table, bindings, logger)
	dispatcher := newKeyDispatcher(dispatchConn, table, time.Duration(cfg.ReleaseDelayMS)*time.Millisecond, logger)

	// Unblock the watcher's read on shutdown.
	go func() {
		<-ctx.Done()
		watchConn.Close()
	}()

	events := make(chan keyEvent, 64)
	readErr := make(chan error, 1)
	go readKeyEvents(files, events, readErr, logger)

	watcherErr := make(chan error, 1)
	go func() { watcherErr <- watcher.run(ctx) }()

	dispatcherErr := make(chan error, 1)
	go func() { dispatcherErr <- dispatcher.run(ctx, events) }()

	ipcErr := make(chan error, 1)
	go func() {
		ipcErr <- runIPCServer(ctx, cfg.IPC.SocketPath, events, table, logger)
	}()

	logger.Info("listening",
		"devices", cfg.Input.Devices,
		"server_ws", wsURL,
		"ipc", cfg.IPC.SocketPath,
		"bindings", len(bindings),
		"release_delay_ms", cfg.ReleaseDelayMS)

	// A dead worker is logged and left dead; the rest of the daemon keeps
	// running degraded. Only a signal ends the process.
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return

		case err := <-watcherErr:
			if err != nil {
				logger.Error("watcher stopped", "error", err)
			}
			watcherErr = nil

		case err := <-dispatcherErr:
			if err != nil {
				logger.Error("dispatcher stopped", "error", err)
			}
			dispatcherErr = nil

		case err := <-readErr:
			logger.Error("input reader stopped", "error", err)
			readErr = nil

		case err := <-ipcErr:
			if err != nil {
				logger.Error("IPC server stopped", "error", err)
			}
			ipcErr = nil
		}
	}
}

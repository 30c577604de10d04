package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the keymute daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation are centralized here so the rest of the code can assume
// a well-formed config.
type Config struct {
	// Input devices to monitor for key events
	Input InputConfig `yaml:"input"`

	// Routing server connection
	Server ServerConfig `yaml:"server"`

	// Key-to-endpoint bindings
	Bindings []BindingConfig `yaml:"bindings"`

	// Delay before the mute request on a hold-mode release, in ms
	ReleaseDelayMS int `yaml:"release_delay_ms"`

	// IPC surface (event injection, status queries)
	IPC IPCConfig `yaml:"ipc"`

	// mDNS server discovery, used when server.ws_url is empty
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Devices []string `yaml:"devices"`
}

type ServerConfig struct {
	WsURL     string `yaml:"ws_url"`
	TimeoutMS int    `yaml:"timeout_ms"` // per-read ack wait; 0 waits forever
}

// BindingConfig is one (endpoint, key, mode) triple as written in YAML.
// Key names are resolved to event codes at startup; an unresolvable key
// is fatal, an endpoint that never appears on the server is not.
type BindingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
	Mode     string `yaml:"mode"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices: []string{"/dev/input/event6"},
		},
		Server: ServerConfig{
			WsURL:     defaultServerWsURL,
			TimeoutMS: defaultReadTimeoutMS,
		},
		ReleaseDelayMS: 0,
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
			Service: defaultMdnsService,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file. Unknown fields are
// rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. Each
// override is applied only if its pointer is non-nil.
type FlagOverrides struct {
	Device         *string
	ServerWsURL    *string
	TimeoutMS      *int
	ReleaseDelayMS *int
	IPCSocketPath  *string
	LogLevel       *string

	// Repeatable -bind flag; when non-empty it replaces the file's list.
	Bindings []BindingConfig
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Device != nil {
		cfg.Input.Devices = []string{*o.Device}
	}
	if o.ServerWsURL != nil {
		cfg.Server.WsURL = *o.ServerWsURL
	}
	if o.TimeoutMS != nil {
		cfg.Server.TimeoutMS = *o.TimeoutMS
	}
	if o.ReleaseDelayMS != nil {
		cfg.ReleaseDelayMS = *o.ReleaseDelayMS
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if len(o.Bindings) > 0 {
		cfg.Bindings = o.Bindings
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.Server.WsURL == "" && !c.Discovery.Enabled {
		return errors.New("server.ws_url must not be empty unless discovery.enabled is true")
	}
	if c.Server.TimeoutMS < 0 {
		return errors.New("server.timeout_ms must be >= 0")
	}

	if len(c.Bindings) == 0 {
		return errors.New("bindings must not be empty")
	}
	for i, b := range c.Bindings {
		if b.Endpoint == "" {
			return fmt.Errorf("bindings[%d].endpoint is empty", i)
		}
		if b.Key == "" {
			return fmt.Errorf("bindings[%d].key is empty", i)
		}
		switch BindMode(strings.ToLower(b.Mode)) {
		case ModeHold, ModeToggle:
		default:
			return fmt.Errorf("bindings[%d].mode must be %q or %q", i, ModeHold, ModeToggle)
		}
	}

	if c.ReleaseDelayMS < 0 {
		return errors.New("release_delay_ms must be >= 0")
	}

	if c.Discovery.Enabled && c.Discovery.Service == "" {
		return errors.New("discovery.enabled is true but discovery.service is empty")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ResolveBindings turns the configured triples into runtime bindings,
// resolving key names to event codes. Any unresolved key name is an
// error; the daemon refuses to start with a binding it cannot honor.
func (c *Config) ResolveBindings() ([]Binding, error) {
	out := make([]Binding, 0, len(c.Bindings))
	for i, b := range c.Bindings {
		code, err := resolveKeyName(b.Key)
		if err != nil {
			return nil, fmt.Errorf("bindings[%d]: %w", i, err)
		}
		out = append(out, Binding{
			Endpoint: b.Endpoint,
			KeyName:  b.Key,
			KeyCode:  code,
			Mode:     BindMode(strings.ToLower(b.Mode)),
		})
	}
	return out, nil
}

// parseBindingSpec parses the repeatable -bind flag value, of the form
// "ENDPOINT:KEY:MODE", e.g. "Mic1:KEY_F9:hold".
func parseBindingSpec(s string) (BindingConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return BindingConfig{}, fmt.Errorf("binding %q must be ENDPOINT:KEY:MODE", s)
	}
	return BindingConfig{
		Endpoint: parts[0],
		Key:      parts[1],
		Mode:     parts[2],
	}, nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

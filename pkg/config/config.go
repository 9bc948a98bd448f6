// Package config loads node configuration from YAML, applies environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spacecomms/pkg/federation"
	"spacecomms/pkg/storage"
	"spacecomms/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Peers    []PeerConfig   `yaml:"peers"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// GRPCPort enables the gossip gRPC listener when non-zero.
	GRPCPort    int    `yaml:"grpc_port"`
	MaxBodySize string `yaml:"max_body_size"`
}

type APIConfig struct {
	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// TokenConfig is one bearer token accepted by the API. Permissions are
// "read", "write" or "*".
type TokenConfig struct {
	ID          string   `yaml:"id"`
	Secret      string   `yaml:"secret"`
	Permissions []string `yaml:"permissions"`
}

type PeerConfig struct {
	ID        string       `yaml:"id"`
	Address   string       `yaml:"address"`
	AuthToken string       `yaml:"auth_token"`
	Policies  PolicyConfig `yaml:"policies"`
}

// PolicyConfig leaves unset flags nil so they default to true.
type PolicyConfig struct {
	AcceptCDM         *bool `yaml:"accept_cdm"`
	AcceptObjectState *bool `yaml:"accept_object_state"`
	AcceptManeuver    *bool `yaml:"accept_maneuver"`
	ForwardCDM        *bool `yaml:"forward_cdm"`
}

type StorageConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ProtocolConfig struct {
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	SessionTimeoutSeconds    int    `yaml:"session_timeout_seconds"`
	MaxHopCount              uint32 `yaml:"max_hop_count"`
	DefaultTTL               uint32 `yaml:"default_ttl"`
	// DedupWindowSeconds of 0 means three session timeouts.
	DedupWindowSeconds   int `yaml:"dedup_window_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type DispatchConfig struct {
	Workers               int `yaml:"workers"`
	QueueSize             int `yaml:"queue_size"`
	MaxAttempts           int `yaml:"max_attempts"`
	InitialBackoffMs      int `yaml:"initial_backoff_ms"`
	MaxBackoffMs          int `yaml:"max_backoff_ms"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MaxBodySize: "1MB",
		},
		Storage: StorageConfig{Type: storage.TypeMemory},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Protocol: ProtocolConfig{
			HeartbeatIntervalSeconds: 30,
			SessionTimeoutSeconds:    120,
			MaxHopCount:              10,
			DefaultTTL:               10,
			SweepIntervalSeconds:     10,
		},
		Dispatch: DispatchConfig{
			Workers:               4,
			QueueSize:             256,
			MaxAttempts:           5,
			InitialBackoffMs:      200,
			MaxBackoffMs:          10000,
			RequestTimeoutSeconds: 5,
		},
	}
}

// Load reads path, applies .env and environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Wrap(types.KindConfig, err, "failed to read config file")
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.Wrap(types.KindConfig, err, "failed to parse config")
	}
	return cfg, nil
}

// LoadDotEnv loads ./.env when present. Variables already set in the
// environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return types.Wrap(types.KindConfig, err, "failed to load .env")
	}
	return nil
}

// ApplyEnv overrides file values from SPACECOMMS_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("SPACECOMMS_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("SPACECOMMS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SPACECOMMS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return types.Wrap(types.KindConfig, err, "invalid SPACECOMMS_PORT %q", v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("SPACECOMMS_GRPC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return types.Wrap(types.KindConfig, err, "invalid SPACECOMMS_GRPC_PORT %q", v)
		}
		c.Server.GRPCPort = port
	}
	if v := os.Getenv("SPACECOMMS_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SPACECOMMS_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SPACECOMMS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks the fields a node cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.ID) == "" {
		return types.Errorf(types.KindConfig, "node.id is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return types.Errorf(types.KindConfig, "server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return types.Errorf(types.KindConfig, "server.grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		return types.Errorf(types.KindConfig, "server.grpc_port must differ from server.port")
	}
	if _, err := c.MaxBodyBytes(); err != nil {
		return err
	}

	switch c.Storage.Type {
	case storage.TypeMemory:
	case storage.TypeSQLite:
		if c.Storage.Path == "" {
			return types.Errorf(types.KindConfig, "storage.path is required for sqlite storage")
		}
	default:
		return types.Errorf(types.KindConfig, "storage.type must be %q or %q, got %q",
			storage.TypeMemory, storage.TypeSQLite, c.Storage.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return types.Errorf(types.KindConfig, "logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	p := c.Protocol
	if p.HeartbeatIntervalSeconds <= 0 || p.SessionTimeoutSeconds <= 0 || p.SweepIntervalSeconds <= 0 {
		return types.Errorf(types.KindConfig, "protocol intervals and timeouts must be positive")
	}
	if p.SessionTimeoutSeconds <= p.HeartbeatIntervalSeconds {
		return types.Errorf(types.KindConfig, "protocol.session_timeout_seconds (%d) must exceed heartbeat_interval_seconds (%d)",
			p.SessionTimeoutSeconds, p.HeartbeatIntervalSeconds)
	}
	if p.MaxHopCount == 0 {
		return types.Errorf(types.KindConfig, "protocol.max_hop_count must be positive")
	}
	if p.DedupWindowSeconds < 0 {
		return types.Errorf(types.KindConfig, "protocol.dedup_window_seconds must not be negative")
	}

	if c.API.Auth.Enabled {
		if len(c.API.Auth.Tokens) == 0 {
			return types.Errorf(types.KindConfig, "api.auth.enabled requires at least one token")
		}
		for i, tok := range c.API.Auth.Tokens {
			if tok.Secret == "" {
				return types.Errorf(types.KindConfig, "api.auth.tokens[%d].secret is required", i)
			}
		}
	}

	seen := make(map[string]bool, len(c.Peers))
	for i, peer := range c.Peers {
		if peer.ID == "" {
			return types.Errorf(types.KindConfig, "peers[%d].id is required", i)
		}
		if peer.ID == c.Node.ID {
			return types.Errorf(types.KindConfig, "peers[%d].id %q is this node's id", i, peer.ID)
		}
		if seen[peer.ID] {
			return types.Errorf(types.KindConfig, "duplicate peer id %q", peer.ID)
		}
		seen[peer.ID] = true
		if err := ValidatePeerAddress(peer.Address); err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidatePeerAddress accepts http://, https:// and grpc:// host addresses.
func ValidatePeerAddress(addr string) error {
	if _, err := federation.ParseAddress(addr); err != nil {
		return types.Wrap(types.KindConfig, err, "invalid peer address")
	}
	return nil
}

// ListenAddr is the host:port of the HTTP API.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCListenAddr is the host:port of the gossip gRPC listener, or "" when
// disabled.
func (c *Config) GRPCListenAddr() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// MaxBodyBytes parses server.max_body_size ("1MB", "512KiB", "4096").
func (c *Config) MaxBodyBytes() (int64, error) {
	if c.Server.MaxBodySize == "" {
		return 1 << 20, nil
	}
	n, err := humanize.ParseBytes(c.Server.MaxBodySize)
	if err != nil {
		return 0, types.Wrap(types.KindConfig, err, "invalid server.max_body_size %q", c.Server.MaxBodySize)
	}
	if n == 0 {
		return 0, types.Errorf(types.KindConfig, "server.max_body_size must be positive")
	}
	return int64(n), nil
}

func (p ProtocolConfig) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalSeconds) * time.Second
}

func (p ProtocolConfig) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutSeconds) * time.Second
}

func (p ProtocolConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSeconds) * time.Second
}

// DedupWindow resolves the dedup window, defaulting to three session
// timeouts.
func (p ProtocolConfig) DedupWindow() time.Duration {
	if p.DedupWindowSeconds > 0 {
		return time.Duration(p.DedupWindowSeconds) * time.Second
	}
	return 3 * p.SessionTimeout()
}

func (d DispatchConfig) Dispatcher() federation.DispatcherConfig {
	return federation.DispatcherConfig{
		Workers:        d.Workers,
		QueueSize:      d.QueueSize,
		MaxAttempts:    d.MaxAttempts,
		InitialBackoff: time.Duration(d.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(d.MaxBackoffMs) * time.Millisecond,
	}
}

func (d DispatchConfig) RequestTimeout() time.Duration {
	return time.Duration(d.RequestTimeoutSeconds) * time.Second
}

// Policies resolves unset flags to true.
func (p PolicyConfig) Policies() federation.Policies {
	def := func(b *bool) bool { return b == nil || *b }
	return federation.Policies{
		AcceptCDM:         def(p.AcceptCDM),
		AcceptObjectState: def(p.AcceptObjectState),
		AcceptManeuver:    def(p.AcceptManeuver),
		ForwardCDM:        def(p.ForwardCDM),
	}
}

// PeerInfo converts a configured peer into a registry entry.
func (p PeerConfig) PeerInfo() federation.PeerInfo {
	return federation.PeerInfo{
		ID:        types.NodeID(p.ID),
		Address:   p.Address,
		AuthToken: p.AuthToken,
		Policies:  p.Policies.Policies(),
	}
}

// StorageOptions builds the storage factory options.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Type:        c.Storage.Type,
		Path:        c.Storage.Path,
		DedupWindow: c.Protocol.DedupWindow(),
	}
}

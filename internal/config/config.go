package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/postal/internal/protocol/session"
)

const (
	DefaultUnit       = "Messages"
	DefaultListenAddr = "127.0.0.1:7400"
	DefaultAdminAddr  = "127.0.0.1:7401"
)

// ServerConfig drives `postal serve`.
type ServerConfig struct {
	IDLPath   string // empty serves the built-in key/value contract
	Unit      string
	Listen    string
	Admin     AdminConfig
	Transport session.Config
}

// AdminConfig controls the HTTP admin surface. An empty Listen disables it.
type AdminConfig struct {
	Listen string
	Token  string
}

// ClientConfig drives `postal call`.
type ClientConfig struct {
	IDLPath   string
	Unit      string
	Addr      string
	Timeout   time.Duration
	Transport session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Unit:      DefaultUnit,
		Listen:    DefaultListenAddr,
		Admin:     AdminConfig{Listen: DefaultAdminAddr},
		Transport: session.DefaultConfig(),
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Unit:      DefaultUnit,
		Addr:      DefaultListenAddr,
		Timeout:   10 * time.Second,
		Transport: session.DefaultConfig(),
	}
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type transportFile struct {
	ConnectTimeout     string      `toml:"connect_timeout"`
	HandshakeTimeout   string      `toml:"handshake_timeout"`
	ReadTimeout        string      `toml:"read_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxPayloadBytes    uint64      `toml:"max_payload_bytes"`
	SecurityMode       string      `toml:"security_mode"`
	TLS                tlsFile     `toml:"tls"`
	Backoff            backoffFile `toml:"backoff"`
}

type serverFile struct {
	IDL       string        `toml:"idl"`
	Unit      string        `toml:"unit"`
	Listen    string        `toml:"listen"`
	Admin     adminFile     `toml:"admin"`
	Transport transportFile `toml:"transport"`
}

type adminFile struct {
	Listen string `toml:"listen"`
	Token  string `toml:"token"`
}

type clientFile struct {
	IDL       string        `toml:"idl"`
	Unit      string        `toml:"unit"`
	Addr      string        `toml:"addr"`
	Timeout   string        `toml:"timeout"`
	Transport transportFile `toml:"transport"`
}

// LoadServerConfig overlays the keys present in path onto
// DefaultServerConfig and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if meta.IsDefined("idl") {
		cfg.IDLPath = strings.TrimSpace(raw.IDL)
	}
	if meta.IsDefined("unit") {
		cfg.Unit = strings.TrimSpace(raw.Unit)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin", "listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}
	if cfg.Transport, err = overlayTransport(meta, cfg.Transport, raw.Transport); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig overlays the keys present in path onto
// DefaultClientConfig and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if meta.IsDefined("idl") {
		cfg.IDLPath = strings.TrimSpace(raw.IDL)
	}
	if meta.IsDefined("unit") {
		cfg.Unit = strings.TrimSpace(raw.Unit)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if cfg.Transport, err = overlayTransport(meta, cfg.Transport, raw.Transport); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func overlayTransport(meta toml.MetaData, cfg session.Config, raw transportFile) (session.Config, error) {
	var err error
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("transport", d.key) {
			continue
		}
		if *d.dst, err = parseDuration("transport."+d.key, d.val); err != nil {
			return session.Config{}, err
		}
	}
	if meta.IsDefined("transport", "max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("transport", "max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("transport", "security_mode") {
		cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if meta.IsDefined("transport", "tls") {
		cfg.TLS = session.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}

	if meta.IsDefined("transport", "backoff", "initial") {
		if cfg.Backoff.InitialDelay, err = parseDuration("transport.backoff.initial", raw.Backoff.Initial); err != nil {
			return session.Config{}, err
		}
	}
	if meta.IsDefined("transport", "backoff", "max") {
		if cfg.Backoff.MaxDelay, err = parseDuration("transport.backoff.max", raw.Backoff.Max); err != nil {
			return session.Config{}, err
		}
	}
	if meta.IsDefined("transport", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("transport", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}
	return cfg, nil
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Unit) == "" {
		return fmt.Errorf("server config missing unit")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("server config missing listen")
	}
	if cfg.Admin.Listen != "" && cfg.Admin.Listen == cfg.Listen {
		return fmt.Errorf("admin listen %q collides with protocol listen", cfg.Admin.Listen)
	}
	if cfg.Transport.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("transport.max_payload_bytes must be positive")
	}
	if err := cfg.Transport.ValidateServerTransport(); err != nil {
		return fmt.Errorf("transport invalid: %w", err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Unit) == "" {
		return fmt.Errorf("client config missing unit")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("client config missing addr")
	}
	if cfg.Transport.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("transport.max_payload_bytes must be positive")
	}
	if err := cfg.Transport.ValidateClientTransport(); err != nil {
		return fmt.Errorf("transport invalid: %w", err)
	}
	return nil
}

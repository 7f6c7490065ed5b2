// Package config loads gatelink configuration from the environment with
// optional flag overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig holds everything the gatelink server process needs.
type ServerConfig struct {
	Listen       string `env:"GATELINK_LISTEN" envDefault:":8080"`
	JWTSecret    string `env:"GATELINK_JWT_SECRET"`
	LogLevel     string `env:"GATELINK_LOG_LEVEL" envDefault:"info"`
	DBPath       string `env:"GATELINK_DB_PATH" envDefault:"./gatelink.db"`
	DebugAddr    string `env:"GATELINK_DEBUG_ADDR"`
	TLSDomain    string `env:"GATELINK_TLS_DOMAIN"`
	TLSCertFile  string `env:"GATELINK_TLS_CERT_FILE"`
	TLSKeyFile   string `env:"GATELINK_TLS_KEY_FILE"`
	CertCacheDir string `env:"GATELINK_CERT_CACHE_DIR" envDefault:"./cert"`

	PingIntervalSeconds      int   `env:"GATELINK_PING_INTERVAL_SECONDS" envDefault:"10"`
	InactivityTimeoutSeconds int   `env:"GATELINK_TIMEOUT_SECONDS" envDefault:"20"`
	MaxMessageBytes          int64 `env:"GATELINK_MAX_MESSAGE_BYTES" envDefault:"524288"`
	JournalRetentionDays     int   `env:"GATELINK_JOURNAL_RETENTION_DAYS" envDefault:"30"`

	ProxyBaseURL        string `env:"GATELINK_PROXY_BASE_URL"`
	ProxyTimeoutSeconds int    `env:"GATELINK_PROXY_TIMEOUT_SECONDS" envDefault:"30"`
}

// GatewayConfig configures the facility gateway emulator client.
type GatewayConfig struct {
	ServerURL  string `env:"GATELINK_SERVER_URL" envDefault:"ws://127.0.0.1:8080"`
	Token      string `env:"GATELINK_TOKEN"`
	FacilityID string `env:"GATELINK_FACILITY_ID"`
	ProbePath  string `env:"GATELINK_PROBE_PATH"`
	LogLevel   string `env:"GATELINK_LOG_LEVEL" envDefault:"info"`
}

// PingInterval returns the heartbeat probe interval as a duration.
func (c ServerConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// InactivityTimeout returns the eviction threshold as a duration.
func (c ServerConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSeconds) * time.Second
}

// ProxyTimeout returns the proxy bridge round trip budget as a duration.
func (c ServerConfig) ProxyTimeout() time.Duration {
	return time.Duration(c.ProxyTimeoutSeconds) * time.Second
}

// ParseServerFlags builds a ServerConfig from the environment, then layers
// command line overrides and validates the result.
func ParseServerFlags(args []string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "JWT signing secret")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite journal database path")
	fs.StringVar(&cfg.DebugAddr, "debug-addr", cfg.DebugAddr, "pprof listen address (empty disables)")
	fs.StringVar(&cfg.TLSDomain, "tls-domain", cfg.TLSDomain, "Public domain for automatic TLS (empty disables)")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "Static TLS cert PEM file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "Static TLS key PEM file")
	fs.IntVar(&cfg.PingIntervalSeconds, "ping-interval", cfg.PingIntervalSeconds, "Seconds of silence before a PING probe")
	fs.IntVar(&cfg.InactivityTimeoutSeconds, "timeout", cfg.InactivityTimeoutSeconds, "Seconds of silence before eviction")
	fs.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "Max inbound frame size in bytes")
	fs.IntVar(&cfg.JournalRetentionDays, "journal-retention-days", cfg.JournalRetentionDays, "Days of journal events to keep, 0 disables purging")
	fs.StringVar(&cfg.ProxyBaseURL, "proxy-base-url", cfg.ProxyBaseURL, "Internal API base URL for the proxy bridge")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.ProxyBaseURL == "" {
		cfg.ProxyBaseURL = defaultProxyBaseURL(cfg.Listen)
	}
	cfg.ProxyBaseURL = strings.TrimSuffix(cfg.ProxyBaseURL, "/")

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("missing --jwt-secret or GATELINK_JWT_SECRET")
	}
	if cfg.PingIntervalSeconds <= 0 {
		return cfg, errors.New("ping interval must be > 0")
	}
	if cfg.InactivityTimeoutSeconds <= 0 {
		return cfg, errors.New("inactivity timeout must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return cfg, errors.New("max message bytes must be > 0")
	}
	if cfg.JournalRetentionDays < 0 {
		return cfg, errors.New("journal retention days must be >= 0")
	}
	if cfg.ProxyTimeoutSeconds <= 0 {
		return cfg, errors.New("proxy timeout must be > 0")
	}

	return cfg, nil
}

// ParseGatewayFlags builds a GatewayConfig from the environment and flags.
func ParseGatewayFlags(args []string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Backend WebSocket URL (ws:// or wss://)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Gateway JWT")
	fs.StringVar(&cfg.FacilityID, "facility", cfg.FacilityID, "Facility id to bind")
	fs.StringVar(&cfg.ProbePath, "probe-path", cfg.ProbePath, "Internal API path probed via the proxy bridge after connect (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.Token) == "" {
		return cfg, errors.New("missing --token or GATELINK_TOKEN")
	}
	if strings.TrimSpace(cfg.FacilityID) == "" {
		return cfg, errors.New("missing --facility or GATELINK_FACILITY_ID")
	}
	return cfg, nil
}

// defaultProxyBaseURL points the bridge at the service's own loopback port
// when no explicit internal API address is configured.
func defaultProxyBaseURL(listen string) string {
	_, port, err := net.SplitHostPort(listen)
	if err != nil || port == "" {
		port = "8080"
	}
	return "http://127.0.0.1:" + port
}

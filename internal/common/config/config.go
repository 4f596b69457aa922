package config

import (
	"os"
	"regexp"
	"time"

	"github.com/vera-byte/vconnect/pkg/helper"
	"github.com/vera-byte/vconnect/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration for a vconnect node.
	Config struct {
		Server    ServerConfig    `yaml:"server"`
		Cluster   ClusterConfig   `yaml:"cluster"`
		Directory DirectoryConfig `yaml:"directory"`
		Plugin    PluginConfig    `yaml:"plugin"`
		Admin     AdminConfig     `yaml:"admin"`
		QUIC      QUICConfig      `yaml:"quic"`
		Logger    LoggerConfig    `yaml:"logger"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing"`
		PID       string          `yaml:"pid"`
	}

	// ServerConfig holds the WebSocket listener settings.
	ServerConfig struct {
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		HeartbeatTimeoutMS int           `yaml:"heartbeat_timeout_ms"`
		AuthDeadline       time.Duration `yaml:"auth_deadline"`
		SendBuffer         int           `yaml:"send_buffer"`
	}

	// ClusterConfig describes this node and its known peers.
	ClusterConfig struct {
		NodeID string       `yaml:"node_id"`
		Weight uint32       `yaml:"weight"`
		Leader string       `yaml:"leader"`
		Peers  []PeerConfig `yaml:"peers"`
	}

	// PeerConfig is a statically configured cluster peer.
	PeerConfig struct {
		NodeID string `yaml:"node_id"`
		Weight uint32 `yaml:"weight"`
	}

	// DirectoryConfig selects the client-location directory backend.
	DirectoryConfig struct {
		Type  string               `yaml:"type"` // "memory" or "redis"
		Redis DirectoryRedisConfig `yaml:"redis"`
	}

	// DirectoryRedisConfig is the Redis backend for the client-location map.
	DirectoryRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	}

	// PluginConfig holds the host side of the plugin runtime.
	PluginConfig struct {
		SocketDir   string          `yaml:"socket_dir"`
		CallTimeout time.Duration   `yaml:"call_timeout"`
		Plugins     []PluginProcess `yaml:"plugins"`
	}

	// PluginProcess is one configured out-of-process plugin.
	PluginProcess struct {
		Name   string `yaml:"name"`
		Socket string `yaml:"socket"` // overrides SocketDir/<name>.sock when set
		Config string `yaml:"config"` // opaque config pushed in the handshake response
	}

	// AdminConfig holds the admin HTTP surface settings.
	AdminConfig struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}

	// QUICConfig is accepted and logged; the QUIC transport itself is not
	// part of this node, a gateway plugin may consume these values.
	QUICConfig struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// MetricsConfig controls the Prometheus registry exposed on the admin port.
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// HeartbeatTimeout returns the configured heartbeat timeout as a duration.
func (c *ServerConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	setDefaults(&cfg)
	return &cfg, cfgPath, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.HeartbeatTimeoutMS == 0 {
		cfg.Server.HeartbeatTimeoutMS = 30000
	}
	if cfg.Server.AuthDeadline == 0 {
		cfg.Server.AuthDeadline = 30 * time.Second
	}
	if cfg.Server.SendBuffer == 0 {
		cfg.Server.SendBuffer = 256
	}
	if cfg.Cluster.NodeID == "" {
		cfg.Cluster.NodeID = "node-1"
	}
	if cfg.Cluster.Weight == 0 {
		cfg.Cluster.Weight = 1
	}
	if cfg.Cluster.Leader == "" {
		cfg.Cluster.Leader = cfg.Cluster.NodeID
	}
	if cfg.Directory.Type == "" {
		cfg.Directory.Type = "memory"
	}
	if cfg.Directory.Redis.Prefix == "" {
		cfg.Directory.Redis.Prefix = "vconnect"
	}
	if cfg.Plugin.SocketDir == "" {
		cfg.Plugin.SocketDir = "/tmp/vconnect"
	}
	if cfg.Plugin.CallTimeout == 0 {
		cfg.Plugin.CallTimeout = 5 * time.Second
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8081
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "vconnect"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package config loads TaskHub configuration from defaults, an optional YAML
// file, TASKHUB_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/logging"
	"github.com/taskhub/taskhub/internal/socket"
	"github.com/taskhub/taskhub/internal/xdg"
)

// Error codes.
const (
	CodeInvalid    = "CONFIG_INVALID"
	CodeLoadFailed = "CONFIG_LOAD_FAILED"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TASKHUB_"

// Sections whose keys are nested. TASKHUB_SOCKET_PING_INTERVAL maps to
// socket.ping_interval.
var sections = []string{"realtime", "socket"}

// Config is the full server configuration.
type Config struct {
	ListenAddr      string        `koanf:"listen_addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	SocketPath      string        `koanf:"socket_path"`
	JWTSecret       string        `koanf:"jwt_secret"`
	JWTIssuer       string        `koanf:"jwt_issuer"`
	CORSOrigin      string        `koanf:"cors_origin"`
	LogFormat       string        `koanf:"log_format"`
	LogLevel        string        `koanf:"log_level"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Realtime        Realtime      `koanf:"realtime"`
	Socket          Socket        `koanf:"socket"`
}

// Realtime toggles the notification layer.
type Realtime struct {
	Enabled bool `koanf:"enabled"`
}

// Socket tunes the websocket transport.
type Socket struct {
	PingInterval time.Duration `koanf:"ping_interval"`
	PongWait     time.Duration `koanf:"pong_wait"`
	WriteWait    time.Duration `koanf:"write_wait"`
	SendBuffer   int           `koanf:"send_buffer"`
	ReadLimit    int64         `koanf:"read_limit"`
}

// Defaults returns the built-in values applied before any other source.
func Defaults() map[string]any {
	sock := socket.DefaultOptions()
	return map[string]any{
		"listen_addr":          ":8080",
		"metrics_addr":         "127.0.0.1:9100",
		"socket_path":          "/socket",
		"jwt_secret":           "",
		"jwt_issuer":           "",
		"cors_origin":          "*",
		"log_format":           logging.FormatJSON,
		"log_level":            "info",
		"shutdown_timeout":     10 * time.Second,
		"realtime.enabled":     true,
		"socket.ping_interval": sock.PingInterval,
		"socket.pong_wait":     sock.PongWait,
		"socket.write_wait":    sock.WriteWait,
		"socket.send_buffer":   sock.SendBuffer,
		"socket.read_limit":    sock.ReadLimit,
	}
}

// Load builds a Config. path names a YAML file; when empty the XDG default
// file is used if it exists. flags may be nil; only flags the user set
// override earlier sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeLoadFailed).Wrapf(err, "load defaults")
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return nil, oops.Code(CodeLoadFailed).Wrapf(err, "load environment")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := FlagKey(f.Name)
			if key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeLoadFailed).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err != nil {
			return nil //nolint:nilerr // no home directory means no default file
		}
		path = def
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code(CodeLoadFailed).With("path", path).Wrapf(err, "stat config file")
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeLoadFailed).With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

// EnvKey maps TASKHUB_JWT_SECRET to jwt_secret and
// TASKHUB_REALTIME_ENABLED to realtime.enabled.
func EnvKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// FlagKey maps a flag name to its config key. Flags that are not config
// keys (config, help) map to "".
func FlagKey(name string) string {
	switch name {
	case "config", "help":
		return ""
	}
	return EnvKey(EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
}

// Validate reports the first invalid field as a CONFIG_INVALID error.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code(CodeInvalid).With("field", field).Errorf(format, args...)
	}

	if c.ListenAddr == "" {
		return invalid("listen_addr", "listen_addr is required")
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		return invalid("socket_path", "socket_path must start with '/', got %q", c.SocketPath)
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatText {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return oops.Code(CodeInvalid).With("field", "log_level").Wrapf(err, "log_level %q", c.LogLevel)
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout", "shutdown_timeout must be positive")
	}
	if !c.Realtime.Enabled {
		return nil
	}

	if c.JWTSecret == "" {
		return invalid("jwt_secret", "jwt_secret is required when realtime is enabled")
	}
	s := c.Socket
	if s.PingInterval <= 0 || s.PongWait <= 0 || s.WriteWait <= 0 {
		return invalid("socket", "socket timeouts must be positive")
	}
	if s.PingInterval >= s.PongWait {
		return invalid("socket.ping_interval", "ping_interval (%s) must be shorter than pong_wait (%s)", s.PingInterval, s.PongWait)
	}
	if s.SendBuffer <= 0 {
		return invalid("socket.send_buffer", "send_buffer must be positive")
	}
	if s.ReadLimit <= 0 {
		return invalid("socket.read_limit", "read_limit must be positive")
	}
	return nil
}

// AllowedOrigins splits cors_origin on commas. "*" or empty allows any origin.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// JWT returns the verifier/issuer configuration.
func (c *Config) JWT() auth.JWTConfig {
	return auth.JWTConfig{Secret: c.JWTSecret, Issuer: c.JWTIssuer}
}

// SocketOptions returns the transport tuning.
func (c *Config) SocketOptions() socket.Options {
	return socket.Options{
		PingInterval: c.Socket.PingInterval,
		PongWait:     c.Socket.PongWait,
		WriteWait:    c.Socket.WriteWait,
		SendBuffer:   c.Socket.SendBuffer,
		ReadLimit:    c.Socket.ReadLimit,
	}
}

// Package config binds relayd's flags and CHATRELAY_* environment variables
// into a single Config struct via spf13/viper, the way a production Go
// service's flag surface is usually assembled.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable relayd needs to start serving.
type Config struct {
	ListenAddr  string `mapstructure:"listen-addr"`
	ControlPort int    `mapstructure:"control-port"`
	VoicePort   int    `mapstructure:"voice-port"`
	DefaultRoom string `mapstructure:"default-room"`

	AdminAddr string `mapstructure:"admin-addr"`
	AdminTLS  bool   `mapstructure:"admin-tls"`

	RatePerSecond float64 `mapstructure:"rate-per-second"`
	RateBurst     int     `mapstructure:"rate-burst"`

	MetricsLogInterval time.Duration `mapstructure:"metrics-log-interval"`

	DiscoverEnable bool   `mapstructure:"discover"`
	DiscoverName   string `mapstructure:"discover-name"`

	LogLevel string `mapstructure:"log-level"`
}

// Default returns the documented defaults: listen address 0.0.0.0, control
// port 5555, voice port 5556, default room "lobby".
func Default() Config {
	return Config{
		ListenAddr:         "0.0.0.0",
		ControlPort:        5555,
		VoicePort:          5556,
		DefaultRoom:        "lobby",
		AdminAddr:          ":8090",
		AdminTLS:           false,
		RatePerSecond:      20,
		RateBurst:          40,
		MetricsLogInterval: 5 * time.Second,
		DiscoverEnable:     false,
		DiscoverName:       "",
		LogLevel:           "info",
	}
}

// BindFlags registers relayd's serve flags on fs, defaulted from Default().
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen-addr", d.ListenAddr, "control channel listen address")
	fs.Int("control-port", d.ControlPort, "TCP control channel port")
	fs.Int("voice-port", d.VoicePort, "UDP voice relay port")
	fs.String("default-room", d.DefaultRoom, "default room name; only checked to be non-empty, newly logged-in clients always start in \"lobby\"")

	fs.String("admin-addr", d.AdminAddr, "admin HTTP(S) listen address")
	fs.Bool("admin-tls", d.AdminTLS, "serve the admin surface over a self-signed TLS certificate")

	fs.Float64("rate-per-second", d.RatePerSecond, "per-client control frame rate limit")
	fs.Int("rate-burst", d.RateBurst, "per-client control frame burst allowance")

	fs.Duration("metrics-log-interval", d.MetricsLogInterval, "interval between throughput summary log lines")

	fs.Bool("discover", d.DiscoverEnable, "advertise this relay via mDNS")
	fs.String("discover-name", d.DiscoverName, "mDNS instance name (default chatrelay-<hostname>)")

	fs.String("log-level", d.LogLevel, "log level: debug|info|warn|error")
}

// Load binds fs and the CHATRELAY_ environment namespace into a Config via
// viper, flags taking precedence over environment, environment over
// defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chatrelay")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail later in a more confusing
// way (a zero port, an empty room name).
func (c Config) Validate() error {
	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		return fmt.Errorf("control-port out of range: %d", c.ControlPort)
	}
	if c.VoicePort <= 0 || c.VoicePort > 65535 {
		return fmt.Errorf("voice-port out of range: %d", c.VoicePort)
	}
	if c.ControlPort == c.VoicePort {
		return fmt.Errorf("control-port and voice-port must differ")
	}
	if strings.TrimSpace(c.DefaultRoom) == "" {
		return fmt.Errorf("default-room must not be empty")
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("rate-per-second must be > 0")
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("rate-burst must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	return nil
}

// ControlAddr returns the host:port the TCP control listener binds to.
func (c Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ControlPort)
}

// VoiceAddr returns the host:port the UDP voice relay binds to.
func (c Config) VoiceAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.VoicePort)
}

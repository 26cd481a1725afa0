// Package config loads the client and relay settings with viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/voicemesh/internal/domain"
)

const envPrefix = "VOICEMESH"

type Client struct {
	Mode      string `mapstructure:"mode"`
	LogLevel  string `mapstructure:"log_level"`
	UserID    string `mapstructure:"user_id"`
	Name      string `mapstructure:"display_name"`
	RelayURL  string `mapstructure:"relay_url"`
	Port      int    `mapstructure:"listen_port"`
	StaticDir string `mapstructure:"static_path"`

	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServers    []string `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`

	// CaptureSource is "silence" or the path of an Ogg/Opus file.
	CaptureSource string `mapstructure:"capture_source"`
	// RecordDir receives one .ogg per remote peer. Empty discards remote audio.
	RecordDir string `mapstructure:"record_dir"`

	SendBuffer int           `mapstructure:"send_buffer"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	ICEDisconnectedTimeout time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `mapstructure:"ice_failed_timeout"`
	ICEKeepAlive           time.Duration `mapstructure:"ice_keepalive"`
}

type Relay struct {
	Mode       string        `mapstructure:"mode"`
	LogLevel   string        `mapstructure:"log_level"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	// CreateLimit room creations are allowed per user per CreateInterval.
	CreateLimit    int           `mapstructure:"create_limit"`
	CreateInterval time.Duration `mapstructure:"create_interval"`
}

// Level parses LogLevel, falling back to info.
func (c *Client) Level() zerolog.Level { return parseLevel(c.LogLevel) }

func (c *Relay) Level() zerolog.Level { return parseLevel(c.LogLevel) }

func LoadClient() (*Client, error) {
	v := newViper("client")
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("user_id", "")
	v.SetDefault("display_name", "")
	v.SetDefault("relay_url", "ws://localhost:8090/ws")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("turn_servers", []string{})
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")
	v.SetDefault("capture_source", "silence")
	v.SetDefault("record_dir", "")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("ice_disconnected_timeout", "5s")
	v.SetDefault("ice_failed_timeout", "25s")
	v.SetDefault("ice_keepalive", "2s")

	var cfg Client
	if err := read(v, &cfg); err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		cfg.UserID = string(domain.NewUserID())
	}
	if cfg.Name == "" {
		cfg.Name = cfg.UserID
	}
	if err := domain.UserID(cfg.UserID).Validate(); err != nil {
		return nil, fmt.Errorf("user_id %q: %w", cfg.UserID, err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("user", cfg.UserID).Str("relay", cfg.RelayURL).Int("port", cfg.Port).Msg("client config")
	return &cfg, nil
}

func LoadRelay() (*Relay, error) {
	v := newViper("relay")
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8090)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("create_limit", 3)
	v.SetDefault("create_interval", "1m")

	var cfg Relay
	if err := read(v, &cfg); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("relay config")
	return &cfg, nil
}

func newViper(app string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/%s.%s.yaml", app, env))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Package config loads the roomd configuration.
//
// Configuration comes from one YAML file named by the --config flag or the
// ROOMD_CONFIG environment variable. Without either the defaults apply.
// Values missing from the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"roomd/internal/protocol"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "ROOMD_CONFIG"

// Relay modes.
const (
	RelayLocal = "local"
	RelayRedis = "redis"
)

// Config is the full roomd configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Limits LimitsConfig `yaml:"limits"`
	Lobby  LobbyConfig  `yaml:"lobby"`
	Relay  RelayConfig  `yaml:"relay"`
}

// ServerConfig configures the listener and sessions.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	Name string `yaml:"name"`

	// PublicAddress is reported to joiners as the room address.
	PublicAddress string `yaml:"public_address"`
	SendBuffer    int    `yaml:"send_buffer" validate:"gte=1,lte=65536"`

	// MetricsInterval is how often load is logged; 0 disables it.
	MetricsInterval time.Duration `yaml:"metrics_interval" validate:"gte=0"`
}

// LimitsConfig bounds per-room state.
type LimitsConfig struct {
	PropertyBytes   int           `yaml:"property_bytes" validate:"gte=1"`
	PropertyKeys    int           `yaml:"property_keys" validate:"gte=1"`
	CachedEvents    int           `yaml:"cached_events" validate:"gte=0"`
	ActorEvents     int           `yaml:"actor_events" validate:"gte=0"`
	CacheSlices     int           `yaml:"cache_slices" validate:"gte=0"`
	MaxPlayerTTL    time.Duration `yaml:"max_player_ttl" validate:"gte=0"`
	MaxEmptyRoomTTL time.Duration `yaml:"max_empty_room_ttl" validate:"gte=0"`
}

// LobbyConfig configures listings and matchmaking.
type LobbyConfig struct {
	GameListLimit   int           `yaml:"game_list_limit" validate:"gte=0"`
	MaxAlternatives int           `yaml:"max_filter_alternatives" validate:"gte=1,lte=16"`
	StatsInterval   time.Duration `yaml:"stats_interval" validate:"gte=0"`
	DefaultLobbies  []LobbyRef    `yaml:"default_lobbies" validate:"dive"`

	// Templates are the stored filters callers reference as $SP.<name>.
	Templates map[string]string `yaml:"filter_templates"`
}

// LobbyRef names one lobby.
type LobbyRef struct {
	Name string `yaml:"name"`
	Type int    `yaml:"type" validate:"oneof=0 2 3"`
}

// RelayConfig selects how room deltas reach the lobby registry.
type RelayConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=local redis"`
	Addr     string `yaml:"addr" validate:"required_if=Mode redis"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Stream   string `yaml:"stream" validate:"required_if=Mode redis"`
	MaxLen   int64  `yaml:"max_len" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Name:            "roomd",
			SendBuffer:      64,
			MetricsInterval: 30 * time.Second,
		},
		Limits: LimitsConfig{
			PropertyBytes:   8192,
			PropertyKeys:    128,
			CachedEvents:    1000,
			ActorEvents:     200,
			CacheSlices:     16,
			MaxPlayerTTL:    24 * time.Hour,
			MaxEmptyRoomTTL: 5 * time.Minute,
		},
		Lobby: LobbyConfig{
			GameListLimit:   500,
			MaxAlternatives: 4,
			StatsInterval:   10 * time.Second,
		},
		Relay: RelayConfig{
			Mode:   RelayLocal,
			Stream: "roomd:deltas",
		},
	}
}

// Load reads the file named by path, or by ROOMD_CONFIG when path is
// empty. With neither set it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

// LoadFile reads one YAML file over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Errorf("invalid %s: failed %q", f.Namespace(), f.Tag())
	}
	return err
}

// Lobbies converts the configured default lobbies.
func (l LobbyConfig) Lobbies() []protocol.Lobby {
	out := make([]protocol.Lobby, 0, len(l.DefaultLobbies))
	for _, ref := range l.DefaultLobbies {
		out = append(out, protocol.Lobby{Name: ref.Name, Type: ref.Type})
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type Rooms struct {
	MinParticipants int `mapstructure:"min_participants"`
	MaxParticipants int `mapstructure:"max_participants"`
	// OpTimeout bounds detached work: termination and disconnect cleanup.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type RTC struct {
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
}

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	Secret          string        `mapstructure:"secret"`
	Store           string        `mapstructure:"store"`
	Redis           Redis         `mapstructure:"redis"`
	Rooms           Rooms         `mapstructure:"rooms"`
	RTC             RTC           `mapstructure:"rtc"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("rooms.min_participants", 2)
	v.SetDefault("rooms.max_participants", 20)
	v.SetDefault("rooms.op_timeout", "10s")
	v.SetDefault("rtc.token_ttl", "10m")
	v.SetDefault("rtc.read_limit", 32768)
	v.SetDefault("rtc.ping_period", "54s")
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.join_rate_limit", 10)
	v.SetDefault("rtc.join_rate_interval", "1m")
	v.SetDefault("shutdown_timeout", "5s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Rooms.MinParticipants < 2 || c.Rooms.MaxParticipants < c.Rooms.MinParticipants {
		return fmt.Errorf("bad participant bounds [%d, %d]", c.Rooms.MinParticipants, c.Rooms.MaxParticipants)
	}
	if c.Rooms.OpTimeout <= 0 {
		return fmt.Errorf("rooms.op_timeout must be positive")
	}
	if c.RTC.TokenTTL <= 0 {
		return fmt.Errorf("rtc.token_ttl must be positive")
	}
	return nil
}

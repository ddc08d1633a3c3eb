package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/domain"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EARTUNE_API_BASE_URL.
const EnvPrefix = "EARTUNE_"

type Config struct {
	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	API          APIConfig          `yaml:"api" envPrefix:"API_"`
	Credentials  CredentialsConfig  `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	Redis        RedisConfig        `yaml:"redis" envPrefix:"REDIS_"`
	Postgres     PostgresConfig     `yaml:"postgres" envPrefix:"POSTGRES_"`
	Catalog      CatalogConfig      `yaml:"catalog" envPrefix:"CATALOG_"`
	Celebrations CelebrationsConfig `yaml:"celebrations" envPrefix:"CELEBRATIONS_"`
	Log          LogConfig          `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

// APIConfig points at the game backend. GameFlows pins game ids to the
// "frequency" or "rhythm" flow, e.g. EARTUNE_API_GAME_FLOWS=3:frequency,4:rhythm.
type APIConfig struct {
	BaseURL    string            `yaml:"base_url" env:"BASE_URL"`
	Timeout    string            `yaml:"timeout" env:"TIMEOUT"`
	Difficulty string            `yaml:"difficulty" env:"DIFFICULTY"`
	GameFlows  map[string]string `yaml:"game_flows" env:"GAME_FLOWS"`
}

// Flows returns GameFlows as challenge types. "generic" pins a game to the
// note and chord endpoints.
func (c APIConfig) Flows() (map[string]domain.ChallengeType, error) {
	flows := make(map[string]domain.ChallengeType, len(c.GameFlows))
	for id, raw := range c.GameFlows {
		switch flow := domain.ChallengeType(strings.ToLower(strings.TrimSpace(raw))); flow {
		case domain.ChallengeFrequency, domain.ChallengeRhythm:
			flows[id] = flow
		case "generic":
			flows[id] = ""
		default:
			return nil, fmt.Errorf("api.game_flows: game %s has unknown flow %q", id, raw)
		}
	}
	return flows, nil
}

// CredentialsConfig selects where tokens live: "file" (default), "redis" or "memory".
// AccessToken and RefreshToken seed the memory store.
type CredentialsConfig struct {
	Store        string `yaml:"store" env:"STORE"`
	File         string `yaml:"file" env:"FILE"`
	Profile      string `yaml:"profile" env:"PROFILE"`
	AccessToken  string `yaml:"access_token" env:"ACCESS_TOKEN"`
	RefreshToken string `yaml:"refresh_token" env:"REFRESH_TOKEN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	TTL      string `yaml:"ttl" env:"TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"URL"`
}

type CatalogConfig struct {
	TTL string `yaml:"ttl" env:"TTL"`
}

type CelebrationsConfig struct {
	XPDisplay               string `yaml:"xp_display" env:"XP_DISPLAY"`
	LevelUpDelay            string `yaml:"level_up_delay" env:"LEVEL_UP_DELAY"`
	AchievementDelay        string `yaml:"achievement_delay" env:"ACHIEVEMENT_DELAY"`
	AchievementAfterLevelUp string `yaml:"achievement_after_level_up" env:"ACHIEVEMENT_AFTER_LEVEL_UP"`
	AchievementDisplay      string `yaml:"achievement_display" env:"ACHIEVEMENT_DISPLAY"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads YAML config from path and applies EARTUNE_* environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000/"
	}
	if c.Credentials.Store == "" {
		c.Credentials.Store = "file"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Timings converts the configured pacing, falling back to the defaults per field.
func (c CelebrationsConfig) Timings() app.Timings {
	def := app.DefaultTimings()
	return app.Timings{
		XPDisplay:               TTLDuration(c.XPDisplay, def.XPDisplay),
		LevelUpDelay:            TTLDuration(c.LevelUpDelay, def.LevelUpDelay),
		AchievementDelay:        TTLDuration(c.AchievementDelay, def.AchievementDelay),
		AchievementAfterLevelUp: TTLDuration(c.AchievementAfterLevelUp, def.AchievementAfterLevelUp),
		AchievementDisplay:      TTLDuration(c.AchievementDisplay, def.AchievementDisplay),
	}
}

// SlogLevel parses the level name; unknown names mean info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

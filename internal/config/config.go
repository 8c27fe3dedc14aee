package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
		Timeout string `yaml:"timeout"`
	} `yaml:"nats"`
	Questions struct {
		CacheTTL string `yaml:"cacheTtl"`
	} `yaml:"questions"`
	Room    Room    `yaml:"room"`
	Economy Economy `yaml:"economy"`
}

// Room holds the phase timings as duration strings.
type Room struct {
	StartCountdown string `yaml:"startCountdown"`
	GetReady       string `yaml:"getReady"`
	QuestionTime   string `yaml:"questionTime"`
	Reveal         string `yaml:"reveal"`
	Interstitial   string `yaml:"interstitial"`
	BubbleLifetime string `yaml:"bubbleLifetime"`
	BubbleMaxAge   string `yaml:"bubbleMaxAge"`
	ChatHistory    int    `yaml:"chatHistory"`
}

type Economy struct {
	WinnerShare float64 `yaml:"winnerShare"`
	MinBet      int     `yaml:"minBet"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// a bare `start` runs fully in memory.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
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

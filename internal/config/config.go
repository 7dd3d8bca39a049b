package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Chat        ChatConfig                `json:"chat"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ChatConfig carries the live-chat behavior knobs.
type ChatConfig struct {
	Greeting        string   `json:"greeting"`
	OutOfOffice     string   `json:"out_of_office"`
	OfficeOpenHour  int      `json:"office_open_hour"`
	OfficeCloseHour int      `json:"office_close_hour"`
	AllowedOrigins  []string `json:"allowed_origins"`
	AdvisorTokens   []string `json:"advisor_tokens"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("databases must be configured")
	}

	// Relative sqlite paths resolve against the config file's directory.
	for name, db := range cfg.Databases {
		switch strings.ToLower(name) {
		case "sqlite", "sqlite3":
			if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
				db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
				cfg.Databases[name] = db
			}
		}
	}

	return &cfg, nil
}

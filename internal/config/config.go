package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"sheetcore/internal/formula"
)

type Config struct {
	DBURL       string `json:"dbUrl" toml:"dbUrl"`             // пусто — хранилище в памяти
	Workspace   string `json:"workspace" toml:"workspace"`     // файл или папка YAML
	CatalogsDir string `json:"catalogsDir" toml:"catalogsDir"` // справочники вариантов выбора
	StateFile   string `json:"stateFile" toml:"stateFile"`     // снимок хранилища в памяти
	AutoMigrate bool   `json:"autoMigrate" toml:"autoMigrate"`

	Verbosity        int    `json:"verbosity" toml:"verbosity"`
	DefaultTimezone  string `json:"defaultTimezone" toml:"defaultTimezone"`
	MaxDecimalPlaces int    `json:"maxDecimalPlaces" toml:"maxDecimalPlaces"`
}

func def() Config {
	return Config{
		Workspace:        "workspace",
		CatalogsDir:      "reference/catalogs",
		AutoMigrate:      false,
		Verbosity:        0,
		DefaultTimezone:  "UTC",
		MaxDecimalPlaces: formula.MaxDecimalPlaces,
	}
}

// loadFile читает JSON или TOML (по расширению) поверх cfg.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err = toml.Decode(string(b), cfg)
	} else {
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// RegisterFlags объявляет флаги конфигурации; значения по умолчанию — встроенные.
func RegisterFlags(fs *pflag.FlagSet) {
	d := def()
	fs.String("config", "", "Path to config file (JSON or TOML)")
	fs.String("db", d.DBURL, "Postgres URL (empty = in-memory)")
	fs.StringP("workspace", "w", d.Workspace, "Workspace YAML file or directory")
	fs.String("catalogs", d.CatalogsDir, "Select option catalogs directory")
	fs.String("state", d.StateFile, "State file for the in-memory store")
	fs.Bool("auto-migrate", d.AutoMigrate, "Apply engine DDL on start (add-only)")
	fs.IntP("verbosity", "v", d.Verbosity, "Log verbosity")
	fs.String("timezone", d.DefaultTimezone, "Default timezone of date fields")
	fs.Int("max-decimal-places", d.MaxDecimalPlaces, "Maximum decimal places of number fields")
}

// Load: встроенные значения -> файл (--config) -> SHEETCORE_* -> явно заданные флаги.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := def()

	path, _ := fs.GetString("config")
	path = getenv("SHEETCORE_CONFIG", path)
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// ENV overrides
	cfg.DBURL = getenv("SHEETCORE_DB_URL", cfg.DBURL)
	cfg.Workspace = getenv("SHEETCORE_WORKSPACE", cfg.Workspace)
	cfg.CatalogsDir = getenv("SHEETCORE_CATALOGS_DIR", cfg.CatalogsDir)
	cfg.StateFile = getenv("SHEETCORE_STATE_FILE", cfg.StateFile)
	cfg.AutoMigrate = getenvBool("SHEETCORE_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.Verbosity = getenvInt("SHEETCORE_VERBOSITY", cfg.Verbosity)
	cfg.DefaultTimezone = getenv("SHEETCORE_DEFAULT_TIMEZONE", cfg.DefaultTimezone)
	cfg.MaxDecimalPlaces = getenvInt("SHEETCORE_MAX_DECIMAL_PLACES", cfg.MaxDecimalPlaces)

	// Flags overrides: только заданные явно
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	str("db", &cfg.DBURL)
	str("workspace", &cfg.Workspace)
	str("catalogs", &cfg.CatalogsDir)
	str("state", &cfg.StateFile)
	str("timezone", &cfg.DefaultTimezone)
	if fs.Changed("auto-migrate") {
		cfg.AutoMigrate, _ = fs.GetBool("auto-migrate")
	}
	if fs.Changed("verbosity") {
		cfg.Verbosity, _ = fs.GetInt("verbosity")
	}
	if fs.Changed("max-decimal-places") {
		cfg.MaxDecimalPlaces, _ = fs.GetInt("max-decimal-places")
	}

	if cfg.MaxDecimalPlaces < 0 || cfg.MaxDecimalPlaces > formula.MaxDecimalPlaces {
		return cfg, fmt.Errorf("maxDecimalPlaces must be within 0..%d", formula.MaxDecimalPlaces)
	}
	return cfg, nil
}

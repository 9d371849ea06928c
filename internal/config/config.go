// Package config loads famcal settings from defaults, an optional YAML file
// and FAMCAL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FAMCAL_"

// MemoryRemote selects the in-process remote store instead of an HTTP backend.
const MemoryRemote = "memory"

type Application struct {
	Listen     string     `koanf:"listen"`
	Log        Log        `koanf:"log"`
	Database   Database   `koanf:"db"`
	Remote     Remote     `koanf:"remote"`
	Sync       Sync       `koanf:"sync"`
	Recurrence Recurrence `koanf:"recurrence"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Database struct {
	Path string `koanf:"path"`
}

type Remote struct {
	URL       string        `koanf:"url"`
	Token     string        `koanf:"token"`
	JWTSecret string        `koanf:"jwt_secret"`
	Timeout   time.Duration `koanf:"timeout"`
}

type Sync struct {
	Schedule string `koanf:"schedule"`
}

type Recurrence struct {
	MaxInstances        int `koanf:"max_instances"`
	DefaultWindowMonths int `koanf:"default_window_months"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Application {
	return Application{
		Listen:   ":8080",
		Log:      Log{Level: "info", Format: "text"},
		Database: Database{Path: "famcal.db"},
		Remote:   Remote{URL: MemoryRemote, Timeout: 10 * time.Second},
		Sync:     Sync{Schedule: "@every 1m"},
		Recurrence: Recurrence{
			MaxInstances:        2000,
			DefaultWindowMonths: 3,
		},
	}
}

// Load reads the YAML file at path (missing is fine) and then the environment.
func Load(path string) (Application, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Application{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Application{}, fmt.Errorf("load config file %s: %w", path, err)
			}
			slog.Info("config file not found, using defaults and environment", "path", path)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKey,
	}), nil)
	if err != nil {
		return Application{}, fmt.Errorf("load config from env: %w", err)
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := app.Validate(); err != nil {
		return Application{}, err
	}
	return app, nil
}

// envKey maps FAMCAL_REMOTE_JWT_SECRET to remote.jwt_secret. Only the first
// underscore separates the section; the rest belong to the key.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, envPrefix))
	return strings.Replace(k, "_", ".", 1), v
}

// Validate rejects settings the rest of the program cannot run with.
func (a Application) Validate() error {
	var problems []string
	if a.Listen == "" {
		problems = append(problems, "listen is required")
	}
	if a.Database.Path == "" {
		problems = append(problems, "db.path is required")
	}
	if a.Remote.URL == "" {
		problems = append(problems, "remote.url is required")
	}
	if a.Recurrence.MaxInstances <= 0 {
		problems = append(problems, "recurrence.max_instances must be positive")
	}
	if a.Recurrence.DefaultWindowMonths <= 0 {
		problems = append(problems, "recurrence.default_window_months must be positive")
	}
	switch strings.ToLower(a.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", a.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds process-level settings that come from the environment rather
// than the config file.
type Env struct {
	Home       string // SERTUS_PATH, base directory for config, logs and scripts
	ConfigPath string // SERTUS_CONFIG, the TOML file with flows and sinks
	LogDir     string // LOG_DIR
	LogLevel   string // LOG_LEVEL: debug|info|warn|error
	LogConsole bool   // LOG_CONSOLE: mirror logs to stderr
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the process environment win.
func LoadDotEnv(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env"}
	}
	loaded := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			continue
		}
		loaded = append(loaded, f)
	}
	return loaded
}

func FromEnv() Env {
	// Base directory (~/.sertus unless overridden)
	home := os.Getenv("SERTUS_PATH")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(h, ".sertus")
		} else {
			home = ".sertus"
		}
	}

	cfgPath := os.Getenv("SERTUS_CONFIG")
	if cfgPath == "" {
		cfgPath = filepath.Join(home, "config.toml")
	}

	// Logs
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(home, "logs")
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	console := true
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			console = b
		}
	}

	return Env{
		Home:       home,
		ConfigPath: cfgPath,
		LogDir:     logDir,
		LogLevel:   level,
		LogConsole: console,
	}
}

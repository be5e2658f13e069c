// Package config loads workstation settings from a TOML file, with
// environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every setting the CLI and server need.
type Config struct {
	APIURL         string        `toml:"api_url"`
	UserName       string        `toml:"user_name"`
	UserPassword   string        `toml:"user_password"`
	AccessToken    string        `toml:"access_token"`
	APITimeout     time.Duration `toml:"api_timeout"`
	APIMaxAttempts int           `toml:"api_max_attempts"`

	SyncInterval time.Duration `toml:"sync_interval"`
	ReposDir     string        `toml:"repos_dir"`
	ListenAddr   string        `toml:"listen_addr"`

	CredentialHelper string `toml:"credential_helper"`
	Local            bool   `toml:"local"`
	NotebookCommand  string `toml:"notebook_command"`
	SSHDirName       string `toml:"ssh_dir_name"`
	LogLevel         string `toml:"log_level"`
}

// Defaults returns the settings used when neither the file nor the
// environment provide a value.
func Defaults() Config {
	return Config{
		APITimeout:     15 * time.Second,
		APIMaxAttempts: 1,
		SyncInterval:   60 * time.Second,
		ListenAddr:     "127.0.0.1:8888",
		SSHDirName:     ".ssh",
		LogLevel:       "info",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/eduhelx/config.toml, falling back to the
// platform user config directory.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(dir, "eduhelx", "config.toml")
}

// Load reads path (a missing file is not an error), applies environment
// overrides from getenv and fills the remaining defaults. Pass os.Getenv in
// production.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return Config{}, fmt.Errorf("read config %s: unknown key %q", path, undecoded[0].String())
			}
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if cfg.ReposDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve repos dir: %w", err)
		}
		cfg.ReposDir = wd
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"GRADER_API_URL":           &c.APIURL,
		"USER_NAME":                &c.UserName,
		"USER_AUTOGEN_PASSWORD":    &c.UserPassword,
		"ACCESS_TOKEN":             &c.AccessToken,
		"CREDENTIAL_HELPER":        &c.CredentialHelper,
		"EDUHELX_REPOS_DIR":        &c.ReposDir,
		"EDUHELX_LISTEN_ADDR":      &c.ListenAddr,
		"EDUHELX_NOTEBOOK_COMMAND": &c.NotebookCommand,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(getenv("UPSTREAM_SYNC_INTERVAL")); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UPSTREAM_SYNC_INTERVAL: %w", err)
		}
		c.SyncInterval = time.Duration(secs * float64(time.Second))
	}
	if v := strings.TrimSpace(getenv("LOCAL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOCAL: %w", err)
		}
		c.Local = b
	}
	return nil
}

// Validate reports settings that would keep the server from working.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.APIURL) == "" {
		problems = append(problems, "api_url (GRADER_API_URL) is required")
	}
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync_interval must be positive")
	}
	if c.APITimeout <= 0 {
		problems = append(problems, "api_timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

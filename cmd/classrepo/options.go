package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/config"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/remote"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/worktree"
)

// globalOptions carries the persistent flags and the state derived from
// them once the command line is parsed.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	reposDir   string

	cfg    config.Config
	locker *worktree.Locker
}

func (g *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", config.DefaultPath(), "path to the TOML config file")
	f.StringVar(&g.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides log_level")
	f.StringVar(&g.logFormat, "log-format", "auto", "log format: auto, console or json")
	f.StringVar(&g.reposDir, "repos-dir", "", "directory holding course clones; overrides repos_dir")
}

func (g *globalOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath, os.Getenv)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.reposDir != "" {
		cfg.ReposDir = g.reposDir
	}
	if err := configureLogger(cmd.ErrOrStderr(), cfg.LogLevel, g.logFormat); err != nil {
		return err
	}
	g.cfg = cfg
	g.locker = &worktree.Locker{}
	return nil
}

// client builds the grader API client from the loaded config.
func (g *globalOptions) client() (*remote.Client, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, err
	}
	return remote.NewClient(g.cfg.APIURL, remote.ClientOptions{
		Timeout:     g.cfg.APITimeout,
		MaxAttempts: g.cfg.APIMaxAttempts,
		AccessToken: g.cfg.AccessToken,
		User:        g.cfg.UserName,
		Password:    g.cfg.UserPassword,
	})
}

// configureLogger sets the global logger: a console writer on terminals or
// when asked for, JSON lines otherwise.
func configureLogger(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer
	switch format {
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
		out = w
	case "auto", "":
		out = w
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return nil
}

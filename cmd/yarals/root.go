package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/korrosivesec/yarals"
)

const (
	configName = "yarals"
	envPrefix  = "YARALS"
)

// app holds the state shared by all subcommands of one invocation.
type app struct {
	v      *viper.Viper
	logger *log.Logger
	cfg    settings
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "yarals",
		Short: "Bootstrap the YARA language server",
		Long: `yarals installs the bundled YARA language server, launches it on a free
loopback port and connects to it.

Settings are read from flags, YARALS_* environment variables and a
yarals.yaml file in the working directory or the user config directory,
in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: yarals.yaml in . or the user config dir)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("host", yarals.DefaultHost, "loopback address the server listens on")
	flags.String("extension-root", "", "directory holding the server bundle (default: working directory)")
	flags.String("server-root", "", "install and run directory (default: <extension-root>/server)")
	flags.String("bundle-dir", yarals.DefaultBundleDir, "bundle directory, relative to the extension root")
	flags.String("entry-script", yarals.DefaultEntryScript, "server script, relative to the server root")
	flags.String("executable", yarals.DefaultExecutable, "program that runs the server")
	flags.StringSlice("args", nil, "arguments before host and port (default: the entry script)")
	flags.StringSlice("env", nil, "extra KEY=VALUE server environment entries")
	flags.String("log-dir", "", "server log directory (default: <server-root>/.yarals/logs)")
	flags.Duration("dial-timeout", yarals.DefaultDialTimeout, "timeout of one connection attempt")
	flags.Duration("stop-timeout", yarals.DefaultStopTimeout, "time the server gets to exit after SIGTERM")
	flags.Duration("ready-timeout", yarals.DefaultReadyTimeout, "time the server gets to start listening")
	flags.Bool("strict-install", false, "fail when the server components cannot be installed")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	// Flag names double as config keys.
	if err := a.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	root.AddCommand(newInstallCmd(a), newInfoCmd(a), newConnectCmd(a))
	return root
}

// init reads the configuration layers and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
	} else {
		a.v.SetConfigName(configName)
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(dir, configName))
		}
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level, err := log.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix:          configName,
		Level:           level,
		ReportTimestamp: true,
	})
	yarals.SetLogger(slog.New(a.logger))

	cfg, err := loadSettings(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Debug("configuration loaded", "file", a.v.ConfigFileUsed(), "server-root", cfg.ServerRoot)
	return nil
}

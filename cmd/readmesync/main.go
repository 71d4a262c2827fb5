package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/openmined/readmesync/internal/config"
	"github.com/openmined/readmesync/internal/logging"
	"github.com/openmined/readmesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
	envPrefix      = "READMESYNC"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

// log file of the running command, closed on exit
var logCloser io.Closer

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "readmesync",
		Short:   "Keep recorded readme attributes in sync with installed items",
		Version: version.Detailed(),
	}

	cmd.PersistentFlags().SortFlags = false
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	cmd.PersistentFlags().StringP("install-root", "r", "", "directory holding one sub-directory per item")
	cmd.PersistentFlags().String("state-dir", config.DefaultStateDir, "directory for the state database and logs")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newDaemonCmd(),
		newSyncCmd(),
		newInstallCmd(),
		newStatusCmd(),
		newValidateCmd(),
		newShowCmd(),
		newItemsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "%s: .env: %v\n", red("ERROR"), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, READMESYNC_* variables and
// flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else if p := os.Getenv(envPrefix + "_CONFIG"); p != "" {
		v.SetConfigFile(p)
	} else {
		v.AddConfigPath(filepath.Join(home, ".readmesync"))
		v.AddConfigPath(filepath.Join(home, ".config", "readmesync"))
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	bindFlag(v, cmd, "install_root", "install-root")
	bindFlag(v, cmd, "state_dir", "state-dir")
	bindFlag(v, cmd, "log.level", "log-level")
	bindFlag(v, cmd, "http.addr", "http-addr")
	bindFlag(v, cmd, "http.token", "http-token")
	bindFlag(v, cmd, "scan_existing", "scan-existing")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}

	cfg.Path = v.ConfigFileUsed()
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
		if f := cmd.Flag("config"); f != nil && f.Changed {
			cfg.Path = f.Value.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// installRootPinned reports whether the install root came from a flag or the
// environment rather than the config file.
func installRootPinned(cmd *cobra.Command) bool {
	if f := cmd.Flag("install-root"); f != nil && f.Changed {
		return true
	}
	return os.Getenv(envPrefix+"_INSTALL_ROOT") != ""
}

func setDefaults(v *viper.Viper, cfg *config.Config) {
	v.SetDefault("install_root", cfg.InstallRoot)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("attribute", cfg.Attribute)
	v.SetDefault("pattern", cfg.Pattern)
	v.SetDefault("scan_existing", cfg.ScanExisting)
	v.SetDefault("watch_backend", cfg.WatchBackend)
	v.SetDefault("watch_root", cfg.WatchRoot)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.backoff", cfg.Retry.Backoff)
	v.SetDefault("retry.max_backoff", cfg.Retry.MaxBackoff)
	v.SetDefault("retry.watch_timeout", cfg.Retry.WatchTimeout)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.token", cfg.HTTP.Token)
	v.SetDefault("http.rate_limit", cfg.HTTP.RateLimit)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil {
		v.BindPFlag(key, f)
	}
}

// setupLogging installs the default logger. Foreground commands only log to
// the console; the daemon also writes the rotated log file.
func setupLogging(cfg *config.Config, withFile bool) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	opts := logging.Options{Level: level, Console: os.Stderr}
	if withFile {
		opts.Console = os.Stdout
		opts.File = cfg.Log.File
	}

	logger, closer := logging.New(opts)
	slog.SetDefault(logger)
	logCloser = closer
	return nil
}

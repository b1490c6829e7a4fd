package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmined/syftxfer/internal/config"
	"github.com/openmined/syftxfer/internal/endpoint/s3"
	"github.com/openmined/syftxfer/internal/logging"
	"github.com/openmined/syftxfer/internal/version"
)

const envPrefix = "SYFTXFER"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

// configKeys are bound to SYFTXFER_* environment variables, dots become underscores
var configKeys = []string{
	"local_path",
	"remote_path",
	"protocol",
	"concurrency",
	"ignore",
	"ignore_file",
	"data_dir",
	"s3.bucket",
	"s3.prefix",
	"s3.region",
	"s3.access_key",
	"s3.secret_key",
	"s3.endpoint",
	"s3.use_accelerate",
	"s3.head_concurrency",
}

// logCloser flushes the log file opened by setupLogging
var logCloser io.Closer

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syftxfer",
		Short:         "Mirror and sync file trees between a local directory and a remote store",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.StringP("local", "l", "", "local root directory")
	flags.StringP("remote", "r", "", "remote root: directory (file) or key prefix (s3)")
	flags.StringP("protocol", "p", "", "remote protocol: s3, file or memory")
	flags.IntP("concurrency", "n", 0, "maximum concurrent operations")
	flags.String("data-dir", "", "directory for history, logs and locks")
	flags.String("log-level", "warn", "console log level")
	flags.Bool("json", false, "print machine readable output")

	root.AddCommand(
		newUploadCmd(),
		newDownloadCmd(),
		newSyncCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		stop()
		os.Exit(exitCode(err))
	}
}

// loadConfig merges the config file, .env, SYFTXFER_* variables and flags.
// The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv", "error", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	v.BindPFlag("local_path", cmd.Flags().Lookup("local"))
	v.BindPFlag("remote_path", cmd.Flags().Lookup("remote"))
	v.BindPFlag("protocol", cmd.Flags().Lookup("protocol"))
	v.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))
	v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if cfg.S3 != nil && *cfg.S3 == (s3.Config{}) {
		cfg.S3 = nil
	}
	cfg.Path = configPath
	return &cfg, nil
}

// loadValidConfig is loadConfig plus validation and file logging under the data dir
func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogging(cmd, cfg.LogPath()); err != nil {
		return nil, err
	}
	slog.Debug("config", "path", cfg.Path, "config", cfg)
	return cfg, nil
}

func setupLogging(cmd *cobra.Command, logFile string) error {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelFlag)
	if err != nil {
		return err
	}

	closer, err := logging.Setup(logging.Options{
		Level:   level,
		Console: cmd.ErrOrStderr(),
		File:    logFile,
	})
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

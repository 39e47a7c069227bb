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
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/quicksave/internal/config"
	"github.com/openmined/quicksave/internal/utils"
	"github.com/openmined/quicksave/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
	logFile        io.Closer
)

var rootCmd = &cobra.Command{
	Use:     "quicksave",
	Short:   "Upload project files to a webhook when they change",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		return setupLogging(cfg.LogFilePath, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "quicksave config file")
	rootCmd.PersistentFlags().String("state", config.DefaultStatePath, "project state database")
	rootCmd.PersistentFlags().String("compressor", config.DefaultCompressor, "7-Zip executable")
	rootCmd.PersistentFlags().String("scratch-dir", config.DefaultScratchDir, "directory for temporary archives")
	rootCmd.PersistentFlags().String("log-file", config.DefaultLogFilePath, "log file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging on the terminal")
}

func main() {
	slog.SetDefault(slog.New(consoleHandler(false)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".quicksave"))
		viper.AddConfigPath(filepath.Join(home, ".config", "quicksave"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	config.SetDefaults(viper.GetViper())
	viper.BindPFlag("state_path", cmd.Flags().Lookup("state"))
	viper.BindPFlag("compressor_path", cmd.Flags().Lookup("compressor"))
	viper.BindPFlag("scratch_dir", cmd.Flags().Lookup("scratch-dir"))
	viper.BindPFlag("log_file_path", cmd.Flags().Lookup("log-file"))

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	return nil
}

func consoleHandler(verbose bool) slog.Handler {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// setupLogging keeps the terminal handler and adds a debug-level log file.
func setupLogging(path string, verbose bool) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logFile = file

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(verbose), fileHandler)))
	return nil
}

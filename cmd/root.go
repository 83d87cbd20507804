package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steadybench/internal/banner"
	"steadybench/internal/settings"
	"steadybench/internal/storage"
)

// Version is stamped at build time with -ldflags "-X steadybench/cmd.Version=...".
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "steadybench",
	Short: "SteadyBench - inference load generator and benchmark harness",
	Long: `
SteadyBench drives a system under test through a standard scenario and
decides whether the result is valid and whether it passes.

Scenarios: SingleStream, MultiStream, Server, Offline
Modes:     PerformanceOnly, AccuracyOnly, Submission, FindPeakPerformance`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(logLevel, logFormat)
		return initConfig()
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	settings.Bind(v)
	if p, err := storage.DefaultPath(); err == nil {
		v.SetDefault("log.history_path", p)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steadybench.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "console or json")
	rootCmd.PersistentFlags().String("history", "", "history database (default $HOME/.steadybench/history.db)")
	_ = v.BindPFlag("log.history_path", rootCmd.PersistentFlags().Lookup("history"))

	rootCmd.AddCommand(runCmd, historyCmd, versionCmd)
}

func initConfig() error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigType("yaml")
			v.SetConfigName(".steadybench")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing default config is fine; a broken or missing explicit one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	log.Debug().Str("file", v.ConfigFileUsed()).Msg("config loaded")
	return nil
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "steadybench %s\n", Version)
	},
}

// Package cmd implements the CLI commands for vodarr.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "vodarr",
	Short:   "On-demand HLS streaming for a local media library",
	Version: version.Short(),
	Long: `vodarr serves files from a local media catalog as HLS streams.

Each playback session runs one ffmpeg process that encodes from the keyframe
nearest the requested position. Encodes are admitted against a concurrency
limit derived from the detected hardware encoder, and idle sessions are
reaped on a schedule.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are deliberately not bound to viper: they only override
	// env and file values when Changed() reports the user set them.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/vodarr, $HOME/.vodarr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads the config file and environment into the global viper.
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vodarr")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.vodarr")
		}
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		cobra.CheckErr(fmt.Errorf("reading config file: %w", err))
	}
}

// loadConfig validates the merged configuration, applying the logging flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level, cfg.Logging.Format = logLevelAndFormat()
	return cfg, nil
}

// logLevelAndFormat resolves logging settings. Priority: explicitly set CLI
// flags, then VODARR_LOGGING_* env, then the config file, then defaults.
func logLevelAndFormat() (level, format string) {
	level = viper.GetString("logging.level")
	format = viper.GetString("logging.format")

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		format, _ = flags.GetString("log-format")
	}

	level = strings.ToLower(level)
	if level == "" {
		level = "info"
	}
	if level == "warning" {
		level = "warn"
	}
	format = strings.ToLower(format)
	if format == "" {
		format = "json"
	}
	return level, format
}

// initLogging installs the redacting slog logger as the default.
func initLogging() error {
	level, format := logLevelAndFormat()
	logger := observability.NewLoggerWithWriter(config.LoggingConfig{
		Level:      level,
		Format:     format,
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}, os.Stderr)
	observability.SetDefault(observability.WithApp(logger, version.ApplicationName, version.Version))
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

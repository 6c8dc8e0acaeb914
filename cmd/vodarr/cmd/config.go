package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vodarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to create a configuration template:

  vodarr config dump > config.yaml

Environment variables use the VODARR_ prefix and underscores for nesting.
Example: streaming.idle_ttl -> VODARR_STREAMING_IDLE_TTL`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpDefaults(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// dumpDefaults writes the built-in defaults, ignoring files and environment.
func dumpDefaults(w io.Writer) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# vodarr configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown are defaults. Durations use Go syntax: 500ms, 30s, 2m, 1h.")
	fmt.Fprintln(w, "# Overrides: VODARR_SERVER_PORT, VODARR_DATABASE_DSN, VODARR_STREAMING_IDLE_TTL, ...")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

// toMap converts a config struct into nested maps keyed by mapstructure
// tags, rendering durations in their string form.
func toMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	result := make(map[string]any, val.NumField())
	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

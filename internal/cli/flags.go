// Package cli resolves mirrorctl settings from command flags, environment and
// an optional viper config file.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/netbek/dw/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag names shared by every mirrorctl command.
const (
	FlagConfig          = "config"
	FlagFile            = "file"
	FlagAPIURL          = "api-url"
	FlagAPITimeout      = "api-timeout"
	FlagGenerateExclude = "generate-exclude"
	FlagDBTProjectDir   = "dbt-project-dir"
	FlagDBTProfilesDir  = "dbt-profiles-dir"
	FlagDBTTarget       = "dbt-target"
	FlagSourcePeer      = "source-peer"
	FlagOutput          = "output"
	FlagLogLevel        = "log-level"
)

// ViperConfig defines command-level viper bootstrap settings.
type ViperConfig struct {
	EnvPrefix        string
	ConfigEnvVar     string
	ConfigName       string
	ConfigType       string
	ConfigSearchPath []string
}

// AddPersistentFlags registers the shared flags on root with defaults taken
// from the environment.
func AddPersistentFlags(root *cobra.Command, defaults *config.Config) {
	flags := root.PersistentFlags()
	flags.String(FlagConfig, "", "path to mirrorctl settings file")
	flags.StringP(FlagFile, "f", defaults.File, "path to the mirror document")
	flags.String(FlagAPIURL, defaults.API.URL, "control plane base URL")
	flags.Duration(FlagAPITimeout, defaults.API.Timeout, "control plane request timeout")
	flags.Bool(FlagGenerateExclude, defaults.GenerateExclude, "derive excluded columns from source and destination schemas")
	flags.String(FlagDBTProjectDir, defaults.DBT.ProjectDir, "dbt project used to resolve destination schemas")
	flags.String(FlagDBTProfilesDir, defaults.DBT.ProfilesDir, "dbt profiles directory")
	flags.String(FlagDBTTarget, defaults.DBT.Target, "dbt target")
	flags.String(FlagSourcePeer, defaults.SourcePeer, "name of the source peer")
	flags.StringP(FlagOutput, "o", defaults.Output, "output format (json|yaml)")
	flags.String(FlagLogLevel, defaults.LogLevel, "log level")
}

// InitViperFromCommand initializes viper with env/cmd precedence for a cobra command.
//
// The command is expected to expose a "config" flag either on itself or an ancestor.
func InitViperFromCommand(cmd *cobra.Command, cfg ViperConfig) error {
	configFlags := cmd.Flags()
	if cmd.Root() != nil && cmd.Root().PersistentFlags().Lookup(FlagConfig) != nil {
		configFlags = cmd.Root().PersistentFlags()
	}
	configPath := ""
	if configFlags.Lookup(FlagConfig) != nil {
		var err error
		configPath, err = configFlags.GetString(FlagConfig)
		if err != nil {
			return fmt.Errorf("read config flag: %w", err)
		}
	}

	viper.Reset()
	viper.SetEnvPrefix(cfg.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	configPathConfigured := false
	if configPath != "" {
		viper.SetConfigFile(configPath)
		configPathConfigured = true
	} else if cfg.ConfigEnvVar != "" {
		if envPath := os.Getenv(cfg.ConfigEnvVar); envPath != "" {
			viper.SetConfigFile(envPath)
			configPathConfigured = true
		}
	}

	if !configPathConfigured && cfg.ConfigName != "" {
		cfgType := strings.TrimSpace(cfg.ConfigType)
		if cfgType == "" {
			cfgType = "yaml"
		}
		viper.SetConfigName(cfg.ConfigName)
		viper.SetConfigType(cfgType)
		viper.AddConfigPath(".")
		for _, path := range cfg.ConfigSearchPath {
			if trimmed := strings.TrimSpace(path); trimmed != "" {
				viper.AddConfigPath(trimmed)
			}
		}
	}

	if configPathConfigured || cfg.ConfigName != "" {
		if err := viper.ReadInConfig(); err != nil {
			var missing viper.ConfigFileNotFoundError
			if !errors.As(err, &missing) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}
	return nil
}

// Resolve builds the effective config for cmd. An explicitly set flag wins,
// then the viper config file, then the flag default.
func Resolve(cmd *cobra.Command, base *config.Config) (*config.Config, error) {
	cfg := *base
	cfg.File = ResolveStringFlag(cmd, FlagFile)
	cfg.SourcePeer = ResolveStringFlag(cmd, FlagSourcePeer)
	cfg.GenerateExclude = ResolveBoolFlag(cmd, FlagGenerateExclude)
	cfg.Output = strings.ToLower(ResolveStringFlag(cmd, FlagOutput))
	cfg.LogLevel = strings.ToLower(ResolveStringFlag(cmd, FlagLogLevel))
	cfg.API.URL = ResolveStringFlag(cmd, FlagAPIURL)
	timeout, err := ResolveDurationFlag(cmd, FlagAPITimeout)
	if err != nil {
		return nil, err
	}
	cfg.API.Timeout = timeout
	cfg.DBT.ProjectDir = ResolveStringFlag(cmd, FlagDBTProjectDir)
	cfg.DBT.ProfilesDir = ResolveStringFlag(cmd, FlagDBTProfilesDir)
	cfg.DBT.Target = ResolveStringFlag(cmd, FlagDBTTarget)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ResolveStringFlag(cmd *cobra.Command, key string) string {
	value, err := cmd.Flags().GetString(key)
	if err != nil {
		return ""
	}
	if f := cmd.Flags().Lookup(key); f == nil || (!f.Changed && viper.IsSet(key)) {
		return viper.GetString(key)
	}
	return value
}

func ResolveBoolFlag(cmd *cobra.Command, key string) bool {
	value, err := cmd.Flags().GetBool(key)
	if err != nil {
		return false
	}
	if f := cmd.Flags().Lookup(key); f == nil || (!f.Changed && viper.IsSet(key)) {
		return viper.GetBool(key)
	}
	return value
}

func ResolveDurationFlag(cmd *cobra.Command, key string) (time.Duration, error) {
	value, err := cmd.Flags().GetDuration(key)
	if err != nil {
		return 0, err
	}
	if f := cmd.Flags().Lookup(key); f == nil || (!f.Changed && viper.IsSet(key)) {
		value = viper.GetDuration(key)
	}
	return value, nil
}

// ResolveStringSliceFlag reads a repeatable string flag.
func ResolveStringSliceFlag(cmd *cobra.Command, key string) []string {
	value, err := cmd.Flags().GetStringSlice(key)
	if err != nil {
		return nil
	}
	if f := cmd.Flags().Lookup(key); f == nil || (!f.Changed && viper.IsSet(key)) {
		return viper.GetStringSlice(key)
	}
	return value
}

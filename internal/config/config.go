package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "MIRRORCTL"

// Config holds runtime settings for mirrorctl.
type Config struct {
	// File is the declarative mirror document.
	File            string `validate:"required"`
	SourcePeer      string `validate:"required"`
	GenerateExclude bool
	Output          string `validate:"oneof=json yaml"`
	LogLevel        string `validate:"oneof=trace debug info warn error disabled"`
	API             APIConfig
	DBT             DBTConfig
}

type APIConfig struct {
	URL      string        `validate:"required,url"`
	Timeout  time.Duration `validate:"gte=0"`
	Password string
}

type DBTConfig struct {
	Binary      string
	ProjectDir  string
	ProfilesDir string
	Target      string
}

// Enabled reports whether schema lookups go through a dbt project.
func (c DBTConfig) Enabled() bool {
	return strings.TrimSpace(c.ProjectDir) != ""
}

// Load reads config from the environment. Command flags override the result.
func Load() *Config {
	return &Config{
		File:            getenv(key("FILE"), "mirrors.yaml"),
		SourcePeer:      getenv(key("SOURCE_PEER"), "source"),
		GenerateExclude: getenvBool(key("GENERATE_EXCLUDE"), false),
		Output:          getenv(key("OUTPUT"), "json"),
		LogLevel:        strings.ToLower(getenv(key("LOG_LEVEL"), "info")),
		API: APIConfig{
			URL:      getenv(key("API_URL"), "http://localhost:3000/api"),
			Timeout:  getenvDuration(key("API_TIMEOUT"), 30*time.Second),
			Password: getenv(key("API_PASSWORD"), ""),
		},
		DBT: DBTConfig{
			Binary:      getenv(key("DBT_BINARY"), "dbt"),
			ProjectDir:  getenv(key("DBT_PROJECT_DIR"), ""),
			ProfilesDir: getenv(key("DBT_PROFILES_DIR"), ""),
			Target:      getenv(key("DBT_TARGET"), ""),
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func key(name string) string {
	return EnvPrefix + "_" + name
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch value {
		case "1", "true", "TRUE", "yes", "YES":
			return true
		case "0", "false", "FALSE", "no", "NO":
			return false
		default:
			return fallback
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

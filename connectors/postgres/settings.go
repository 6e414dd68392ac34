package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	defaultSchema  = "public"
	defaultSSLMode = "prefer"
)

// Settings holds connection parameters for a Postgres database.
type Settings struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	Database string `validate:"required"`
	Schema   string
	SSLMode  string
	IAM      IAMSettings
}

// IAMSettings enables RDS IAM token authentication instead of a password.
type IAMSettings struct {
	Enabled         bool
	Region          string
	Profile         string
	RoleARN         string
	RoleSessionName string
	RoleExternalID  string
	Endpoint        string
}

// Validate checks required connection fields.
func (s Settings) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return fmt.Errorf("invalid postgres settings: %w", err)
	}
	return nil
}

// DefaultSchema returns the schema used when a scope leaves it empty.
func (s Settings) DefaultSchema() string {
	if strings.TrimSpace(s.Schema) == "" {
		return defaultSchema
	}
	return s.Schema
}

// DSN renders a connection URL for the given database. An empty database
// selects the configured one.
func (s Settings) DSN(database string) string {
	if database == "" {
		database = s.Database
	}
	sslMode := s.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	if s.Password != "" && !s.IAM.Enabled {
		u.User = url.UserPassword(s.User, s.Password)
	} else {
		u.User = url.User(s.User)
	}
	return u.String()
}

// SettingsFromPeer maps a peer's postgres_config block onto Settings.
func SettingsFromPeer(config map[string]any) (Settings, error) {
	if config == nil {
		return Settings{}, fmt.Errorf("postgres_config is required")
	}
	port, err := intValue(config["port"])
	if err != nil {
		return Settings{}, fmt.Errorf("postgres_config.port: %w", err)
	}
	settings := Settings{
		Host:     stringValue(config["host"]),
		Port:     port,
		User:     stringValue(config["user"]),
		Password: stringValue(config["password"]),
		Database: stringValue(config["database"]),
		Schema:   defaultSchema,
	}
	iam, err := iamSettingsFromPeer(config, settings.Host)
	if err != nil {
		return Settings{}, err
	}
	settings.IAM = iam
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// iamSettingsFromPeer reads the aws_* keys of a postgres_config block.
// Everything but aws_rds_iam is ignored unless that flag is true.
func iamSettingsFromPeer(config map[string]any, host string) (IAMSettings, error) {
	enabled, err := boolValue(config["aws_rds_iam"])
	if err != nil {
		return IAMSettings{}, fmt.Errorf("postgres_config.aws_rds_iam: %w", err)
	}
	if !enabled {
		return IAMSettings{}, nil
	}
	iam := IAMSettings{
		Enabled:         true,
		Region:          strings.TrimSpace(stringValue(config["aws_region"])),
		Profile:         strings.TrimSpace(stringValue(config["aws_profile"])),
		RoleARN:         strings.TrimSpace(stringValue(config["aws_role_arn"])),
		RoleSessionName: strings.TrimSpace(stringValue(config["aws_role_session_name"])),
		RoleExternalID:  strings.TrimSpace(stringValue(config["aws_role_external_id"])),
		Endpoint:        strings.TrimSpace(stringValue(config["aws_endpoint"])),
	}
	iam, err = resolveIAMSettings(iam, host)
	if err != nil {
		return IAMSettings{}, fmt.Errorf("postgres_config: %w", err)
	}
	return iam, nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func intValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unexpected type %T", value)
	}
}

func boolValue(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("unexpected type %T", value)
	}
}

package clickhouse

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"
)

const (
	ProtocolNative = "native"
	ProtocolHTTP   = "http"

	defaultDatabase    = "default"
	defaultDialTimeout = 10 * time.Second
)

// Settings holds connection parameters for a ClickHouse server.
type Settings struct {
	Host        string `validate:"required"`
	Port        int    `validate:"required,min=1,max=65535"`
	User        string `validate:"required"`
	Password    string
	Database    string
	Protocol    string `validate:"omitempty,oneof=native http"`
	Secure      bool
	DialTimeout time.Duration
}

func (s Settings) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return fmt.Errorf("invalid clickhouse settings: %w", err)
	}
	return nil
}

// DefaultDatabase returns the database used when a scope leaves it empty.
func (s Settings) DefaultDatabase() string {
	if strings.TrimSpace(s.Database) == "" {
		return defaultDatabase
	}
	return s.Database
}

// Options converts the settings into driver options.
func (s Settings) Options() *clickhouse.Options {
	protocol := clickhouse.Native
	if strings.EqualFold(s.Protocol, ProtocolHTTP) {
		protocol = clickhouse.HTTP
	}
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	opts := &clickhouse.Options{
		Protocol: protocol,
		Addr:     []string{net.JoinHostPort(s.Host, strconv.Itoa(s.Port))},
		Auth: clickhouse.Auth{
			Database: s.DefaultDatabase(),
			Username: s.User,
			Password: s.Password,
		},
		DialTimeout: timeout,
	}
	if s.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// SettingsFromPeer maps a peer's clickhouse_config block onto Settings. TLS is
// on unless disable_tls is set.
func SettingsFromPeer(config map[string]any) (Settings, error) {
	if config == nil {
		return Settings{}, fmt.Errorf("clickhouse_config is required")
	}
	port, err := intValue(config["port"])
	if err != nil {
		return Settings{}, fmt.Errorf("clickhouse_config.port: %w", err)
	}
	disableTLS, err := boolValue(config["disable_tls"])
	if err != nil {
		return Settings{}, fmt.Errorf("clickhouse_config.disable_tls: %w", err)
	}
	settings := Settings{
		Host:     stringValue(config["host"]),
		Port:     port,
		User:     stringValue(config["user"]),
		Password: stringValue(config["password"]),
		Database: stringValue(config["database"]),
		Protocol: ProtocolNative,
		Secure:   !disableTLS,
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
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
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("unexpected type %T", value)
	}
}

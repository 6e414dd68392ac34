package mirrorconfig

import (
	"errors"
	"fmt"
)

// ErrConfig matches every *ConfigError.
var ErrConfig = errors.New("invalid mirror config")

// ConfigError reports a problem at a path in the declarative document, such
// as mirrors.orders.table_mappings[0].
type ConfigError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ErrConfig.Error()
	}
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func configErrorf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func wrapConfigError(path, msg string, err error) error {
	return &ConfigError{Path: path, Msg: msg, Err: err}
}

package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported signals a capability the dialect does not implement.
	ErrUnsupported = errors.New("unsupported")
	// ErrNotFound signals a missing object that an operation requires.
	ErrNotFound = errors.New("not found")
)

// Category classifies the statement that failed.
type Category string

const (
	CategoryConnect Category = "connect"
	CategoryQuery   Category = "query"
	CategoryCommand Category = "command"
)

// AdapterError wraps a driver failure with the dialect and statement category.
type AdapterError struct {
	Dialect  string
	Category Category
	Op       string
	Err      error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	msg := e.Dialect + " " + string(e.Category)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap returns nil for a nil err, otherwise an *AdapterError.
func Wrap(dialect string, category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Dialect: dialect, Category: category, Op: op, Err: err}
}

// AsAdapterError extracts an AdapterError from an error chain.
func AsAdapterError(err error) (*AdapterError, bool) {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr, true
	}
	return nil, false
}

// UnsupportedError names the capability a dialect is missing.
type UnsupportedError struct {
	Dialect    string
	Capability string
}

func (e *UnsupportedError) Error() string {
	if e == nil {
		return ErrUnsupported.Error()
	}
	return fmt.Sprintf("%s does not support %s", e.Dialect, e.Capability)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// Unsupported builds an *UnsupportedError.
func Unsupported(dialect, capability string) error {
	return &UnsupportedError{Dialect: dialect, Capability: capability}
}

// Package identifier quotes and parses dialect-qualified table names.
//
// Quoting does not escape embedded quote characters. Names passed to Quote
// must come from trusted configuration, never from end users.
package identifier

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier signals a qualified name with the wrong number of parts.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Dialect describes how a database quotes identifiers.
type Dialect struct {
	Name      string
	QuoteChar byte
	Container string
}

var (
	Postgres   = Dialect{Name: "postgres", QuoteChar: '"', Container: "schema"}
	ClickHouse = Dialect{Name: "clickhouse", QuoteChar: '`', Container: "database"}
)

// Quote wraps a bare identifier in the dialect quote character.
func (d Dialect) Quote(name string) string {
	q := string(d.QuoteChar)
	return q + name + q
}

// Unquote strips leading and trailing quote characters.
func (d Dialect) Unquote(value string) string {
	return strings.Trim(value, string(d.QuoteChar))
}

// Parse splits a dotted name into an optional container and a table name.
func (d Dialect) Parse(value string) (Table, error) {
	if strings.TrimSpace(value) == "" {
		return Table{}, fmt.Errorf("%w: empty %s identifier", ErrInvalidIdentifier, d.Name)
	}
	parts := strings.Split(value, ".")
	for i, part := range parts {
		parts[i] = d.Unquote(part)
		if parts[i] == "" {
			return Table{}, fmt.Errorf("%w: %q has an empty component", ErrInvalidIdentifier, value)
		}
	}
	switch len(parts) {
	case 1:
		return Table{Dialect: d, Name: parts[0]}, nil
	case 2:
		return Table{Dialect: d, Container: parts[0], Name: parts[1]}, nil
	default:
		return Table{}, fmt.Errorf("%w: %q has %d components", ErrInvalidIdentifier, value, len(parts))
	}
}

// Table is a dialect-tagged table name. Container is the schema for Postgres
// and the database for ClickHouse.
type Table struct {
	Dialect   Dialect
	Container string
	Name      string
}

// String renders the quoted qualified name.
func (t Table) String() string {
	if t.Container == "" {
		return t.Dialect.Quote(t.Name)
	}
	return t.Dialect.Quote(t.Container) + "." + t.Dialect.Quote(t.Name)
}

// WithDefaultContainer fills an empty container.
func (t Table) WithDefaultContainer(container string) Table {
	if t.Container == "" {
		t.Container = container
	}
	return t
}

// ParsePostgres parses a schema-qualified Postgres table name.
func ParsePostgres(value string) (Table, error) {
	return Postgres.Parse(value)
}

// ParseClickHouse parses a database-qualified ClickHouse table name.
func ParseClickHouse(value string) (Table, error) {
	return ClickHouse.Parse(value)
}

// Qualify quotes a container and a table name for the dialect.
func (d Dialect) Qualify(container, name string) string {
	return Table{Dialect: d, Container: container, Name: name}.String()
}

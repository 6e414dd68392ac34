// Package adapter defines the capability set shared by the database drivers
// used to provision a replication pipeline.
//
// Every create/drop operation follows a check-then-act pattern and is
// idempotent for a single caller. The check and the act are not atomic: two
// reconcilers working on the same object name concurrently can both observe
// "absent" and both attempt the create. Callers that need exclusion must
// serialize on their side.
package adapter

import (
	"context"

	"github.com/netbek/dw/pkg/identifier"
)

// Scope narrows an operation to a database and schema. Empty fields fall back
// to the adapter's configured defaults.
type Scope struct {
	Database string
	Schema   string
}

// Column is a live or declared table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Table reflects a table and its columns in ordinal order.
type Table struct {
	Container string
	Name      string
	Columns   []Column
}

// ColumnNames returns the column names in ordinal order.
func (t Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		out = append(out, col.Name)
	}
	return out
}

// ReplicaIdentity is the row identification strategy used by logical replication.
type ReplicaIdentity string

const (
	ReplicaIdentityDefault ReplicaIdentity = "default"
	ReplicaIdentityNothing ReplicaIdentity = "nothing"
	ReplicaIdentityFull    ReplicaIdentity = "full"
	ReplicaIdentityIndex   ReplicaIdentity = "index"
)

// Valid reports whether the identity is one of the known strategies.
func (r ReplicaIdentity) Valid() bool {
	switch r {
	case ReplicaIdentityDefault, ReplicaIdentityNothing, ReplicaIdentityFull, ReplicaIdentityIndex:
		return true
	default:
		return false
	}
}

// UserOptions toggles role attributes on create.
type UserOptions struct {
	Login       bool
	Replication bool
}

// Privilege is a single table grant held by a user.
type Privilege struct {
	Database  string
	Schema    string
	Table     string
	Privilege string
}

type Databases interface {
	HasDatabase(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string, replace bool) error
	DropDatabase(ctx context.Context, name string) error
}

type Schemas interface {
	HasSchema(ctx context.Context, name string, scope Scope) (bool, error)
	CreateSchema(ctx context.Context, name string, scope Scope, replace bool) error
	DropSchema(ctx context.Context, name string, scope Scope) error
}

// TableReader is the read side used when diffing source schemas.
type TableReader interface {
	GetTable(ctx context.Context, name string, scope Scope) (Table, bool, error)
}

type Tables interface {
	TableReader
	HasTable(ctx context.Context, name string, scope Scope) (bool, error)
	// CreateTable executes the caller supplied DDL statement when the table is
	// missing, or after dropping it when replace is set.
	CreateTable(ctx context.Context, name, statement string, scope Scope, replace bool) error
	CreateTableStatement(ctx context.Context, name string, scope Scope) (string, error)
	DropTable(ctx context.Context, name string, scope Scope) error
	TruncateTable(ctx context.Context, name string, scope Scope) error
	// ListTables returns tables sorted by name ascending.
	ListTables(ctx context.Context, scope Scope) ([]Table, error)
}

type ReplicaIdentities interface {
	GetReplicaIdentity(ctx context.Context, table string, scope Scope) (ReplicaIdentity, bool, error)
	// SetReplicaIdentity changes the strategy. index names the unique index
	// used with ReplicaIdentityIndex and is ignored otherwise.
	SetReplicaIdentity(ctx context.Context, table string, identity ReplicaIdentity, index string, scope Scope) error
}

type Users interface {
	HasUser(ctx context.Context, name string) (bool, error)
	CreateUser(ctx context.Context, name, password string, opts UserOptions, replace bool) error
	DropUser(ctx context.Context, name string) error
}

type Privileges interface {
	GrantPrivileges(ctx context.Context, user, schema string) error
	RevokePrivileges(ctx context.Context, user, schema string) error
	ListPrivileges(ctx context.Context, user string) ([]Privilege, error)
}

type Publications interface {
	HasPublication(ctx context.Context, name string) (bool, error)
	// CreatePublication publishes the given tables. Membership cannot be
	// changed afterwards without replace.
	CreatePublication(ctx context.Context, name string, tables []string, replace bool) error
	DropPublication(ctx context.Context, name string) error
	ListPublications(ctx context.Context) ([]string, error)
}

// SchemaAdapter is the full capability set. Drivers return an
// *UnsupportedError for capabilities their database lacks.
type SchemaAdapter interface {
	Dialect() identifier.Dialect
	Databases
	Schemas
	Tables
	ReplicaIdentities
	Users
	Privileges
	Publications
	Close() error
}

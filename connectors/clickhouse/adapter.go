// Package clickhouse implements the columnar schema adapter for a ClickHouse
// destination. ClickHouse has no schemas, publications, replica identities or
// per-schema grants; those capabilities report adapter.ErrUnsupported.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
)

var dialect = identifier.ClickHouse

const (
	hasDatabaseQuery = `SELECT count() > 0 FROM system.databases WHERE name = ?`
	hasTableQuery    = `SELECT count() > 0 FROM system.tables WHERE database = ? AND name = ?`
	hasUserQuery     = `SELECT count() > 0 FROM system.users WHERE name = ?`

	tableColumnsQuery = `SELECT name, type
		 FROM system.columns
		 WHERE database = ? AND table = ?
		 ORDER BY position`

	listTablesQuery = `SELECT name FROM system.tables WHERE database = ? ORDER BY name`

	databaseColumnsQuery = `SELECT table, name, type
		 FROM system.columns
		 WHERE database = ?
		 ORDER BY table, position`
)

// Adapter provisions databases, tables and users on a ClickHouse server.
type Adapter struct {
	settings Settings
	db       *sql.DB
}

var _ adapter.SchemaAdapter = (*Adapter)(nil)

// New opens a connection pool and pings the server.
func New(ctx context.Context, settings Settings) (*Adapter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(settings.Options())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap(adapter.CategoryConnect, "ping", err)
	}
	return &Adapter{settings: settings, db: db}, nil
}

func (a *Adapter) Dialect() identifier.Dialect {
	return dialect
}

func (a *Adapter) Settings() Settings {
	return a.settings
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) database(scope adapter.Scope) string {
	if scope.Database != "" {
		return scope.Database
	}
	return a.settings.DefaultDatabase()
}

func (a *Adapter) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var found bool
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, wrap(adapter.CategoryQuery, op, err)
	}
	return found, nil
}

func (a *Adapter) exec(ctx context.Context, op, statement string) error {
	if _, err := a.db.ExecContext(ctx, statement); err != nil {
		return wrap(adapter.CategoryCommand, op, err)
	}
	return nil
}

func (a *Adapter) HasDatabase(ctx context.Context, name string) (bool, error) {
	return a.exists(ctx, "has database", hasDatabaseQuery, name)
}

func (a *Adapter) CreateDatabase(ctx context.Context, name string, replace bool) error {
	found, err := a.HasDatabase(ctx, name)
	if err != nil {
		return err
	}
	if found {
		if !replace {
			return nil
		}
		if err := a.DropDatabase(ctx, name); err != nil {
			return err
		}
	}
	return a.exec(ctx, "create database", fmt.Sprintf("CREATE DATABASE %s", dialect.Quote(name)))
}

func (a *Adapter) DropDatabase(ctx context.Context, name string) error {
	found, err := a.HasDatabase(ctx, name)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, "drop database", fmt.Sprintf("DROP DATABASE %s", dialect.Quote(name)))
}

func (a *Adapter) HasSchema(context.Context, string, adapter.Scope) (bool, error) {
	return false, adapter.Unsupported(dialect.Name, "schemas")
}

func (a *Adapter) CreateSchema(context.Context, string, adapter.Scope, bool) error {
	return adapter.Unsupported(dialect.Name, "schemas")
}

func (a *Adapter) DropSchema(context.Context, string, adapter.Scope) error {
	return adapter.Unsupported(dialect.Name, "schemas")
}

func (a *Adapter) HasTable(ctx context.Context, name string, scope adapter.Scope) (bool, error) {
	return a.exists(ctx, "has table", hasTableQuery, a.database(scope), name)
}

func (a *Adapter) CreateTable(ctx context.Context, name, statement string, scope adapter.Scope, replace bool) error {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil {
		return err
	}
	if found {
		if !replace {
			return nil
		}
		if err := a.DropTable(ctx, name, scope); err != nil {
			return err
		}
	}
	return a.exec(ctx, "create table", statement)
}

// CreateTableStatement returns the server's DDL for an existing table.
func (a *Adapter) CreateTableStatement(ctx context.Context, name string, scope adapter.Scope) (string, error) {
	var statement string
	query := fmt.Sprintf("SHOW CREATE TABLE %s", dialect.Qualify(a.database(scope), name))
	if err := a.db.QueryRowContext(ctx, query).Scan(&statement); err != nil {
		return "", wrap(adapter.CategoryQuery, "show create table", err)
	}
	return strings.ReplaceAll(statement, `\n`, "\n"), nil
}

func (a *Adapter) DropTable(ctx context.Context, name string, scope adapter.Scope) error {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, "drop table", fmt.Sprintf("DROP TABLE %s", dialect.Qualify(a.database(scope), name)))
}

func (a *Adapter) TruncateTable(ctx context.Context, name string, scope adapter.Scope) error {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, "truncate table", fmt.Sprintf("TRUNCATE TABLE %s", dialect.Qualify(a.database(scope), name)))
}

// DropTables drops every table in the scope's database.
func (a *Adapter) DropTables(ctx context.Context, scope adapter.Scope) error {
	tables, err := a.ListTables(ctx, scope)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := a.DropTable(ctx, table.Name, scope); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) GetTable(ctx context.Context, name string, scope adapter.Scope) (adapter.Table, bool, error) {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return adapter.Table{}, false, err
	}
	database := a.database(scope)
	rows, err := a.db.QueryContext(ctx, tableColumnsQuery, database, name)
	if err != nil {
		return adapter.Table{}, false, wrap(adapter.CategoryQuery, "load columns", err)
	}
	defer rows.Close()

	table := adapter.Table{Container: database, Name: name}
	for rows.Next() {
		var colName, colType string
		if err := rows.Scan(&colName, &colType); err != nil {
			return adapter.Table{}, false, wrap(adapter.CategoryQuery, "scan column", err)
		}
		table.Columns = append(table.Columns, column(colName, colType))
	}
	if err := rows.Err(); err != nil {
		return adapter.Table{}, false, wrap(adapter.CategoryQuery, "iterate columns", err)
	}
	return table, true, nil
}

func (a *Adapter) ListTables(ctx context.Context, scope adapter.Scope) ([]adapter.Table, error) {
	database := a.database(scope)
	names, err := a.listTableNames(ctx, database)
	if err != nil {
		return nil, err
	}
	columns, err := a.databaseColumns(ctx, database)
	if err != nil {
		return nil, err
	}
	tables := make([]adapter.Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, adapter.Table{Container: database, Name: name, Columns: columns[name]})
	}
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
	return tables, nil
}

func (a *Adapter) listTableNames(ctx context.Context, database string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, listTablesQuery, database)
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "list tables", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan table", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate tables", err)
	}
	return names, nil
}

func (a *Adapter) databaseColumns(ctx context.Context, database string) (map[string][]adapter.Column, error) {
	rows, err := a.db.QueryContext(ctx, databaseColumnsQuery, database)
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "load columns", err)
	}
	defer rows.Close()

	out := make(map[string][]adapter.Column)
	for rows.Next() {
		var table, colName, colType string
		if err := rows.Scan(&table, &colName, &colType); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan column", err)
		}
		out[table] = append(out[table], column(colName, colType))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate columns", err)
	}
	return out, nil
}

func column(name, colType string) adapter.Column {
	return adapter.Column{Name: name, Type: colType, Nullable: strings.HasPrefix(colType, "Nullable(")}
}

func (a *Adapter) GetReplicaIdentity(context.Context, string, adapter.Scope) (adapter.ReplicaIdentity, bool, error) {
	return "", false, adapter.Unsupported(dialect.Name, "replica identity")
}

func (a *Adapter) SetReplicaIdentity(context.Context, string, adapter.ReplicaIdentity, string, adapter.Scope) error {
	return adapter.Unsupported(dialect.Name, "replica identity")
}

func (a *Adapter) HasUser(ctx context.Context, name string) (bool, error) {
	return a.exists(ctx, "has user", hasUserQuery, name)
}

// CreateUser creates a password-authenticated user. ClickHouse users can
// always log in, so only the replication attribute is rejected.
func (a *Adapter) CreateUser(ctx context.Context, name, password string, opts adapter.UserOptions, replace bool) error {
	if opts.Replication {
		return adapter.Unsupported(dialect.Name, "replication users")
	}
	found, err := a.HasUser(ctx, name)
	if err != nil {
		return err
	}
	if found {
		if !replace {
			return nil
		}
		if err := a.DropUser(ctx, name); err != nil {
			return err
		}
	}
	return a.exec(ctx, "create user",
		fmt.Sprintf("CREATE USER %s IDENTIFIED BY %s", dialect.Quote(name), quoteLiteral(password)))
}

func (a *Adapter) DropUser(ctx context.Context, name string) error {
	found, err := a.HasUser(ctx, name)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, "drop user", fmt.Sprintf("DROP USER %s", dialect.Quote(name)))
}

func (a *Adapter) GrantPrivileges(context.Context, string, string) error {
	return adapter.Unsupported(dialect.Name, "schema privileges")
}

func (a *Adapter) RevokePrivileges(context.Context, string, string) error {
	return adapter.Unsupported(dialect.Name, "schema privileges")
}

func (a *Adapter) ListPrivileges(context.Context, string) ([]adapter.Privilege, error) {
	return nil, adapter.Unsupported(dialect.Name, "schema privileges")
}

func (a *Adapter) HasPublication(context.Context, string) (bool, error) {
	return false, adapter.Unsupported(dialect.Name, "publications")
}

func (a *Adapter) CreatePublication(context.Context, string, []string, bool) error {
	return adapter.Unsupported(dialect.Name, "publications")
}

func (a *Adapter) DropPublication(context.Context, string) error {
	return adapter.Unsupported(dialect.Name, "publications")
}

func (a *Adapter) ListPublications(context.Context) ([]string, error) {
	return nil, adapter.Unsupported(dialect.Name, "publications")
}

func wrap(category adapter.Category, op string, err error) error {
	return adapter.Wrap(dialect.Name, category, op, err)
}

func quoteLiteral(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return "'" + strings.ReplaceAll(value, "'", `\'`) + "'"
}

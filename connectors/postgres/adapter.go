// Package postgres implements the relational schema adapter used to prepare a
// Postgres source for logical replication.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
)

var dialect = identifier.Postgres

// Adapter provisions databases, schemas, tables, users and publications on a
// Postgres server.
type Adapter struct {
	settings Settings
	db       *sql.DB
	open     func(ctx context.Context, database string) (*sql.DB, error)
}

var _ adapter.SchemaAdapter = (*Adapter)(nil)

// New connects to the configured database.
func New(ctx context.Context, settings Settings) (*Adapter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	iamProvider, err := newRDSIAMTokenProvider(ctx, settings)
	if err != nil {
		return nil, wrap(adapter.CategoryConnect, "rds iam", err)
	}

	a := &Adapter{settings: settings}
	a.open = func(ctx context.Context, database string) (*sql.DB, error) {
		return openDB(ctx, settings, database, iamProvider)
	}
	db, err := a.open(ctx, settings.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	return a, nil
}

func openDB(ctx context.Context, settings Settings, database string, iam *rdsIAMTokenProvider) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(settings.DSN(database))
	if err != nil {
		return nil, wrap(adapter.CategoryConnect, "parse dsn", err)
	}
	var opts []stdlib.OptionOpenDB
	if iam != nil {
		opts = append(opts, stdlib.OptionBeforeConnect(iam.BeforeConnect))
	}
	db := stdlib.OpenDB(*connCfg, opts...)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap(adapter.CategoryConnect, "ping "+database, err)
	}
	return db, nil
}

// Dialect reports the Postgres quoting rules.
func (a *Adapter) Dialect() identifier.Dialect {
	return dialect
}

// Settings returns the connection settings the adapter was built with.
func (a *Adapter) Settings() Settings {
	return a.settings
}

// Close releases the default connection pool.
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
	return a.settings.Database
}

func (a *Adapter) schema(scope adapter.Scope) string {
	if scope.Schema != "" {
		return scope.Schema
	}
	return a.settings.DefaultSchema()
}

// withDB runs fn against the pool for database. A database other than the
// configured one gets a short-lived pool that is closed before returning.
func (a *Adapter) withDB(ctx context.Context, database string, fn func(*sql.DB) error) error {
	if a.db == nil {
		return wrap(adapter.CategoryConnect, "open", errors.New("postgres adapter not initialized"))
	}
	if database == "" || database == a.settings.Database || a.open == nil {
		return fn(a.db)
	}
	db, err := a.open(ctx, database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (a *Adapter) exists(ctx context.Context, db *sql.DB, op, query string, args ...any) (bool, error) {
	var found bool
	if err := db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, wrap(adapter.CategoryQuery, op, err)
	}
	return found, nil
}

func (a *Adapter) exec(ctx context.Context, db *sql.DB, op, statement string) error {
	if _, err := db.ExecContext(ctx, statement); err != nil {
		return wrap(adapter.CategoryCommand, op, err)
	}
	return nil
}

// execTx runs statements in order inside one transaction.
func (a *Adapter) execTx(ctx context.Context, db *sql.DB, op string, statements ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(adapter.CategoryCommand, op, err)
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			_ = tx.Rollback()
			return wrap(adapter.CategoryCommand, op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap(adapter.CategoryCommand, op, err)
	}
	return nil
}

func (a *Adapter) HasDatabase(ctx context.Context, name string) (bool, error) {
	return a.exists(ctx, a.db, "has database",
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_database WHERE datname = $1)", name)
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
	return a.exec(ctx, a.db, "create database", fmt.Sprintf("CREATE DATABASE %s", dialect.Quote(name)))
}

func (a *Adapter) DropDatabase(ctx context.Context, name string) error {
	found, err := a.HasDatabase(ctx, name)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, a.db, "drop database", fmt.Sprintf("DROP DATABASE %s", dialect.Quote(name)))
}

func (a *Adapter) HasSchema(ctx context.Context, name string, scope adapter.Scope) (bool, error) {
	database := a.database(scope)
	var found bool
	err := a.withDB(ctx, database, func(db *sql.DB) error {
		var err error
		found, err = a.exists(ctx, db, "has schema",
			`SELECT EXISTS (SELECT 1 FROM information_schema.schemata
			 WHERE catalog_name = $1 AND schema_name = $2)`, database, name)
		return err
	})
	return found, err
}

func (a *Adapter) CreateSchema(ctx context.Context, name string, scope adapter.Scope, replace bool) error {
	found, err := a.HasSchema(ctx, name, scope)
	if err != nil {
		return err
	}
	if found {
		if !replace {
			return nil
		}
		if err := a.DropSchema(ctx, name, scope); err != nil {
			return err
		}
	}
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "create schema", fmt.Sprintf("CREATE SCHEMA %s", dialect.Quote(name)))
	})
}

func (a *Adapter) DropSchema(ctx context.Context, name string, scope adapter.Scope) error {
	found, err := a.HasSchema(ctx, name, scope)
	if err != nil || !found {
		return err
	}
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "drop schema", fmt.Sprintf("DROP SCHEMA %s CASCADE", dialect.Quote(name)))
	})
}

func wrap(category adapter.Category, op string, err error) error {
	return adapter.Wrap(dialect.Name, category, op, err)
}

func sortTables(tables []adapter.Table) {
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

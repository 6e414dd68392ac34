package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netbek/dw/pkg/adapter"
)

const (
	hasTableQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.tables
		 WHERE table_catalog = $1 AND table_schema = $2 AND table_name = $3)`

	tableColumnsQuery = `SELECT a.attname,
		        format_type(a.atttypid, a.atttypmod) AS data_type,
		        NOT a.attnotnull AS is_nullable
		 FROM pg_class c
		 JOIN pg_namespace ns ON ns.oid = c.relnamespace
		 JOIN pg_attribute a ON a.attrelid = c.oid
		 WHERE ns.nspname = $1
		   AND c.relname = $2
		   AND a.attnum > 0
		   AND NOT a.attisdropped
		 ORDER BY a.attnum`

	listTablesQuery = `SELECT table_name
		 FROM information_schema.tables
		 WHERE table_catalog = $1
		   AND table_schema = $2
		   AND table_type = 'BASE TABLE'
		 ORDER BY table_name`

	schemaColumnsQuery = `SELECT c.relname,
		        a.attname,
		        format_type(a.atttypid, a.atttypmod) AS data_type,
		        NOT a.attnotnull AS is_nullable
		 FROM pg_class c
		 JOIN pg_namespace ns ON ns.oid = c.relnamespace
		 JOIN pg_attribute a ON a.attrelid = c.oid
		 WHERE ns.nspname = $1
		   AND c.relkind IN ('r', 'p')
		   AND a.attnum > 0
		   AND NOT a.attisdropped
		 ORDER BY c.relname, a.attnum`

	replicaIdentityQuery = `SELECT CASE c.relreplident
		          WHEN 'd' THEN 'default'
		          WHEN 'n' THEN 'nothing'
		          WHEN 'f' THEN 'full'
		          WHEN 'i' THEN 'index'
		        END
		 FROM pg_class c
		 JOIN pg_namespace ns ON ns.oid = c.relnamespace
		 WHERE ns.nspname = $1 AND c.relname = $2`
)

func (a *Adapter) HasTable(ctx context.Context, name string, scope adapter.Scope) (bool, error) {
	database, schema := a.database(scope), a.schema(scope)
	var found bool
	err := a.withDB(ctx, database, func(db *sql.DB) error {
		var err error
		found, err = a.exists(ctx, db, "has table", hasTableQuery, database, schema, name)
		return err
	})
	return found, err
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
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "create table", statement)
	})
}

func (a *Adapter) CreateTableStatement(context.Context, string, adapter.Scope) (string, error) {
	return "", adapter.Unsupported(dialect.Name, "create table statements")
}

func (a *Adapter) DropTable(ctx context.Context, name string, scope adapter.Scope) error {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return err
	}
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "drop table", fmt.Sprintf("DROP TABLE %s", dialect.Qualify(a.schema(scope), name)))
	})
}

func (a *Adapter) TruncateTable(ctx context.Context, name string, scope adapter.Scope) error {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return err
	}
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "truncate table", fmt.Sprintf("TRUNCATE TABLE %s", dialect.Qualify(a.schema(scope), name)))
	})
}

// GetTable reflects live column metadata. A missing table reports false.
func (a *Adapter) GetTable(ctx context.Context, name string, scope adapter.Scope) (adapter.Table, bool, error) {
	found, err := a.HasTable(ctx, name, scope)
	if err != nil || !found {
		return adapter.Table{}, false, err
	}

	schema := a.schema(scope)
	table := adapter.Table{Container: schema, Name: name}
	err = a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, tableColumnsQuery, schema, name)
		if err != nil {
			return wrap(adapter.CategoryQuery, "load columns", err)
		}
		defer rows.Close()

		for rows.Next() {
			var col adapter.Column
			if err := rows.Scan(&col.Name, &col.Type, &col.Nullable); err != nil {
				return wrap(adapter.CategoryQuery, "scan column", err)
			}
			table.Columns = append(table.Columns, col)
		}
		if err := rows.Err(); err != nil {
			return wrap(adapter.CategoryQuery, "iterate columns", err)
		}
		return nil
	})
	if err != nil {
		return adapter.Table{}, false, err
	}
	return table, true, nil
}

// ListTables returns the base tables of a schema with their columns, sorted
// by table name.
func (a *Adapter) ListTables(ctx context.Context, scope adapter.Scope) ([]adapter.Table, error) {
	database, schema := a.database(scope), a.schema(scope)
	var tables []adapter.Table
	err := a.withDB(ctx, database, func(db *sql.DB) error {
		names, err := a.listTableNames(ctx, db, database, schema)
		if err != nil {
			return err
		}
		columns, err := a.schemaColumns(ctx, db, schema)
		if err != nil {
			return err
		}
		tables = make([]adapter.Table, 0, len(names))
		for _, name := range names {
			tables = append(tables, adapter.Table{Container: schema, Name: name, Columns: columns[name]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTables(tables)
	return tables, nil
}

func (a *Adapter) listTableNames(ctx context.Context, db *sql.DB, database, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, listTablesQuery, database, schema)
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

func (a *Adapter) schemaColumns(ctx context.Context, db *sql.DB, schema string) (map[string][]adapter.Column, error) {
	rows, err := db.QueryContext(ctx, schemaColumnsQuery, schema)
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "load columns", err)
	}
	defer rows.Close()

	out := make(map[string][]adapter.Column)
	for rows.Next() {
		var table string
		var col adapter.Column
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan column", err)
		}
		out[table] = append(out[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate columns", err)
	}
	return out, nil
}

func (a *Adapter) GetReplicaIdentity(ctx context.Context, table string, scope adapter.Scope) (adapter.ReplicaIdentity, bool, error) {
	var identity string
	var found bool
	err := a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, replicaIdentityQuery, a.schema(scope), table).Scan(&identity)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return wrap(adapter.CategoryQuery, "read replica identity", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return "", false, err
	}
	return adapter.ReplicaIdentity(identity), true, nil
}

// SetReplicaIdentity is a no-op when the table does not exist.
func (a *Adapter) SetReplicaIdentity(ctx context.Context, table string, identity adapter.ReplicaIdentity, index string, scope adapter.Scope) error {
	if !identity.Valid() {
		return fmt.Errorf("invalid replica identity %q", identity)
	}
	if identity == adapter.ReplicaIdentityIndex && index == "" {
		return errors.New("replica identity index requires an index name")
	}
	found, err := a.HasTable(ctx, table, scope)
	if err != nil || !found {
		return err
	}

	clause := string(identity)
	if identity == adapter.ReplicaIdentityIndex {
		clause = "USING INDEX " + dialect.Quote(index)
	}
	statement := fmt.Sprintf("ALTER TABLE %s REPLICA IDENTITY %s", dialect.Qualify(a.schema(scope), table), clause)
	return a.withDB(ctx, a.database(scope), func(db *sql.DB) error {
		return a.exec(ctx, db, "set replica identity", statement)
	})
}

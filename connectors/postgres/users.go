package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/netbek/dw/pkg/adapter"
)

func (a *Adapter) HasUser(ctx context.Context, name string) (bool, error) {
	return a.exists(ctx, a.db, "has user",
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_roles WHERE rolname = $1)", name)
}

func (a *Adapter) CreateUser(ctx context.Context, name, password string, opts adapter.UserOptions, replace bool) error {
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
	return a.exec(ctx, a.db, "create user", createUserStatement(name, password, opts))
}

func createUserStatement(name, password string, opts adapter.UserOptions) string {
	attrs := make([]string, 0, 3)
	if opts.Login {
		attrs = append(attrs, "LOGIN")
	}
	if opts.Replication {
		attrs = append(attrs, "REPLICATION")
	}
	attrs = append(attrs, "PASSWORD "+quoteLiteral(password))
	return fmt.Sprintf("CREATE USER %s WITH %s", dialect.Quote(name), strings.Join(attrs, " "))
}

// DropUser drops every object the user owns before dropping the role so no
// object is left with a dangling owner.
func (a *Adapter) DropUser(ctx context.Context, name string) error {
	found, err := a.HasUser(ctx, name)
	if err != nil || !found {
		return err
	}
	user := dialect.Quote(name)
	return a.execTx(ctx, a.db, "drop user",
		fmt.Sprintf("DROP OWNED BY %s CASCADE", user),
		fmt.Sprintf("DROP USER %s", user),
	)
}

// GrantPrivileges gives read access to every current and future table in
// schema.
func (a *Adapter) GrantPrivileges(ctx context.Context, user, schema string) error {
	found, err := a.HasUser(ctx, user)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("grant privileges to %s: user %w", user, adapter.ErrNotFound)
	}
	quotedUser, quotedSchema := dialect.Quote(user), dialect.Quote(schema)
	return a.execTx(ctx, a.db, "grant privileges",
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", quotedSchema, quotedUser),
		fmt.Sprintf("GRANT SELECT ON ALL TABLES IN SCHEMA %s TO %s", quotedSchema, quotedUser),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT SELECT ON TABLES TO %s", quotedSchema, quotedUser),
	)
}

func (a *Adapter) RevokePrivileges(ctx context.Context, user, schema string) error {
	found, err := a.HasUser(ctx, user)
	if err != nil || !found {
		return err
	}
	quotedUser, quotedSchema := dialect.Quote(user), dialect.Quote(schema)
	return a.execTx(ctx, a.db, "revoke privileges",
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s REVOKE SELECT ON TABLES FROM %s", quotedSchema, quotedUser),
		fmt.Sprintf("REVOKE SELECT ON ALL TABLES IN SCHEMA %s FROM %s", quotedSchema, quotedUser),
		fmt.Sprintf("REVOKE USAGE ON SCHEMA %s FROM %s", quotedSchema, quotedUser),
	)
}

// ListPrivileges returns table grants held by user, or nil for a missing user.
func (a *Adapter) ListPrivileges(ctx context.Context, user string) ([]adapter.Privilege, error) {
	found, err := a.HasUser(ctx, user)
	if err != nil || !found {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT table_catalog, table_schema, table_name, privilege_type
		 FROM information_schema.role_table_grants
		 WHERE grantee = $1
		 ORDER BY 1, 2, 3, 4`, user)
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "list privileges", err)
	}
	defer rows.Close()

	out := make([]adapter.Privilege, 0)
	for rows.Next() {
		var p adapter.Privilege
		if err := rows.Scan(&p.Database, &p.Schema, &p.Table, &p.Privilege); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan privilege", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate privileges", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
)

func (a *Adapter) HasPublication(ctx context.Context, name string) (bool, error) {
	return a.exists(ctx, a.db, "has publication",
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_publication WHERE pubname = $1)", name)
}

// CreatePublication publishes tables given as bare or schema-qualified names.
// Bare names resolve to the default schema. An empty table list publishes all
// tables.
func (a *Adapter) CreatePublication(ctx context.Context, name string, tables []string, replace bool) error {
	statement, err := a.createPublicationStatement(name, tables)
	if err != nil {
		return err
	}
	found, err := a.HasPublication(ctx, name)
	if err != nil {
		return err
	}
	if found {
		if !replace {
			return nil
		}
		if err := a.DropPublication(ctx, name); err != nil {
			return err
		}
	}
	return a.exec(ctx, a.db, "create publication", statement)
}

func (a *Adapter) createPublicationStatement(name string, tables []string) (string, error) {
	if len(tables) == 0 {
		return fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", dialect.Quote(name)), nil
	}
	qualified := make([]string, 0, len(tables))
	for _, table := range tables {
		parsed, err := identifier.ParsePostgres(table)
		if err != nil {
			return "", fmt.Errorf("publication %s: %w", name, err)
		}
		qualified = append(qualified, parsed.WithDefaultContainer(a.settings.DefaultSchema()).String())
	}
	return fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", dialect.Quote(name), strings.Join(qualified, ", ")), nil
}

func (a *Adapter) DropPublication(ctx context.Context, name string) error {
	found, err := a.HasPublication(ctx, name)
	if err != nil || !found {
		return err
	}
	return a.exec(ctx, a.db, "drop publication", fmt.Sprintf("DROP PUBLICATION %s", dialect.Quote(name)))
}

// ListPublications returns publication names sorted ascending.
func (a *Adapter) ListPublications(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT pubname FROM pg_catalog.pg_publication ORDER BY pubname")
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "list publications", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan publication", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate publications", err)
	}
	sort.Strings(out)
	return out, nil
}

// PublicationTables returns the schema-qualified tables of a publication.
func (a *Adapter) PublicationTables(ctx context.Context, name string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT schemaname, tablename
		 FROM pg_catalog.pg_publication_tables
		 WHERE pubname = $1
		 ORDER BY schemaname, tablename`, name)
	if err != nil {
		return nil, wrap(adapter.CategoryQuery, "list publication tables", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, wrap(adapter.CategoryQuery, "scan publication table", err)
		}
		out = append(out, schema+"."+table)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(adapter.CategoryQuery, "iterate publication tables", err)
	}
	return out, nil
}

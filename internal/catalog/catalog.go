// Package catalog answers which columns a destination table declares.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/netbek/dw/internal/dbt"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
)

// Catalog resolves a destination table to its declared columns. A table the
// catalog does not know reports false.
type Catalog interface {
	Lookup(ctx context.Context, table identifier.Table) (adapter.Table, bool, error)
}

// Static is an in-memory catalog keyed by table name.
type Static struct {
	tables map[string][]adapter.Table
}

// NewStatic indexes tables by name. Tables with a container only match
// lookups for that container or lookups without one.
func NewStatic(tables ...adapter.Table) *Static {
	s := &Static{tables: make(map[string][]adapter.Table)}
	for _, table := range tables {
		s.tables[table.Name] = append(s.tables[table.Name], table)
	}
	return s
}

func (s *Static) Lookup(_ context.Context, table identifier.Table) (adapter.Table, bool, error) {
	for _, candidate := range s.tables[table.Name] {
		if table.Container == "" || candidate.Container == "" || candidate.Container == table.Container {
			return candidate, true, nil
		}
	}
	return adapter.Table{}, false, nil
}

// Names lists the distinct table names the catalog knows, sorted.
func (s *Static) Names() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Live reads declared columns from a database where the destination tables
// already exist. A table container maps to the database.
type Live struct {
	Reader adapter.TableReader
}

func NewLive(reader adapter.TableReader) *Live {
	return &Live{Reader: reader}
}

func (l *Live) Lookup(ctx context.Context, table identifier.Table) (adapter.Table, bool, error) {
	return l.Reader.GetTable(ctx, table.Name, adapter.Scope{Database: table.Container})
}

// DBT reads destination tables from dbt source definitions. The source
// listing runs once per catalog.
type DBT struct {
	Project dbt.Project

	once    sync.Once
	sources []dbt.Resource
	err     error
}

func NewDBT(project dbt.Project) *DBT {
	return &DBT{Project: project}
}

// Lookup matches a dbt source table by name. When several sources declare
// the same table name, the one whose source name equals the container wins.
func (c *DBT) Lookup(ctx context.Context, table identifier.Table) (adapter.Table, bool, error) {
	c.once.Do(func() {
		c.sources, c.err = c.Project.ListResources(ctx, "", dbt.ResourceSource)
	})
	if c.err != nil {
		return adapter.Table{}, false, fmt.Errorf("list dbt sources: %w", c.err)
	}

	var match *dbt.Resource
	for i := range c.sources {
		source := &c.sources[i]
		if source.ResourceType != dbt.ResourceSource || source.Name != table.Name {
			continue
		}
		if match == nil || (table.Container != "" && source.SourceName == table.Container) {
			match = source
		}
	}
	if match == nil {
		return adapter.Table{}, false, nil
	}
	if match.OriginalConfig == nil {
		return adapter.Table{}, false, fmt.Errorf("dbt source %s: no YAML definition found at %s", match.UniqueID, match.OriginalFilePath)
	}

	out := adapter.Table{Container: match.SourceName, Name: match.Name}
	for _, col := range match.OriginalConfig.Columns {
		out.Columns = append(out.Columns, adapter.Column{Name: col.Name, Type: col.DataType, Nullable: true})
	}
	return out, true, nil
}

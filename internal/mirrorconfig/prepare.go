package mirrorconfig

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/netbek/dw/internal/catalog"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
	"github.com/rs/zerolog"
)

const (
	// DefaultSourcePeer names the peer whose database is read when computing
	// column exclusions.
	DefaultSourcePeer = "source"
	// DefaultSourceSchema qualifies bare source table names.
	DefaultSourceSchema = "public"
)

// SourceOpener connects to the database behind a peer. A returned reader that
// implements io.Closer is closed when Prepare is done with it.
type SourceOpener func(ctx context.Context, peer Peer) (adapter.TableReader, error)

// Options controls Prepare.
type Options struct {
	// GenerateExclude computes the exclude list of every table mapping.
	GenerateExclude bool
	// SourcePeer defaults to DefaultSourcePeer.
	SourcePeer string
	// Source reads live source tables. When nil, OpenSource is used.
	Source     adapter.TableReader
	OpenSource SourceOpener
	// Catalog declares destination columns.
	Catalog catalog.Catalog
	Logger  zerolog.Logger
}

func (o Options) sourcePeer() string {
	if o.SourcePeer == "" {
		return DefaultSourcePeer
	}
	return o.SourcePeer
}

// Prepare normalizes a raw declarative document. The document is not
// modified.
func Prepare(ctx context.Context, raw map[string]any, opts Options) (*Canonical, error) {
	doc := deepCopyMap(raw)
	out := &Canonical{}

	var err error
	if out.Peers, err = preparePeers(doc["peers"]); err != nil {
		return nil, err
	}
	if out.Publications, err = preparePublications(doc["publications"]); err != nil {
		return nil, err
	}
	if out.Users, err = prepareUsers(doc["users"]); err != nil {
		return nil, err
	}
	if out.Settings, err = prepareSettings(doc["settings"]); err != nil {
		return nil, err
	}
	if out.Mirrors, err = prepareMirrors(doc["mirrors"]); err != nil {
		return nil, err
	}

	if opts.GenerateExclude && len(out.Mirrors) > 0 {
		if out.Mirrors, err = generateExcludes(ctx, out, opts); err != nil {
			return nil, err
		}
	}

	if out.PublicationSchemas, err = publicationSchemas(out); err != nil {
		return nil, err
	}
	return out, nil
}

func section(value any, path string) (map[string]any, error) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, configErrorf(path, "expected a mapping, got %T", value)
	}
}

func preparePeers(value any) (map[string]Peer, error) {
	raw, err := section(value, "peers")
	if err != nil {
		return nil, err
	}
	entries, err := ApplyDefaults(raw, "peers")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Peer, len(entries))
	for name, value := range entries {
		fields := value.(map[string]any)
		fields["name"] = name
		peerType, _ := fields["type"].(string)
		out[name] = Peer{Name: name, Type: peerType, Fields: fields}
	}
	return out, nil
}

func preparePublications(value any) (map[string]Publication, error) {
	raw, err := section(value, "publications")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Publication, len(raw))
	for name, value := range raw {
		path := "publications." + name
		list := value
		if m, ok := value.(map[string]any); ok {
			list = m["table_identifiers"]
			path += ".table_identifiers"
		}
		tables, err := stringList(list, path)
		if err != nil {
			return nil, err
		}
		for i, table := range tables {
			if _, err := identifier.ParsePostgres(table); err != nil {
				return nil, wrapConfigError(fmt.Sprintf("%s[%d]", path, i), "invalid source table", err)
			}
		}
		out[name] = Publication{Name: name, Tables: tables}
	}
	return out, nil
}

func prepareUsers(value any) (map[string]User, error) {
	raw, err := section(value, "users")
	if err != nil {
		return nil, err
	}
	out := make(map[string]User, len(raw))
	for name, value := range raw {
		path := "users." + name
		fields, err := entryMap(value, path)
		if err != nil {
			return nil, err
		}
		password, ok := fields["password"].(string)
		if !ok || password == "" {
			return nil, configErrorf(path+".password", "a non-empty string is required")
		}
		out[name] = User{Name: name, Password: password}
	}
	return out, nil
}

func prepareSettings(value any) (map[string]string, error) {
	raw, err := section(value, "settings")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case nil:
			return nil, configErrorf("settings."+name, "a value is required")
		case map[string]any, []any:
			return nil, configErrorf("settings."+name, "expected a scalar, got %T", value)
		case string:
			out[name] = v
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func prepareMirrors(value any) (map[string]Mirror, error) {
	raw, err := section(value, "mirrors")
	if err != nil {
		return nil, err
	}
	entries, err := ApplyDefaults(raw, "mirrors")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Mirror, len(entries))
	for name, value := range entries {
		path := "mirrors." + name
		fields := value.(map[string]any)
		mirror := Mirror{FlowJobName: name}
		if mirror.SourceName, err = requiredString(fields, "source_name", path); err != nil {
			return nil, err
		}
		if mirror.DestinationName, err = requiredString(fields, "destination_name", path); err != nil {
			return nil, err
		}
		if mirror.TableMappings, err = tableMappings(fields["table_mappings"], path+".table_mappings"); err != nil {
			return nil, err
		}
		delete(fields, "flow_job_name")
		delete(fields, "source_name")
		delete(fields, "destination_name")
		delete(fields, "table_mappings")
		mirror.Options = fields
		out[name] = mirror
	}
	return out, nil
}

func tableMappings(value any, path string) ([]TableMapping, error) {
	if value == nil {
		return nil, configErrorf(path, "at least one table mapping is required")
	}
	items, ok := value.([]any)
	if !ok {
		return nil, configErrorf(path, "expected a list, got %T", value)
	}
	if len(items) == 0 {
		return nil, configErrorf(path, "at least one table mapping is required")
	}
	out := make([]TableMapping, 0, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		fields, err := entryMap(item, itemPath)
		if err != nil {
			return nil, err
		}
		mapping := TableMapping{}
		if mapping.Source, err = requiredString(fields, "source_table_identifier", itemPath); err != nil {
			return nil, err
		}
		if _, err := identifier.ParsePostgres(mapping.Source); err != nil {
			return nil, wrapConfigError(itemPath+".source_table_identifier", "invalid source table", err)
		}
		if mapping.Destination, err = requiredString(fields, "destination_table_identifier", itemPath); err != nil {
			return nil, err
		}
		if _, err := identifier.ParseClickHouse(mapping.Destination); err != nil {
			return nil, wrapConfigError(itemPath+".destination_table_identifier", "invalid destination table", err)
		}
		if exclude, ok := fields["exclude"]; ok && exclude != nil {
			if mapping.Exclude, err = stringList(exclude, itemPath+".exclude"); err != nil {
				return nil, err
			}
		}
		delete(fields, "source_table_identifier")
		delete(fields, "destination_table_identifier")
		delete(fields, "exclude")
		mapping.Options = fields
		out = append(out, mapping)
	}
	return out, nil
}

func generateExcludes(ctx context.Context, cfg *Canonical, opts Options) (map[string]Mirror, error) {
	if opts.Catalog == nil {
		return nil, configErrorf("", "a destination schema catalog is required to generate excludes")
	}
	source := opts.Source
	if source == nil {
		peerName := opts.sourcePeer()
		peer, ok := cfg.Peers[peerName]
		if !ok {
			return nil, configErrorf("peers", "source peer %q not found", peerName)
		}
		if opts.OpenSource == nil {
			return nil, configErrorf("peers."+peerName, "no way to connect to the source peer")
		}
		reader, err := opts.OpenSource(ctx, peer)
		if err != nil {
			return nil, fmt.Errorf("open source peer %s: %w", peerName, err)
		}
		if closer, ok := reader.(io.Closer); ok {
			defer closer.Close()
		}
		source = reader
	}

	out := make(map[string]Mirror, len(cfg.Mirrors))
	for _, mirror := range cfg.SortedMirrors() {
		computed := mirror
		computed.Options = deepCopyMap(mirror.Options)
		computed.TableMappings = make([]TableMapping, 0, len(mirror.TableMappings))
		for i, mapping := range mirror.TableMappings {
			path := fmt.Sprintf("mirrors.%s.table_mappings[%d]", mirror.FlowJobName, i)
			exclude, err := excludeFor(ctx, source, opts.Catalog, mapping, path)
			if err != nil {
				return nil, err
			}
			opts.Logger.Debug().
				Str("mirror", mirror.FlowJobName).
				Str("source", mapping.Source).
				Strs("exclude", exclude).
				Msg("computed excluded columns")
			next := mapping
			next.Options = deepCopyMap(mapping.Options)
			next.Exclude = exclude
			computed.TableMappings = append(computed.TableMappings, next)
		}
		out[mirror.FlowJobName] = computed
	}
	return out, nil
}

func excludeFor(ctx context.Context, source adapter.TableReader, cat catalog.Catalog, mapping TableMapping, path string) ([]string, error) {
	src, err := identifier.ParsePostgres(mapping.Source)
	if err != nil {
		return nil, wrapConfigError(path, "invalid source table", err)
	}
	src = src.WithDefaultContainer(DefaultSourceSchema)
	sourceTable, found, err := source.GetTable(ctx, src.Name, adapter.Scope{Schema: src.Container})
	if err != nil {
		return nil, fmt.Errorf("read source table %s: %w", src, err)
	}
	if !found {
		return nil, configErrorf(path, "source table %s not found", mapping.Source)
	}

	dst, err := identifier.ParseClickHouse(mapping.Destination)
	if err != nil {
		return nil, wrapConfigError(path, "invalid destination table", err)
	}
	destTable, found, err := cat.Lookup(ctx, dst)
	if err != nil {
		return nil, fmt.Errorf("look up destination table %s: %w", dst, err)
	}
	if !found {
		return nil, configErrorf(path, "destination table %s not found in schema catalog", mapping.Destination)
	}
	return ExcludeColumns(sourceTable.ColumnNames(), destTable.ColumnNames()), nil
}

func publicationSchemas(cfg *Canonical) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(value string) error {
		table, err := identifier.ParsePostgres(value)
		if err != nil {
			return wrapConfigError("", "invalid source table", err)
		}
		seen[table.WithDefaultContainer(DefaultSourceSchema).Container] = struct{}{}
		return nil
	}
	for _, publication := range cfg.Publications {
		for _, table := range publication.Tables {
			if err := add(table); err != nil {
				return nil, err
			}
		}
	}
	for _, mirror := range cfg.Mirrors {
		for _, mapping := range mirror.TableMappings {
			if err := add(mapping.Source); err != nil {
				return nil, err
			}
		}
	}
	out := make([]string, 0, len(seen))
	for schema := range seen {
		out = append(out, schema)
	}
	sort.Strings(out)
	return out, nil
}

func requiredString(fields map[string]any, key, path string) (string, error) {
	value, ok := fields[key].(string)
	if !ok || value == "" {
		return "", configErrorf(path+"."+key, "a non-empty string is required")
	}
	return value, nil
}

func stringList(value any, path string) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, configErrorf(fmt.Sprintf("%s[%d]", path, i), "expected a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, configErrorf(path, "expected a list, got %T", value)
	}
}

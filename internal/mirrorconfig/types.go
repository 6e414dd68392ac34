// Package mirrorconfig turns a declarative mirror document into the canonical
// configuration consumed by the reconciler.
package mirrorconfig

import (
	"encoding/json"
	"sort"
)

// Peer is a named connection descriptor passed through to the control plane.
// Fields holds every key of the peer, including name and type.
type Peer struct {
	Name   string
	Type   string
	Fields map[string]any
}

// Block returns a nested config block such as postgres_config.
func (p Peer) Block(key string) map[string]any {
	block, _ := p.Fields[key].(map[string]any)
	return block
}

func (p Peer) document() map[string]any {
	out := deepCopyMap(p.Fields)
	out["name"] = p.Name
	return out
}

func (p Peer) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.document())
}

// Publication is a named set of source tables.
type Publication struct {
	Name   string
	Tables []string
}

func (p Publication) document() map[string]any {
	return map[string]any{"name": p.Name, "table_identifiers": append([]string{}, p.Tables...)}
}

// User is a replication login created on the source.
type User struct {
	Name     string
	Password string
}

func (u User) document() map[string]any {
	return map[string]any{"name": u.Name, "password": u.Password}
}

// TableMapping routes one source table to one destination table.
type TableMapping struct {
	Source      string
	Destination string
	// Exclude is nil when no exclusion was declared or computed.
	Exclude []string
	Options map[string]any
}

func (m TableMapping) document() map[string]any {
	out := deepCopyMap(m.Options)
	out["source_table_identifier"] = m.Source
	out["destination_table_identifier"] = m.Destination
	if m.Exclude != nil {
		out["exclude"] = append([]string{}, m.Exclude...)
	}
	return out
}

// Mirror is a replication job definition. Options carries the remaining job
// settings verbatim.
type Mirror struct {
	FlowJobName     string
	SourceName      string
	DestinationName string
	TableMappings   []TableMapping
	Options         map[string]any
}

func (m Mirror) document() map[string]any {
	out := deepCopyMap(m.Options)
	out["flow_job_name"] = m.FlowJobName
	out["source_name"] = m.SourceName
	out["destination_name"] = m.DestinationName
	mappings := make([]any, 0, len(m.TableMappings))
	for _, mapping := range m.TableMappings {
		mappings = append(mappings, mapping.document())
	}
	out["table_mappings"] = mappings
	return out
}

// MarshalJSON renders the connection config expected by the control plane.
func (m Mirror) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.document())
}

// Canonical is the normalized configuration. It is built once by Prepare and
// treated as read-only afterwards.
type Canonical struct {
	Peers              map[string]Peer
	Publications       map[string]Publication
	Users              map[string]User
	Mirrors            map[string]Mirror
	Settings           map[string]string
	PublicationSchemas []string
}

// Document renders the canonical config as plain maps and slices.
func (c *Canonical) Document() map[string]any {
	peers := make(map[string]any, len(c.Peers))
	for name, peer := range c.Peers {
		peers[name] = peer.document()
	}
	publications := make(map[string]any, len(c.Publications))
	for name, publication := range c.Publications {
		publications[name] = publication.document()
	}
	users := make(map[string]any, len(c.Users))
	for name, user := range c.Users {
		users[name] = user.document()
	}
	mirrors := make(map[string]any, len(c.Mirrors))
	for name, mirror := range c.Mirrors {
		mirrors[name] = mirror.document()
	}
	settings := make(map[string]any, len(c.Settings))
	for name, value := range c.Settings {
		settings[name] = value
	}
	return map[string]any{
		"peers":               peers,
		"publications":        publications,
		"users":               users,
		"mirrors":             mirrors,
		"settings":            settings,
		"publication_schemas": append([]string{}, c.PublicationSchemas...),
	}
}

func (c *Canonical) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Document())
}

func (c *Canonical) MarshalYAML() (any, error) {
	return c.Document(), nil
}

// SortedPeers returns peers in name order.
func (c *Canonical) SortedPeers() []Peer {
	out := make([]Peer, 0, len(c.Peers))
	for _, name := range sortedKeys(c.Peers) {
		out = append(out, c.Peers[name])
	}
	return out
}

// SortedPublications returns publications in name order.
func (c *Canonical) SortedPublications() []Publication {
	out := make([]Publication, 0, len(c.Publications))
	for _, name := range sortedKeys(c.Publications) {
		out = append(out, c.Publications[name])
	}
	return out
}

// SortedUsers returns users in name order.
func (c *Canonical) SortedUsers() []User {
	out := make([]User, 0, len(c.Users))
	for _, name := range sortedKeys(c.Users) {
		out = append(out, c.Users[name])
	}
	return out
}

// SortedMirrors returns mirrors in name order.
func (c *Canonical) SortedMirrors() []Mirror {
	out := make([]Mirror, 0, len(c.Mirrors))
	for _, name := range sortedKeys(c.Mirrors) {
		out = append(out, c.Mirrors[name])
	}
	return out
}

// SettingNames returns setting names in order.
func (c *Canonical) SettingNames() []string {
	return sortedKeys(c.Settings)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package mirror

import (
	"context"

	"github.com/netbek/dw/internal/mirrorconfig"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/rs/zerolog"
)

// SourceAdmin is the source database surface used for provisioning.
type SourceAdmin interface {
	adapter.Users
	adapter.Privileges
	adapter.Publications
}

// Provisioner prepares the source database for logical replication.
type Provisioner struct {
	source SourceAdmin
	log    zerolog.Logger
}

func NewProvisioner(source SourceAdmin, logger zerolog.Logger) *Provisioner {
	return &Provisioner{source: source, log: logger}
}

// EnsureUser creates a login replication user and grants it read access to
// every schema.
func (p *Provisioner) EnsureUser(ctx context.Context, user mirrorconfig.User, schemas []string) error {
	opts := adapter.UserOptions{Login: true, Replication: true}
	if err := p.source.CreateUser(ctx, user.Name, user.Password, opts, false); err != nil {
		return err
	}
	for _, schema := range schemas {
		if err := p.source.GrantPrivileges(ctx, user.Name, schema); err != nil {
			return err
		}
	}
	p.log.Info().Str("user", user.Name).Strs("schemas", schemas).Msg("provisioned replication user")
	return nil
}

// RemoveUser revokes schema access and drops the user.
func (p *Provisioner) RemoveUser(ctx context.Context, name string, schemas []string) error {
	for _, schema := range schemas {
		if err := p.source.RevokePrivileges(ctx, name, schema); err != nil {
			return err
		}
	}
	if err := p.source.DropUser(ctx, name); err != nil {
		return err
	}
	p.log.Info().Str("user", name).Msg("removed replication user")
	return nil
}

func (p *Provisioner) EnsurePublication(ctx context.Context, publication mirrorconfig.Publication) error {
	if err := p.source.CreatePublication(ctx, publication.Name, publication.Tables, false); err != nil {
		return err
	}
	p.log.Info().Str("publication", publication.Name).Int("tables", len(publication.Tables)).Msg("ensured publication")
	return nil
}

func (p *Provisioner) RemovePublication(ctx context.Context, name string) error {
	if err := p.source.DropPublication(ctx, name); err != nil {
		return err
	}
	p.log.Info().Str("publication", name).Msg("removed publication")
	return nil
}

func (p *Provisioner) ListPublications(ctx context.Context) ([]string, error) {
	return p.source.ListPublications(ctx)
}

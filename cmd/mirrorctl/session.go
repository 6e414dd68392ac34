package main

import (
	"context"
	"fmt"
	"io"

	"github.com/netbek/dw/connectors/clickhouse"
	"github.com/netbek/dw/connectors/postgres"
	"github.com/netbek/dw/internal/catalog"
	"github.com/netbek/dw/internal/cli"
	"github.com/netbek/dw/internal/config"
	"github.com/netbek/dw/internal/controlplane"
	"github.com/netbek/dw/internal/dbt"
	"github.com/netbek/dw/internal/mirror"
	"github.com/netbek/dw/internal/mirrorconfig"
	"github.com/netbek/dw/internal/telemetry"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type (
	sourceSettings      = postgres.Settings
	destinationSettings = clickhouse.Settings
	dbtRunner           = dbt.Runner
)

// sourceDB is the source database surface mirrorctl drives.
type sourceDB interface {
	mirror.SourceAdmin
	adapter.TableReader
	PublicationTables(ctx context.Context, name string) ([]string, error)
	io.Closer
}

type destinationDB interface {
	adapter.Databases
	adapter.TableReader
	io.Closer
}

var (
	_ sourceDB      = (*postgres.Adapter)(nil)
	_ destinationDB = (*clickhouse.Adapter)(nil)
)

func openPostgres(ctx context.Context, settings sourceSettings) (sourceDB, error) {
	db, err := postgres.New(ctx, settings)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func openClickHouse(ctx context.Context, settings destinationSettings) (destinationDB, error) {
	db, err := clickhouse.New(ctx, settings)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func execDBTRunner(cfg *config.Config, logger zerolog.Logger) dbtRunner {
	return dbt.ExecRunner{Binary: cfg.DBT.Binary, Logger: logger}
}

// session holds the resolved settings of one command invocation and the
// connections it opened.
type session struct {
	app     *app
	cmd     *cobra.Command
	cfg     *config.Config
	log     zerolog.Logger
	closers []io.Closer

	dest       destinationDB
	destOpened bool
}

func (a *app) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := cli.Resolve(cmd, a.base)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(a.stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &session{
		app: a,
		cmd: cmd,
		cfg: cfg,
		log: logger.With().Str("command", cmd.Name()).Logger(),
	}, nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn().Err(err).Msg("close connection")
		}
	}
	s.closers = nil
}

// prepare loads the mirror document and normalizes it.
func (s *session) prepare(ctx context.Context) (*mirrorconfig.Canonical, error) {
	raw, err := mirrorconfig.Load(s.app.fs, s.cfg.File)
	if err != nil {
		return nil, err
	}
	opts := mirrorconfig.Options{
		GenerateExclude: s.cfg.GenerateExclude,
		SourcePeer:      s.cfg.SourcePeer,
		OpenSource: func(ctx context.Context, peer mirrorconfig.Peer) (adapter.TableReader, error) {
			return s.openSourcePeer(ctx, peer)
		},
		Logger: s.log,
	}
	switch {
	case s.cfg.DBT.Enabled():
		opts.Catalog = catalog.NewDBT(dbt.Project{
			Dir:         s.cfg.DBT.ProjectDir,
			ProfilesDir: s.cfg.DBT.ProfilesDir,
			Target:      s.cfg.DBT.Target,
			Fs:          s.app.fs,
			Runner:      s.app.dbtRunner(s.cfg, s.log),
		})
	case s.cfg.GenerateExclude:
		// The destination peer is only known once the document is normalized.
		declared, err := mirrorconfig.Prepare(ctx, raw, mirrorconfig.Options{Logger: s.log})
		if err != nil {
			return nil, err
		}
		destination, err := s.destination(ctx, declared)
		if err != nil {
			return nil, err
		}
		if destination != nil {
			opts.Catalog = catalog.NewLive(destination)
		}
	}
	return mirrorconfig.Prepare(ctx, raw, opts)
}

// openSourcePeer connects to the database described by the peer's
// postgres_config. The caller owns the returned connection.
func (s *session) openSourcePeer(ctx context.Context, peer mirrorconfig.Peer) (sourceDB, error) {
	block := peer.Block("postgres_config")
	if block == nil {
		return nil, fmt.Errorf("peer %s has no postgres_config", peer.Name)
	}
	settings, err := postgres.SettingsFromPeer(block)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", peer.Name, err)
	}
	return s.app.openSource(ctx, settings)
}

// source opens the configured source peer for the rest of the session.
func (s *session) source(ctx context.Context, cfg *mirrorconfig.Canonical) (sourceDB, error) {
	peer, ok := cfg.Peers[s.cfg.SourcePeer]
	if !ok {
		return nil, fmt.Errorf("source peer %q is not declared", s.cfg.SourcePeer)
	}
	db, err := s.openSourcePeer(ctx, peer)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db)
	return db, nil
}

// destination opens the ClickHouse peer every mirror writes to, once per
// session. Mixed or non-ClickHouse destinations report nil.
func (s *session) destination(ctx context.Context, cfg *mirrorconfig.Canonical) (destinationDB, error) {
	if s.destOpened {
		return s.dest, nil
	}
	db, err := s.openDestinationPeer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.dest, s.destOpened = db, true
	return db, nil
}

func (s *session) openDestinationPeer(ctx context.Context, cfg *mirrorconfig.Canonical) (destinationDB, error) {
	name := ""
	for _, m := range cfg.SortedMirrors() {
		if name != "" && m.DestinationName != name {
			s.log.Debug().Msg("mirrors use several destination peers; skipping destination databases")
			return nil, nil
		}
		name = m.DestinationName
	}
	peer, ok := cfg.Peers[name]
	if !ok {
		return nil, nil
	}
	block := peer.Block("clickhouse_config")
	if block == nil {
		return nil, nil
	}
	settings, err := clickhouse.SettingsFromPeer(block)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", peer.Name, err)
	}
	db, err := s.app.openDestination(ctx, settings)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db)
	return db, nil
}

// reconciler wires a Reconciler for cfg. With provision set the source and
// destination databases are opened too.
func (s *session) reconciler(ctx context.Context, cfg *mirrorconfig.Canonical, provision bool) (*mirror.Reconciler, error) {
	client, err := controlplane.New(controlplane.Config{
		URL:      s.cfg.API.URL,
		Timeout:  s.cfg.API.Timeout,
		Password: s.cfg.API.Password,
	})
	if err != nil {
		return nil, err
	}
	r := &mirror.Reconciler{
		Config:     cfg,
		Controller: mirror.NewController(client, s.log),
		Tracer:     telemetry.Tracer(""),
		Logger:     s.log,
	}
	if !provision {
		return r, nil
	}
	if len(cfg.Users) > 0 || len(cfg.Publications) > 0 {
		source, err := s.source(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.Provisioner = mirror.NewProvisioner(source, s.log)
	}
	destination, err := s.destination(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if destination != nil {
		r.Destination = destination
	}
	return r, nil
}

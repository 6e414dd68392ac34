package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/netbek/dw/internal/controlplane"
	"github.com/netbek/dw/internal/mirrorconfig"
	"github.com/netbek/dw/internal/telemetry"
	"github.com/netbek/dw/pkg/adapter"
	"github.com/netbek/dw/pkg/identifier"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reconciler converges the control plane and the source database on a
// canonical config.
type Reconciler struct {
	Config     *mirrorconfig.Canonical
	Controller *Controller
	// Provisioner is optional; without it users and publications are left
	// alone.
	Provisioner *Provisioner
	// Destination is optional; when set, destination databases named by
	// table mappings are created before mirrors.
	Destination adapter.Databases
	Tracer      trace.Tracer
	Logger      zerolog.Logger
}

// MirrorState is a row of Status.
type MirrorState struct {
	Name  string
	State string
	Found bool
}

func (r *Reconciler) run(ctx context.Context, action string, fn func(context.Context, zerolog.Logger) error) error {
	if r.Config == nil || r.Controller == nil {
		return fmt.Errorf("reconciler requires a config and a controller")
	}
	runID := uuid.NewString()
	logger := r.Logger.With().Str("run_id", runID).Str("action", action).Logger()
	logger.Info().Msg("reconcile started")
	err := telemetry.Step(ctx, r.Tracer, "mirror."+action, func(ctx context.Context) error {
		return fn(ctx, logger)
	}, attribute.String("run_id", runID))
	if err != nil {
		logger.Error().Err(err).Msg("reconcile failed")
		return err
	}
	logger.Info().Msg("reconcile finished")
	return nil
}

func (r *Reconciler) step(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	return telemetry.Step(ctx, r.Tracer, name, fn, attrs...)
}

// Apply creates everything the config declares. Order: settings, destination
// databases, users, publications, peers, mirrors.
func (r *Reconciler) Apply(ctx context.Context) error {
	return r.run(ctx, "apply", func(ctx context.Context, log zerolog.Logger) error {
		cfg := r.Config
		if err := r.step(ctx, "mirror.settings", func(ctx context.Context) error {
			return r.Controller.UpdateSettings(ctx, cfg)
		}); err != nil {
			return err
		}

		if r.Destination != nil {
			for _, database := range destinationDatabases(cfg) {
				if err := r.step(ctx, "mirror.destination_database", func(ctx context.Context) error {
					return r.Destination.CreateDatabase(ctx, database, false)
				}, attribute.String("database", database)); err != nil {
					return err
				}
				log.Debug().Str("database", database).Msg("ensured destination database")
			}
		}

		if r.Provisioner != nil {
			for _, user := range cfg.SortedUsers() {
				if err := r.step(ctx, "mirror.user", func(ctx context.Context) error {
					return r.Provisioner.EnsureUser(ctx, user, cfg.PublicationSchemas)
				}, attribute.String("user", user.Name)); err != nil {
					return err
				}
			}
			for _, publication := range cfg.SortedPublications() {
				if err := r.step(ctx, "mirror.publication", func(ctx context.Context) error {
					return r.Provisioner.EnsurePublication(ctx, publication)
				}, attribute.String("publication", publication.Name)); err != nil {
					return err
				}
			}
		}

		for _, peer := range cfg.SortedPeers() {
			if err := r.step(ctx, "mirror.peer", func(ctx context.Context) error {
				return r.Controller.CreatePeer(ctx, peer)
			}, attribute.String("peer", peer.Name)); err != nil {
				return err
			}
		}
		for _, mirror := range cfg.SortedMirrors() {
			if err := r.step(ctx, "mirror.mirror", func(ctx context.Context) error {
				return r.Controller.CreateMirror(ctx, mirror)
			}, attribute.String("mirror", mirror.FlowJobName)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Destroy removes what Apply created, in reverse dependency order: mirrors,
// peers, publications, users. Destination databases are kept.
func (r *Reconciler) Destroy(ctx context.Context) error {
	return r.run(ctx, "destroy", func(ctx context.Context, _ zerolog.Logger) error {
		cfg := r.Config
		for _, mirror := range cfg.SortedMirrors() {
			if err := r.step(ctx, "mirror.drop_mirror", func(ctx context.Context) error {
				return r.Controller.DropMirror(ctx, mirror.FlowJobName)
			}, attribute.String("mirror", mirror.FlowJobName)); err != nil {
				return err
			}
		}
		for _, peer := range cfg.SortedPeers() {
			if err := r.step(ctx, "mirror.drop_peer", func(ctx context.Context) error {
				return r.Controller.DropPeer(ctx, peer.Name)
			}, attribute.String("peer", peer.Name)); err != nil {
				return err
			}
		}
		if r.Provisioner == nil {
			return nil
		}
		for _, publication := range cfg.SortedPublications() {
			if err := r.step(ctx, "mirror.drop_publication", func(ctx context.Context) error {
				return r.Provisioner.RemovePublication(ctx, publication.Name)
			}, attribute.String("publication", publication.Name)); err != nil {
				return err
			}
		}
		for _, user := range cfg.SortedUsers() {
			if err := r.step(ctx, "mirror.drop_user", func(ctx context.Context) error {
				return r.Provisioner.RemoveUser(ctx, user.Name, cfg.PublicationSchemas)
			}, attribute.String("user", user.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pause pauses the named mirrors, or every configured mirror when names is
// empty.
func (r *Reconciler) Pause(ctx context.Context, names ...string) error {
	return r.run(ctx, "pause", func(ctx context.Context, _ zerolog.Logger) error {
		return r.eachMirror(ctx, names, "mirror.pause", r.Controller.PauseMirror)
	})
}

// Resume resumes the named mirrors, or every configured mirror when names is
// empty.
func (r *Reconciler) Resume(ctx context.Context, names ...string) error {
	return r.run(ctx, "resume", func(ctx context.Context, _ zerolog.Logger) error {
		return r.eachMirror(ctx, names, "mirror.resume", r.Controller.ResumeMirror)
	})
}

func (r *Reconciler) eachMirror(ctx context.Context, names []string, span string, fn func(context.Context, string) error) error {
	targets, err := r.selectMirrors(names)
	if err != nil {
		return err
	}
	for _, name := range targets {
		if err := r.step(ctx, span, func(ctx context.Context) error {
			return fn(ctx, name)
		}, attribute.String("mirror", name)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) selectMirrors(names []string) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, 0, len(r.Config.Mirrors))
		for _, mirror := range r.Config.SortedMirrors() {
			out = append(out, mirror.FlowJobName)
		}
		return out, nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.Config.Mirrors[name]; !ok {
			return nil, fmt.Errorf("mirror %q is not configured", name)
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Status reports the flow state of every configured mirror in name order.
func (r *Reconciler) Status(ctx context.Context) ([]MirrorState, error) {
	var out []MirrorState
	err := r.run(ctx, "status", func(ctx context.Context, _ zerolog.Logger) error {
		out = make([]MirrorState, 0, len(r.Config.Mirrors))
		for _, mirror := range r.Config.SortedMirrors() {
			state, err := r.Controller.MirrorStatus(ctx, mirror.FlowJobName)
			switch {
			case err == nil:
				out = append(out, MirrorState{Name: mirror.FlowJobName, State: state, Found: true})
			case isNotFound(err):
				out = append(out, MirrorState{Name: mirror.FlowJobName})
			default:
				return err
			}
		}
		return nil
	})
	return out, err
}

func isNotFound(err error) bool {
	return errors.Is(err, controlplane.ErrMirrorNotFound)
}

// destinationDatabases returns the distinct destination containers named by
// table mappings, sorted.
func destinationDatabases(cfg *mirrorconfig.Canonical) []string {
	seen := make(map[string]struct{})
	for _, mirror := range cfg.Mirrors {
		for _, mapping := range mirror.TableMappings {
			table, err := identifier.ParseClickHouse(mapping.Destination)
			if err != nil || table.Container == "" {
				continue
			}
			seen[table.Container] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for database := range seen {
		out = append(out, database)
	}
	sort.Strings(out)
	return out
}

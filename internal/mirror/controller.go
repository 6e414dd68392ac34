// Package mirror drives peers, mirrors and source provisioning toward a
// canonical configuration.
//
// Every operation re-reads remote state before acting and nothing is cached
// between calls. The existence check and the following mutation are separate
// requests, so two reconcilers working on the same names can race.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/netbek/dw/internal/controlplane"
	"github.com/netbek/dw/internal/mirrorconfig"
	"github.com/rs/zerolog"
)

// ControlPlane is the subset of the control plane API the controller needs.
type ControlPlane interface {
	UpdateSetting(ctx context.Context, name, value string) error
	ListPeers(ctx context.Context) ([]controlplane.PeerSummary, error)
	CreatePeer(ctx context.Context, peer mirrorconfig.Peer) error
	DropPeer(ctx context.Context, name string) error
	MirrorStatus(ctx context.Context, name string) (string, error)
	CreateMirror(ctx context.Context, mirror mirrorconfig.Mirror) (string, error)
	ChangeMirrorState(ctx context.Context, name, state string) error
}

var _ ControlPlane = (*controlplane.Client)(nil)

// Controller applies idempotent peer and mirror operations.
type Controller struct {
	api ControlPlane
	log zerolog.Logger
}

func NewController(api ControlPlane, logger zerolog.Logger) *Controller {
	return &Controller{api: api, log: logger}
}

// UpdateSettings pushes dynamic settings in name order.
func (c *Controller) UpdateSettings(ctx context.Context, cfg *mirrorconfig.Canonical) error {
	for _, name := range cfg.SettingNames() {
		if err := c.api.UpdateSetting(ctx, name, cfg.Settings[name]); err != nil {
			return err
		}
		c.log.Info().Str("setting", name).Msg("updated setting")
	}
	return nil
}

func (c *Controller) HasPeer(ctx context.Context, name string) (bool, error) {
	peers, err := c.api.ListPeers(ctx)
	if err != nil {
		return false, err
	}
	for _, peer := range peers {
		if peer.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) CreatePeer(ctx context.Context, peer mirrorconfig.Peer) error {
	found, err := c.HasPeer(ctx, peer.Name)
	if err != nil {
		return err
	}
	if found {
		c.log.Debug().Str("peer", peer.Name).Msg("peer exists")
		return nil
	}
	if err := c.api.CreatePeer(ctx, peer); err != nil {
		return err
	}
	c.log.Info().Str("peer", peer.Name).Str("type", peer.Type).Msg("created peer")
	return nil
}

func (c *Controller) DropPeer(ctx context.Context, name string) error {
	found, err := c.HasPeer(ctx, name)
	if err != nil || !found {
		return err
	}
	if err := c.api.DropPeer(ctx, name); err != nil {
		return err
	}
	c.log.Info().Str("peer", name).Msg("dropped peer")
	return nil
}

// MirrorStatus returns the flow state or controlplane.ErrMirrorNotFound.
func (c *Controller) MirrorStatus(ctx context.Context, name string) (string, error) {
	return c.api.MirrorStatus(ctx, name)
}

// HasMirror reports whether the control plane knows the mirror. Any reported
// state, STATUS_UNKNOWN included, counts as present.
func (c *Controller) HasMirror(ctx context.Context, name string) (bool, error) {
	_, err := c.api.MirrorStatus(ctx, name)
	if errors.Is(err, controlplane.ErrMirrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) CreateMirror(ctx context.Context, mirror mirrorconfig.Mirror) error {
	found, err := c.HasMirror(ctx, mirror.FlowJobName)
	if err != nil {
		return err
	}
	if found {
		c.log.Debug().Str("mirror", mirror.FlowJobName).Msg("mirror exists")
		return nil
	}
	workflowID, err := c.api.CreateMirror(ctx, mirror)
	if err != nil {
		return err
	}
	c.log.Info().Str("mirror", mirror.FlowJobName).Str("workflow_id", workflowID).Msg("created mirror")
	return nil
}

// DropMirror terminates the mirror's flow.
func (c *Controller) DropMirror(ctx context.Context, name string) error {
	found, err := c.HasMirror(ctx, name)
	if err != nil || !found {
		return err
	}
	if err := c.api.ChangeMirrorState(ctx, name, controlplane.StateTerminated); err != nil {
		return err
	}
	c.log.Info().Str("mirror", name).Msg("dropped mirror")
	return nil
}

func (c *Controller) PauseMirror(ctx context.Context, name string) error {
	return c.transition(ctx, name, controlplane.StatePaused)
}

func (c *Controller) ResumeMirror(ctx context.Context, name string) error {
	return c.transition(ctx, name, controlplane.StateRunning)
}

// transition requests state unless the mirror already reports it. A missing
// mirror is an error since there is nothing to transition.
func (c *Controller) transition(ctx context.Context, name, state string) error {
	current, err := c.api.MirrorStatus(ctx, name)
	if err != nil {
		return fmt.Errorf("change mirror %s to %s: %w", name, state, err)
	}
	if current == state {
		c.log.Debug().Str("mirror", name).Str("state", state).Msg("mirror already in state")
		return nil
	}
	if err := c.api.ChangeMirrorState(ctx, name, state); err != nil {
		return err
	}
	c.log.Info().Str("mirror", name).Str("from", current).Str("to", state).Msg("changed mirror state")
	return nil
}

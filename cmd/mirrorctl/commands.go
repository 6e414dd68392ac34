package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/netbek/dw/internal/cli"
	"github.com/netbek/dw/internal/mirror"
	"github.com/netbek/dw/internal/mirrorconfig"
	"gopkg.in/yaml.v3"
)

func runPrepare(ctx context.Context, s *session) error {
	cfg, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	return writeCanonical(s.app.stdout, cfg, s.cfg.Output)
}

func runApply(ctx context.Context, s *session) error {
	cfg, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	r, err := s.reconciler(ctx, cfg, true)
	if err != nil {
		return err
	}
	return r.Apply(ctx)
}

func runDestroy(ctx context.Context, s *session) error {
	cfg, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	r, err := s.reconciler(ctx, cfg, true)
	if err != nil {
		return err
	}
	return r.Destroy(ctx)
}

func runPause(ctx context.Context, s *session) error {
	r, err := s.stateReconciler(ctx)
	if err != nil {
		return err
	}
	return r.Pause(ctx, cli.ResolveStringSliceFlag(s.cmd, flagMirror)...)
}

func runResume(ctx context.Context, s *session) error {
	r, err := s.stateReconciler(ctx)
	if err != nil {
		return err
	}
	return r.Resume(ctx, cli.ResolveStringSliceFlag(s.cmd, flagMirror)...)
}

func (s *session) stateReconciler(ctx context.Context) (*mirror.Reconciler, error) {
	cfg, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler(ctx, cfg, false)
}

func runStatus(ctx context.Context, s *session) error {
	r, err := s.stateReconciler(ctx)
	if err != nil {
		return err
	}
	states, err := r.Status(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(states))
	for _, state := range states {
		value := state.State
		if !state.Found {
			value = "NOT FOUND"
		}
		rows = append(rows, []string{state.Name, value})
	}
	renderTable(s.app.stdout, []string{"Mirror", "State"}, rows)
	return nil
}

func runPublications(ctx context.Context, s *session) error {
	cfg, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	source, err := s.source(ctx, cfg)
	if err != nil {
		return err
	}
	names, err := source.ListPublications(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		tables, err := source.PublicationTables(ctx, name)
		if err != nil {
			return err
		}
		_, declared := cfg.Publications[name]
		rows = append(rows, []string{name, strings.Join(tables, ", "), fmt.Sprintf("%t", declared)})
	}
	renderTable(s.app.stdout, []string{"Publication", "Tables", "Declared"}, rows)
	return nil
}

func writeCanonical(w io.Writer, cfg *mirrorconfig.Canonical, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	header := make(table.Row, len(headers))
	for i, value := range headers {
		header[i] = value
	}
	t.AppendHeader(header)
	for _, rowValues := range rows {
		row := make(table.Row, len(rowValues))
		for i, value := range rowValues {
			row[i] = value
		}
		t.AppendRow(row)
	}
	t.Render()
}

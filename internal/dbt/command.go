// Package dbt builds dbt CLI invocations and reads the resources a dbt project
// declares.
package dbt

import (
	"encoding/json"
	"fmt"
)

// ResourceType is a dbt node type accepted by --resource-type.
type ResourceType string

const (
	ResourceModel  ResourceType = "model"
	ResourceSeed   ResourceType = "seed"
	ResourceSource ResourceType = "source"
)

func (r ResourceType) valid() bool {
	switch r {
	case ResourceModel, ResourceSeed, ResourceSource:
		return true
	default:
		return false
	}
}

// CommonOptions are shared by every dbt subcommand.
type CommonOptions struct {
	ProfilesDir string
	ProjectDir  string
	Debug       bool
	FailFast    bool
	Quiet       bool
	Select      string
	Target      string
	UseColors   bool
}

// ListOptions configures `dbt list`.
type ListOptions struct {
	CommonOptions
	Exclude       string
	Models        string
	Output        string
	ResourceTypes []ResourceType
	Selector      string
	Vars          map[string]any
}

// RunOptions configures `dbt run`.
type RunOptions struct {
	CommonOptions
	Exclude     string
	FullRefresh bool
	Models      string
	Selector    string
	Vars        map[string]any
}

// ListCommand returns the argv for `dbt list`, without the binary name.
func ListCommand(opts ListOptions) ([]string, error) {
	args := opts.head("list")
	args = toggle(args, opts.Debug, "debug")
	args = withValue(args, "--exclude", opts.Exclude)
	args = toggle(args, opts.FailFast, "fail-fast")
	args = withValue(args, "--models", opts.Models)
	args = withValue(args, "--output", opts.Output)
	args = toggle(args, opts.Quiet, "quiet")
	for _, resourceType := range opts.ResourceTypes {
		if !resourceType.valid() {
			return nil, fmt.Errorf("unknown dbt resource type %q", resourceType)
		}
		args = append(args, "--resource-type", string(resourceType))
	}
	args = withValue(args, "--select", opts.Select)
	args = withValue(args, "--selector", opts.Selector)
	args = withValue(args, "--target", opts.Target)
	args = toggle(args, opts.UseColors, "use-colors")
	return withVars(args, opts.Vars)
}

// RunCommand returns the argv for `dbt run`, without the binary name.
func RunCommand(opts RunOptions) ([]string, error) {
	args := opts.head("run")
	args = toggle(args, opts.Debug, "debug")
	args = withValue(args, "--exclude", opts.Exclude)
	args = toggle(args, opts.FailFast, "fail-fast")
	if opts.FullRefresh {
		args = append(args, "--full-refresh")
	}
	args = withValue(args, "--models", opts.Models)
	args = toggle(args, opts.Quiet, "quiet")
	args = withValue(args, "--select", opts.Select)
	args = withValue(args, "--selector", opts.Selector)
	args = withValue(args, "--target", opts.Target)
	args = toggle(args, opts.UseColors, "use-colors")
	return withVars(args, opts.Vars)
}

func (o CommonOptions) head(subcommand string) []string {
	args := []string{subcommand}
	args = withValue(args, "--profiles-dir", o.ProfilesDir)
	return withValue(args, "--project-dir", o.ProjectDir)
}

func toggle(args []string, on bool, flag string) []string {
	if on {
		return append(args, "--"+flag)
	}
	return append(args, "--no-"+flag)
}

func withValue(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}

func withVars(args []string, vars map[string]any) ([]string, error) {
	if len(vars) == 0 {
		return args, nil
	}
	payload, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode dbt vars: %w", err)
	}
	return append(args, "--vars", string(payload)), nil
}

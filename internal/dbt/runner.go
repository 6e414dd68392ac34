package dbt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes a dbt subcommand and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args []string) ([]byte, error)
}

// ExecRunner shells out to the dbt binary.
type ExecRunner struct {
	Binary string
	Logger zerolog.Logger
}

func (r ExecRunner) Run(ctx context.Context, dir string, args []string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "dbt"
	}
	r.Logger.Debug().Str("dir", dir).Strs("args", args).Msg("running dbt")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), err, output)
	}
	return stdout.Bytes(), nil
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, dir string, args []string) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, dir string, args []string) ([]byte, error) {
	return f(ctx, dir, args)
}

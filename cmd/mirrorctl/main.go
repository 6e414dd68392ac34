package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/netbek/dw/internal/cli"
	"github.com/netbek/dw/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const cliVersion = "0.0.0-dev"

func main() {
	if err := run(os.Args, newApp()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, a *app) error {
	command := newRootCommand(a)
	parsedArgs := []string{}
	if len(args) > 1 {
		parsedArgs = args[1:]
	}
	command.SetArgs(parsedArgs)
	return command.Execute()
}

// app carries process-wide collaborators so commands can be exercised
// against in-memory filesystems and fake databases.
type app struct {
	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer
	base   *config.Config

	openSource      func(ctx context.Context, settings sourceSettings) (sourceDB, error)
	openDestination func(ctx context.Context, settings destinationSettings) (destinationDB, error)
	dbtRunner       func(cfg *config.Config, logger zerolog.Logger) dbtRunner
}

func newApp() *app {
	return &app{
		fs:              afero.NewOsFs(),
		stdout:          os.Stdout,
		stderr:          os.Stderr,
		base:            config.Load(),
		openSource:      openPostgres,
		openDestination: openClickHouse,
		dbtRunner:       execDBTRunner,
	}
}

func newRootCommand(a *app) *cobra.Command {
	command := &cobra.Command{
		Use:           "mirrorctl",
		Short:         "Reconcile CDC peers, mirrors and source publications",
		Version:       cliVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.SetOut(a.stdout)
	command.SetErr(a.stderr)

	cli.AddPersistentFlags(command, a.base)
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return cli.InitViperFromCommand(cmd, viperConfig())
	}

	addLeaf := func(parent *cobra.Command, name, short string, addFlags func(*cobra.Command), runFn func(context.Context, *session) error) {
		cmd := &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := a.newSession(cmd)
				if err != nil {
					return err
				}
				defer s.close()
				return runFn(cmd.Context(), s)
			},
		}
		if addFlags != nil {
			addFlags(cmd)
		}
		parent.AddCommand(cmd)
	}

	addLeaf(command, "prepare", "print the canonical mirror configuration", nil, runPrepare)
	addLeaf(command, "apply", "create everything the mirror document declares", nil, runApply)
	addLeaf(command, "destroy", "remove mirrors, peers, publications and users", nil, runDestroy)
	addLeaf(command, "pause", "pause mirrors", addMirrorFilterFlag, runPause)
	addLeaf(command, "resume", "resume paused mirrors", addMirrorFilterFlag, runResume)
	addLeaf(command, "status", "show the state of every configured mirror", nil, runStatus)
	addLeaf(command, "publications", "list publications on the source database", nil, runPublications)
	command.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the mirrorctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mirrorctl %s\n", cliVersion)
			return err
		},
	})
	return command
}

func viperConfig() cli.ViperConfig {
	cfg := cli.ViperConfig{
		EnvPrefix:    config.EnvPrefix,
		ConfigEnvVar: config.EnvPrefix + "_CONFIG",
		ConfigName:   "mirrorctl",
		ConfigType:   "yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.ConfigSearchPath = append(cfg.ConfigSearchPath, filepath.Join(home, ".config", "mirrorctl"))
	}
	return cfg
}

const flagMirror = "mirror"

func addMirrorFilterFlag(cmd *cobra.Command) {
	cmd.Flags().StringSlice(flagMirror, nil, "limit to these mirrors (repeatable)")
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		w = zerolog.ConsoleWriter{Out: f}
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Logger(), nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

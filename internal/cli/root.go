package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string   // "json" | "text"
	EnvFiles []string // dotenv files tried in order
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for notaryd.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "notaryd",
		Short: "notaryd - integrity notary",
		Long: `An integrity notary: a single authorized identity records integrity
assessments of subjects at deterministic, derived addresses.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files to load (default .env.local, .env)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewAssessCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))

	return cmd
}

// Execute runs notaryd with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		if !slices.Contains(ValidFormats, format) {
			format = "text"
		}
		f := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
		_ = f.Error(err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) config() (notary.EnvConfig, error) {
	cfg, err := notary.LoadEnv(o.EnvFiles...)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "load configuration", err)
	}
	return cfg, nil
}

// logger writes text logs to stderr; --verbose forces debug level.
func (o *RootOptions) logger(cmd *cobra.Command, level slog.Level) *slog.Logger {
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openLocal builds a Notary over the configured store. The caller closes the store.
func openLocal(ctx context.Context, cfg notary.EnvConfig, log *slog.Logger, m *notary.Metrics) (*notary.Notary, notary.Store, error) {
	authority, err := cfg.ResolveAuthority()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "resolve authority", err)
	}
	st, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	treasury, err := cfg.Treasury(authority)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open treasury", err)
	}
	n, err := notary.New(cfg.NotaryConfig(authority, log, m), st, treasury)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "configure notary", err)
	}
	return n, st, nil
}

// transportOptions selects how update and assess deliver requests.
type transportOptions struct {
	Spool string
	Proto bool
}

func (t *transportOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.Spool, "spool", "", "write requests to a spool directory instead of sending them")
	cmd.Flags().BoolVar(&t.Proto, "proto", false, "use protobuf instead of JSON with NOTARY_URL")
}

// open returns a transport: a spool folder, the notary at NOTARY_URL, or an
// in-process notary over the configured store.
func (t *transportOptions) open(ctx context.Context, cfg notary.EnvConfig, log *slog.Logger) (notary.Transport, func() error, error) {
	noop := func() error { return nil }
	switch {
	case t.Spool != "":
		ft, err := notary.NewFolderTransport(t.Spool)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "open spool", err)
		}
		return ft, noop, nil
	case cfg.URL != "" && t.Proto:
		return notary.NewProtoHTTPTransport(cfg.URL), noop, nil
	case cfg.URL != "":
		return notary.NewHTTPTransport(cfg.URL), noop, nil
	}
	n, st, err := openLocal(ctx, cfg, log, nil)
	if err != nil {
		return nil, nil, err
	}
	return notary.NewLocalTransport(n), st.Close, nil
}

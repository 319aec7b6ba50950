package cli

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

type serveOptions struct {
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notary HTTP server",
		Long: `Run the notary over HTTP, or HTTPS when NOTARY_TLS_CERT and NOTARY_TLS_KEY are set.

The store, authority, rate limits and request window come from NOTARY_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides NOTARY_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, opts *serveOptions) error {
	cfg, err := rootOpts.config()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	log := rootOpts.logger(cmd, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := notary.NewMetrics(reg)

	n, st, err := openLocal(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer st.Close()

	log.Info("notary configured",
		"authority", n.Authority(),
		"program_id", n.Deriver().ProgramID(),
		"namespace", n.Namespace(),
		"store", cfg.Store,
		"metered", cfg.Metered,
	)

	srv := notary.NewServer(n, cfg.ServerConfig(log, reg))
	if cfg.TLSCert != "" || cfg.TLSKey != "" {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			return NewExitError(ExitCommandError, "NOTARY_TLS_CERT and NOTARY_TLS_KEY must be set together")
		}
		err = srv.ListenAndServeTLS(ctx, cfg.Addr, cfg.TLSCert, cfg.TLSKey)
	} else {
		err = srv.ListenAndServe(ctx, cfg.Addr)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	log.Info("notary stopped")
	return nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// DrainResult is the output of drain.
type DrainResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

func (r DrainResult) String() string {
	return fmt.Sprintf("applied %d, failed %d", r.Applied, r.Failed)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "drain <spool-dir>",
		Short: "Apply spooled requests to the configured store",
		Long: `Apply every pending request in a spool directory, in submission order.
Rejected requests move to failed/ together with the reason. Requests older
than NOTARY_MAX_REQUEST_AGE are rejected; use --max-age to widen the window
for a spool that sat offline (0 disables it). Replayed requests are rejected
regardless of the window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-age") {
				cfg.MaxRequestAge = maxAge
			}
			log := rootOpts.logger(cmd, cfg.LogLevel)
			ft, err := notary.NewFolderTransport(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "open spool", err)
			}
			n, st, err := openLocal(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := ft.Drain(cmd.Context(), n)
			if err != nil {
				return WrapExitError(ExitFailure, "drain spool", err)
			}
			log.Debug("spool drained", "dir", args[0], "applied", res.Applied, "failed", res.Failed)
			return rootOpts.formatter(cmd).Success(DrainResult(res))
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "request age window for this drain (default NOTARY_MAX_REQUEST_AGE)")
	return cmd
}

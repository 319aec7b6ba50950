package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// ReceiptResult is the output of a submitted update.
type ReceiptResult struct {
	notary.Receipt
	Spooled bool `json:"spooled,omitempty"`
}

func (r ReceiptResult) String() string {
	if r.Spooled {
		return fmt.Sprintf("spooled request %s", r.RequestID)
	}
	verb := "updated"
	if r.Created {
		verb = "created"
	}
	return fmt.Sprintf("%s %s\nsubject: %s\ngini:    %d\nhhi:     %d\nstatus:  %s\nupdated: %d",
		verb, r.Address, r.Record.Subject, r.Record.GiniScore, r.Record.HHIScore,
		notary.Status(r.Record.Status), r.Record.LastUpdated)
}

type updateOptions struct {
	transportOptions
	Gini   uint16
	HHI    uint16
	Status uint8
	Payer  string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &updateOptions{}
	cmd := &cobra.Command{
		Use:   "update <subject>",
		Short: "Sign and submit an update_integrity request",
		Long: `Sign an update_integrity request with NOTARY_SECRET and submit it.

Scores are fixed point with four decimals (0.4250 is 4250). The request goes
to NOTARY_URL when set, to --spool when given, and otherwise straight to the
configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().Uint16Var(&opts.Gini, "gini", 0, "gini score (fixed point x10000)")
	cmd.Flags().Uint16Var(&opts.HHI, "hhi", 0, "hhi score (fixed point x10000)")
	cmd.Flags().Uint8Var(&opts.Status, "status", 0, "status (0 unknown, 1 verified, 2 probationary, 3 sybil)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "identity paying for allocation (default: signer)")
	opts.register(cmd)
	return cmd
}

func runUpdate(cmd *cobra.Command, rootOpts *RootOptions, opts *updateOptions, subjectArg string) error {
	cfg, err := rootOpts.config()
	if err != nil {
		return err
	}
	subject, err := notary.ParseIdentity(subjectArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse subject", err)
	}
	u := notary.Update{Subject: subject, GiniScore: opts.Gini, HHIScore: opts.HHI, Status: opts.Status}
	if opts.Payer != "" {
		if u.Payer, err = notary.ParseIdentity(opts.Payer); err != nil {
			return WrapExitError(ExitCommandError, "parse payer", err)
		}
	}

	sub, closeFn, err := submitter(cmd, rootOpts, cfg, &opts.transportOptions)
	if err != nil {
		return err
	}
	defer closeFn()

	rcpt, err := sub.Notarize(cmd.Context(), u)
	if err != nil {
		return rejection("update rejected", err)
	}
	return rootOpts.formatter(cmd).Success(ReceiptResult{Receipt: rcpt, Spooled: opts.Spool != ""})
}

func submitter(cmd *cobra.Command, rootOpts *RootOptions, cfg notary.EnvConfig, t *transportOptions) (*notary.Submitter, func() error, error) {
	kp, err := cfg.Keypair()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load signing key", err)
	}
	tr, closeFn, err := t.open(cmd.Context(), cfg, rootOpts.logger(cmd, cfg.LogLevel))
	if err != nil {
		return nil, nil, err
	}
	return &notary.Submitter{Keypair: kp, Transport: tr}, closeFn, nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// AssessResult is the output of assess.
type AssessResult struct {
	Assessment notary.Assessment `json:"assessment"`
	Receipt    *ReceiptResult    `json:"receipt,omitempty"`
}

func (r AssessResult) String() string {
	a := r.Assessment
	s := fmt.Sprintf("status:     %s\nreason:     %s\ngini:       %.4f\nhhi:        %.4f\nsync index: %.4f",
		a.Status, a.Reason, a.Gini, a.HHI, a.SyncIndex)
	if r.Receipt != nil {
		s += "\n" + r.Receipt.String()
	}
	return s
}

type assessOptions struct {
	transportOptions
	Submit  bool
	Subject string
}

// NewAssessCommand creates the assess command.
func NewAssessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &assessOptions{}
	cmd := &cobra.Command{
		Use:   "assess <transfers.json>",
		Short: "Score a subject's transfer history",
		Long: `Score a JSON array of transfers ({"amount": 1.5, "block_time": "2024-01-01T00:00:00Z"})
and print the assessment. With --submit the result is signed and submitted for --subject.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssess(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "submit the assessment to the notary")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject identity (required with --submit)")
	opts.register(cmd)
	return cmd
}

func runAssess(cmd *cobra.Command, rootOpts *RootOptions, opts *assessOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read transfers", err)
	}
	var transfers []notary.Transfer
	if err := json.Unmarshal(data, &transfers); err != nil {
		return WrapExitError(ExitCommandError, "decode transfers", err)
	}
	out := rootOpts.formatter(cmd)
	out.VerboseLog("loaded %d transfers from %s", len(transfers), path)

	if !opts.Submit {
		return out.Success(AssessResult{Assessment: notary.Assess(transfers)})
	}

	if opts.Subject == "" {
		return NewExitError(ExitCommandError, "--subject is required with --submit")
	}
	subject, err := notary.ParseIdentity(opts.Subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse subject", err)
	}
	cfg, err := rootOpts.config()
	if err != nil {
		return err
	}
	sub, closeFn, err := submitter(cmd, rootOpts, cfg, &opts.transportOptions)
	if err != nil {
		return err
	}
	defer closeFn()

	a, rcpt, err := sub.NotarizeActivity(cmd.Context(), subject, transfers)
	if err != nil {
		return rejection("submit assessment", err)
	}
	return out.Success(AssessResult{
		Assessment: a,
		Receipt:    &ReceiptResult{Receipt: rcpt, Spooled: opts.Spool != ""},
	})
}

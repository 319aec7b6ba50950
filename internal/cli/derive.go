package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// DeriveResult is the output of derive.
type DeriveResult struct {
	Subject   notary.Identity `json:"subject"`
	Address   notary.Address  `json:"address"`
	Bump      uint8           `json:"bump"`
	Namespace string          `json:"namespace"`
	ProgramID notary.Identity `json:"program_id"`
}

func (r DeriveResult) String() string {
	return fmt.Sprintf("address: %s\nbump:    %d", r.Address, r.Bump)
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <subject>",
		Short: "Print the record address of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			subject, err := notary.ParseIdentity(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse subject", err)
			}
			programID := cfg.ProgramID
			if programID.IsZero() {
				programID = notary.DefaultProgramID
			}
			d := notary.NewDeriver(programID)
			addr, bump, err := d.Derive(cfg.Namespace, subject)
			if err != nil {
				return WrapExitError(ExitCommandError, "derive address", err)
			}
			return rootOpts.formatter(cmd).Success(DeriveResult{
				Subject:   subject,
				Address:   addr,
				Bump:      bump,
				Namespace: cfg.Namespace,
				ProgramID: programID,
			})
		},
	}
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// RecordResult is one decoded record.
type RecordResult struct {
	Address notary.Address         `json:"address"`
	Record  notary.IntegrityRecord `json:"record"`
}

func (r RecordResult) String() string {
	return fmt.Sprintf("address: %s\nsubject: %s\ngini:    %.4f\nhhi:     %.4f\nstatus:  %s\nupdated: %d",
		r.Address, r.Record.Subject,
		notary.UnscaleScore(r.Record.GiniScore), notary.UnscaleScore(r.Record.HHIScore),
		notary.Status(r.Record.Status), r.Record.LastUpdated)
}

// RecordList is the output of inspect --all.
type RecordList []RecordResult

func (l RecordList) String() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = r.String()
	}
	return strings.Join(parts, "\n\n")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "inspect [subject]",
		Short: "Read integrity records from the configured store",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			st, err := cfg.OpenStore(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "open store", err)
			}
			defer st.Close()

			programID := cfg.ProgramID
			if programID.IsZero() {
				programID = notary.DefaultProgramID
			}
			insp := notary.NewInspector(st, notary.NewDeriver(programID), cfg.Namespace)
			out := rootOpts.formatter(cmd)

			if all {
				entries, err := insp.All(cmd.Context())
				if err != nil {
					return rejection("inspect records", err)
				}
				list := make(RecordList, len(entries))
				for i, e := range entries {
					list[i] = RecordResult(e)
				}
				return out.Success(list)
			}

			subject, err := notary.ParseIdentity(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse subject", err)
			}
			rec, addr, err := insp.Inspect(cmd.Context(), subject)
			if err != nil {
				return rejection("inspect record", err)
			}
			return out.Success(RecordResult{Address: addr, Record: rec})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every record in the store")
	return cmd
}

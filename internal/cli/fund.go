package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/karasz/notary"
)

// FundResult is the output of fund.
type FundResult struct {
	Payer   notary.Identity `json:"payer"`
	Balance uint64          `json:"balance"`
	Ledger  string          `json:"ledger"`
}

func (r FundResult) String() string {
	return fmt.Sprintf("%s balance %d", r.Payer, r.Balance)
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <payer> [amount]",
		Short: "Credit a payer in the treasury ledger",
		Long: `Add amount lamports to payer's balance in the NOTARY_TREASURY_PATH ledger and
print the new balance. Without an amount the balance is printed unchanged.
A new ledger starts out holding NOTARY_INITIAL_BALANCE for the authority.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			payer, err := notary.ParseIdentity(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse payer", err)
			}
			var amount uint64
			if len(args) == 2 {
				if amount, err = strconv.ParseUint(args[1], 10, 64); err != nil {
					return WrapExitError(ExitCommandError, "parse amount", err)
				}
			}
			authority, err := cfg.ResolveAuthority()
			if err != nil {
				return WrapExitError(ExitCommandError, "resolve authority", err)
			}
			ledger, err := cfg.OpenLedger(authority)
			if err != nil {
				return WrapExitError(ExitCommandError, "open treasury", err)
			}

			var balance uint64
			if amount > 0 {
				balance, err = ledger.Fund(payer, amount)
			} else {
				balance, err = ledger.Balance(payer)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "fund payer", err)
			}
			return rootOpts.formatter(cmd).Success(FundResult{Payer: payer, Balance: balance, Ledger: ledger.Path()})
		},
	}
}

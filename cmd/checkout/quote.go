package main

import (
	"fmt"
	"math/big"

	"vetsmint/internal/mint"
	"vetsmint/internal/pricing"

	"github.com/spf13/cobra"
)

func quoteCommand() *cobra.Command {
	var (
		amounts  amountFlags
		contract string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a purchase in the chain's native currency without sending anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := mint.Intent{
				CampaignID:      new(big.Int),
				ChainKey:        globalFlags.chain,
				ContractAddress: contract,
			}
			if err := amounts.apply(&in); err != nil {
				return err
			}

			rt, err := setup(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			defer rt.close()

			plan, err := rt.orch.Quote(cmd.Context(), in)
			if err != nil {
				return err
			}

			symbol := plan.Profile.CurrencySymbol
			source := "live"
			if plan.Quote.Fallback {
				source = "fallback"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (chain %d), 1 %s = $%s (%s rate)\n", plan.Profile.Name, plan.Profile.ChainID, symbol, plan.Quote.Rate, source)
			fmt.Fprintf(out, "  per edition  %s %s\n", pricing.FromWei(plan.EditionValue), symbol)
			if plan.HasGratuity() {
				fmt.Fprintf(out, "  gratuity     %s %s\n", pricing.FromWei(plan.GratuityValue), symbol)
			}
			fmt.Fprintf(out, "  total        %s %s for %d edition(s)\n", pricing.FromWei(plan.Total()), symbol, plan.Quantity)
			fmt.Fprintf(out, "  gas ceiling  %d per tx, %d confirmation(s)\n", plan.GasCeiling, plan.Confirmations)
			return nil
		},
	}
	amounts.register(cmd.Flags())
	cmd.Flags().StringVar(&contract, "contract", "", "contract address override")
	return cmd
}

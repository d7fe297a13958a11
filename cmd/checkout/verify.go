package main

import (
	"fmt"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"
	"vetsmint/internal/pricing"
	"vetsmint/internal/verifier"

	"github.com/spf13/cobra"
)

func verifyCommand() *cobra.Command {
	var contract string
	cmd := &cobra.Command{
		Use:   "verify <campaign-id>",
		Short: "Check that a campaign is visible, active and open on-chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCampaignID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := setup(ctx, true, false)
			if err != nil {
				return err
			}
			defer rt.close()

			resolver, err := rt.cfg.Resolver()
			if err != nil {
				return err
			}
			profile, err := resolver.Resolve(contract, globalFlags.chain)
			if err != nil {
				return err
			}
			if !profile.Configured() {
				return fmt.Errorf("no contract address configured for %s", profile.Key)
			}

			out := cmd.OutOrStdout()
			v := verifier.New(rt.cfg.Backoff())
			camp, err := v.Verify(ctx, chain.NewContract(profile, rt.caller), id, func(s backoff.Status) {
				fmt.Fprintf(out, "attempt %d/%d failed (%v), retrying in %s\n", s.Attempt, s.MaxAttempts, s.Err, s.Delay)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "campaign #%s on %s (%s)\n", camp.ID, profile.Name, profile.ContractAddress.Hex())
			fmt.Fprintf(out, "  category   %s\n", camp.Category)
			fmt.Fprintf(out, "  metadata   %s\n", camp.MetadataURI)
			fmt.Fprintf(out, "  price      %s %s\n", pricing.FromWei(camp.PricePerEdition).String(), profile.CurrencySymbol)
			if left := camp.Remaining(); left >= 0 {
				fmt.Fprintf(out, "  editions   %s minted, %d left\n", camp.EditionsMinted, left)
			} else {
				fmt.Fprintf(out, "  editions   %s minted, uncapped\n", camp.EditionsMinted)
			}
			fmt.Fprintf(out, "  raised     %s gross / %s net %s\n",
				pricing.FromWei(camp.GrossRaised).String(), pricing.FromWei(camp.NetRaised).String(), profile.CurrencySymbol)
			if profile.Variant == chain.VariantV6 {
				fmt.Fprintf(out, "  nonprofit  %s\n", camp.Nonprofit.Hex())
				fmt.Fprintf(out, "  immediate  %t\n", camp.ImmediatePayout)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contract, "contract", "", "contract address override")
	return cmd
}

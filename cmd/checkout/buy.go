package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"vetsmint/internal/backoff"
	"vetsmint/internal/mint"
	"vetsmint/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// amountFlags are shared by buy and quote.
type amountFlags struct {
	quantity    int
	priceUSD    string
	donationUSD string
	gratuityUSD string
}

func (a *amountFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&a.quantity, "quantity", "q", 1, "number of editions")
	fs.StringVar(&a.priceUSD, "price-usd", "", "fixed USD price per edition")
	fs.StringVar(&a.donationUSD, "donation-usd", "", "USD donation per edition for open campaigns")
	fs.StringVar(&a.gratuityUSD, "gratuity-usd", "0", "USD gratuity added to the final edition")
}

func (a *amountFlags) apply(in *mint.Intent) error {
	in.Quantity = a.quantity
	if a.priceUSD != "" {
		d, err := decimal.NewFromString(a.priceUSD)
		if err != nil {
			return fmt.Errorf("--price-usd: %w", err)
		}
		in.PricePerEditionUSD = &d
	}
	if a.donationUSD != "" {
		d, err := decimal.NewFromString(a.donationUSD)
		if err != nil {
			return fmt.Errorf("--donation-usd: %w", err)
		}
		in.DonationUSD = d
	}
	if a.gratuityUSD != "" {
		d, err := decimal.NewFromString(a.gratuityUSD)
		if err != nil {
			return fmt.Errorf("--gratuity-usd: %w", err)
		}
		in.GratuityUSD = d
	}
	if in.PricePerEditionUSD == nil && !in.DonationUSD.IsPositive() {
		return errors.New("one of --price-usd or --donation-usd is required")
	}
	return nil
}

func parseCampaignID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid campaign id %q", raw)
	}
	return id, nil
}

func buyCommand() *cobra.Command {
	var (
		amounts  amountFlags
		contract string
		email    string
		name     string
		note     string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "buy <campaign-id>",
		Short: "Mint editions of a campaign with the configured signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCampaignID(args[0])
			if err != nil {
				return err
			}
			in := mint.Intent{
				CampaignID:      id,
				ChainKey:        globalFlags.chain,
				ContractAddress: contract,
				Session:         mint.Session{LoggedIn: true, Email: email, EmailVerified: true},
				CampaignStatus:  status,
				PaymentMethod:   mint.PaymentMethodCrypto,
				BuyerName:       name,
				Note:            note,
			}
			if err := amounts.apply(&in); err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := setup(ctx, true, true)
			if err != nil {
				return err
			}
			defer rt.close()
			in.BuyerWallet = rt.wallet.Address()

			out := cmd.OutOrStdout()
			res := rt.orch.Purchase(ctx, rt.wallet, in, mint.Hooks{
				OnRetry: func(s backoff.Status) {
					fmt.Fprintf(out, "campaign not ready (attempt %d/%d), retrying in %s\n", s.Attempt, s.MaxAttempts, s.Delay)
				},
				OnState: func(s mint.State, edition int) {
					if edition >= 0 {
						fmt.Fprintf(out, "%s edition %d/%d\n", s, edition+1, in.Quantity)
					}
				},
				OnSubmitted: func(i int, hash common.Hash) {
					fmt.Fprintf(out, "  submitted %s\n", hash.Hex())
				},
			})
			rt.orch.Wait()

			printResult(out, res)
			if !res.Success {
				return errors.New("purchase did not complete")
			}
			return nil
		},
	}
	amounts.register(cmd.Flags())
	cmd.Flags().StringVar(&contract, "contract", "", "contract address override")
	cmd.Flags().StringVar(&email, "email", "", "buyer email recorded with the purchase")
	cmd.Flags().StringVar(&name, "name", "", "buyer name recorded with the purchase")
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the purchase")
	cmd.Flags().StringVar(&status, "campaign-status", "", "administrative campaign status")
	return cmd
}

func printResult(out io.Writer, res mint.Result) {
	fmt.Fprintf(out, "attempt %s: %s, minted %d of %d\n", res.AttemptID, res.State, res.Minted(), res.Quantity)
	for _, h := range res.TxHashes {
		line := "  tx " + h.Hex()
		if url := res.Plan.Profile.TxURL(h); url != "" {
			line += " " + url
		}
		fmt.Fprintln(out, line)
	}
	if len(res.EditionIDs) > 0 {
		ids := make([]string, len(res.EditionIDs))
		for i, id := range res.EditionIDs {
			ids[i] = "#" + id.String()
		}
		fmt.Fprintf(out, "  editions %s\n", strings.Join(ids, " "))
	}
	if res.FailedTxHash != (common.Hash{}) {
		fmt.Fprintf(out, "  unconfirmed tx %s\n", res.FailedTxHash.Hex())
	}
	if res.BalanceAfter != nil {
		fmt.Fprintf(out, "balance %s %s\n", pricing.FromWei(res.BalanceAfter).StringFixed(4), res.Plan.Profile.CurrencySymbol)
	}
	if res.Error != "" {
		fmt.Fprintf(out, "error (%s): %s\n", res.ErrorKind, res.Error)
	}
}

package mint

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"
	"vetsmint/internal/chain/chaintest"
	"vetsmint/internal/classify"
	"vetsmint/internal/ledger"
	"vetsmint/internal/pricing"
	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"
	"vetsmint/internal/wallet/wallettest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contractAddr = "0x2222222222222222222222222222222222222222"
	buyerAddr    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	bdagChainID  = 1043
)

var ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), ether)
}

type fixedOracle struct{ rate decimal.Decimal }

func (f fixedOracle) Rate(context.Context, uint64) (decimal.Decimal, error) { return f.rate, nil }

type fakeRecorder struct {
	mu    sync.Mutex
	err   error
	saved []ledger.Purchase
}

func (f *fakeRecorder) Record(_ context.Context, p ledger.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	return f.err
}

func (f *fakeRecorder) purchases() []ledger.Purchase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Purchase(nil), f.saved...)
}

type harness struct {
	profile  chain.Profile
	caller   *chaintest.Caller
	wallet   *wallettest.Wallet
	recorder *fakeRecorder
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	profiles := chain.DefaultProfiles()
	for i := range profiles {
		if profiles[i].Key == "blockdag-v6" {
			profiles[i].ContractAddress = common.HexToAddress(contractAddr)
		}
	}
	resolver, err := chain.NewResolver(profiles, "blockdag-v6", "")
	require.NoError(t, err)
	profile, err := resolver.Resolve("", "blockdag-v6")
	require.NoError(t, err)

	caller := chaintest.NewCaller(profile)
	caller.PutCampaign(chain.Campaign{
		ID:             big.NewInt(4),
		Category:       "veteran",
		MetadataURI:    "ipfs://campaign-4",
		EditionsMinted: big.NewInt(0),
		MaxEditions:    big.NewInt(0),
		Active:         true,
	})

	w := wallettest.New(common.HexToAddress(buyerAddr), bdagChainID, wei(1_000_000))
	w.Receipt = func(idx int, tx *types.Transaction) *types.Receipt {
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			TxHash: tx.Hash(),
			Logs: []*types.Log{chaintest.EditionMintedLog(profile, big.NewInt(4), big.NewInt(int64(100+idx)),
				common.HexToAddress(buyerAddr), big.NewInt(int64(idx+1)), tx.Value())},
		}
	}

	rec := &fakeRecorder{}
	orch := New(Config{
		Profiles: resolver,
		Prices:   pricing.NewConverter(fixedOracle{rate: decimal.RequireFromString("0.05")}, nil, time.Second),
		Verifier: verifier.New(backoff.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, BackoffMultiplier: 2}),
		Caller:   caller,
		Recorder: rec,
	})
	return &harness{profile: profile, caller: caller, wallet: w, recorder: rec, orch: orch}
}

func usd(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intent(qty int) Intent {
	return Intent{
		CampaignID:         big.NewInt(4),
		Quantity:           qty,
		PricePerEditionUSD: usd("10"),
		ChainKey:           "blockdag-v6",
		BuyerWallet:        common.HexToAddress(buyerAddr),
		Session:            Session{LoggedIn: true, Email: "donor@example.com", UserID: "u-1", EmailVerified: true},
	}
}

func (h *harness) run(in Intent, hooks Hooks) Result {
	res := h.orch.Purchase(context.Background(), h.wallet, in, hooks)
	h.orch.Wait()
	return res
}

func selector(t *testing.T, p chain.Profile, method string) []byte {
	t.Helper()
	m, ok := p.ABI().Methods[method]
	require.True(t, ok, method)
	return m.ID
}

func TestSingleEditionUsesBufferedPrice(t *testing.T) {
	h := newHarness(t)

	res := h.run(intent(1), Hooks{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StateDone, res.State)
	require.Len(t, h.wallet.Sent, 1)
	assert.Equal(t, wei(202).String(), h.wallet.Sent[0].Value.String())
	assert.Equal(t, selector(t, h.profile, "mintSingleEdition"), h.wallet.Sent[0].Data[:4])
	assert.Equal(t, uint64(600_000), h.wallet.Sent[0].GasLimit)
	assert.Equal(t, []uint64{1}, h.wallet.Confirmations)
	require.Len(t, res.EditionIDs, 1)
	assert.Equal(t, "100", res.EditionIDs[0].String())

	saved := h.recorder.purchases()
	require.Len(t, saved, 1)
	assert.Equal(t, res.TxHashes[0].Hex(), saved[0].TxHash)
	assert.Equal(t, "10.00", saved[0].AmountUSD)
	assert.Equal(t, wei(202).String(), saved[0].AmountNative)
	assert.Equal(t, "crypto", saved[0].PaymentMethod)
	assert.Equal(t, "v6", saved[0].ContractVersion)
}

func TestGratuityRidesOnFinalEditionOnly(t *testing.T) {
	h := newHarness(t)
	in := intent(3)
	in.GratuityUSD = decimal.RequireFromString("15")

	res := h.run(in, Hooks{})

	require.True(t, res.Success, res.Error)
	require.Len(t, h.wallet.Sent, 3)
	plain := selector(t, h.profile, "mintSingleEdition")
	withGratuity := selector(t, h.profile, "mintSingleEditionWithGratuity")
	for i := 0; i < 2; i++ {
		assert.Equal(t, plain, h.wallet.Sent[i].Data[:4])
		assert.Equal(t, wei(202).String(), h.wallet.Sent[i].Value.String())
	}
	assert.Equal(t, withGratuity, h.wallet.Sent[2].Data[:4])
	assert.Equal(t, wei(502).String(), h.wallet.Sent[2].Value.String())
	assert.Equal(t, wei(906).String(), res.Plan.Total().String())

	saved := h.recorder.purchases()
	require.Len(t, saved, 1)
	assert.Equal(t, "45.00", saved[0].AmountUSD)
	assert.Equal(t, "15.00", saved[0].GratuityUSD)
	assert.Equal(t, []string{"100", "101", "102"}, saved[0].MintedTokenIDs)
	assert.Equal(t, 3, saved[0].Quantity)
}

func TestEditionsAreStrictlySequenced(t *testing.T) {
	h := newHarness(t)
	var states []State

	res := h.run(intent(3), Hooks{OnState: func(s State, _ int) { states = append(states, s) }})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"submit:0", "confirm:0", "submit:1", "confirm:1", "submit:2", "confirm:2"}, h.wallet.Events)
	assert.Equal(t, []State{
		StateVerifying,
		StateMinting, StateConfirming,
		StateMinting, StateConfirming,
		StateMinting, StateConfirming,
		StateRecording, StateDone,
	}, states)
}

func TestSubmittedHookFiresBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	var seen []common.Hash

	res := h.run(intent(2), Hooks{OnSubmitted: func(i int, hash common.Hash) {
		assert.Len(t, h.wallet.Confirmations, i)
		seen = append(seen, hash)
	}})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, res.TxHashes, seen)
}

func TestRejectionMidSequenceKeepsConfirmedEditions(t *testing.T) {
	h := newHarness(t)
	h.wallet.FailSubmit[1] = wallet.ErrUserRejected

	res := h.run(intent(3), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, classify.KindCancelled, res.ErrorKind)
	assert.Equal(t, "Transaction cancelled.", res.Error)
	assert.Equal(t, 2, h.wallet.Submitted())
	assert.Equal(t, 1, res.Minted())
	require.Len(t, res.EditionIDs, 1)
	assert.Equal(t, "100", res.EditionIDs[0].String())

	saved := h.recorder.purchases()
	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Quantity)
	assert.Equal(t, "10.00", saved[0].AmountUSD)
}

func TestRejectedFinalEditionDropsGratuityFromLedger(t *testing.T) {
	h := newHarness(t)
	h.wallet.FailSubmit[1] = wallet.ErrUserRejected
	in := intent(2)
	in.GratuityUSD = decimal.RequireFromString("5")

	res := h.run(in, Hooks{})

	require.Equal(t, 1, res.Minted())
	saved := h.recorder.purchases()
	require.Len(t, saved, 1)
	assert.Equal(t, "0.00", saved[0].GratuityUSD)
	assert.Equal(t, wei(202).String(), saved[0].AmountNative)
}

func TestRevertedConfirmationReportsFailedHash(t *testing.T) {
	h := newHarness(t)
	failing := &failingConfirm{Wallet: h.wallet, failAt: 1, err: errors.New("execution reverted: CampaignClosed()")}

	res := h.orch.Purchase(context.Background(), failing, intent(3), Hooks{})
	h.orch.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Minted())
	assert.NotEqual(t, common.Hash{}, res.FailedTxHash)
	assert.NotContains(t, res.TxHashes, res.FailedTxHash)
	assert.Equal(t, classify.KindContractRevert, res.ErrorKind)
}

type failingConfirm struct {
	*wallettest.Wallet
	failAt int
	err    error
}

func (f *failingConfirm) Signer(ctx context.Context) (wallet.Signer, error) {
	s, err := f.Wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}
	return failingSigner{Signer: s, failAt: f.failAt, err: f.err}, nil
}

type failingSigner struct {
	wallet.Signer
	failAt int
	err    error
}

func (s failingSigner) WaitConfirmed(ctx context.Context, tx *types.Transaction, confirmations uint64) (*types.Receipt, error) {
	if int(tx.Nonce()) == s.failAt {
		return nil, s.err
	}
	return s.Signer.WaitConfirmed(ctx, tx, confirmations)
}

func TestSignerMismatchSubmitsNothing(t *testing.T) {
	h := newHarness(t)
	h.wallet.SignerAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	res := h.run(intent(1), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, classify.KindPrecondition, res.ErrorKind)
	assert.Contains(t, res.Error, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	assert.Zero(t, h.wallet.Submitted())
	assert.Empty(t, h.recorder.purchases())
}

func TestFailedStateIsEnteredOnce(t *testing.T) {
	cases := map[string]func(h *harness){
		"rejected mid-sequence": func(h *harness) { h.wallet.FailSubmit[1] = wallet.ErrUserRejected },
		"signer mismatch": func(h *harness) {
			h.wallet.SignerAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
		},
		"insufficient balance": func(h *harness) { h.wallet.Bal = wei(1) },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			setup(h)

			failed := 0
			res := h.run(intent(2), Hooks{OnState: func(s State, _ int) {
				if s == StateFailed {
					failed++
				}
			}})

			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, 1, failed)
		})
	}
}

func TestInsufficientBalanceReportsObservedBalance(t *testing.T) {
	h := newHarness(t)
	h.wallet.Bal = wei(100)

	res := h.run(intent(1), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, classify.KindInsufficientFunds, res.ErrorKind)
	assert.Contains(t, res.Error, "100.0000 BDAG")
	assert.Equal(t, wei(100).String(), res.BalanceAfter.String())
	assert.Zero(t, h.wallet.Submitted())
}

func TestNotVisibleCampaignFailsVerification(t *testing.T) {
	h := newHarness(t)
	h.caller.SetTotal(40)
	in := intent(1)
	in.CampaignID = big.NewInt(50)
	var retries []backoff.Status

	res := h.run(in, Hooks{OnRetry: func(s backoff.Status) { retries = append(retries, s) }})

	assert.False(t, res.Success)
	assert.Equal(t, classify.KindVerification, res.ErrorKind)
	assert.Contains(t, res.Error, "total campaigns: 40")
	assert.Len(t, retries, 4)
	assert.Equal(t, 5, h.caller.TotalCalls)
	assert.Zero(t, h.wallet.Submitted())
}

func TestInactiveCampaignIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.caller.PutCampaign(chain.Campaign{ID: big.NewInt(4), EditionsMinted: big.NewInt(0), MaxEditions: big.NewInt(0)})

	res := h.run(intent(1), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, classify.KindVerification, res.ErrorKind)
	assert.Contains(t, res.Error, "not active")
	assert.Equal(t, 1, h.caller.CampaignCalls)
}

func TestQuantityBeyondRemainingEditions(t *testing.T) {
	h := newHarness(t)
	h.caller.PutCampaign(chain.Campaign{ID: big.NewInt(4), Active: true, EditionsMinted: big.NewInt(9), MaxEditions: big.NewInt(10)})

	res := h.run(intent(2), Hooks{})

	assert.False(t, res.Success)
	assert.Equal(t, classify.KindVerification, res.ErrorKind)
	assert.Contains(t, res.Error, "Only 1 editions")
	assert.Zero(t, h.wallet.Submitted())
}

func TestPreconditionsInOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Intent, *wallettest.Wallet)
		want   string
	}{
		{"not logged in", func(in *Intent, w *wallettest.Wallet) {
			in.Session = Session{}
			w.Offline = true
		}, "log in"},
		{"email unverified", func(in *Intent, w *wallettest.Wallet) {
			in.Session.EmailVerified = false
			w.Offline = true
		}, "verify your email"},
		{"wallet disconnected", func(in *Intent, w *wallettest.Wallet) {
			w.Offline = true
			in.CampaignStatus = CampaignStatusPendingOnchain
		}, "Connect your wallet"},
		{"unknown network", func(in *Intent, w *wallettest.Wallet) {
			in.ChainKey = "polygon"
		}, "not supported"},
		{"unconfigured contract", func(in *Intent, w *wallettest.Wallet) {
			in.ChainKey = "blockdag-v5"
			in.CampaignStatus = CampaignStatusPendingOnchain
		}, "not configured"},
		{"pending on chain", func(in *Intent, w *wallettest.Wallet) {
			in.CampaignStatus = CampaignStatusPendingOnchain
		}, "awaiting on-chain confirmation"},
		{"zero quantity", func(in *Intent, w *wallettest.Wallet) {
			in.Quantity = 0
			in.Session = Session{}
		}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := intent(1)
			tt.mutate(&in, h.wallet)

			res := h.run(in, Hooks{})

			assert.False(t, res.Success)
			assert.Equal(t, classify.KindPrecondition, res.ErrorKind)
			assert.Contains(t, res.Error, tt.want)
			assert.Zero(t, h.caller.TotalCalls)
			assert.Zero(t, h.wallet.Submitted())
		})
	}
}

func TestWrongChainRequestsSwitchAndStops(t *testing.T) {
	h := newHarness(t)
	h.wallet.Chain = 1

	res := h.run(intent(1), Hooks{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Switch your wallet to BlockDAG")
	assert.Equal(t, []uint64{bdagChainID}, h.wallet.SwitchRequests)
	assert.Zero(t, h.caller.TotalCalls)
	assert.Zero(t, h.wallet.Submitted())
}

func TestMissingEditionIDIsNotFatal(t *testing.T) {
	h := newHarness(t)
	base := h.wallet.Receipt
	h.wallet.Receipt = func(idx int, tx *types.Transaction) *types.Receipt {
		if idx == 1 {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}
		}
		return base(idx, tx)
	}

	res := h.run(intent(3), Hooks{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Minted())
	require.Len(t, res.EditionIDs, 2)
	assert.Equal(t, "102", res.EditionIDs[1].String())
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("ledger down")

	res := h.run(intent(1), Hooks{})

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Len(t, h.recorder.purchases(), 1)
}

func TestOpenDonationChargesDonationPerEdition(t *testing.T) {
	h := newHarness(t)
	in := intent(2)
	in.PricePerEditionUSD = nil
	in.DonationUSD = decimal.RequireFromString("20")

	res := h.run(in, Hooks{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, wei(404).String(), h.wallet.Sent[0].Value.String())
	saved := h.recorder.purchases()
	require.Len(t, saved, 1)
	assert.Equal(t, "40.00", saved[0].AmountUSD)
	assert.Empty(t, saved[0].PricePerEditionUSD)
}

func TestQuoteFallsBackWithoutOracle(t *testing.T) {
	h := newHarness(t)
	h.orch.prices = pricing.NewConverter(nil, nil, time.Second)

	plan, err := h.orch.Quote(context.Background(), intent(2))
	require.NoError(t, err)
	assert.True(t, plan.Quote.Fallback)
	assert.Equal(t, wei(404).String(), plan.Total().String())

	_, err = h.orch.Quote(context.Background(), Intent{CampaignID: big.NewInt(1)})
	assert.Error(t, err)
}

package mint

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"
	"vetsmint/internal/classify"
	"vetsmint/internal/ledger"
	"vetsmint/internal/pricing"
	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Recorder mirrors a completed purchase to the backend ledger.
type Recorder interface {
	Record(ctx context.Context, p ledger.Purchase) error
}

type Config struct {
	Profiles *chain.Resolver
	Prices   *pricing.Converter
	Verifier *verifier.Verifier
	// Caller serves read-only contract calls for verification.
	Caller bind.ContractCaller
	// Recorder may be nil, in which case purchases are not mirrored.
	Recorder      Recorder
	RecordTimeout time.Duration
}

// Orchestrator drives purchase intents through verification, serial minting and recording.
type Orchestrator struct {
	profiles      *chain.Resolver
	prices        *pricing.Converter
	verifier      *verifier.Verifier
	caller        bind.ContractCaller
	recorder      Recorder
	recordTimeout time.Duration
	pending       sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	v := cfg.Verifier
	if v == nil {
		v = verifier.New(backoff.DefaultConfig)
	}
	timeout := cfg.RecordTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Orchestrator{
		profiles:      cfg.Profiles,
		prices:        cfg.Prices,
		verifier:      v,
		caller:        cfg.Caller,
		recorder:      cfg.Recorder,
		recordTimeout: timeout,
	}
}

// Hooks receive progress while a purchase runs. All fields are optional.
type Hooks struct {
	// OnRetry is called before each verification retry wait.
	OnRetry func(backoff.Status)
	// OnSubmitted is called as soon as edition i has a transaction hash, before confirmation.
	OnSubmitted func(edition int, hash common.Hash)
	// OnState is called on every state entry.
	OnState func(state State, edition int)
	// Stop, once closed, skips editions not yet submitted. Submitted editions still confirm.
	Stop <-chan struct{}
}

// Wait blocks until in-flight ledger writes have finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Quote resolves the chain profile and prices the intent without touching a wallet.
func (o *Orchestrator) Quote(ctx context.Context, in Intent) (Plan, error) {
	if err := validateIntent(in); err != nil {
		return Plan{}, err
	}
	profile, err := o.profiles.Resolve(in.ContractAddress, in.ChainKey)
	if err != nil {
		return Plan{}, err
	}
	return o.plan(ctx, in, profile)
}

func (o *Orchestrator) plan(ctx context.Context, in Intent, profile chain.Profile) (Plan, error) {
	editionUSD := in.EditionUSD()
	if !editionUSD.IsPositive() {
		return Plan{}, errors.New("edition amount must be positive")
	}
	if in.GratuityUSD.IsNegative() {
		return Plan{}, errors.New("gratuity cannot be negative")
	}

	quote, err := o.prices.Rate(ctx, profile.ChainID, profile.CurrencySymbol)
	if err != nil {
		return Plan{}, err
	}
	native, err := pricing.USDToNative(editionUSD, quote.Rate)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Profile:       profile,
		Quote:         quote,
		Quantity:      in.Quantity,
		EditionUSD:    editionUSD,
		GratuityUSD:   in.GratuityUSD,
		EditionValue:  pricing.ToWei(native, pricing.EditionBuffer),
		GratuityValue: new(big.Int),
		GasCeiling:    profile.GasCeiling,
		Confirmations: profile.Confirmations,
	}
	if in.GratuityUSD.IsPositive() {
		gratuity, err := pricing.USDToNative(in.GratuityUSD, quote.Rate)
		if err != nil {
			return Plan{}, err
		}
		plan.GratuityValue = pricing.ToWei(gratuity, pricing.NoBuffer)
	}
	return plan, nil
}

func validateIntent(in Intent) error {
	if in.CampaignID == nil || in.CampaignID.Sign() < 0 {
		return errors.New("campaign id is required")
	}
	if in.Quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	return nil
}

type purchase struct {
	o      *Orchestrator
	in     Intent
	hooks  Hooks
	m      *machine
	logger *log.Entry
	res    Result
}

// Purchase runs one intent to completion. It never returns an error: every failure is
// classified into the Result. Editions confirmed before a failure stay in the Result.
func (o *Orchestrator) Purchase(ctx context.Context, w wallet.Provider, in Intent, hooks Hooks) Result {
	attemptID := uuid.NewString()
	logger := log.WithFields(log.Fields{"attempt_id": attemptID, "campaign_id": fmt.Sprint(in.CampaignID)})
	p := &purchase{
		o:      o,
		in:     in,
		hooks:  hooks,
		logger: logger,
		m:      newMachine(logger, hooks.OnState),
		res:    Result{AttemptID: attemptID, State: StateIdle, Quantity: in.Quantity},
	}
	p.run(ctx, w)
	p.res.State = p.m.state
	return p.res
}

func (p *purchase) fail(kind classify.Kind, msg string) {
	p.res.Success = false
	p.res.ErrorKind = kind
	p.res.Error = msg
	p.m.enter(StateFailed, -1)
	p.logger.WithFields(log.Fields{"kind": kind, "minted": p.res.Minted()}).Warn(msg)
}

func (p *purchase) run(ctx context.Context, w wallet.Provider) {
	profile, msg := p.preconditions(ctx, w)
	if msg != "" {
		p.fail(classify.KindPrecondition, msg)
		return
	}

	plan, err := p.o.plan(ctx, p.in, profile)
	if err != nil {
		p.fail(classify.KindPrecondition, "Unable to price this purchase: "+err.Error())
		return
	}
	p.res.Plan = plan

	contract := chain.NewContract(profile, p.o.caller)

	p.m.enter(StateVerifying, -1)
	camp, err := p.o.verifier.Verify(ctx, contract, p.in.CampaignID, p.hooks.OnRetry)
	if err != nil {
		out := classify.Classify(err)
		p.fail(out.Kind, out.Message)
		return
	}
	if left := camp.Remaining(); left >= 0 && int64(p.in.Quantity) > left {
		p.fail(classify.KindVerification, fmt.Sprintf("Only %d editions of campaign #%s remain.", left, p.in.CampaignID))
		return
	}

	signer, kind, msg := p.safetyCheck(ctx, w, plan)
	if msg != "" {
		p.fail(kind, msg)
		return
	}

	if !p.sequence(ctx, signer, contract, plan) {
		p.refreshBalance(ctx, signer)
		p.record(plan)
		p.fail(p.res.ErrorKind, p.res.Error)
		return
	}

	p.refreshBalance(ctx, signer)
	p.m.enter(StateRecording, -1)
	p.record(plan)
	p.res.Success = true
	p.m.enter(StateDone, -1)
	p.logger.WithField("minted", p.res.Minted()).Info("purchase complete")
}

// preconditions checks, in order: login, email verification, wallet connection, network,
// contract configuration and administrative campaign status. None touch the chain.
func (p *purchase) preconditions(ctx context.Context, w wallet.Provider) (chain.Profile, string) {
	if err := validateIntent(p.in); err != nil {
		return chain.Profile{}, "Invalid purchase: " + err.Error()
	}
	if !p.in.Session.LoggedIn {
		return chain.Profile{}, "Please log in to purchase."
	}
	if !p.in.Session.EmailVerified {
		return chain.Profile{}, "Please verify your email address before purchasing."
	}
	if w == nil || !w.Connected() {
		return chain.Profile{}, "Connect your wallet to continue."
	}

	profile, err := p.o.profiles.Resolve(p.in.ContractAddress, p.in.ChainKey)
	if err != nil {
		return chain.Profile{}, "This network is not supported for crypto checkout."
	}
	if w.ChainID() != profile.ChainID {
		if err := w.SwitchChain(ctx, profile.ChainID); err != nil {
			p.logger.WithError(err).Warn("network switch request failed")
		}
		return chain.Profile{}, fmt.Sprintf("Switch your wallet to %s (chain %d), then try again.", profile.Name, profile.ChainID)
	}
	if !profile.Configured() {
		return chain.Profile{}, fmt.Sprintf("Crypto checkout is not configured for %s.", profile.Name)
	}
	if p.in.CampaignStatus == CampaignStatusPendingOnchain {
		return chain.Profile{}, "This campaign is awaiting on-chain confirmation. Please try again shortly."
	}
	return profile, ""
}

// safetyCheck confirms the signer is the connected account and can pay for every edition plus gas.
func (p *purchase) safetyCheck(ctx context.Context, w wallet.Provider, plan Plan) (wallet.Signer, classify.Kind, string) {
	signer, err := w.Signer(ctx)
	if err != nil {
		out := classify.Classify(err)
		return nil, out.Kind, "Unable to access the wallet signer: " + out.Message
	}
	addr, err := signer.Address(ctx)
	if err != nil {
		return nil, classify.KindPrecondition, "Unable to read the signing account: " + classify.Classify(err).Message
	}
	if addr != w.Address() || (p.in.BuyerWallet != (common.Address{}) && addr != p.in.BuyerWallet) {
		p.logger.WithFields(log.Fields{"signer": addr.Hex(), "wallet": w.Address().Hex()}).Error("signer does not match connected wallet")
		return nil, classify.KindPrecondition, fmt.Sprintf("Your wallet is signing from %s, not the connected account %s. Select the connected account in your wallet and try again.", addr.Hex(), w.Address().Hex())
	}

	balance, err := signer.Balance(ctx)
	if err != nil {
		return nil, classify.KindPrecondition, "Unable to read your wallet balance: " + classify.Classify(err).Message
	}
	gasPrice, err := signer.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify.KindPrecondition, "Unable to estimate network fees: " + classify.Classify(err).Message
	}

	required := new(big.Int).Add(plan.Total(), plan.GasBudget(gasPrice))
	if balance.Cmp(required) < 0 {
		symbol := plan.Profile.CurrencySymbol
		p.res.BalanceAfter = balance
		return nil, classify.KindInsufficientFunds, fmt.Sprintf("Insufficient %s balance: you have %s %s but about %s %s is needed including gas.",
			symbol, pricing.FromWei(balance).StringFixed(4), symbol, pricing.FromWei(required).StringFixed(4), symbol)
	}
	return signer, classify.KindNone, ""
}

func (p *purchase) stopped() bool {
	select {
	case <-p.hooks.Stop:
		return true
	default:
		return false
	}
}

// sequence submits one transaction per edition, each waiting for the profile's confirmation
// depth before the next is sent. It reports whether every edition was confirmed.
func (p *purchase) sequence(ctx context.Context, signer wallet.Signer, contract *chain.Contract, plan Plan) bool {
	profile := plan.Profile
	for i := 0; i < plan.Quantity; i++ {
		if p.stopped() {
			p.logger.WithField("edition", i).Warn("purchase stopped before submission")
			p.res.ErrorKind = classify.KindCancelled
			p.res.Error = fmt.Sprintf("Checkout stopped after %d of %d editions.", i, plan.Quantity)
			return false
		}
		p.m.enter(StateMinting, i)

		last := i == plan.Quantity-1
		var (
			data []byte
			err  error
		)
		if last && plan.HasGratuity() {
			data, err = contract.PackMintWithGratuity(p.in.CampaignID, plan.GratuityValue)
		} else {
			data, err = contract.PackMint(p.in.CampaignID)
		}
		if err != nil {
			p.logger.WithError(err).WithField("edition", i).Error("encode mint call")
			p.res.ErrorKind, p.res.Error = classify.KindUnclassified, "Unable to encode the mint call: "+err.Error()
			return false
		}

		value := plan.Value(i)
		tx, err := signer.Transact(ctx, wallet.TxRequest{
			To:       profile.ContractAddress,
			Data:     data,
			Value:    value,
			GasLimit: plan.GasCeiling,
		})
		if err != nil {
			out := classify.Classify(err)
			p.logger.WithError(err).WithField("edition", i).Warn("edition submission failed")
			p.res.ErrorKind, p.res.Error = out.Kind, out.Message
			return false
		}

		hash := tx.Hash()
		txLog := p.logger.WithFields(log.Fields{"edition": i, "tx_hash": hash.Hex(), "value": value.String()})
		txLog.Info("edition submitted")
		if p.hooks.OnSubmitted != nil {
			p.hooks.OnSubmitted(i, hash)
		}

		p.m.enter(StateConfirming, i)
		receipt, err := signer.WaitConfirmed(ctx, tx, plan.Confirmations)
		if err != nil {
			out := classify.Classify(err)
			txLog.WithError(err).Warn("edition confirmation failed")
			p.res.FailedTxHash = hash
			p.res.ErrorKind, p.res.Error = out.Kind, out.Message
			return false
		}
		p.res.TxHashes = append(p.res.TxHashes, hash)

		ev, err := contract.ParseEditionMinted(receipt)
		if err != nil {
			txLog.WithError(err).Warn("could not decode minted edition id")
			continue
		}
		p.res.EditionIDs = append(p.res.EditionIDs, ev.EditionID)
		txLog.WithField("edition_id", ev.EditionID.String()).Info("edition confirmed")
	}
	return true
}

func (p *purchase) refreshBalance(ctx context.Context, signer wallet.Signer) {
	balance, err := signer.Balance(ctx)
	if err != nil {
		p.logger.WithError(err).Debug("balance refresh failed")
		return
	}
	p.res.BalanceAfter = balance
}

// record dispatches the ledger write off the purchase path. Failures are logged only.
func (p *purchase) record(plan Plan) {
	if p.o.recorder == nil || p.res.Minted() == 0 {
		return
	}
	payload := p.ledgerPurchase(plan)
	logger := p.logger.WithField("tx_hash", payload.TxHash)

	p.o.pending.Add(1)
	go func() {
		defer p.o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.o.recordTimeout)
		defer cancel()
		if err := p.o.recorder.Record(ctx, payload); err != nil {
			logger.WithError(err).Warn("purchase ledger write failed")
		}
	}()
}

func (p *purchase) ledgerPurchase(plan Plan) ledger.Purchase {
	minted := p.res.Minted()
	hashes := make([]string, 0, minted)
	for _, h := range p.res.TxHashes {
		hashes = append(hashes, h.Hex())
	}
	ids := make([]string, 0, len(p.res.EditionIDs))
	for _, id := range p.res.EditionIDs {
		ids = append(ids, id.String())
	}
	var tokenID string
	if len(ids) > 0 {
		tokenID = ids[len(ids)-1]
	}

	gratuityUSD, gratuityWei := plan.GratuityUSD, plan.GratuityValue
	if minted < plan.Quantity {
		// The gratuity rides on the final edition, which was never confirmed.
		gratuityUSD, gratuityWei = decimal.Zero, new(big.Int)
	}
	native := new(big.Int).Mul(plan.EditionValue, big.NewInt(int64(minted)))
	native.Add(native, gratuityWei)
	usd := plan.EditionUSD.Mul(decimal.NewFromInt(int64(minted))).Add(gratuityUSD)

	method := p.in.PaymentMethod
	if method == "" {
		method = PaymentMethodCrypto
	}
	var perEdition string
	if p.in.PricePerEditionUSD != nil {
		perEdition = p.in.PricePerEditionUSD.String()
	}

	return ledger.Purchase{
		CampaignID:         p.in.CampaignID.String(),
		ChainID:            plan.Profile.ChainID,
		ContractVersion:    string(plan.Profile.Variant),
		ContractAddress:    plan.Profile.ContractAddress.Hex(),
		TxHash:             p.res.LastTxHash().Hex(),
		TxHashes:           hashes,
		TokenID:            tokenID,
		MintedTokenIDs:     ids,
		Quantity:           minted,
		AmountUSD:          usd.StringFixed(2),
		AmountNative:       native.String(),
		PricePerEditionUSD: perEdition,
		GratuityUSD:        gratuityUSD.StringFixed(2),
		GratuityNative:     gratuityWei.String(),
		CurrencySymbol:     plan.Profile.CurrencySymbol,
		BuyerWallet:        p.in.BuyerWallet.Hex(),
		BuyerEmail:         p.in.Session.Email,
		UserID:             p.in.Session.UserID,
		PaymentMethod:      method,
		BuyerName:          p.in.BuyerName,
		Note:               p.in.Note,
	}
}

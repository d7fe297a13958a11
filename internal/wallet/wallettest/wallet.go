// Package wallettest provides a scriptable in-memory wallet for purchase flow tests.
package wallettest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Wallet implements wallet.Provider and hands out a wallet.Signer backed by the same state.
// Every submission and confirmation is appended to Events so tests can assert ordering.
type Wallet struct {
	mu sync.Mutex

	Addr       common.Address
	SignerAddr common.Address
	Chain      uint64
	Offline    bool
	Bal        *big.Int
	GasPrice   *big.Int

	// FailSubmit maps a 0-based submission index to the error Transact returns for it.
	FailSubmit map[int]error
	// Receipt builds the receipt for a confirmed submission. Nil yields an empty successful receipt.
	Receipt func(index int, tx *types.Transaction) *types.Receipt
	// AfterSubmit runs once a submission has been accepted, outside the wallet lock.
	AfterSubmit func(index int)

	Sent           []wallet.TxRequest
	Confirmations  []uint64
	Events         []string
	SwitchRequests []uint64
	BalanceReads   int
	submitted      int
}

func New(addr common.Address, chainID uint64, balance *big.Int) *Wallet {
	return &Wallet{
		Addr:       addr,
		SignerAddr: addr,
		Chain:      chainID,
		Bal:        balance,
		GasPrice:   big.NewInt(1_000_000_000),
		FailSubmit: map[int]error{},
	}
}

func (w *Wallet) Connected() bool { return !w.Offline }

func (w *Wallet) Address() common.Address { return w.Addr }

func (w *Wallet) ChainID() uint64 { return w.Chain }

func (w *Wallet) SwitchChain(_ context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.SwitchRequests = append(w.SwitchRequests, chainID)
	return nil
}

func (w *Wallet) Signer(context.Context) (wallet.Signer, error) {
	return signer{w}, nil
}

// Submitted returns how many Transact calls were made, including failed ones.
func (w *Wallet) Submitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

type signer struct {
	w *Wallet
}

func (s signer) Address(context.Context) (common.Address, error) {
	return s.w.SignerAddr, nil
}

func (w *Wallet) balance(context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.BalanceReads++
	return new(big.Int).Set(w.Bal), nil
}

func (s signer) Balance(ctx context.Context) (*big.Int, error) {
	return s.w.balance(ctx)
}

func (s signer) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.w.GasPrice), nil
}

func (s signer) Transact(ctx context.Context, req wallet.TxRequest) (*types.Transaction, error) {
	tx, err := s.w.transact(ctx, req)
	if err == nil && s.w.AfterSubmit != nil {
		s.w.AfterSubmit(int(tx.Nonce()))
	}
	return tx, err
}

func (s signer) WaitConfirmed(ctx context.Context, tx *types.Transaction, confirmations uint64) (*types.Receipt, error) {
	return s.w.waitConfirmed(ctx, tx, confirmations)
}

func (w *Wallet) transact(_ context.Context, req wallet.TxRequest) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := w.submitted
	w.submitted++
	w.Events = append(w.Events, fmt.Sprintf("submit:%d", idx))
	if err, ok := w.FailSubmit[idx]; ok {
		return nil, err
	}
	w.Sent = append(w.Sent, req)
	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(idx),
		To:       &to,
		Value:    req.Value,
		Gas:      req.GasLimit,
		GasPrice: w.GasPrice,
		Data:     req.Data,
	})
	return tx, nil
}

// waitConfirmed gives up on a cancelled context the way a polling wallet does.
func (w *Wallet) waitConfirmed(ctx context.Context, tx *types.Transaction, confirmations uint64) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := int(tx.Nonce())
	w.Events = append(w.Events, fmt.Sprintf("confirm:%d", idx))
	w.Confirmations = append(w.Confirmations, confirmations)
	if w.Receipt != nil {
		return w.Receipt(idx, tx), nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(int64(idx + 1))}, nil
}

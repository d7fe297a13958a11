package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUserRejected is returned when the wallet holder declines to sign.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrInsufficientFunds is returned by signers that pre-check balance before sending.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSwitchUnsupported is returned by wallets that cannot change networks.
	ErrSwitchUnsupported = errors.New("wallet cannot switch chains")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction execution reverted")
)

// Provider is the connected wallet as the purchase flow sees it.
type Provider interface {
	Connected() bool
	Address() common.Address
	ChainID() uint64
	SwitchChain(ctx context.Context, chainID uint64) error
	Signer(ctx context.Context) (Signer, error)
}

// TxRequest is a contract call with explicit value and gas ceiling.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Signer reads the signing account's state and submits transactions from it.
type Signer interface {
	Address(ctx context.Context) (common.Address, error)
	Balance(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Transact(ctx context.Context, req TxRequest) (*types.Transaction, error)
	// WaitConfirmed blocks until tx is mined and buried under the given number of blocks.
	WaitConfirmed(ctx context.Context, tx *types.Transaction, confirmations uint64) (*types.Receipt, error)
}

package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

// KeyedWallet signs with a locally held private key over a JSON-RPC endpoint.
// It backs custodial checkout and the CLI.
type KeyedWallet struct {
	client       *ethclient.Client
	key          *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	pollInterval time.Duration
}

type KeyedConfig struct {
	RPCURL        string
	PrivateKeyHex string
	PollInterval  time.Duration
}

func DialKeyed(ctx context.Context, cfg KeyedConfig) (*KeyedWallet, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for signing")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &KeyedWallet{
		client:       cli,
		key:          pk,
		address:      crypto.PubkeyToAddress(pk.PublicKey),
		chainID:      chainID,
		pollInterval: poll,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (w *KeyedWallet) Connected() bool {
	return w.client != nil
}

func (w *KeyedWallet) Address() common.Address {
	return w.address
}

func (w *KeyedWallet) ChainID() uint64 {
	return w.chainID.Uint64()
}

// SwitchChain succeeds only when already on chainID; an RPC endpoint is bound to one network.
func (w *KeyedWallet) SwitchChain(_ context.Context, chainID uint64) error {
	if w.ChainID() == chainID {
		return nil
	}
	return fmt.Errorf("%w: endpoint serves chain %d, want %d", ErrSwitchUnsupported, w.ChainID(), chainID)
}

func (w *KeyedWallet) Signer(context.Context) (Signer, error) {
	if !w.Connected() {
		return nil, errors.New("wallet not connected")
	}
	return keyedSigner{w}, nil
}

// Caller exposes the RPC client for read-only contract calls.
func (w *KeyedWallet) Caller() bind.ContractCaller {
	return w.client
}

func (w *KeyedWallet) Ping(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := w.client.BlockNumber(ctx)
	return err
}

func (w *KeyedWallet) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

type keyedSigner struct {
	w *KeyedWallet
}

func (s keyedSigner) Address(context.Context) (common.Address, error) {
	return crypto.PubkeyToAddress(s.w.key.PublicKey), nil
}

func (s keyedSigner) Balance(ctx context.Context) (*big.Int, error) {
	return s.w.client.BalanceAt(ctx, s.w.address, nil)
}

func (s keyedSigner) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.w.client.SuggestGasPrice(ctx)
}

func (s keyedSigner) Transact(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.w.key, s.w.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = req.Value
	opts.GasLimit = req.GasLimit

	bound := bind.NewBoundContract(req.To, abi.ABI{}, s.w.client, s.w.client, s.w.client)
	tx, err := bound.RawTransact(opts, req.Data)
	if err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return tx, nil
}

// WaitConfirmed polls until the transaction is mined, then until the head is
// confirmations-1 blocks past it, or ctx is cancelled.
func (s keyedSigner) WaitConfirmed(ctx context.Context, tx *types.Transaction, confirmations uint64) (*types.Receipt, error) {
	ticker := time.NewTicker(s.w.pollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := s.w.client.TransactionReceipt(ctx, tx.Hash())
		if r != nil {
			receipt = r
			break
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	if confirmations <= 1 {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + confirmations - 1
	for {
		head, err := s.w.client.BlockNumber(ctx)
		if err != nil {
			log.WithError(err).WithField("tx_hash", tx.Hash().Hex()).Debug("block number poll failed")
		} else if head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
		}
	}
}

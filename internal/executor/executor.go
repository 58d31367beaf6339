// Package executor signs and broadcasts the claim transactions the engine
// proposes. It owns the hot wallet key; nothing upstream of it can sign.
package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"liquidator/internal/alert"
	"liquidator/internal/core"
	"liquidator/pkg/retry"
)

// TxSender is the transaction surface of an EVM client. *ethclient.Client
// satisfies it.
type TxSender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// gasMargin pads the node's estimate; claims against many coolers can grow
// slightly between estimation and inclusion.
const gasMargin = 120 // percent

type Executor struct {
	client  TxSender
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  gethtypes.Signer
	alerts  *alert.AlertManager
	logger  core.ILogger
	policy  retry.RetryPolicy
}

// New builds an executor from a hex-encoded private key. alerts may be nil.
func New(client TxSender, privateKeyHex string, chainID *big.Int, alerts *alert.AlertManager, logger core.ILogger) (*Executor, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &Executor{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  gethtypes.LatestSignerForChainID(chainID),
		alerts:  alerts,
		logger:  logger.WithField("component", "executor"),
		policy:  retry.DefaultPolicy,
	}, nil
}

// From returns the wallet address the executor signs with.
func (e *Executor) From() common.Address { return e.from }

// Run drains the action channel until it closes or the context is
// cancelled. A failed broadcast is logged and alerted but never stops the
// loop; the engine will propose the claim again on a later block.
func (e *Executor) Run(ctx context.Context, actions <-chan core.Action) error {
	e.logger.Info("Executor running", "wallet", e.from.Hex())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-actions:
			if !ok {
				return nil
			}
			submit, ok := a.(core.SubmitTx)
			if !ok {
				continue
			}
			if err := e.Execute(ctx, submit); err != nil {
				e.logger.Error("Failed to submit claim", "error", err)
				e.notify(ctx, "Claim submission failed", err.Error(), alert.Error)
			}
		}
	}
}

// Execute completes, signs and broadcasts one proposed transaction.
func (e *Executor) Execute(ctx context.Context, submit core.SubmitTx) error {
	signed, err := e.prepare(ctx, submit)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, e.policy, retry.Always, func() error {
		return e.client.SendTransaction(ctx, signed)
	})
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	e.logger.Info("Claim submitted", "hash", signed.Hash().Hex(),
		"nonce", signed.Nonce(), "gas", signed.Gas())
	e.notify(ctx, "Claim submitted", signed.Hash().Hex(), alert.Info)
	return nil
}

// prepare fills in nonce, gas price and gas limit, then signs. The engine
// hands over an unsigned transaction carrying only calldata and recipient;
// transaction plumbing is this package's job.
func (e *Executor) prepare(ctx context.Context, submit core.SubmitTx) (*gethtypes.Transaction, error) {
	tx := submit.Tx
	if tx == nil || tx.To() == nil {
		return nil, fmt.Errorf("malformed proposal: missing transaction")
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	gasPrice := submit.GasBid
	if gasPrice == nil || gasPrice.Sign() == 0 {
		gasPrice, err = e.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
	}

	gas := tx.Gas()
	if gas == 0 {
		gas, err = e.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  e.from,
			To:    tx.To(),
			Value: tx.Value(),
			Data:  tx.Data(),
		})
		if err != nil {
			return nil, fmt.Errorf("gas estimate: %w", err)
		}
		gas = gas * gasMargin / 100
	}

	unsigned := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       tx.To(),
		Value:    tx.Value(),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     tx.Data(),
	})
	signed, err := gethtypes.SignTx(unsigned, e.signer, e.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

func (e *Executor) notify(ctx context.Context, title, message string, level alert.AlertLevel) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(ctx, title, message, level, map[string]string{"wallet": e.from.Hex()})
}

// Package chainclient is the EVM implementation of transaction delivery
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/config"
	"github.com/speedrun-hq/speedrun-solver/pkg/contracts"
	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

const (
	// DefaultGasMultiplier adds a 10% buffer to the suggested gas price
	DefaultGasMultiplier = 1.1
	// gasPriceMaxAge is how long a tracked gas price is used before asking the node again
	gasPriceMaxAge = 30 * time.Second
	// gasLimitBuffer is applied on top of estimated gas, in percent
	gasLimitBuffer = 20
	rpcTimeout     = 10 * time.Second
)

// Backend is the node access a chain client needs. *ethclient.Client implements it.
type Backend interface {
	NonceSource
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Client signs and sends transactions on one chain
type Client struct {
	ChainID       uint64
	Name          string
	IntentAddress common.Address
	MinFee        *big.Int
	GasMultiplier float64

	backend Backend
	auth    *bind.TransactOpts
	nonces  *NonceManager
	breaker *circuitbreaker.CircuitBreaker
	logger  logger.Logger
	now     func() time.Time

	mu              sync.RWMutex
	currentGasPrice *big.Int
	gasUpdatedAt    time.Time
}

// Dial connects to the chain's RPC endpoint
func Dial(ctx context.Context, cfg config.ChainConfig, privateKey string, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", cfg.ChainID, err)
	}
	client, err := New(ctx, cfg, eth, key, breaker, log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return client, nil
}

// New creates a client on top of an existing backend. The backend must
// report the configured chain id.
func New(ctx context.Context, cfg config.ChainConfig, backend Backend, key *ecdsa.PrivateKey, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(cfg.ChainID, false, 0, 0, 0, log)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	remoteID, err := backend.ChainID(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if !remoteID.IsUint64() || remoteID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("RPC for chain %d reports chain id %s", cfg.ChainID, remoteID)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, remoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	multiplier := cfg.GasMultiplier
	if multiplier <= 0 {
		multiplier = DefaultGasMultiplier
	}

	return &Client{
		ChainID:       cfg.ChainID,
		Name:          cfg.Name,
		IntentAddress: common.HexToAddress(cfg.IntentAddress),
		MinFee:        cfg.MinFeeInt(),
		GasMultiplier: multiplier,
		backend:       backend,
		auth:          auth,
		nonces:        NewNonceManager(cfg.ChainID, backend, auth.From),
		breaker:       breaker,
		logger:        log,
		now:           time.Now,
	}, nil
}

// Address returns the solver account
func (c *Client) Address() common.Address {
	return c.auth.From
}

// Breaker returns the chain's circuit breaker
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// UpdateGasPrice refreshes the gas price from the node, applying the gas multiplier
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	multiplied := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(c.GasMultiplier))
	final, _ := multiplied.Int(nil)

	c.mu.Lock()
	c.currentGasPrice = final
	c.gasUpdatedAt = c.now()
	c.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(final), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.WithLabelValues(strconv.FormatUint(c.ChainID, 10)).Set(gwei)
	return new(big.Int).Set(final), nil
}

// GasPrice returns the tracked gas price, refreshing it when stale
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	price, updated := c.currentGasPrice, c.gasUpdatedAt
	c.mu.RUnlock()

	if price != nil && c.now().Sub(updated) < gasPriceMaxAge {
		return new(big.Int).Set(price), nil
	}
	return c.UpdateGasPrice(ctx)
}

// Submit signs and sends tx. Failures to send count against the circuit breaker.
func (c *Client) Submit(ctx context.Context, tx *models.Transaction) (string, error) {
	if err := c.breaker.Allow(); err != nil {
		return "", fmt.Errorf("chain %d: %w", c.ChainID, err)
	}
	if !common.IsHexAddress(tx.To) {
		return "", fmt.Errorf("invalid transaction target %q", tx.To)
	}
	to := common.HexToAddress(tx.To)

	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasPrice := tx.GasPrice
	if gasPrice == nil {
		var err error
		if gasPrice, err = c.GasPrice(ctx); err != nil {
			return "", err
		}
	}

	gasLimit := tx.GasLimit
	if gasLimit == 0 {
		estimate, err := c.EstimateGas(ctx, tx)
		if err != nil {
			c.breaker.RecordFailure()
			return "", err
		}
		gasLimit = estimate * (100 + gasLimitBuffer) / 100
	}

	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return "", err
	}

	var unsigned *types.Transaction
	if tx.PriorityFee != nil {
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(c.ChainID),
			Nonce:     nonce,
			GasTipCap: tx.PriorityFee,
			GasFeeCap: gasPrice,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      tx.Data,
		})
	} else {
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     tx.Data,
		})
	}

	signed, err := c.auth.Signer(c.auth.From, unsigned)
	if err != nil {
		c.nonces.Failed(nonce)
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	if err := c.backend.SendTransaction(timeoutCtx, signed); err != nil {
		c.nonces.Failed(nonce)
		if c.breaker.RecordFailure() {
			c.logger.ErrorWithChain(c.ChainID, "Circuit breaker tripped after send failure: %v", err)
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.breaker.RecordSuccess()
	c.nonces.Track(signed.Hash(), nonce)

	hash := signed.Hash().Hex()
	c.logger.InfoWithChain(c.ChainID, "Sent transaction %s (nonce %d, gas price %s)", hash, nonce, gasPrice)
	return hash, nil
}

// Receipt returns the receipt of a mined transaction, or delivery.ErrReceiptNotFound
func (c *Client) Receipt(ctx context.Context, hash string) (*models.TransactionReceipt, error) {
	txHash := common.HexToHash(hash)
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, delivery.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt of %s: %w", hash, err)
	}

	header, err := c.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", receipt.BlockNumber, err)
	}
	return convertReceipt(c.ChainID, receipt, header), nil
}

// WaitForConfirmation polls for the receipt until it has the requested
// number of confirmations or ctx ends
func (c *Client) WaitForConfirmation(ctx context.Context, hash string, confirmations uint64, interval time.Duration) (*models.TransactionReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	for {
		receipt, err := c.Receipt(ctx, hash)
		switch {
		case err == nil:
			head, herr := c.backend.BlockNumber(ctx)
			if herr != nil {
				c.logger.DebugWithChain(c.ChainID, "Failed to read head while waiting for %s: %v", hash, herr)
				break
			}
			if head+1 >= receipt.BlockNumber+confirmations {
				c.nonces.Confirmed(common.HexToHash(hash))
				return receipt, nil
			}
		case errors.Is(err, delivery.ErrReceiptNotFound):
			c.logger.DebugWithChain(c.ChainID, "Transaction %s still pending, continuing to wait", hash)
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.DebugWithChain(c.ChainID, "Receipt lookup for %s failed: %v", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Balance returns the native balance for an empty or zero token address and
// the ERC20 balance otherwise
func (c *Client) Balance(ctx context.Context, owner, token string) (*big.Int, error) {
	account := common.HexToAddress(owner)
	if isNative(token) {
		return c.backend.BalanceAt(ctx, account, nil)
	}

	data, err := contracts.PackBalanceOf(account)
	if err != nil {
		return nil, err
	}
	tokenAddr := common.HexToAddress(token)
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf on %s: %w", token, err)
	}
	return contracts.UnpackBalance(out)
}

// EstimateGas estimates the gas tx needs when sent from the solver account
func (c *Client) EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, c.callMsg(tx))
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas, nil
}

// Call runs tx as a read-only call at the latest block
func (c *Client) Call(ctx context.Context, tx *models.Transaction) ([]byte, error) {
	return c.backend.CallContract(ctx, c.callMsg(tx), nil)
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// FilterLogs runs a log query against the chain
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.backend.FilterLogs(ctx, q)
}

func (c *Client) callMsg(tx *models.Transaction) ethereum.CallMsg {
	to := common.HexToAddress(tx.To)
	return ethereum.CallMsg{
		From:  c.auth.From,
		To:    &to,
		Value: tx.Value,
		Data:  tx.Data,
	}
}

func convertReceipt(chainID uint64, r *types.Receipt, header *types.Header) *models.TransactionReceipt {
	out := &models.TransactionReceipt{
		Hash:        strings.ToLower(r.TxHash.Hex()),
		ChainID:     chainID,
		BlockNumber: r.BlockNumber.Uint64(),
		BlockHash:   r.BlockHash.Hex(),
		Success:     r.Status == types.ReceiptStatusSuccessful,
		GasUsed:     r.GasUsed,
	}
	if header != nil {
		out.BlockTimestamp = time.Unix(int64(header.Time), 0).UTC()
	}
	for _, l := range r.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		out.Logs = append(out.Logs, models.ReceiptLog{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return out
}

func isNative(token string) bool {
	return token == "" || common.HexToAddress(token) == (common.Address{})
}

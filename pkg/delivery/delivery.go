// Package delivery is the chain access the engine uses to submit and observe transactions.
package delivery

import (
	"context"
	"errors"
	"math/big"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

var (
	// ErrReceiptNotFound means the transaction is not mined yet or unknown to the node
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// Delivery submits transactions and reads chain state
type Delivery interface {
	// Submit signs and broadcasts tx, returning its hash
	Submit(ctx context.Context, tx *models.Transaction) (string, error)
	// WaitForConfirmation blocks until the transaction has the requested confirmations.
	// A reverted transaction is returned with Success false and a nil error.
	WaitForConfirmation(ctx context.Context, hash string, chainID uint64, confirmations uint64) (*models.TransactionReceipt, error)
	GetReceipt(ctx context.Context, hash string, chainID uint64) (*models.TransactionReceipt, error)
	GetGasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
	// GetBalance returns the native balance when token is empty or the zero address
	GetBalance(ctx context.Context, address, token string, chainID uint64) (*big.Int, error)
	EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error)
	Call(ctx context.Context, tx *models.Transaction) ([]byte, error)
	GetBlockNumber(ctx context.Context, chainID uint64) (uint64, error)
}

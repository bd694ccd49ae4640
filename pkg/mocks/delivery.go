// Package mocks provides hand-written collaborator doubles for tests
package mocks

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// Delivery is an in-memory chain. Submitted transactions confirm successfully
// unless FailStage or WaitFunc says otherwise.
type Delivery struct {
	mu sync.Mutex

	GasPrices map[uint64]*big.Int
	Balances  map[models.BalanceKey]*big.Int
	// Receipts answers GetReceipt. Missing hashes return ErrReceiptNotFound.
	Receipts map[string]*models.TransactionReceipt
	// Revert marks submitted transactions whose target matches as reverted
	Revert map[string]bool

	SubmitErr   error
	GasPriceErr error
	CallResult  []byte
	BlockNumber uint64

	// ReceiptErr fails GetReceipt for the next ReceiptErrCount lookups
	ReceiptErr      error
	ReceiptErrCount int

	// WaitFunc overrides WaitForConfirmation when set
	WaitFunc func(ctx context.Context, hash string, chainID uint64) (*models.TransactionReceipt, error)
	// HoldConfirmations makes WaitForConfirmation block until ctx is done.
	// Set it through SetHold once waits may be running.
	HoldConfirmations bool

	Submitted []*models.Transaction
	hashes    map[string]*models.Transaction
	counter   int
}

// NewDelivery creates a delivery with 1 gwei gas on every listed chain
func NewDelivery(chainIDs ...uint64) *Delivery {
	d := &Delivery{
		GasPrices:   make(map[uint64]*big.Int),
		Balances:    make(map[models.BalanceKey]*big.Int),
		Receipts:    make(map[string]*models.TransactionReceipt),
		Revert:      make(map[string]bool),
		hashes:      make(map[string]*models.Transaction),
		BlockNumber: 1000,
	}
	for _, id := range chainIDs {
		d.GasPrices[id] = big.NewInt(1_000_000_000)
	}
	return d
}

var _ delivery.Delivery = (*Delivery)(nil)

// SetBalance sets the solver balance of a token
func (d *Delivery) SetBalance(chainID uint64, token string, amount *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Balances[models.NewBalanceKey(chainID, token)] = amount
}

// SetGasPrice sets the gas price of a chain
func (d *Delivery) SetGasPrice(chainID uint64, price *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GasPrices[chainID] = price
}

// SubmittedCount returns how many transactions were submitted
func (d *Delivery) SubmittedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Submitted)
}

// SubmittedTo returns the submitted transactions whose target is to
func (d *Delivery) SubmittedTo(to string) []*models.Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range d.Submitted {
		if strings.EqualFold(tx.To, to) {
			out = append(out, tx)
		}
	}
	return out
}

func (d *Delivery) Submit(_ context.Context, tx *models.Transaction) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitErr != nil {
		return "", d.SubmitErr
	}
	d.counter++
	hash := fmt.Sprintf("0x%064x", d.counter)
	d.Submitted = append(d.Submitted, tx)
	d.hashes[hash] = tx
	return hash, nil
}

func (d *Delivery) WaitForConfirmation(ctx context.Context, hash string, chainID uint64, _ uint64) (*models.TransactionReceipt, error) {
	if d.WaitFunc != nil {
		return d.WaitFunc(ctx, hash, chainID)
	}
	d.mu.Lock()
	hold := d.HoldConfirmations
	d.mu.Unlock()
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	receipt := d.mineLocked(hash, chainID)
	return receipt, nil
}

// SetHold switches HoldConfirmations
func (d *Delivery) SetHold(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.HoldConfirmations = hold
}

// Mine records a receipt for a submitted hash as if the chain included it
func (d *Delivery) Mine(hash string, chainID uint64) *models.TransactionReceipt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mineLocked(hash, chainID)
}

func (d *Delivery) mineLocked(hash string, chainID uint64) *models.TransactionReceipt {
	if r, ok := d.Receipts[hash]; ok {
		return r
	}
	success := true
	if tx, ok := d.hashes[hash]; ok && d.Revert[strings.ToLower(tx.To)] {
		success = false
	}
	d.BlockNumber++
	r := &models.TransactionReceipt{
		Hash:        hash,
		ChainID:     chainID,
		BlockNumber: d.BlockNumber,
		BlockHash:   fmt.Sprintf("0x%064x", d.BlockNumber),
		Success:     success,
		GasUsed:     21000,
	}
	d.Receipts[hash] = r
	return r
}

func (d *Delivery) GetReceipt(_ context.Context, hash string, _ uint64) (*models.TransactionReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ReceiptErrCount > 0 {
		d.ReceiptErrCount--
		return nil, d.ReceiptErr
	}
	r, ok := d.Receipts[hash]
	if !ok {
		return nil, delivery.ErrReceiptNotFound
	}
	return r, nil
}

func (d *Delivery) GetGasPrice(_ context.Context, chainID uint64) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GasPriceErr != nil {
		return nil, d.GasPriceErr
	}
	p, ok := d.GasPrices[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", delivery.ErrUnsupportedChain, chainID)
	}
	return new(big.Int).Set(p), nil
}

func (d *Delivery) GetBalance(_ context.Context, _ string, token string, chainID uint64) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.Balances[models.NewBalanceKey(chainID, token)]
	if !ok {
		return nil, fmt.Errorf("no balance for %s on chain %d", token, chainID)
	}
	return new(big.Int).Set(b), nil
}

func (d *Delivery) EstimateGas(_ context.Context, _ *models.Transaction) (uint64, error) {
	return 100_000, nil
}

func (d *Delivery) Call(_ context.Context, _ *models.Transaction) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallResult, nil
}

func (d *Delivery) GetBlockNumber(_ context.Context, _ uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.BlockNumber, nil
}

package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// DefaultPollInterval is the receipt polling interval of WaitForConfirmation
const DefaultPollInterval = 2 * time.Second

// Delivery routes delivery calls to the client of the transaction's chain
type Delivery struct {
	clients      map[uint64]*Client
	pollInterval time.Duration
}

var _ delivery.Delivery = (*Delivery)(nil)

// NewDelivery creates a delivery over clients
func NewDelivery(clients ...*Client) *Delivery {
	d := &Delivery{
		clients:      make(map[uint64]*Client, len(clients)),
		pollInterval: DefaultPollInterval,
	}
	for _, c := range clients {
		d.clients[c.ChainID] = c
	}
	return d
}

// SetPollInterval changes how often receipts are polled while waiting
func (d *Delivery) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.pollInterval = interval
	}
}

// Client returns the client of a chain
func (d *Delivery) Client(chainID uint64) (*Client, error) {
	c, ok := d.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", delivery.ErrUnsupportedChain, chainID)
	}
	return c, nil
}

// Clients returns every client ordered by chain id
func (d *Delivery) Clients() []*Client {
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Breakers returns the circuit breaker of every chain
func (d *Delivery) Breakers() map[uint64]*circuitbreaker.CircuitBreaker {
	out := make(map[uint64]*circuitbreaker.CircuitBreaker, len(d.clients))
	for id, c := range d.clients {
		out[id] = c.Breaker()
	}
	return out
}

func (d *Delivery) Submit(ctx context.Context, tx *models.Transaction) (string, error) {
	c, err := d.Client(tx.ChainID)
	if err != nil {
		return "", err
	}
	return c.Submit(ctx, tx)
}

func (d *Delivery) WaitForConfirmation(ctx context.Context, hash string, chainID uint64, confirmations uint64) (*models.TransactionReceipt, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.WaitForConfirmation(ctx, hash, confirmations, d.pollInterval)
}

func (d *Delivery) GetReceipt(ctx context.Context, hash string, chainID uint64) (*models.TransactionReceipt, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.Receipt(ctx, hash)
}

func (d *Delivery) GetGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.GasPrice(ctx)
}

func (d *Delivery) GetBalance(ctx context.Context, address, token string, chainID uint64) (*big.Int, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.Balance(ctx, address, token)
}

func (d *Delivery) EstimateGas(ctx context.Context, tx *models.Transaction) (uint64, error) {
	c, err := d.Client(tx.ChainID)
	if err != nil {
		return 0, err
	}
	return c.EstimateGas(ctx, tx)
}

func (d *Delivery) Call(ctx context.Context, tx *models.Transaction) ([]byte, error) {
	c, err := d.Client(tx.ChainID)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, tx)
}

func (d *Delivery) GetBlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return 0, err
	}
	return c.BlockNumber(ctx)
}

// FilterLogs runs a log query on one chain
func (d *Delivery) FilterLogs(ctx context.Context, chainID uint64, q ethereum.FilterQuery) ([]types.Log, error) {
	c, err := d.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.FilterLogs(ctx, q)
}

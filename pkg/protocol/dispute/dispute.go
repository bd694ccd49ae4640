// Package dispute implements settlement by dispute period: a fill becomes
// claimable once the window for challenging it has passed
package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
)

// Name is the settlement name
const Name = "dispute"

// ReceiptReader returns transaction receipts
type ReceiptReader interface {
	GetReceipt(ctx context.Context, hash string, chainID uint64) (*models.TransactionReceipt, error)
}

// Settlement proves a fill by its receipt and allows claiming after Period
type Settlement struct {
	receipts ReceiptReader
	period   time.Duration
	interval time.Duration
	now      func() time.Time
}

var _ protocol.Settlement = (*Settlement)(nil)

// NewSettlement creates a dispute settlement
func NewSettlement(receipts ReceiptReader, period, pollInterval time.Duration) *Settlement {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Settlement{
		receipts: receipts,
		period:   period,
		interval: pollInterval,
		now:      time.Now,
	}
}

func (s *Settlement) Name() string { return Name }

func (s *Settlement) PollInterval() time.Duration { return s.interval }

func (s *Settlement) GeneratePostFillTransaction(context.Context, *models.Order, *models.TransactionReceipt) (*models.Transaction, error) {
	return nil, nil
}

func (s *Settlement) GeneratePreClaimTransaction(context.Context, *models.Order, *models.FillProof) (*models.Transaction, error) {
	return nil, nil
}

// GetAttestation builds the proof from the fill receipt on the destination chain
func (s *Settlement) GetAttestation(ctx context.Context, order *models.Order, fillTxHash string) (*models.FillProof, error) {
	if len(order.Outputs) == 0 {
		return nil, fmt.Errorf("order %s has no outputs", order.ID)
	}
	receipt, err := s.receipts.GetReceipt(ctx, fillTxHash, order.Outputs[0].ChainID)
	if err != nil {
		if errors.Is(err, delivery.ErrReceiptNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !receipt.Success {
		return nil, fmt.Errorf("fill %s of order %s reverted", fillTxHash, order.ID)
	}
	return &models.FillProof{
		FillTxHash:    fillTxHash,
		FillTimestamp: receipt.BlockTimestamp,
		BlockNumber:   receipt.BlockNumber,
	}, nil
}

// CanClaim reports whether the dispute period after the fill has passed
func (s *Settlement) CanClaim(_ context.Context, _ *models.Order, proof *models.FillProof) (bool, error) {
	if proof == nil || proof.FillTimestamp.IsZero() {
		return false, nil
	}
	return !s.now().Before(proof.FillTimestamp.Add(s.period)), nil
}

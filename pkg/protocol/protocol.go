// Package protocol defines the pluggable order standards and settlement
// mechanisms the engine drives, plus a registry to look them up by name.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

var (
	ErrUnknownStandard   = errors.New("unknown order standard")
	ErrUnknownSettlement = errors.New("unknown settlement")
)

// ValidationError reports why an intent cannot become an order
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Invalid builds a ValidationError
func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError and returns its reason
func IsValidation(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// UnclaimableError reports a settlement that can never pay this solver
type UnclaimableError struct {
	Reason string
}

func (e *UnclaimableError) Error() string {
	return "unclaimable: " + e.Reason
}

// Unclaimable builds an UnclaimableError
func Unclaimable(reason string) error {
	return &UnclaimableError{Reason: reason}
}

// IsUnclaimable reports whether err is an UnclaimableError and returns its reason
func IsUnclaimable(err error) (string, bool) {
	var ue *UnclaimableError
	if errors.As(err, &ue) {
		return ue.Reason, true
	}
	return "", false
}

// IDResolver performs a read-only contract call on a chain and returns the
// decoded identifier. Standards use it when an order id is derived on-chain.
type IDResolver func(ctx context.Context, chainID uint64, to string, callData []byte) (string, error)

// Standard encodes the order format of one intent protocol
type Standard interface {
	Name() string
	// ValidateOrder checks the raw order payload before any order is created
	ValidateOrder(ctx context.Context, payload []byte) error
	ValidateAndCreateOrder(ctx context.Context, intent models.Intent, resolve IDResolver, solver string) (*models.Order, error)
	// GeneratePrepareTransaction returns nil when the standard needs no prepare step
	GeneratePrepareTransaction(ctx context.Context, order *models.Order) (*models.Transaction, error)
	GenerateFillTransaction(ctx context.Context, order *models.Order, params *models.ExecutionParams) (*models.Transaction, error)
	// GenerateClaimTransaction returns nil when the protocol pays the solver without a claim
	GenerateClaimTransaction(ctx context.Context, order *models.Order, proof *models.FillProof) (*models.Transaction, error)
}

// Settlement proves a fill happened and gates when the solver may claim
type Settlement interface {
	Name() string
	// GeneratePostFillTransaction returns nil when no post-fill step is needed
	GeneratePostFillTransaction(ctx context.Context, order *models.Order, fillReceipt *models.TransactionReceipt) (*models.Transaction, error)
	// GeneratePreClaimTransaction returns nil when no pre-claim step is needed
	GeneratePreClaimTransaction(ctx context.Context, order *models.Order, proof *models.FillProof) (*models.Transaction, error)
	// GetAttestation returns nil while the proof is not available yet
	GetAttestation(ctx context.Context, order *models.Order, fillTxHash string) (*models.FillProof, error)
	CanClaim(ctx context.Context, order *models.Order, proof *models.FillProof) (bool, error)
	PollInterval() time.Duration
}

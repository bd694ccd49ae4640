package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
)

// Targets the mock standard and settlement send their transactions to
const (
	PrepareTarget  = "0x00000000000000000000000000000000000000a1"
	FillTarget     = "0x00000000000000000000000000000000000000a2"
	PostFillTarget = "0x00000000000000000000000000000000000000a3"
	PreClaimTarget = "0x00000000000000000000000000000000000000a4"
	ClaimTarget    = "0x00000000000000000000000000000000000000a5"
)

// OrderPayload is the intent data the mock standard understands
type OrderPayload struct {
	OriginChain      uint64 `json:"origin_chain"`
	DestinationChain uint64 `json:"destination_chain"`
	InputToken       string `json:"input_token"`
	OutputToken      string `json:"output_token"`
	AmountIn         int64  `json:"amount_in"`
	AmountOut        int64  `json:"amount_out"`
}

// NewIntent builds an intent for the mock standard
func NewIntent(id string, payload OrderPayload) models.Intent {
	data, _ := json.Marshal(payload)
	return models.Intent{
		ID:       id,
		Source:   "test",
		Standard: "mock",
		Data:     data,
		Metadata: models.IntentMetadata{DiscoveredAt: time.Now()},
	}
}

// Standard is a configurable order standard
type Standard struct {
	WithPrepare bool
	// NoClaim makes GenerateClaimTransaction return nil
	NoClaim bool

	ValidateErr error
	FillErr     error
	ClaimErr    error

	mu          sync.Mutex
	fillCalls   int
	claimOrders []string
}

var _ protocol.Standard = (*Standard)(nil)

func (s *Standard) Name() string { return "mock" }

func (s *Standard) ValidateOrder(_ context.Context, payload []byte) error {
	if s.ValidateErr != nil {
		return s.ValidateErr
	}
	var p OrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return protocol.Invalid("malformed payload")
	}
	if p.AmountIn <= 0 {
		return protocol.Invalid("amount must be positive")
	}
	return nil
}

func (s *Standard) ValidateAndCreateOrder(ctx context.Context, intent models.Intent, resolve protocol.IDResolver, solver string) (*models.Order, error) {
	var p OrderPayload
	if err := json.Unmarshal(intent.Data, &p); err != nil {
		return nil, protocol.Invalid("malformed payload")
	}
	id := intent.ID
	if resolve != nil {
		if resolved, err := resolve(ctx, p.OriginChain, PrepareTarget, nil); err == nil && resolved != "" {
			id = resolved
		}
	}
	return &models.Order{
		ID:            id,
		IntentID:      intent.ID,
		Standard:      s.Name(),
		Data:          intent.Data,
		SolverAddress: solver,
		Inputs:        []models.ChainAmount{{ChainID: p.OriginChain, Token: p.InputToken, Amount: big.NewInt(p.AmountIn)}},
		Outputs:       []models.ChainAmount{{ChainID: p.DestinationChain, Token: p.OutputToken, Amount: big.NewInt(p.AmountOut)}},
	}, nil
}

func (s *Standard) GeneratePrepareTransaction(_ context.Context, order *models.Order) (*models.Transaction, error) {
	if !s.WithPrepare {
		return nil, nil
	}
	return &models.Transaction{ChainID: order.Inputs[0].ChainID, To: PrepareTarget}, nil
}

func (s *Standard) GenerateFillTransaction(_ context.Context, order *models.Order, params *models.ExecutionParams) (*models.Transaction, error) {
	s.mu.Lock()
	s.fillCalls++
	s.mu.Unlock()
	if s.FillErr != nil {
		return nil, s.FillErr
	}
	tx := &models.Transaction{ChainID: order.Outputs[0].ChainID, To: FillTarget}
	if params != nil {
		tx.GasPrice = params.GasPrice
		tx.PriorityFee = params.PriorityFee
	}
	return tx, nil
}

// FillCalls returns how many fill transactions were generated
func (s *Standard) FillCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillCalls
}

func (s *Standard) GenerateClaimTransaction(_ context.Context, order *models.Order, _ *models.FillProof) (*models.Transaction, error) {
	s.mu.Lock()
	s.claimOrders = append(s.claimOrders, order.ID)
	s.mu.Unlock()
	if s.ClaimErr != nil {
		return nil, s.ClaimErr
	}
	if s.NoClaim {
		return nil, nil
	}
	return &models.Transaction{ChainID: order.Inputs[0].ChainID, To: ClaimTarget}, nil
}

// ClaimCalls returns the orders a claim was generated for
func (s *Standard) ClaimCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.claimOrders...)
}

// ErrSettlement is returned by Settlement when Fail is set
var ErrSettlement = errors.New("settlement unavailable")

// Settlement is a configurable settlement mechanism. The attestation becomes
// available on poll AttestAfter and claiming is allowed from poll ClaimAfter,
// both counted across GetAttestation and CanClaim calls.
type Settlement struct {
	WithPostFill bool
	WithPreClaim bool
	Interval     time.Duration
	AttestAfter  int64
	ClaimAfter   int64
	// Never keeps CanClaim false forever
	Never bool
	Fail  bool
	// Lost makes CanClaim report the settlement as paid to someone else
	Lost bool

	polls atomic.Int64
}

var _ protocol.Settlement = (*Settlement)(nil)

func (s *Settlement) Name() string { return "mock" }

func (s *Settlement) PollInterval() time.Duration {
	if s.Interval <= 0 {
		return 10 * time.Millisecond
	}
	return s.Interval
}

// Polls returns how many times the settlement was polled
func (s *Settlement) Polls() int64 {
	return s.polls.Load()
}

func (s *Settlement) GeneratePostFillTransaction(_ context.Context, order *models.Order, _ *models.TransactionReceipt) (*models.Transaction, error) {
	if !s.WithPostFill {
		return nil, nil
	}
	return &models.Transaction{ChainID: order.Outputs[0].ChainID, To: PostFillTarget}, nil
}

func (s *Settlement) GeneratePreClaimTransaction(_ context.Context, order *models.Order, _ *models.FillProof) (*models.Transaction, error) {
	if !s.WithPreClaim {
		return nil, nil
	}
	return &models.Transaction{ChainID: order.Inputs[0].ChainID, To: PreClaimTarget}, nil
}

func (s *Settlement) GetAttestation(_ context.Context, _ *models.Order, fillTxHash string) (*models.FillProof, error) {
	n := s.polls.Add(1)
	if s.Fail {
		return nil, ErrSettlement
	}
	if n < s.AttestAfter {
		return nil, nil
	}
	return &models.FillProof{FillTxHash: fillTxHash, FillTimestamp: time.Now(), BlockNumber: uint64(n)}, nil
}

func (s *Settlement) CanClaim(_ context.Context, _ *models.Order, _ *models.FillProof) (bool, error) {
	n := s.polls.Add(1)
	if s.Fail {
		return false, ErrSettlement
	}
	if s.Lost {
		return false, protocol.Unclaimable("settled to another solver")
	}
	return !s.Never && n >= s.ClaimAfter, nil
}

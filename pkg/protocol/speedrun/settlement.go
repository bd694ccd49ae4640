package speedrun

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/speedrun-hq/speedrun-solver/pkg/contracts"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
)

const (
	// DefaultLookbackBlocks bounds how far back settlement logs are searched
	DefaultLookbackBlocks = 10_000
	DefaultPollInterval   = 15 * time.Second
)

// ChainReader is the read access the settlement needs on the source chain
type ChainReader interface {
	FilterLogs(ctx context.Context, chainID uint64, q ethereum.FilterQuery) ([]types.Log, error)
	GetBlockNumber(ctx context.Context, chainID uint64) (uint64, error)
}

// SettlementConfig holds the settlement settings
type SettlementConfig struct {
	// Confirmations is the depth the IntentSettled log needs before the order counts as paid
	Confirmations  uint64
	PollInterval   time.Duration
	LookbackBlocks uint64
}

// Settlement watches the source chain's Intent contract for the
// IntentSettled event of a filled order
type Settlement struct {
	chains map[uint64]Chain
	reader ChainReader
	cfg    SettlementConfig
}

var _ protocol.Settlement = (*Settlement)(nil)

// NewSettlement creates the settlement
func NewSettlement(chains map[uint64]Chain, reader ChainReader, cfg SettlementConfig) *Settlement {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LookbackBlocks == 0 {
		cfg.LookbackBlocks = DefaultLookbackBlocks
	}
	return &Settlement{chains: chains, reader: reader, cfg: cfg}
}

func (s *Settlement) Name() string { return Name }

func (s *Settlement) PollInterval() time.Duration { return s.cfg.PollInterval }

func (s *Settlement) GeneratePostFillTransaction(context.Context, *models.Order, *models.TransactionReceipt) (*models.Transaction, error) {
	return nil, nil
}

func (s *Settlement) GeneratePreClaimTransaction(context.Context, *models.Order, *models.FillProof) (*models.Transaction, error) {
	return nil, nil
}

// GetAttestation looks for the IntentSettled log of the order on the source
// chain. It returns nil until the log exists.
func (s *Settlement) GetAttestation(ctx context.Context, order *models.Order, fillTxHash string) (*models.FillProof, error) {
	if len(order.Inputs) == 0 {
		return nil, fmt.Errorf("order %s has no inputs", order.ID)
	}
	sourceChain := order.Inputs[0].ChainID
	chain, ok := s.chains[sourceChain]
	if !ok {
		return nil, fmt.Errorf("source chain %d not supported", sourceChain)
	}

	head, err := s.reader.GetBlockNumber(ctx, sourceChain)
	if err != nil {
		return nil, fmt.Errorf("failed to read head of chain %d: %w", sourceChain, err)
	}
	var from uint64
	if head > s.cfg.LookbackBlocks {
		from = head - s.cfg.LookbackBlocks
	}

	intentAddress := common.HexToAddress(chain.IntentAddress)
	logs, err := s.reader.FilterLogs(ctx, sourceChain, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{intentAddress},
		Topics:    [][]common.Hash{{contracts.IntentSettledTopic()}, {common.HexToHash(order.ID)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter IntentSettled logs: %w", err)
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		settled, err := contracts.ParseIntentSettled(l)
		if err != nil {
			return nil, err
		}
		return &models.FillProof{
			FillTxHash:      fillTxHash,
			BlockNumber:     settled.BlockNumber,
			AttestationData: l.Data,
			OracleAddress:   intentAddress.Hex(),
		}, nil
	}
	return nil, nil
}

// CanClaim reports whether the settlement log is deep enough. A settlement
// paid to another fulfiller is unclaimable.
func (s *Settlement) CanClaim(ctx context.Context, order *models.Order, proof *models.FillProof) (bool, error) {
	if proof == nil {
		return false, nil
	}
	settled, err := decodeProof(proof)
	if err != nil {
		return false, err
	}
	if !settled.Fulfilled || !strings.EqualFold(settled.Fulfiller.Hex(), order.SolverAddress) {
		return false, protocol.Unclaimable(fmt.Sprintf("order %s settled without paying %s", order.ID, order.SolverAddress))
	}

	if len(order.Inputs) == 0 {
		return false, fmt.Errorf("order %s has no inputs", order.ID)
	}
	head, err := s.reader.GetBlockNumber(ctx, order.Inputs[0].ChainID)
	if err != nil {
		return false, err
	}
	return head+1 >= proof.BlockNumber+s.cfg.Confirmations, nil
}

func decodeProof(proof *models.FillProof) (*contracts.IntentSettled, error) {
	// only the non-indexed fields are kept in the proof
	topics := []common.Hash{contracts.IntentSettledTopic(), {}, {}, {}}
	return contracts.ParseIntentSettled(types.Log{
		Topics:      topics,
		Data:        proof.AttestationData,
		BlockNumber: proof.BlockNumber,
	})
}

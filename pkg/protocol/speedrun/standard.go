// Package speedrun implements the Speedrun intent standard and its
// on-chain settlement
package speedrun

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/speedrun-hq/speedrun-solver/pkg/contracts"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
)

// Name is the standard and settlement name of the Speedrun protocol
const Name = "speedrun"

// Token types the protocol transfers
const (
	TokenTypeUSDC = "USDC"
	TokenTypeUSDT = "USDT"
)

// Chain is what the protocol needs to know about a supported chain
type Chain struct {
	IntentAddress string
	// Tokens maps a token type to its address on the chain
	Tokens map[string]string
}

// TokenType returns the type of a token address, or an empty string
func (c Chain) TokenType(address string) string {
	for tokenType, addr := range c.Tokens {
		if strings.EqualFold(addr, address) {
			return tokenType
		}
	}
	return ""
}

// Standard is the Speedrun order standard. An intent pays amount+fee on the
// source chain for amount delivered on the destination chain.
type Standard struct {
	chains map[uint64]Chain
}

var _ protocol.Standard = (*Standard)(nil)

// NewStandard creates the standard for the supported chains
func NewStandard(chains map[uint64]Chain) *Standard {
	return &Standard{chains: chains}
}

func (s *Standard) Name() string { return Name }

// parsedIntent is a parsed and checked intent payload
type parsedIntent struct {
	models.SpeedrunIntent
	amount    *big.Int
	fee       *big.Int
	tokenType string
	outToken  string
}

func (s *Standard) parse(payload []byte) (*parsedIntent, error) {
	var p models.SpeedrunIntent
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, protocol.Invalid("malformed intent payload: " + err.Error())
	}
	if p.SourceChain == p.DestinationChain {
		return nil, protocol.Invalid("source and destination chain are the same")
	}

	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, protocol.Invalid(fmt.Sprintf("invalid amount %q", p.Amount))
	}
	fee, ok := new(big.Int).SetString(p.IntentFee, 10)
	if !ok || fee.Sign() <= 0 {
		return nil, protocol.Invalid(fmt.Sprintf("invalid intent fee %q", p.IntentFee))
	}
	if !common.IsHexAddress(p.Recipient) {
		return nil, protocol.Invalid(fmt.Sprintf("invalid recipient %q", p.Recipient))
	}

	source, ok := s.chains[p.SourceChain]
	if !ok {
		return nil, protocol.Invalid(fmt.Sprintf("source chain %d not supported", p.SourceChain))
	}
	destination, ok := s.chains[p.DestinationChain]
	if !ok {
		return nil, protocol.Invalid(fmt.Sprintf("destination chain %d not supported", p.DestinationChain))
	}

	tokenType := strings.ToUpper(p.TokenType)
	if tokenType == "" {
		tokenType = source.TokenType(p.Token)
	}
	if tokenType == "" {
		return nil, protocol.Invalid(fmt.Sprintf("unknown token %s on chain %d", p.Token, p.SourceChain))
	}
	outToken, ok := destination.Tokens[tokenType]
	if !ok || outToken == "" {
		return nil, protocol.Invalid(fmt.Sprintf("token %s not configured on chain %d", tokenType, p.DestinationChain))
	}

	return &parsedIntent{
		SpeedrunIntent: p,
		amount:         amount,
		fee:            fee,
		tokenType:      tokenType,
		outToken:       outToken,
	}, nil
}

// ValidateOrder checks the intent payload without touching any chain
func (s *Standard) ValidateOrder(_ context.Context, payload []byte) error {
	_, err := s.parse(payload)
	return err
}

// ValidateAndCreateOrder builds the order of an intent. When the payload has
// no id it is derived from the salt by the source chain's Intent contract.
func (s *Standard) ValidateAndCreateOrder(ctx context.Context, intent models.Intent, resolve protocol.IDResolver, solver string) (*models.Order, error) {
	payload := intent.OrderBytes
	if len(payload) == 0 {
		payload = intent.Data
	}
	o, err := s.parse(payload)
	if err != nil {
		return nil, err
	}

	id := o.ID
	if id == "" {
		if id, err = s.resolveID(ctx, o, resolve); err != nil {
			return nil, err
		}
	}
	if _, err := hexutil.Decode(id); err != nil || len(common.FromHex(id)) != common.HashLength {
		return nil, protocol.Invalid(fmt.Sprintf("intent id %q is not a 32 byte hex value", id))
	}
	id = strings.ToLower(id)

	intentID := intent.ID
	if intentID == "" {
		intentID = id
	}

	return &models.Order{
		ID:            id,
		IntentID:      intentID,
		Standard:      Name,
		Data:          payload,
		SolverAddress: solver,
		Inputs: []models.ChainAmount{{
			ChainID: o.SourceChain,
			Token:   o.Token,
			Amount:  new(big.Int).Add(o.amount, o.fee),
		}},
		Outputs: []models.ChainAmount{{
			ChainID: o.DestinationChain,
			Token:   o.outToken,
			Amount:  new(big.Int).Set(o.amount),
		}},
	}, nil
}

func (s *Standard) resolveID(ctx context.Context, o *parsedIntent, resolve protocol.IDResolver) (string, error) {
	salt, ok := new(big.Int).SetString(o.Salt, 10)
	if !ok || resolve == nil {
		return "", protocol.Invalid("intent has neither an id nor a salt")
	}
	callData, err := contracts.PackGetIntentID(salt)
	if err != nil {
		return "", fmt.Errorf("failed to pack getIntentId: %w", err)
	}
	out, err := resolve(ctx, o.SourceChain, s.chains[o.SourceChain].IntentAddress, callData)
	if err != nil {
		return "", err
	}
	hash, err := contracts.UnpackIntentID(common.FromHex(out))
	if err != nil {
		return "", fmt.Errorf("failed to decode intent id: %w", err)
	}
	return hash.Hex(), nil
}

// GeneratePrepareTransaction returns nil, funds are escrowed by the user on the source chain
func (s *Standard) GeneratePrepareTransaction(context.Context, *models.Order) (*models.Transaction, error) {
	return nil, nil
}

// GenerateFillTransaction calls fulfill on the destination chain's Intent contract
func (s *Standard) GenerateFillTransaction(_ context.Context, order *models.Order, params *models.ExecutionParams) (*models.Transaction, error) {
	if len(order.Outputs) != 1 {
		return nil, fmt.Errorf("order %s has %d outputs, expected 1", order.ID, len(order.Outputs))
	}
	out := order.Outputs[0]
	chain, ok := s.chains[out.ChainID]
	if !ok {
		return nil, fmt.Errorf("destination chain %d not supported", out.ChainID)
	}

	var p models.SpeedrunIntent
	if err := json.Unmarshal(order.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", order.ID, err)
	}

	data, err := contracts.PackFulfill(
		common.HexToHash(order.ID),
		common.HexToAddress(out.Token),
		out.Amount,
		common.HexToAddress(p.Recipient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack fulfill: %w", err)
	}

	tx := &models.Transaction{
		ChainID: out.ChainID,
		To:      chain.IntentAddress,
		Data:    data,
	}
	if params != nil {
		tx.GasPrice = params.GasPrice
		tx.PriorityFee = params.PriorityFee
	}
	return tx, nil
}

// GenerateClaimTransaction returns nil, settlement pays the fulfiller
func (s *Standard) GenerateClaimTransaction(context.Context, *models.Order, *models.FillProof) (*models.Transaction, error) {
	return nil, nil
}

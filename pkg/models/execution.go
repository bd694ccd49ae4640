package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKey identifies a solver balance for a token on a chain
type BalanceKey struct {
	ChainID uint64
	Token   string
}

// String renders the key as chain:token, which is also how assets are named in skip reasons
func (k BalanceKey) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, strings.ToLower(k.Token))
}

// NewBalanceKey normalizes the token address so lookups are case-insensitive
func NewBalanceKey(chainID uint64, token string) BalanceKey {
	return BalanceKey{ChainID: chainID, Token: strings.ToLower(token)}
}

// ExecutionContext is the per-evaluation snapshot of chain conditions. It is never persisted.
type ExecutionContext struct {
	GasPrices map[uint64]*big.Int
	Balances  map[BalanceKey]*big.Int
	Timestamp time.Time
}

// MaxGasPrice returns the highest observed gas price and the chain it was seen on
func (c *ExecutionContext) MaxGasPrice() (uint64, *big.Int) {
	var (
		chainID uint64
		max     *big.Int
	)
	for id, price := range c.GasPrices {
		if price == nil {
			continue
		}
		if max == nil || price.Cmp(max) > 0 || (price.Cmp(max) == 0 && id < chainID) {
			chainID, max = id, price
		}
	}
	return chainID, max
}

// Balance returns the solver balance for a token, or nil when unknown
func (c *ExecutionContext) Balance(chainID uint64, token string) *big.Int {
	if c.Balances == nil {
		return nil
	}
	return c.Balances[NewBalanceKey(chainID, token)]
}

// ExecutionParams are the fee settings an approved execution must use
type ExecutionParams struct {
	GasPrice    *big.Int `json:"gas_price"`
	PriorityFee *big.Int `json:"priority_fee,omitempty"`
}

// DecisionKind is the outcome of an execution strategy
type DecisionKind string

const (
	DecisionExecute DecisionKind = "execute"
	DecisionSkip    DecisionKind = "skip"
	DecisionDefer   DecisionKind = "defer"
)

// ExecutionDecision is Execute(params), Skip(reason) or Defer(delay)
type ExecutionDecision struct {
	Kind   DecisionKind
	Params *ExecutionParams
	Reason string
	Delay  time.Duration
}

// Execute builds an Execute decision
func Execute(params ExecutionParams) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionExecute, Params: &params}
}

// Skip builds a Skip decision
func Skip(reason string) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionSkip, Reason: reason}
}

// Defer builds a Defer decision
func Defer(delay time.Duration) ExecutionDecision {
	return ExecutionDecision{Kind: DecisionDefer, Delay: delay}
}

// CostItem is the expected cost of one transaction
type CostItem struct {
	Stage       TxStage
	ChainID     uint64
	GasUnits    uint64
	GasPrice    *big.Int
	NativeValue decimal.Decimal
}

// CostEstimate collects every expected cost of an order in a common value unit
type CostEstimate struct {
	Items         []CostItem
	InputValue    decimal.Decimal
	OutputValue   decimal.Decimal
	OperatingCost decimal.Decimal
}

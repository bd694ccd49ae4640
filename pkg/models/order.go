package models

import (
	"encoding/json"
	"math/big"
	"time"
)

// ChainAmount is an amount of a token on a given chain
type ChainAmount struct {
	ChainID uint64   `json:"chain_id"`
	Token   string   `json:"token"`
	Amount  *big.Int `json:"amount"`
}

// Order is the solver's tracked commitment to fill an intent
type Order struct {
	ID            string          `json:"id"`
	IntentID      string          `json:"intent_id"`
	Standard      string          `json:"standard"`
	Settlement    string          `json:"settlement"`
	Status        OrderStatus     `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Data          json.RawMessage `json:"data"`
	SolverAddress string          `json:"solver_address"`
	Inputs        []ChainAmount   `json:"inputs"`
	Outputs       []ChainAmount   `json:"outputs"`

	ExecutionParams *ExecutionParams `json:"execution_params,omitempty"`

	PrepareTxHash  string     `json:"prepare_tx_hash,omitempty"`
	FillTxHash     string     `json:"fill_tx_hash,omitempty"`
	PostFillTxHash string     `json:"post_fill_tx_hash,omitempty"`
	PreClaimTxHash string     `json:"pre_claim_tx_hash,omitempty"`
	ClaimTxHash    string     `json:"claim_tx_hash,omitempty"`
	FillProof      *FillProof `json:"fill_proof,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TxHash returns the recorded transaction hash for a stage
func (o *Order) TxHash(stage TxStage) string {
	switch stage {
	case StagePrepare:
		return o.PrepareTxHash
	case StageFill:
		return o.FillTxHash
	case StagePostFill:
		return o.PostFillTxHash
	case StagePreClaim:
		return o.PreClaimTxHash
	case StageClaim:
		return o.ClaimTxHash
	}
	return ""
}

// SetTxHash records the transaction hash for a stage
func (o *Order) SetTxHash(stage TxStage, hash string) {
	switch stage {
	case StagePrepare:
		o.PrepareTxHash = hash
	case StageFill:
		o.FillTxHash = hash
	case StagePostFill:
		o.PostFillTxHash = hash
	case StagePreClaim:
		o.PreClaimTxHash = hash
	case StageClaim:
		o.ClaimTxHash = hash
	}
}

// InputChainIDs returns the distinct chains funds are read from
func (o *Order) InputChainIDs() []uint64 {
	return distinctChains(o.Inputs)
}

// OutputChainIDs returns the distinct chains funds are paid to
func (o *Order) OutputChainIDs() []uint64 {
	return distinctChains(o.Outputs)
}

// RelevantChainIDs returns every chain the order touches
func (o *Order) RelevantChainIDs() []uint64 {
	all := make([]ChainAmount, 0, len(o.Inputs)+len(o.Outputs))
	all = append(all, o.Inputs...)
	all = append(all, o.Outputs...)
	return distinctChains(all)
}

func distinctChains(amounts []ChainAmount) []uint64 {
	seen := make(map[uint64]struct{}, len(amounts))
	chains := make([]uint64, 0, len(amounts))
	for _, a := range amounts {
		if _, ok := seen[a.ChainID]; ok {
			continue
		}
		seen[a.ChainID] = struct{}{}
		chains = append(chains, a.ChainID)
	}
	return chains
}

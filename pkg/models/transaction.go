package models

import (
	"math/big"
	"time"
)

// TxStage identifies which lifecycle step a transaction belongs to
type TxStage string

const (
	StagePrepare  TxStage = "prepare"
	StageFill     TxStage = "fill"
	StagePostFill TxStage = "post_fill"
	StagePreClaim TxStage = "pre_claim"
	StageClaim    TxStage = "claim"
)

// Transaction is an unsigned transaction produced by a protocol standard or settlement
type Transaction struct {
	ChainID     uint64   `json:"chain_id"`
	To          string   `json:"to"`
	Data        []byte   `json:"data"`
	Value       *big.Int `json:"value,omitempty"`
	GasLimit    uint64   `json:"gas_limit,omitempty"`
	GasPrice    *big.Int `json:"gas_price,omitempty"`
	PriorityFee *big.Int `json:"priority_fee,omitempty"`
}

// ReceiptLog is a log entry emitted by a confirmed transaction
type ReceiptLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    []byte   `json:"data"`
}

// TransactionReceipt is the on-chain outcome of a submitted transaction
type TransactionReceipt struct {
	Hash           string       `json:"hash"`
	ChainID        uint64       `json:"chain_id"`
	BlockNumber    uint64       `json:"block_number"`
	BlockHash      string       `json:"block_hash"`
	BlockTimestamp time.Time    `json:"block_timestamp"`
	Success        bool         `json:"success"`
	GasUsed        uint64       `json:"gas_used"`
	Logs           []ReceiptLog `json:"logs,omitempty"`
}

// FillProof is evidence that a fill happened
type FillProof struct {
	FillTxHash      string    `json:"fill_tx_hash"`
	FillTimestamp   time.Time `json:"fill_timestamp"`
	BlockNumber     uint64    `json:"block_number"`
	AttestationData []byte    `json:"attestation_data,omitempty"`
	OracleAddress   string    `json:"oracle_address,omitempty"`
}

// TxIndexEntry maps a transaction hash back to the order and stage that produced it
type TxIndexEntry struct {
	Hash    string  `json:"hash"`
	OrderID string  `json:"order_id"`
	Stage   TxStage `json:"stage"`
	ChainID uint64  `json:"chain_id"`
}

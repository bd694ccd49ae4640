// Package contracts holds the ABIs of the on-chain contracts the solver talks to
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// IntentABI is the subset of the Intent contract ABI the solver uses
const IntentABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "intentId", "type": "bytes32"},
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address", "name": "receiver", "type": "address"}
		],
		"name": "fulfill",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "salt", "type": "uint256"}
		],
		"name": "getIntentId",
		"outputs": [
			{"internalType": "bytes32", "name": "", "type": "bytes32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "intentId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "receiver", "type": "address"}
		],
		"name": "IntentFulfilled",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "intentId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "receiver", "type": "address"},
			{"indexed": false, "internalType": "bool", "name": "fulfilled", "type": "bool"},
			{"indexed": false, "internalType": "address", "name": "fulfiller", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "actualAmount", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "paidTip", "type": "uint256"}
		],
		"name": "IntentSettled",
		"type": "event"
	}
]`

// ERC20ABI covers the token reads the solver needs
const ERC20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var (
	intentABI = mustParse(IntentABI)
	erc20ABI  = mustParse(ERC20ABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

// IntentSettled is a decoded IntentSettled log
type IntentSettled struct {
	IntentID     common.Hash
	Asset        common.Address
	Receiver     common.Address
	Amount       *big.Int
	Fulfilled    bool
	Fulfiller    common.Address
	ActualAmount *big.Int
	PaidTip      *big.Int
	BlockNumber  uint64
	TxHash       common.Hash
}

// PackFulfill encodes a fulfill call
func PackFulfill(intentID common.Hash, asset common.Address, amount *big.Int, receiver common.Address) ([]byte, error) {
	return intentABI.Pack("fulfill", [32]byte(intentID), asset, amount, receiver)
}

// PackGetIntentID encodes a getIntentId call
func PackGetIntentID(salt *big.Int) ([]byte, error) {
	return intentABI.Pack("getIntentId", salt)
}

// UnpackIntentID decodes the result of getIntentId
func UnpackIntentID(data []byte) (common.Hash, error) {
	out, err := intentABI.Unpack("getIntentId", data)
	if err != nil {
		return common.Hash{}, err
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected getIntentId result %T", out[0])
	}
	return common.Hash(id), nil
}

// IntentSettledTopic is the topic0 of IntentSettled logs
func IntentSettledTopic() common.Hash {
	return intentABI.Events["IntentSettled"].ID
}

// ParseIntentSettled decodes an IntentSettled log
func ParseIntentSettled(log types.Log) (*IntentSettled, error) {
	event := intentABI.Events["IntentSettled"]
	if len(log.Topics) != 4 || log.Topics[0] != event.ID {
		return nil, fmt.Errorf("log %s is not an IntentSettled event", log.TxHash.Hex())
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack IntentSettled data: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("unexpected IntentSettled field count %d", len(values))
	}

	settled := &IntentSettled{
		IntentID:    log.Topics[1],
		Asset:       common.BytesToAddress(log.Topics[2].Bytes()),
		Receiver:    common.BytesToAddress(log.Topics[3].Bytes()),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}
	var ok bool
	if settled.Amount, ok = values[0].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected amount type %T", values[0])
	}
	if settled.Fulfilled, ok = values[1].(bool); !ok {
		return nil, fmt.Errorf("unexpected fulfilled type %T", values[1])
	}
	if settled.Fulfiller, ok = values[2].(common.Address); !ok {
		return nil, fmt.Errorf("unexpected fulfiller type %T", values[2])
	}
	if settled.ActualAmount, ok = values[3].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected actualAmount type %T", values[3])
	}
	if settled.PaidTip, ok = values[4].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected paidTip type %T", values[4])
	}
	return settled, nil
}

// PackBalanceOf encodes an ERC20 balanceOf call
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// UnpackBalance decodes the result of balanceOf
func UnpackBalance(data []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", out[0])
	}
	return balance, nil
}

// PackAllowance encodes an ERC20 allowance call
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// UnpackAllowance decodes the result of allowance
func UnpackAllowance(data []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack("allowance", data)
	if err != nil {
		return nil, err
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result %T", out[0])
	}
	return allowance, nil
}

// PackApprove encodes an ERC20 approve call
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// EncodeIntentSettled builds the log data of an IntentSettled event
func EncodeIntentSettled(amount *big.Int, fulfilled bool, fulfiller common.Address, actualAmount, paidTip *big.Int) ([]byte, error) {
	return intentABI.Events["IntentSettled"].Inputs.NonIndexed().Pack(amount, fulfilled, fulfiller, actualAmount, paidTip)
}

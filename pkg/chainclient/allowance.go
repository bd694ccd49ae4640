package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-solver/pkg/contracts"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// maxAllowance is the unlimited ERC20 approval amount
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Allowance returns how much spender may move of the solver's token
func (c *Client) Allowance(ctx context.Context, token, spender string) (*big.Int, error) {
	data, err := contracts.PackAllowance(c.auth.From, common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	tokenAddr := common.HexToAddress(token)
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance on %s: %w", token, err)
	}
	return contracts.UnpackAllowance(out)
}

// EnsureAllowance approves spender for an unlimited amount of token when the
// current allowance is below min, and waits for the approval to be mined
func (c *Client) EnsureAllowance(ctx context.Context, token, spender string, min *big.Int, confirmations uint64) error {
	current, err := c.Allowance(ctx, token, spender)
	if err != nil {
		return err
	}
	if current.Cmp(min) >= 0 {
		return nil
	}

	data, err := contracts.PackApprove(common.HexToAddress(spender), maxAllowance)
	if err != nil {
		return fmt.Errorf("failed to pack approve: %w", err)
	}
	hash, err := c.Submit(ctx, &models.Transaction{ChainID: c.ChainID, To: token, Data: data})
	if err != nil {
		return fmt.Errorf("failed to approve %s for %s: %w", token, spender, err)
	}
	c.logger.InfoWithChain(c.ChainID, "Approving %s for %s in %s", token, spender, hash)

	receipt, err := c.WaitForConfirmation(ctx, hash, confirmations, DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("failed to wait for approval %s: %w", hash, err)
	}
	if !receipt.Success {
		return fmt.Errorf("approval %s reverted", hash)
	}
	return nil
}

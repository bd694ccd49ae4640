package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/config"
	"github.com/speedrun-hq/speedrun-solver/pkg/contracts"
	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

const testChain = 8453

type fakeBackend struct {
	mu sync.Mutex

	chainID  uint64
	nonce    uint64
	gasPrice *big.Int
	head     uint64
	// headStep advances the head on every BlockNumber call
	headStep uint64
	sendErr  error
	native   *big.Int
	erc20    *big.Int

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	calls    []ethereum.CallMsg
	logs     []types.Log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  testChain,
		nonce:    7,
		gasPrice: big.NewInt(2_000_000_000),
		head:     100,
		native:   big.NewInt(1e18),
		erc20:    big.NewInt(5_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.head
	f.head += f.headStep
	return head, nil
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1_700_000_000}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	return common.LeftPadBytes(f.erc20.Bytes(), 32), nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.native, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func (f *fakeBackend) mine(hash common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     21_000,
	}
}

func newTestClient(t *testing.T, backend *fakeBackend, breaker *circuitbreaker.CircuitBreaker) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := config.ChainConfig{
		ChainID:       testChain,
		Name:          "base",
		IntentAddress: "0x999999cf1046e68e36E1aA2E0E07105eDDD1f08E",
		GasMultiplier: 1.5,
	}
	client, err := New(context.Background(), cfg, backend, key, breaker, nil)
	require.NoError(t, err)
	return client, key
}

func TestNewRejectsChainMismatch(t *testing.T) {
	backend := newFakeBackend()
	backend.chainID = 1
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = New(context.Background(), config.ChainConfig{ChainID: testChain}, backend, key, nil, nil)
	assert.ErrorContains(t, err, "reports chain id 1")
}

func TestUpdateGasPriceAppliesMultiplier(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(), nil)

	price, err := client.UpdateGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_000_000_000), price)

	cached, err := client.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, price, cached)
}

func TestSubmitSignsWithSequentialNonces(t *testing.T) {
	backend := newFakeBackend()
	client, key := newTestClient(t, backend, nil)
	to := "0x1111111111111111111111111111111111111111"

	first, err := client.Submit(context.Background(), &models.Transaction{ChainID: testChain, To: to, Data: []byte{1}})
	require.NoError(t, err)
	second, err := client.Submit(context.Background(), &models.Transaction{
		ChainID:     testChain,
		To:          to,
		GasLimit:    50_000,
		GasPrice:    big.NewInt(4_000_000_000),
		PriorityFee: big.NewInt(1_000_000_000),
	})
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, first, backend.sent[0].Hash().Hex())
	assert.Equal(t, second, backend.sent[1].Hash().Hex())

	assert.Equal(t, uint64(7), backend.sent[0].Nonce())
	assert.Equal(t, uint64(120_000), backend.sent[0].Gas())
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())

	assert.Equal(t, uint64(8), backend.sent[1].Nonce())
	assert.Equal(t, uint8(types.DynamicFeeTxType), backend.sent[1].Type())
	assert.Equal(t, uint64(50_000), backend.sent[1].Gas())

	signer := types.LatestSignerForChainID(big.NewInt(testChain))
	sender, err := types.Sender(signer, backend.sent[0])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
	assert.Equal(t, 2, client.nonces.PendingCount())
}

func TestSubmitFailureReleasesNonceAndTripsBreaker(t *testing.T) {
	backend := newFakeBackend()
	breaker := circuitbreaker.NewCircuitBreaker(testChain, true, 2, time.Minute, time.Minute, nil)
	client, _ := newTestClient(t, backend, breaker)
	tx := &models.Transaction{ChainID: testChain, To: "0x1111111111111111111111111111111111111111", GasLimit: 21_000}

	backend.sendErr = errors.New("connection refused")
	_, err := client.Submit(context.Background(), tx)
	require.Error(t, err)
	_, err = client.Submit(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, breaker.IsOpen())

	_, err = client.Submit(context.Background(), tx)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	breaker.Reset()
	backend.sendErr = nil
	_, err = client.Submit(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint64(7), backend.sent[0].Nonce())
}

func TestReceiptConversion(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, nil)
	hash := common.HexToHash("0xabc")

	_, err := client.Receipt(context.Background(), hash.Hex())
	assert.ErrorIs(t, err, delivery.ErrReceiptNotFound)

	backend.mine(hash, 90, types.ReceiptStatusFailed)
	receipt, err := client.Receipt(context.Background(), hash.Hex())
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, uint64(90), receipt.BlockNumber)
	assert.Equal(t, uint64(testChain), receipt.ChainID)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), receipt.BlockTimestamp)
}

func TestWaitForConfirmation(t *testing.T) {
	backend := newFakeBackend()
	backend.headStep = 1
	client, _ := newTestClient(t, backend, nil)
	hash := common.HexToHash("0xdef")

	go func() {
		time.Sleep(5 * time.Millisecond)
		backend.mine(hash, 100, types.ReceiptStatusSuccessful)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := client.WaitForConfirmation(ctx, hash.Hex(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	head, err := backend.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, head, uint64(102))
}

func TestWaitForConfirmationHonorsContext(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.WaitForConfirmation(ctx, common.HexToHash("0x1").Hex(), 1, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBalance(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, nil)
	owner := client.Address().Hex()

	tests := []struct {
		name  string
		token string
		want  *big.Int
		calls int
	}{
		{name: "empty token is native", token: "", want: big.NewInt(1e18)},
		{name: "zero address is native", token: "0x0000000000000000000000000000000000000000", want: big.NewInt(1e18)},
		{name: "erc20", token: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", want: big.NewInt(5_000_000), calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend.calls = nil
			got, err := client.Balance(context.Background(), owner, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, backend.calls, tt.calls)
			if tt.calls > 0 {
				want, err := contracts.PackBalanceOf(client.Address())
				require.NoError(t, err)
				assert.Equal(t, want, backend.calls[0].Data)
			}
		})
	}
}

func TestDeliveryRoutesByChain(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(), nil)
	d := NewDelivery(client)

	_, err := d.GetGasPrice(context.Background(), 1)
	assert.ErrorIs(t, err, delivery.ErrUnsupportedChain)

	head, err := d.GetBlockNumber(context.Background(), testChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head)
	assert.Len(t, d.Breakers(), 1)
}

func TestGasPriceTracker(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(), nil)
	tracker := NewGasPriceTracker([]*Client{client}, time.Millisecond, nil)

	tracker.Start(context.Background())
	assert.True(t, tracker.IsRunning())
	assert.Eventually(t, func() bool {
		client.mu.RLock()
		defer client.mu.RUnlock()
		return client.currentGasPrice != nil
	}, time.Second, time.Millisecond)

	tracker.Stop()
	assert.False(t, tracker.IsRunning())
	tracker.Stop()
}

func TestEnsureAllowance(t *testing.T) {
	backend := newFakeBackend()
	backend.headStep = 1
	client, _ := newTestClient(t, backend, nil)
	token := "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	spender := client.IntentAddress.Hex()

	// erc20 doubles as the allowance answer
	require.NoError(t, client.EnsureAllowance(context.Background(), token, spender, big.NewInt(1_000_000), 1))
	assert.Empty(t, backend.sent)

	backend.erc20 = big.NewInt(0)
	go func() {
		assert.Eventually(t, func() bool {
			backend.mu.Lock()
			defer backend.mu.Unlock()
			return len(backend.sent) == 1
		}, time.Second, time.Millisecond)
		backend.mine(backend.sent[0].Hash(), 100, types.ReceiptStatusSuccessful)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.EnsureAllowance(ctx, token, spender, big.NewInt(1_000_000), 1))

	want, err := contracts.PackApprove(client.IntentAddress, maxAllowance)
	require.NoError(t, err)
	assert.Equal(t, want, backend.sent[0].Data())
}

package handlers

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/config"
	"github.com/speedrun-hq/speedrun-solver/pkg/execution"
	"github.com/speedrun-hq/speedrun-solver/pkg/mocks"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/pricing"
	"github.com/speedrun-hq/speedrun-solver/pkg/profitability"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

const (
	originChain = uint64(8453)
	destChain   = uint64(42161)
	solver      = "0x1111111111111111111111111111111111111111"
)

var (
	inputToken  = config.GetUSDCAddress(originChain)
	outputToken = config.GetUSDCAddress(destChain)
)

type claimRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *claimRecorder) Enqueue(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, orderID)
}

func (c *claimRecorder) queued() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

// flakyStore fails the next failOrders order writes
type flakyStore struct {
	storage.Store
	mu         sync.Mutex
	failOrders int
}

func (s *flakyStore) SetIfAbsent(ctx context.Context, namespace, key string, value any) (bool, error) {
	s.mu.Lock()
	fail := namespace == storage.NamespaceOrders && s.failOrders > 0
	if fail {
		s.failOrders--
	}
	s.mu.Unlock()
	if fail {
		return false, errors.New("disk full")
	}
	return s.Store.SetIfAbsent(ctx, namespace, key, value)
}

type harness struct {
	store      *flakyStore
	machine    *statemachine.Machine
	delivery   *mocks.Delivery
	pub        *mocks.Publisher
	standard   *mocks.Standard
	settlement *mocks.Settlement
	claims     *claimRecorder
	tracker    *Tracker

	intents *IntentHandler
	orders  *OrderHandler
	txs     *TransactionHandler
	settle  *SettlementHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      &flakyStore{Store: storage.NewMemoryStore()},
		delivery:   mocks.NewDelivery(originChain, destChain),
		pub:        &mocks.Publisher{},
		standard:   &mocks.Standard{},
		settlement: &mocks.Settlement{},
		claims:     &claimRecorder{},
	}
	h.machine = statemachine.New(h.store, nil)
	h.delivery.SetBalance(destChain, outputToken, big.NewInt(1_000_000_000))

	registry := protocol.NewRegistry()
	registry.RegisterStandard(h.standard)
	registry.RegisterSettlement(h.settlement)

	h.tracker = NewTracker(h.delivery, h.pub, 1, time.Second, nil)
	deps := Deps{
		Machine:   h.machine,
		Registry:  registry,
		Delivery:  h.delivery,
		Publisher: h.pub,
		Tracker:   h.tracker,
	}

	prices := pricing.NewStatic(map[string]decimal.Decimal{"ethereum": decimal.NewFromInt(2000)})
	evaluator := profitability.NewEvaluator(prices, decimal.NewFromInt(1), nil)
	strategy := &execution.DefaultStrategy{MaxGasPrice: big.NewInt(100_000_000_000)}

	h.intents = NewIntentHandler(deps, h.store, execution.NewBuilder(h.delivery, solver, nil), evaluator, strategy, IntentConfig{
		SolverAddress: solver,
		Settlement:    "mock",
	})
	h.orders = NewOrderHandler(deps)
	h.txs = NewTransactionHandler(deps)
	h.settle = NewSettlementHandler(deps, h.claims)
	return h
}

// payload is $100 in, $98 out, which clears a 1% margin at 1 gwei
func payload() mocks.OrderPayload {
	return mocks.OrderPayload{
		OriginChain:      originChain,
		DestinationChain: destChain,
		InputToken:       inputToken,
		OutputToken:      outputToken,
		AmountIn:         100_000_000,
		AmountOut:        98_000_000,
	}
}

func (h *harness) status(t *testing.T, id string) models.OrderStatus {
	t.Helper()
	o, err := h.machine.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

// seed stores an order and walks it to status
func (h *harness) seed(t *testing.T, id string, status models.OrderStatus) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := h.standard.ValidateAndCreateOrder(ctx, mocks.NewIntent(id, payload()), nil, solver)
	require.NoError(t, err)
	order.Settlement = "mock"
	require.NoError(t, h.machine.StoreOrder(ctx, order))
	_, err = h.machine.AttachExecutionParams(ctx, id, &models.ExecutionParams{GasPrice: big.NewInt(1_000_000_000)})
	require.NoError(t, err)

	cur := models.StatusPending
	for cur != status {
		next, ok := cur.Next()
		require.True(t, ok)
		_, err := h.machine.Transition(ctx, id, cur, next)
		require.NoError(t, err)
		cur = next
	}
	got, err := h.machine.GetOrder(ctx, id)
	require.NoError(t, err)
	return got
}

func (h *harness) waitFor(t *testing.T, kind models.EventKind, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.pub.Count(kind) >= n }, 2*time.Second, 5*time.Millisecond, "waiting for %s", kind)
}

func TestIntentHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("approves a profitable intent", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.intents.Handle(ctx, mocks.NewIntent("i1", payload())))

		order, err := h.machine.GetOrder(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, order.Status)
		assert.Equal(t, "mock", order.Settlement)
		require.NotNil(t, order.ExecutionParams)
		assert.Equal(t, 0, big.NewInt(1_000_000_000).Cmp(order.ExecutionParams.GasPrice))
		assert.Equal(t, []models.EventKind{models.EventIntentValidated, models.EventExecutionApproved}, h.pub.Kinds("i1"))
	})

	t.Run("drops a re-delivered intent", func(t *testing.T) {
		h := newHarness(t)
		intent := mocks.NewIntent("i1", payload())
		require.NoError(t, h.intents.Handle(ctx, intent))
		require.NoError(t, h.intents.Handle(ctx, intent))
		require.NoError(t, h.intents.Handle(ctx, intent))

		assert.Len(t, h.pub.Events(), 2)
		counts, err := h.machine.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[models.StatusPending])
	})

	t.Run("store failure releases the intent", func(t *testing.T) {
		h := newHarness(t)
		h.store.failOrders = 1
		intent := mocks.NewIntent("i1", payload())
		assert.Error(t, h.intents.Handle(ctx, intent))

		seen, err := h.store.Exists(ctx, storage.NamespaceIntents, "i1")
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, h.intents.Handle(ctx, intent))
		assert.Equal(t, models.StatusPending, h.status(t, "i1"))
		assert.Equal(t, 1, h.pub.Count(models.EventExecutionApproved))
	})

	t.Run("concurrent re-delivery creates one order", func(t *testing.T) {
		h := newHarness(t)
		intent := mocks.NewIntent("i1", payload())
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, h.intents.Handle(ctx, intent))
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, h.pub.Count(models.EventExecutionApproved))
	})

	tests := []struct {
		name       string
		intent     func() models.Intent
		setup      func(h *harness)
		wantKind   models.EventKind
		wantReason string
		wantOrder  bool
	}{
		{
			name: "invalid payload",
			intent: func() models.Intent {
				p := payload()
				p.AmountIn = 0
				return mocks.NewIntent("i1", p)
			},
			wantKind:   models.EventIntentRejected,
			wantReason: "amount must be positive",
		},
		{
			name: "unknown standard",
			intent: func() models.Intent {
				i := mocks.NewIntent("i1", payload())
				i.Standard = "erc7683"
				return i
			},
			wantKind:   models.EventIntentRejected,
			wantReason: `unknown order standard: "erc7683"`,
		},
		{
			name: "exclusive to another solver",
			intent: func() models.Intent {
				i := mocks.NewIntent("i1", payload())
				until := time.Now().Add(time.Hour)
				i.Metadata.ExclusiveUntil = &until
				return i
			},
			wantKind: models.EventIntentRejected,
		},
		{
			name: "unprofitable",
			intent: func() models.Intent {
				p := payload()
				p.AmountOut = 99_900_000
				return mocks.NewIntent("i1", p)
			},
			wantKind:  models.EventIntentRejected,
			wantOrder: true,
		},
		{
			name:   "insufficient balance",
			intent: func() models.Intent { return mocks.NewIntent("i1", payload()) },
			setup: func(h *harness) {
				h.delivery.SetBalance(destChain, outputToken, big.NewInt(1))
			},
			wantKind:   models.EventIntentSkipped,
			wantReason: "insufficient balance: " + models.NewBalanceKey(destChain, outputToken).String(),
			wantOrder:  true,
		},
		{
			name: "gas spike",
			intent: func() models.Intent {
				// large enough to stay profitable at the spiked gas price
				p := payload()
				p.AmountIn = 10_000_000_000
				p.AmountOut = 9_800_000_000
				return mocks.NewIntent("i1", p)
			},
			setup: func(h *harness) {
				h.delivery.SetGasPrice(originChain, big.NewInt(101_000_000_000))
				h.delivery.SetGasPrice(destChain, big.NewInt(1))
			},
			wantKind:  models.EventIntentDeferred,
			wantOrder: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			intent := tt.intent()
			require.NoError(t, h.intents.Handle(ctx, intent))

			events := h.pub.Events()
			require.Len(t, events, 1, "exactly one outcome event")
			assert.Equal(t, tt.wantKind, events[0].Kind)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, events[0].Reason)
			}
			if tt.wantKind == models.EventIntentDeferred {
				assert.Equal(t, execution.DefaultDeferBackoff, events[0].Delay)
			}

			_, err := h.machine.GetOrder(ctx, intent.ID)
			if tt.wantOrder {
				require.NoError(t, err)
				assert.Equal(t, models.StatusPending, h.status(t, intent.ID))
			} else {
				assert.ErrorIs(t, err, statemachine.ErrOrderNotFound)
			}
		})
	}
}

func TestReevaluate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.delivery.SetBalance(destChain, outputToken, big.NewInt(1))
	require.NoError(t, h.intents.Handle(ctx, mocks.NewIntent("i1", payload())))
	require.Equal(t, 1, h.pub.Count(models.EventIntentSkipped))

	h.delivery.SetBalance(destChain, outputToken, big.NewInt(1_000_000_000))
	require.NoError(t, h.intents.Reevaluate(ctx, "i1"))
	assert.Equal(t, 1, h.pub.Count(models.EventExecutionApproved))

	h.seed(t, "o2", models.StatusExecuting)
	assert.ErrorIs(t, h.intents.Reevaluate(ctx, "o2"), ErrNotPending)
}

func TestOrderHandlerFill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "o1", models.StatusPending)

	require.NoError(t, h.orders.HandleExecutionApproved(ctx, "o1"))

	order, err := h.machine.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, order.Status)
	require.NotEmpty(t, order.FillTxHash)

	fills := h.delivery.SubmittedTo(mocks.FillTarget)
	require.Len(t, fills, 1)
	assert.Equal(t, 0, big.NewInt(1_000_000_000).Cmp(fills[0].GasPrice))

	submitted, ok := h.pub.Last(models.EventTxSubmitted)
	require.True(t, ok)
	assert.Equal(t, models.StageFill, submitted.Stage)
	assert.Equal(t, order.FillTxHash, submitted.TxHash)

	h.waitFor(t, models.EventTxConfirmed, 1)

	entry, err := h.machine.LookupTransaction(ctx, order.FillTxHash)
	require.NoError(t, err)
	assert.Equal(t, "o1", entry.OrderID)
	assert.Equal(t, models.StageFill, entry.Stage)

	t.Run("re-entry does not resubmit", func(t *testing.T) {
		require.NoError(t, h.orders.HandleExecutionApproved(ctx, "o1"))
		require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
		assert.Equal(t, 1, h.delivery.SubmittedCount())
		assert.Equal(t, 1, h.standard.FillCalls())
		// the recorded receipt is reported again instead
		h.waitFor(t, models.EventTxConfirmed, 3)
	})
}

func TestOrderHandlerPrepare(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.standard.WithPrepare = true
	h.seed(t, "o1", models.StatusPending)

	require.NoError(t, h.orders.HandleExecutionApproved(ctx, "o1"))

	order, err := h.machine.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status, "pending until prepare confirms")
	assert.NotEmpty(t, order.PrepareTxHash)
	assert.Empty(t, order.FillTxHash)
	assert.Equal(t, 0, h.standard.FillCalls(), "no fill before prepare confirms")
	assert.Len(t, h.delivery.SubmittedTo(mocks.PrepareTarget), 1)

	h.waitFor(t, models.EventTxConfirmed, 1)
	confirmed, _ := h.pub.Last(models.EventTxConfirmed)
	require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
	assert.Equal(t, models.StatusExecuting, h.status(t, "o1"))
	assert.Equal(t, 1, h.pub.Count(models.EventExecutionStarted))

	require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
	assert.Len(t, h.delivery.SubmittedTo(mocks.FillTarget), 1)
}

func TestOrderHandlerFillErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("generation error fails the order", func(t *testing.T) {
		h := newHarness(t)
		h.standard.FillErr = errors.New("bad payload")
		h.seed(t, "o1", models.StatusPending)

		require.NoError(t, h.orders.HandleExecutionApproved(ctx, "o1"))
		order, err := h.machine.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, order.Status)
		assert.Equal(t, "fill failed: bad payload", order.FailureReason)
		assert.Equal(t, 1, h.pub.Count(models.EventOrderFailed))
	})

	t.Run("submission error fails the order", func(t *testing.T) {
		h := newHarness(t)
		h.delivery.SubmitErr = errors.New("nonce too low")
		h.seed(t, "o1", models.StatusPending)

		require.NoError(t, h.orders.HandleExecutionApproved(ctx, "o1"))
		order, err := h.machine.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, order.Status)
		assert.Equal(t, "fill failed: nonce too low", order.FailureReason)
	})
}

func TestTransactionHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("fill confirmation", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "o1", models.StatusPending)
		require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
		h.waitFor(t, models.EventTxConfirmed, 1)
		confirmed, _ := h.pub.Last(models.EventTxConfirmed)

		require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
		assert.Equal(t, models.StatusExecuted, h.status(t, "o1"))
		assert.Equal(t, 1, h.pub.Count(models.EventPostFillReady))

		// a duplicate confirmation is ignored
		require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
		assert.Equal(t, 1, h.pub.Count(models.EventPostFillReady))
	})

	t.Run("order resolved from hash", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "o1", models.StatusPending)
		require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
		h.waitFor(t, models.EventTxConfirmed, 1)
		confirmed, _ := h.pub.Last(models.EventTxConfirmed)

		bare := models.NewEvent(models.EventTxConfirmed, "")
		bare.TxHash = confirmed.TxHash
		require.NoError(t, h.txs.HandleConfirmed(ctx, bare))
		assert.Equal(t, models.StatusExecuted, h.status(t, "o1"))
	})

	t.Run("reverted fill fails the order", func(t *testing.T) {
		h := newHarness(t)
		h.delivery.Revert[mocks.FillTarget] = true
		h.seed(t, "o1", models.StatusPending)
		require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
		h.waitFor(t, models.EventTxFailed, 1)
		failed, _ := h.pub.Last(models.EventTxFailed)

		require.NoError(t, h.txs.HandleFailed(ctx, failed))
		order, err := h.machine.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, order.Status)
		assert.Equal(t, "fill failed: transaction reverted", order.FailureReason)

		require.NoError(t, h.txs.HandleFailed(ctx, failed))
		assert.Equal(t, 1, h.pub.Count(models.EventOrderFailed))
	})

	t.Run("unknown hash", func(t *testing.T) {
		h := newHarness(t)
		event := models.NewEvent(models.EventTxConfirmed, "o1")
		event.TxHash = "0xdead"
		assert.ErrorIs(t, h.txs.HandleConfirmed(ctx, event), statemachine.ErrTxNotIndexed)
	})
}

func TestSettlementHandlerPostFill(t *testing.T) {
	ctx := context.Background()

	fill := func(t *testing.T, h *harness) string {
		h.seed(t, "o1", models.StatusPending)
		require.NoError(t, h.orders.HandleExecutionStarted(ctx, "o1"))
		h.waitFor(t, models.EventTxConfirmed, 1)
		confirmed, _ := h.pub.Last(models.EventTxConfirmed)
		require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
		return confirmed.TxHash
	}

	t.Run("no post-fill transaction", func(t *testing.T) {
		h := newHarness(t)
		fillHash := fill(t, h)

		require.NoError(t, h.settle.HandlePostFillReady(ctx, "o1"))
		assert.Equal(t, models.StatusPostFilled, h.status(t, "o1"))
		started, ok := h.pub.Last(models.EventMonitoringStarted)
		require.True(t, ok)
		assert.Equal(t, fillHash, started.TxHash)

		require.NoError(t, h.settle.HandlePostFillReady(ctx, "o1"))
		assert.Equal(t, 1, h.pub.Count(models.EventMonitoringStarted))
	})

	t.Run("post-fill transaction", func(t *testing.T) {
		h := newHarness(t)
		h.settlement.WithPostFill = true
		fillHash := fill(t, h)

		require.NoError(t, h.settle.HandlePostFillReady(ctx, "o1"))
		assert.Equal(t, models.StatusExecuted, h.status(t, "o1"))
		require.NoError(t, h.settle.HandlePostFillReady(ctx, "o1"))
		assert.Len(t, h.delivery.SubmittedTo(mocks.PostFillTarget), 1)

		h.waitFor(t, models.EventTxConfirmed, 2)
		confirmed, _ := h.pub.Last(models.EventTxConfirmed)
		require.Equal(t, models.StagePostFill, confirmed.Stage)
		require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
		assert.Equal(t, models.StatusPostFilled, h.status(t, "o1"))
		started, _ := h.pub.Last(models.EventMonitoringStarted)
		assert.Equal(t, fillHash, started.TxHash)
	})
}

func TestSettlementHandlerClaim(t *testing.T) {
	ctx := context.Background()
	proof := &models.FillProof{FillTxHash: "0xabc", BlockNumber: 7}

	t.Run("settled order is pre-claimed and queued", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "o1", models.StatusSettled)
		_, err := h.machine.AttachProof(ctx, "o1", proof)
		require.NoError(t, err)

		require.NoError(t, h.settle.HandleClaimReady(ctx, "o1"))
		assert.Equal(t, models.StatusPreClaimed, h.status(t, "o1"))
		assert.Equal(t, []string{"o1"}, h.claims.queued())

		// a pre-claimed order is queued again, not advanced
		require.NoError(t, h.settle.HandleClaimReady(ctx, "o1"))
		assert.Equal(t, []string{"o1", "o1"}, h.claims.queued())
	})

	t.Run("settled without proof fails", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "o1", models.StatusSettled)
		require.NoError(t, h.settle.HandleClaimReady(ctx, "o1"))
		assert.Equal(t, models.StatusFailed, h.status(t, "o1"))
	})

	t.Run("pre-claim transaction", func(t *testing.T) {
		h := newHarness(t)
		h.settlement.WithPreClaim = true
		h.seed(t, "o1", models.StatusSettled)
		_, err := h.machine.AttachProof(ctx, "o1", proof)
		require.NoError(t, err)

		require.NoError(t, h.settle.HandleClaimReady(ctx, "o1"))
		assert.Equal(t, models.StatusSettled, h.status(t, "o1"))
		h.waitFor(t, models.EventTxConfirmed, 1)
		confirmed, _ := h.pub.Last(models.EventTxConfirmed)
		require.NoError(t, h.txs.HandleConfirmed(ctx, confirmed))
		assert.Equal(t, models.StatusPreClaimed, h.status(t, "o1"))
		assert.Equal(t, 1, h.pub.Count(models.EventClaimReady))
		assert.Empty(t, h.claims.queued())
	})

	t.Run("batch claims independently", func(t *testing.T) {
		h := newHarness(t)
		for _, id := range []string{"a", "b", "c"} {
			h.seed(t, id, models.StatusPreClaimed)
		}
		h.seed(t, "d", models.StatusSettled)

		h.settle.ProcessClaimBatch(ctx, []string{"a", "b", "c", "d"})
		assert.Len(t, h.delivery.SubmittedTo(mocks.ClaimTarget), 3)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, h.standard.ClaimCalls())

		h.waitFor(t, models.EventTxConfirmed, 3)
		for _, e := range h.pub.Events() {
			if e.Kind == models.EventTxConfirmed {
				require.NoError(t, h.txs.HandleConfirmed(ctx, e))
			}
		}
		for _, id := range []string{"a", "b", "c"} {
			assert.Equal(t, models.StatusFinalized, h.status(t, id))
		}
		assert.Equal(t, models.StatusSettled, h.status(t, "d"))
		assert.Equal(t, 3, h.pub.Count(models.EventOrderCompleted))

		// claimed orders are not claimed twice
		h.settle.ProcessClaimBatch(ctx, []string{"a", "b", "c"})
		assert.Len(t, h.delivery.SubmittedTo(mocks.ClaimTarget), 3)
	})

	t.Run("protocol pays out without a claim", func(t *testing.T) {
		h := newHarness(t)
		h.standard.NoClaim = true
		h.seed(t, "o1", models.StatusPreClaimed)

		h.settle.ProcessClaimBatch(ctx, []string{"o1"})
		assert.Equal(t, models.StatusFinalized, h.status(t, "o1"))
		assert.Equal(t, 1, h.pub.Count(models.EventOrderCompleted))
		assert.Zero(t, h.delivery.SubmittedCount())
	})

	t.Run("claim error fails only that order", func(t *testing.T) {
		h := newHarness(t)
		h.standard.ClaimErr = errors.New("proof rejected")
		h.seed(t, "o1", models.StatusPreClaimed)

		h.settle.ProcessClaimBatch(ctx, []string{"o1"})
		order, err := h.machine.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, order.Status)
		assert.Equal(t, "claim failed: proof rejected", order.FailureReason)
	})
}

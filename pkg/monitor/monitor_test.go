package monitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/mocks"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

func setup(t *testing.T, settlement *mocks.Settlement, timeout time.Duration) (*Manager, *statemachine.Machine, *mocks.Publisher) {
	t.Helper()
	ctx := context.Background()
	machine := statemachine.New(storage.NewMemoryStore(), nil)
	registry := protocol.NewRegistry()
	registry.RegisterSettlement(settlement)
	pub := &mocks.Publisher{}

	order := &models.Order{
		ID:         "o1",
		Standard:   "mock",
		Settlement: settlement.Name(),
		Inputs:     []models.ChainAmount{{ChainID: 1, Token: "0x1", Amount: big.NewInt(1)}},
		Outputs:    []models.ChainAmount{{ChainID: 2, Token: "0x2", Amount: big.NewInt(1)}},
		FillTxHash: "0xfill",
	}
	require.NoError(t, machine.StoreOrder(ctx, order))
	cur := models.StatusPending
	for cur != models.StatusPostFilled {
		next, _ := cur.Next()
		_, err := machine.Transition(ctx, "o1", cur, next)
		require.NoError(t, err)
		cur = next
	}

	m := NewManager(machine, registry, pub, timeout, nil)
	t.Cleanup(m.StopAll)
	return m, machine, pub
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPollBudget(t *testing.T) {
	tests := []struct {
		timeout  time.Duration
		interval time.Duration
		want     int
	}{
		{30 * time.Minute, 30 * time.Second, 60},
		{30 * time.Minute, 7 * time.Minute, 5},
		{time.Second, time.Second, 1},
		{time.Second, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PollBudget(tt.timeout, tt.interval), "%s / %s", tt.timeout, tt.interval)
	}
}

func TestMonitorSettles(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond, AttestAfter: 2, ClaimAfter: 4}
	m, machine, pub := setup(t, settlement, time.Second)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettled, order.Status)
	require.NotNil(t, order.FillProof)
	assert.Equal(t, "0xfill", order.FillProof.FillTxHash)
	assert.Equal(t, 1, pub.Count(models.EventClaimReady))

	// no polling once settled
	polls := settlement.Polls()
	assert.Equal(t, int64(4), polls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, settlement.Polls())
}

func TestMonitorChecksClaimAfterAttestation(t *testing.T) {
	// a second poll after a full interval would never happen within the test
	settlement := &mocks.Settlement{Interval: time.Hour, AttestAfter: 1, ClaimAfter: 2}
	m, machine, pub := setup(t, settlement, 2*time.Hour)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettled, order.Status)
	assert.Equal(t, int64(2), settlement.Polls())
	assert.Equal(t, 1, pub.Count(models.EventClaimReady))
}

func TestMonitorFailsUnclaimableSettlement(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond, Lost: true}
	m, machine, pub := setup(t, settlement, time.Minute)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, order.Status)
	assert.Equal(t, "settlement failed: settled to another solver", order.FailureReason)
	assert.Equal(t, 1, pub.Count(models.EventOrderFailed))
	assert.Zero(t, pub.Count(models.EventMonitoringTimeout))
	assert.Zero(t, pub.Count(models.EventClaimReady))
}

func TestMonitorTimesOut(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 10 * time.Millisecond, Never: true}
	m, machine, pub := setup(t, settlement, 50*time.Millisecond)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, order.Status)
	assert.Equal(t, models.ReasonTimedOut, order.FailureReason)
	assert.LessOrEqual(t, settlement.Polls(), int64(PollBudget(50*time.Millisecond, 10*time.Millisecond)))
	assert.Equal(t, 1, pub.Count(models.EventMonitoringTimeout))
	assert.Zero(t, pub.Count(models.EventClaimReady))
}

func TestMonitorErrorsCountAsPolls(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond, Fail: true}
	m, machine, _ := setup(t, settlement, 20*time.Millisecond)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTimedOut, order.FailureReason)
	assert.LessOrEqual(t, settlement.Polls(), int64(4))
}

func TestMonitorStopLeavesOrder(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond, Never: true}
	m, machine, pub := setup(t, settlement, time.Minute)

	require.True(t, m.Start("o1", "0xfill"))
	assert.False(t, m.Start("o1", "0xfill"), "duplicate start is a no-op")
	assert.Equal(t, 1, m.Active())
	assert.True(t, m.IsMonitoring("o1"))

	time.Sleep(20 * time.Millisecond)
	m.Stop("o1")
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPostFilled, order.Status)
	assert.Empty(t, pub.Events())
}

func TestMonitorParentCancel(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond, Never: true}
	m, machine, _ := setup(t, settlement, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	m.Bind(ctx)
	require.True(t, m.Start("o1", ""))
	cancel()
	waitIdle(t, m)

	order, err := machine.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPostFilled, order.Status)
}

func TestMonitorIgnoresOrdersNotPostFilled(t *testing.T) {
	settlement := &mocks.Settlement{Interval: 5 * time.Millisecond}
	m, machine, _ := setup(t, settlement, time.Second)
	_, err := machine.Fail(context.Background(), "o1", models.StatusPostFilled, "operator abort")
	require.NoError(t, err)

	require.True(t, m.Start("o1", "0xfill"))
	waitIdle(t, m)
	assert.Zero(t, settlement.Polls())
}

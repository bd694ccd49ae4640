package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

func receive(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *recordingSink) Publish(event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) recorded() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func TestBus_PublishOrderPerSubscriber(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(models.NewEvent(models.EventTxSubmitted, fmt.Sprintf("order-%d", i))))
	}

	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprintf("order-%d", i), receive(t, a).OrderID)
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprintf("order-%d", i), receive(t, b).OrderID)
	}
}

func TestBus_KindFilter(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	confirmations := bus.Subscribe("confirmations", models.EventTxConfirmed)
	all := bus.Subscribe("all")

	require.NoError(t, bus.Publish(models.NewEvent(models.EventTxSubmitted, "o1")))
	require.NoError(t, bus.Publish(models.NewEvent(models.EventTxConfirmed, "o1")))

	assert.Equal(t, models.EventTxConfirmed, receive(t, confirmations).Kind)
	assert.Equal(t, models.EventTxSubmitted, receive(t, all).Kind)
	assert.Equal(t, models.EventTxConfirmed, receive(t, all).Kind)
	assert.Equal(t, 0, confirmations.Pending())
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	err := bus.Publish(models.NewEvent(models.EventOrderCompleted, "o1"))
	assert.ErrorIs(t, err, ErrNoSubscribers)

	bus.Subscribe("claims", models.EventClaimReady)
	err = bus.Publish(models.NewEvent(models.EventOrderCompleted, "o1"))
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	sub := bus.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			_ = bus.Publish(models.NewEvent(models.EventTxSubmitted, "o"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Greater(t, sub.Pending(), 0)
}

func TestBus_CloseAndUnsubscribe(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe("x")
	other := bus.Subscribe("y")
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(other)
	assert.Equal(t, 1, bus.SubscriberCount())
	_, ok := <-other.C()
	assert.False(t, ok)

	bus.Close()
	_, ok = <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(models.NewEvent(models.EventTxSubmitted, "o")), ErrClosed)

	late := bus.Subscribe("late")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestBus_Sinks(t *testing.T) {
	bus := New(nil)
	defer bus.Close()
	bus.Subscribe("x")

	sink := &recordingSink{err: errors.New("broker down")}
	bus.AddSink(sink)

	ev := models.NewEvent(models.EventClaimReady, "o1")
	require.NoError(t, bus.Publish(ev))
	require.Eventually(t, func() bool { return len(sink.recorded()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ev.ID, sink.recorded()[0].ID)
}

type blockingSink struct {
	release chan struct{}
	recordingSink
}

func (s *blockingSink) Publish(event models.Event) error {
	<-s.release
	return s.recordingSink.Publish(event)
}

func TestBus_SlowSinkDoesNotBlockPublish(t *testing.T) {
	bus := New(nil)
	defer bus.Close()
	sub := bus.Subscribe("x")

	sink := &blockingSink{release: make(chan struct{})}
	release := sync.OnceFunc(func() { close(sink.release) })
	defer release()
	bus.AddSink(sink)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(models.NewEvent(models.EventTxSubmitted, fmt.Sprintf("o%d", i))))
	}
	assert.Equal(t, "o0", receive(t, sub).OrderID)
	assert.Empty(t, sink.recorded())

	release()
	require.Eventually(t, func() bool { return len(sink.recorded()) == 50 }, time.Second, time.Millisecond)
	events := sink.recorded()
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("o%d", i), ev.OrderID)
	}
}

func TestSubject(t *testing.T) {
	ev := models.NewEvent(models.EventMonitoringTimeout, "o1")
	assert.Equal(t, "solver.settlement.monitoring_timeout", Subject(ev))
}

package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/metrics"
)

type memoryStore struct {
	events map[string]order.Event
	err    error
}

func (s *memoryStore) Put(_ context.Context, e order.Event) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.events[e.ID]; ok {
		return false, nil
	}
	s.events[e.ID] = e
	return true, nil
}

func newTestHandler() (*Handler, *memoryStore, *metrics.Metrics) {
	store := &memoryStore{events: map[string]order.Event{}}
	m := metrics.New(prometheus.NewRegistry(), "test")
	return NewHandler(store, m, nil), store, m
}

func encodedEvent(t *testing.T) []byte {
	t.Helper()
	ev, err := order.NewEvent("order-1", order.EventOrderPaid, order.StatusChanged{OrderID: "order-1"}, time.Now())
	require.NoError(t, err)
	ev.Seq = 3
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestHandler_ArchivesOnce(t *testing.T) {
	handler, store, m := newTestHandler()
	ctx := context.Background()
	msg := encodedEvent(t)

	require.NoError(t, handler.HandleEvent(ctx, []byte("order-1"), msg))
	require.NoError(t, handler.HandleEvent(ctx, []byte("order-1"), msg))

	assert.Len(t, store.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumed.WithLabelValues(order.EventOrderPaid, metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumed.WithLabelValues(order.EventOrderPaid, "duplicate")))
	for _, e := range store.events {
		assert.Equal(t, int64(3), e.Seq)
	}
}

func TestHandler_StoreError(t *testing.T) {
	handler, store, _ := newTestHandler()
	store.err = errors.New("throttled")

	assert.Error(t, handler.HandleEvent(context.Background(), nil, encodedEvent(t)))
}

func TestHandler_Malformed(t *testing.T) {
	handler, store, _ := newTestHandler()
	ctx := context.Background()

	assert.NoError(t, handler.HandleEvent(ctx, nil, []byte("garbage")))
	assert.NoError(t, handler.HandleEvent(ctx, nil, []byte(`{"event_type":"OrderPaid"}`)))
	assert.Empty(t, store.events)
}

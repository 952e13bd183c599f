package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

func TestCollectorCountsStoreEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	ctx := context.Background()
	c.ObserveStore(ctx, offstore.StoreEvent{Op: offstore.OpSave, Collection: "budgets", Duration: time.Millisecond})
	c.ObserveStore(ctx, offstore.StoreEvent{Op: offstore.OpSave, Collection: "budgets", Err: errors.New("disk")})
	c.ObserveStore(ctx, offstore.StoreEvent{Op: offstore.OpSave, Collection: "budgets", Fallback: true})
	c.ObserveStore(ctx, offstore.StoreEvent{Op: offstore.OpInit, Fallback: true, Err: errors.New("no db")})

	require.Equal(t, 2.0, testutil.ToFloat64(c.storeOps.WithLabelValues("save", "budgets", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.storeOps.WithLabelValues("save", "budgets", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.storeFallback.WithLabelValues("budgets")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.storeFallback.WithLabelValues("-")))
	require.Equal(t, 2, testutil.CollectAndCount(c.storeLatency))
}

func TestCollectorCountsQueueEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	ctx := context.Background()
	wallet := offqueue.QueuedOperation{Type: offqueue.AddWallet}
	c.ObserveOperation(ctx, offqueue.OperationEvent{Op: wallet, Outcome: offqueue.OutcomeOK})
	c.ObserveOperation(ctx, offqueue.OperationEvent{Op: wallet, Outcome: offqueue.OutcomeRetryable})
	c.ObserveOperation(ctx, offqueue.OperationEvent{Op: wallet, Outcome: offqueue.OutcomeRetryable, Permanent: true})

	expected := `
# HELP offsync_queue_ops_total Queued operation executions by type and outcome.
# TYPE offsync_queue_ops_total counter
offsync_queue_ops_total{outcome="exhausted",type="ADD_WALLET"} 1
offsync_queue_ops_total{outcome="ok",type="ADD_WALLET"} 1
offsync_queue_ops_total{outcome="retryable",type="ADD_WALLET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "offsync_queue_ops_total"))
}

func TestCollectorWiredIntoStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	cfg := offstore.DefaultConfig()
	cfg.Observer = c
	store := offstore.New(nil, cfg, nil)
	require.NoError(t, store.Save(context.Background(), offstore.Budgets, []map[string]any{{"id": "b1"}}))

	require.Equal(t, 1.0, testutil.ToFloat64(c.storeFallback.WithLabelValues("budgets")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.storeOps.WithLabelValues("init", "-", "error")))
}

func TestNewCollectorRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	require.Error(t, err)
}

package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/config"
	"github.com/sells-group/phonetrust/internal/store"
)

func TestChecker_CheckUpdatesGaugesAndAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitorConfig{LookbackHours: 24, StaleAlertLimit: 1, WebhookURL: ts.URL}
	src := &fakeSource{snap: sampleSnapshot()}
	gauges := NewGauges(nil)
	checker := NewChecker(newTestCollector(src, nil), NewAlerter(cfg), gauges, cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleScores, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(gauges.StaleScores))
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitorConfig{StaleAlertLimit: 1}
	checker := NewChecker(newTestCollector(&fakeSource{err: errors.New("down")}, nil), NewAlerter(cfg), nil, cfg)

	assert.Nil(t, checker.Check(context.Background()))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitorConfig{IntervalSecs: 1, LookbackHours: 24}
	checker := NewChecker(newTestCollector(&fakeSource{snap: &store.Snapshot{}}, nil), NewAlerter(cfg), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CancelledBeforeStart(t *testing.T) {
	src := &fakeSource{snap: &store.Snapshot{}}
	checker := NewChecker(newTestCollector(src, nil), NewAlerter(config.MonitorConfig{}), nil, config.MonitorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	assert.True(t, src.since.IsZero(), "no collection after cancellation")
}

package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/stackforge/pkg/account"
)

type mockRefresher struct {
	mu           sync.Mutex
	AccountsFunc func(ctx context.Context) ([]*account.Account, error)
	RefreshFunc  func(ctx context.Context, key account.Key) (*account.Account, error)
	refreshed    []account.Key
}

func (m *mockRefresher) Accounts(ctx context.Context) ([]*account.Account, error) {
	return m.AccountsFunc(ctx)
}

func (m *mockRefresher) Refresh(ctx context.Context, key account.Key) (*account.Account, error) {
	m.mu.Lock()
	m.refreshed = append(m.refreshed, key)
	m.mu.Unlock()
	return m.RefreshFunc(ctx, key)
}

func (m *mockRefresher) calls() []account.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]account.Key(nil), m.refreshed...)
}

func withResources(key string, statuses ...account.ResourceStatus) *account.Account {
	acc := &account.Account{Key: account.Key(key)}
	for i, s := range statuses {
		acc.Resources = append(acc.Resources, account.Resource{Service: string(rune('a' + i)), Status: s})
	}
	return acc
}

func newTestDaemon(t *testing.T, r Refresher) (*Daemon, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	d, err := NewDaemon(Config{Interval: time.Hour}, r, mp, zerolog.Nop())
	require.NoError(t, err)
	return d, reader
}

func TestNewDaemon_DefaultsInterval(t *testing.T) {
	d, err := NewDaemon(Config{}, &mockRefresher{}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d.interval)
}

func TestRunOnce_RefreshesOnlyCreatingAccounts(t *testing.T) {
	r := &mockRefresher{
		AccountsFunc: func(context.Context) ([]*account.Account, error) {
			return []*account.Account{
				withResources("settled", account.ResourceAvailable, account.ResourceRunning),
				withResources("busy", account.ResourceCreating, account.ResourceCreating, account.ResourceAvailable),
				withResources("empty"),
			}, nil
		},
		RefreshFunc: func(_ context.Context, key account.Key) (*account.Account, error) {
			return withResources(string(key), account.ResourceAvailable, account.ResourceCreating, account.ResourceAvailable), nil
		},
	}
	d, _ := newTestDaemon(t, r)

	d.RunOnce(context.Background())

	assert.Equal(t, []account.Key{"busy"}, r.calls())
	h := d.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, int64(1), h.Runs)
	assert.Equal(t, int64(1), h.Pending)
	assert.Equal(t, int64(1), h.Promoted)
	require.NotNil(t, h.LastRun)
}

func TestRunOnce_RefreshErrorKeepsGoing(t *testing.T) {
	r := &mockRefresher{
		AccountsFunc: func(context.Context) ([]*account.Account, error) {
			return []*account.Account{
				withResources("broken", account.ResourceCreating),
				withResources("ok", account.ResourceCreating),
			}, nil
		},
		RefreshFunc: func(_ context.Context, key account.Key) (*account.Account, error) {
			if key == "broken" {
				return nil, errors.New("provider unreachable")
			}
			return withResources("ok", account.ResourceAvailable), nil
		},
	}
	d, reader := newTestDaemon(t, r)

	d.RunOnce(context.Background())

	assert.Len(t, r.calls(), 2)
	assert.Equal(t, int64(1), d.Health().Pending)
	assert.Equal(t, int64(1), d.Health().Promoted)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "stackforge.daemon.refreshes" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			require.Len(t, sum.DataPoints, 1)
			status, _ := sum.DataPoints[0].Attributes.Value("status")
			assert.Equal(t, "partial", status.AsString())
			found = true
		}
	}
	assert.True(t, found, "refresh counter not recorded")
}

func TestRunOnce_ListError(t *testing.T) {
	r := &mockRefresher{
		AccountsFunc: func(context.Context) ([]*account.Account, error) {
			return nil, errors.New("store closed")
		},
	}
	d, _ := newTestDaemon(t, r)

	d.RunOnce(context.Background())
	assert.Empty(t, r.calls())
	assert.Equal(t, int64(1), d.RunCount())
}

func TestStart_StopsOnCancel(t *testing.T) {
	r := &mockRefresher{
		AccountsFunc: func(context.Context) ([]*account.Account, error) { return nil, nil },
	}
	d, _ := newTestDaemon(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.RunCount() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestHealth_Stalled(t *testing.T) {
	d, _ := newTestDaemon(t, &mockRefresher{})
	d.interval = time.Millisecond
	d.lastRun.Store(time.Now().Add(-time.Minute).Unix())

	assert.Equal(t, "stalled", d.Health().Status)
}

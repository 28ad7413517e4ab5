package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/alert"
	"argus/config"
	"argus/core"
)

type mockAlertSink struct {
	mu       sync.Mutex
	requests []*alert.CreateAlertRequest
}

func (s *mockAlertSink) CreateAlert(_ context.Context, req *alert.CreateAlertRequest) (*core.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return core.NewAlert(req.Type, req.Severity, core.AlertStatusActive), nil
}

func newTestService(alerts AlertSink) *Service {
	return NewService(config.HealthConfig{
		ProbeTimeout:  time.Second,
		CheckInterval: time.Minute,
	}, alerts, zap.NewNop().Sugar())
}

func pass(context.Context) error { return nil }
func fail(context.Context) error { return errors.New("dependency down") }

func TestRegisterCheckValidation(t *testing.T) {
	svc := newTestService(nil)
	assert.Error(t, svc.RegisterCheck("", pass))
	assert.Error(t, svc.RegisterCheck("db", nil))
	assert.NoError(t, svc.RegisterCheck("db", pass))
}

func TestCheckHealthTriState(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	// no probes at all is healthy
	assert.Equal(t, StatusHealthy, svc.CheckHealth(ctx).Status)

	require.NoError(t, svc.RegisterCheck("db", pass))
	require.NoError(t, svc.RegisterCheck("cache", pass))
	assert.Equal(t, StatusHealthy, svc.CheckHealth(ctx).Status)

	require.NoError(t, svc.RegisterCheck("cache", fail))
	health := svc.CheckHealth(ctx)
	assert.Equal(t, StatusDegraded, health.Status)
	require.Len(t, health.Checks, 2)
	assert.Equal(t, "cache", health.Checks[0].Name)
	assert.False(t, health.Checks[0].Healthy)
	assert.Equal(t, "dependency down", health.Checks[0].Error)
	assert.True(t, health.Checks[1].Healthy)

	require.NoError(t, svc.RegisterCheck("db", fail))
	assert.Equal(t, StatusUnhealthy, svc.CheckHealth(ctx).Status)

	svc.UnregisterCheck("db")
	svc.UnregisterCheck("cache")
	assert.Equal(t, StatusHealthy, svc.CheckHealth(ctx).Status)
}

func TestProbeTimeout(t *testing.T) {
	svc := NewService(config.HealthConfig{
		ProbeTimeout:  50 * time.Millisecond,
		CheckInterval: time.Minute,
	}, nil, zap.NewNop().Sugar())

	require.NoError(t, svc.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	health := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)
	require.Len(t, health.Checks, 1)
	assert.Contains(t, health.Checks[0].Error, "timed out")
}

func TestProbePanicCountsAsUnhealthy(t *testing.T) {
	svc := newTestService(nil)
	require.NoError(t, svc.RegisterCheck("flaky", func(context.Context) error {
		panic("boom")
	}))

	health := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Contains(t, health.Checks[0].Error, "panicked")
}

func TestFailingProbeRaisesAlert(t *testing.T) {
	alerts := &mockAlertSink{}
	svc := newTestService(alerts)
	require.NoError(t, svc.RegisterCheck("db", fail))
	require.NoError(t, svc.RegisterCheck("cache", pass))

	svc.CheckHealth(context.Background())

	require.Len(t, alerts.requests, 1)
	assert.Equal(t, "health_check_failed", alerts.requests[0].Type)
	assert.Equal(t, core.SeverityError, alerts.requests[0].Severity)
	assert.Equal(t, "db", alerts.requests[0].Metadata["check"])
}

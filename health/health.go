// Package health runs independently registered probes under timeouts and
// aggregates them into a tri-state system health. Failing probes feed the
// alert pipeline as ordinary alert requests; no dedup or escalation logic
// lives here.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/alert"
	"argus/config"
	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
)

// Status is the aggregate system health
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe checks one dependency. A returned error, a panic, or running past
// the probe timeout all count as unhealthy.
type Probe func(ctx context.Context) error

// CheckResult is the outcome of one probe run
type CheckResult struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemHealth aggregates all probe results
type SystemHealth struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// AlertSink receives alert requests for failing probes
type AlertSink interface {
	CreateAlert(ctx context.Context, req *alert.CreateAlertRequest) (*core.Alert, error)
}

// Service runs the registered health probes
type Service struct {
	cfg    config.HealthConfig
	alerts AlertSink
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	probes map[string]Probe

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the health check service. alerts may be nil.
func NewService(cfg config.HealthConfig, alerts AlertSink, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:    cfg,
		alerts: alerts,
		logger: logger,
		probes: make(map[string]Probe),
		stopCh: make(chan struct{}),
	}
}

// RegisterCheck registers a named probe, replacing any previous one
func (s *Service) RegisterCheck(name string, probe Probe) error {
	if name == "" {
		return errors.New("check name is required")
	}
	if probe == nil {
		return errors.New("probe is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[name] = probe
	return nil
}

// UnregisterCheck removes a probe
func (s *Service) UnregisterCheck(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.probes, name)
}

// Start launches the periodic check loop
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("health-check-loop", s.logger)

		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.CheckHealth(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the check loop
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// CheckHealth runs every probe concurrently under the probe timeout and
// aggregates the results. Healthy only when all probes pass, unhealthy only
// when all fail, degraded otherwise.
func (s *Service) CheckHealth(ctx context.Context) *SystemHealth {
	s.mu.RLock()
	probes := make(map[string]Probe, len(s.probes))
	for name, probe := range s.probes {
		probes[name] = probe
	}
	s.mu.RUnlock()

	health := &SystemHealth{Status: StatusHealthy, CheckedAt: time.Now().UTC()}
	if len(probes) == 0 {
		return health
	}

	results := make(chan CheckResult, len(probes))
	for name, probe := range probes {
		go s.runProbe(ctx, name, probe, results)
	}

	healthy := 0
	for range probes {
		result := <-results
		health.Checks = append(health.Checks, result)
		if result.Healthy {
			healthy++
			metrics.HealthCheckStatus.WithLabelValues(result.Name).Set(1)
		} else {
			metrics.HealthCheckStatus.WithLabelValues(result.Name).Set(0)
			s.raiseAlert(ctx, result)
		}
	}
	sort.Slice(health.Checks, func(i, j int) bool { return health.Checks[i].Name < health.Checks[j].Name })

	switch healthy {
	case len(probes):
		health.Status = StatusHealthy
	case 0:
		health.Status = StatusUnhealthy
	default:
		health.Status = StatusDegraded
	}
	return health
}

// runProbe executes one probe with its timeout, converting panics and
// timeouts into unhealthy results
func (s *Service) runProbe(ctx context.Context, name string, probe Probe, results chan<- CheckResult) {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- probe(probeCtx)
	}()

	result := CheckResult{Name: name, Healthy: true}
	select {
	case err := <-done:
		if err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
	case <-probeCtx.Done():
		result.Healthy = false
		result.Error = fmt.Sprintf("probe timed out after %s", s.cfg.ProbeTimeout)
	}
	result.Duration = time.Since(start)
	results <- result
}

func (s *Service) raiseAlert(ctx context.Context, result CheckResult) {
	if s.alerts == nil {
		return
	}

	_, err := s.alerts.CreateAlert(ctx, &alert.CreateAlertRequest{
		Type:     "health_check_failed",
		Severity: core.SeverityError,
		Title:    fmt.Sprintf("Health check %s failing", result.Name),
		Message:  result.Error,
		Source:   "health-check",
		Metadata: map[string]interface{}{"check": result.Name},
	})
	if err != nil {
		s.logger.Warnf("Failed to raise alert for failing check %s: %v", result.Name, err)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"argus/config"
	"argus/core"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testAlert(severity core.Severity) *core.Alert {
	alert := core.NewAlert("disk_full", severity, core.AlertStatusActive)
	alert.Title = "Disk usage above 90%"
	alert.Message = "Volume /var/lib/data is at 93% capacity"
	alert.Source = "node-7"
	return alert
}

func TestNewNotifierRejectsUnknownType(t *testing.T) {
	_, err := NewNotifier([]config.ChannelConfig{
		{Name: "pager", Type: "carrier_pigeon", Enabled: true},
	}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier_pigeon")
}

func TestWebhookChannelDeliversAlertPayload(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotAuth string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier([]config.ChannelConfig{
		{
			Name:           "ops-webhook",
			Type:           "webhook",
			Enabled:        true,
			WebhookURL:     srv.URL,
			WebhookMethod:  http.MethodPut,
			WebhookHeaders: map[string]string{"Authorization": "Bearer token123"},
		},
	}, testLogger())
	require.NoError(t, err)

	alert := testAlert(core.SeverityError)
	n.Dispatch(context.Background(), alert, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "Bearer token123", gotAuth)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, alert.ID, payload["alert_id"])
	assert.Equal(t, "disk_full", payload["type"])
	assert.Equal(t, "error", payload["severity"])
	assert.Equal(t, "node-7", payload["source"])
}

func TestWebhookChannelReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := newWebhookChannel(config.ChannelConfig{WebhookURL: srv.URL})
	err := ch.Send(context.Background(), testAlert(core.SeverityWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackChannelFormatsAttachment(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newSlackChannel(config.ChannelConfig{WebhookURL: srv.URL})
	alert := testAlert(core.SeverityCritical)
	require.NoError(t, ch.Send(context.Background(), alert))

	mu.Lock()
	defer mu.Unlock()
	var payload struct {
		Text        string `json:"text"`
		Attachments []struct {
			Color  string `json:"color"`
			Text   string `json:"text"`
			Fields []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Contains(t, payload.Text, "CRITICAL")
	assert.Contains(t, payload.Text, alert.Title)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "#d32f2f", payload.Attachments[0].Color)
	assert.Equal(t, alert.Message, payload.Attachments[0].Text)
}

func TestSMSChannelTruncatesLongMessages(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newSMSChannel(config.ChannelConfig{
		WebhookURL:   srv.URL,
		PhoneNumbers: []string{"+15550001111", "+15550002222"},
	})

	alert := testAlert(core.SeverityCrisis)
	alert.Message = strings.Repeat("all services degraded ", 20)
	require.NoError(t, ch.Send(context.Background(), alert))

	mu.Lock()
	defer mu.Unlock()
	var payload struct {
		To   []string `json:"to"`
		Text string   `json:"text"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Len(t, payload.To, 2)
	assert.LessOrEqual(t, len(payload.Text), smsMaxLength)
	assert.True(t, strings.HasSuffix(payload.Text, "..."))
	assert.Contains(t, payload.Text, "CRISIS")
}

func TestSMSChannelRequiresPhoneNumbers(t *testing.T) {
	ch := newSMSChannel(config.ChannelConfig{WebhookURL: "http://localhost"})
	err := ch.Send(context.Background(), testAlert(core.SeverityError))
	require.Error(t, err)
}

func TestEmailChannelDeliversViaSMTP(t *testing.T) {
	srv, err := NewMockSMTPServer()
	require.NoError(t, err)
	defer srv.Close()

	ch := newEmailChannel(config.ChannelConfig{
		SMTPHost:    "127.0.0.1",
		SMTPPort:    srv.Port(),
		FromAddress: "alerts@example.com",
		ToAddresses: []string{"oncall@example.com", "ops@example.com"},
	}, testLogger())

	alert := testAlert(core.SeverityError)
	require.NoError(t, ch.Send(context.Background(), alert))

	var messages []CapturedEmail
	require.Eventually(t, func() bool {
		messages = srv.GetMessages()
		return len(messages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := messages[0]
	assert.Equal(t, "alerts@example.com", msg.From)
	assert.Equal(t, []string{"oncall@example.com", "ops@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, "[ERROR]")
	assert.Contains(t, msg.Subject, alert.Title)
	assert.Contains(t, msg.Body, alert.Message)
}

func TestDispatchSkipsBelowMinSeverity(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	mock := &mockChannel{}
	n.RegisterChannel("oncall", config.ChannelConfig{
		Name:        "oncall",
		Enabled:     true,
		MinSeverity: "error",
	}, mock)

	n.Dispatch(context.Background(), testAlert(core.SeverityWarning), nil)
	assert.Equal(t, 0, mock.sentCount())

	n.Dispatch(context.Background(), testAlert(core.SeverityError), nil)
	assert.Equal(t, 1, mock.sentCount())

	n.Dispatch(context.Background(), testAlert(core.SeverityCrisis), nil)
	assert.Equal(t, 2, mock.sentCount())
}

func TestDispatchSkipsDisabledChannels(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	enabled := &mockChannel{}
	disabled := &mockChannel{}
	n.RegisterChannel("on", config.ChannelConfig{Name: "on", Enabled: true}, enabled)
	n.RegisterChannel("off", config.ChannelConfig{Name: "off", Enabled: false}, disabled)

	n.Dispatch(context.Background(), testAlert(core.SeverityError), nil)
	assert.Equal(t, 1, enabled.sentCount())
	assert.Equal(t, 0, disabled.sentCount())
}

func TestDispatchTargetsNamedChannels(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	ops := &mockChannel{}
	oncall := &mockChannel{}
	n.RegisterChannel("ops", config.ChannelConfig{Name: "ops", Enabled: true}, ops)
	n.RegisterChannel("oncall", config.ChannelConfig{Name: "oncall", Enabled: true}, oncall)

	n.Dispatch(context.Background(), testAlert(core.SeverityError), []string{"oncall", "no-such-channel"})
	assert.Equal(t, 0, ops.sentCount())
	assert.Equal(t, 1, oncall.sentCount())
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	broken := &mockChannel{fail: true}
	healthy := &mockChannel{}
	n.RegisterChannel("broken", config.ChannelConfig{Name: "broken", Enabled: true}, broken)
	n.RegisterChannel("healthy", config.ChannelConfig{Name: "healthy", Enabled: true}, healthy)

	n.Dispatch(context.Background(), testAlert(core.SeverityError), nil)
	assert.Equal(t, 1, healthy.sentCount())
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	broken := &mockChannel{fail: true}
	n.RegisterChannel("flaky", config.ChannelConfig{Name: "flaky", Enabled: true}, broken)

	alert := testAlert(core.SeverityError)
	for i := 0; i < 5; i++ {
		n.Dispatch(context.Background(), alert, nil)
	}

	// Breaker opens after MaxFailures sends, later dispatches never reach
	// the adapter.
	assert.Equal(t, int(breakerConfig.MaxFailures), broken.attemptCount())
}

func TestRateLimiterDropsExcessNotifications(t *testing.T) {
	n, err := NewNotifier(nil, testLogger())
	require.NoError(t, err)

	mock := &mockChannel{}
	n.channels["paged"] = &managedChannel{
		cfg:     config.ChannelConfig{Name: "paged", Enabled: true, RatePerMin: 1},
		adapter: mock,
		breaker: core.MustNewCircuitBreaker(breakerConfig),
		limiter: rate.NewLimiter(rate.Limit(1.0/60), 1),
	}

	alert := testAlert(core.SeverityError)
	n.Dispatch(context.Background(), alert, nil)
	n.Dispatch(context.Background(), alert, nil)
	assert.Equal(t, 1, mock.sentCount())
}

// Package notify fans alerts out to delivery channels: email, Slack,
// generic webhook and SMS gateway. Sends are best-effort and at-most-once;
// a channel failure is isolated, logged and recorded on that channel's
// circuit breaker, never surfaced to the caller.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"argus/config"
	"argus/core"
	"argus/metrics"
)

// Channel delivers one alert to one destination
type Channel interface {
	Send(ctx context.Context, alert *core.Alert) error
}

// managedChannel wraps a channel with its filter, circuit breaker and
// rate limiter
type managedChannel struct {
	cfg     config.ChannelConfig
	adapter Channel
	breaker *core.CircuitBreaker
	limiter *rate.Limiter
}

// Notifier owns the configured channels
type Notifier struct {
	channels map[string]*managedChannel
	pool     *core.WorkerPool
	logger   *zap.SugaredLogger
}

// breaker defaults shared by all channels
var breakerConfig = core.CircuitBreakerConfig{
	MaxFailures:         3,
	Timeout:             60 * time.Second,
	MaxHalfOpenRequests: 1,
}

// NewNotifier builds channels from configuration. Unknown channel types
// are rejected.
func NewNotifier(configs []config.ChannelConfig, logger *zap.SugaredLogger) (*Notifier, error) {
	n := &Notifier{
		channels: make(map[string]*managedChannel, len(configs)),
		logger:   logger,
	}

	for _, cfg := range configs {
		adapter, err := buildChannel(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.Name, err)
		}

		var limiter *rate.Limiter
		if cfg.RatePerMin > 0 {
			burst := int(cfg.RatePerMin)
			if burst < 1 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMin/60), burst)
		}

		n.channels[cfg.Name] = &managedChannel{
			cfg:     cfg,
			adapter: adapter,
			breaker: core.MustNewCircuitBreaker(breakerConfig),
			limiter: limiter,
		}
	}
	return n, nil
}

func buildChannel(cfg config.ChannelConfig, logger *zap.SugaredLogger) (Channel, error) {
	switch cfg.Type {
	case "email":
		return newEmailChannel(cfg, logger), nil
	case "slack":
		return newSlackChannel(cfg), nil
	case "webhook":
		return newWebhookChannel(cfg), nil
	case "sms":
		return newSMSChannel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

// RegisterChannel adds a channel directly, for embedders with their own
// adapter implementations
func (n *Notifier) RegisterChannel(name string, cfg config.ChannelConfig, adapter Channel) {
	n.channels[name] = &managedChannel{
		cfg:     cfg,
		adapter: adapter,
		breaker: core.MustNewCircuitBreaker(breakerConfig),
	}
}

// SetWorkerPool makes channel sends run on the pool instead of the
// caller's goroutine. Gate checks (enabled, severity, rate, breaker)
// still happen synchronously at dispatch time.
func (n *Notifier) SetWorkerPool(pool *core.WorkerPool) {
	n.pool = pool
}

// Dispatch sends the alert to the named channels, or to every enabled
// channel when names is nil. Failures never block sibling channels.
func (n *Notifier) Dispatch(ctx context.Context, alert *core.Alert, names []string) {
	for name, ch := range n.selectChannels(names) {
		if !ch.cfg.Enabled {
			continue
		}
		if !severityAtLeast(alert.Severity, ch.cfg.MinSeverity) {
			continue
		}
		n.send(ctx, name, ch, alert)
	}
}

func (n *Notifier) selectChannels(names []string) map[string]*managedChannel {
	if names == nil {
		return n.channels
	}
	out := make(map[string]*managedChannel, len(names))
	for _, name := range names {
		ch, ok := n.channels[name]
		if !ok {
			n.logger.Warnf("Unknown notification channel %q", name)
			continue
		}
		out[name] = ch
	}
	return out
}

func (n *Notifier) send(ctx context.Context, name string, ch *managedChannel, alert *core.Alert) {
	if ch.limiter != nil && !ch.limiter.Allow() {
		metrics.NotificationsSent.WithLabelValues(name, "rate_limited").Inc()
		n.logger.Warnf("Channel %s rate limited, dropping notification for alert %s", name, alert.ID)
		return
	}

	if err := ch.breaker.Allow(); err != nil {
		metrics.NotificationsSent.WithLabelValues(name, "breaker_open").Inc()
		n.logger.Warnf("Circuit breaker open for channel %s: %v", name, err)
		return
	}

	if n.pool != nil {
		if err := n.pool.Submit(func() { n.deliver(context.Background(), name, ch, alert) }); err != nil {
			metrics.NotificationsSent.WithLabelValues(name, "dropped").Inc()
			n.logger.Errorf("Notification queue rejected alert %s for channel %s: %v", alert.ID, name, err)
		}
		return
	}
	n.deliver(ctx, name, ch, alert)
}

func (n *Notifier) deliver(ctx context.Context, name string, ch *managedChannel, alert *core.Alert) {
	if err := ch.adapter.Send(ctx, alert); err != nil {
		ch.breaker.RecordFailure()
		metrics.NotificationsSent.WithLabelValues(name, "failure").Inc()
		n.logger.Errorf("Failed to send alert %s via channel %s: %v", alert.ID, name, err)
		return
	}

	ch.breaker.RecordSuccess()
	metrics.NotificationsSent.WithLabelValues(name, "success").Inc()
}

// severityAtLeast applies a channel's minimum severity filter
func severityAtLeast(severity core.Severity, min string) bool {
	if min == "" {
		return true
	}
	return severity.AtLeast(core.Severity(min))
}

// httpClient is shared by the webhook-style adapters
var httpClient = &http.Client{
	Timeout: core.HTTPClientTimeout,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	},
}

func postJSON(ctx context.Context, url, method string, headers map[string]string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "argus/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// emailChannel delivers via SMTP
type emailChannel struct {
	cfg    config.ChannelConfig
	logger *zap.SugaredLogger
}

func newEmailChannel(cfg config.ChannelConfig, logger *zap.SugaredLogger) *emailChannel {
	return &emailChannel{cfg: cfg, logger: logger}
}

func (c *emailChannel) Send(_ context.Context, alert *core.Alert) error {
	if len(c.cfg.ToAddresses) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.cfg.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.cfg.ToAddresses, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&msg, "Alert:    %s\r\n", alert.Title)
	fmt.Fprintf(&msg, "Type:     %s\r\n", alert.Type)
	fmt.Fprintf(&msg, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&msg, "Source:   %s\r\n", alert.Source)
	fmt.Fprintf(&msg, "Time:     %s\r\n\r\n", alert.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&msg, "%s\r\n", alert.Message)

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	var auth smtp.Auth
	if c.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUsername, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, c.cfg.FromAddress, c.cfg.ToAddresses, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Infof("Sent email notification for alert %s to %d recipients", alert.ID, len(c.cfg.ToAddresses))
	return nil
}

// slackChannel delivers to a Slack incoming webhook
type slackChannel struct {
	cfg config.ChannelConfig
}

func newSlackChannel(cfg config.ChannelConfig) *slackChannel {
	return &slackChannel{cfg: cfg}
}

var severityColors = map[core.Severity]string{
	core.SeverityInfo:     "#2196f3",
	core.SeverityWarning:  "#ff9800",
	core.SeverityError:    "#f44336",
	core.SeverityCritical: "#d32f2f",
	core.SeverityCrisis:   "#b71c1c",
}

func (c *slackChannel) Send(ctx context.Context, alert *core.Alert) error {
	color := severityColors[alert.Severity]
	if color == "" {
		color = "#757575"
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s Alert: %s*", strings.ToUpper(string(alert.Severity)), alert.Title),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"text":  alert.Message,
				"fields": []map[string]interface{}{
					{"title": "Type", "value": alert.Type, "short": true},
					{"title": "Source", "value": alert.Source, "short": true},
					{"title": "Alert ID", "value": fmt.Sprintf("`%s`", alert.ID), "short": true},
					{"title": "Status", "value": string(alert.Status), "short": true},
				},
				"footer": "argus",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}
	return postJSON(ctx, c.cfg.WebhookURL, http.MethodPost, nil, payload)
}

// webhookChannel delivers the alert to a generic HTTP endpoint
type webhookChannel struct {
	cfg config.ChannelConfig
}

func newWebhookChannel(cfg config.ChannelConfig) *webhookChannel {
	return &webhookChannel{cfg: cfg}
}

func (c *webhookChannel) Send(ctx context.Context, alert *core.Alert) error {
	payload := map[string]interface{}{
		"alert_id":         alert.ID,
		"type":             alert.Type,
		"severity":         alert.Severity,
		"status":           alert.Status,
		"title":            alert.Title,
		"message":          alert.Message,
		"source":           alert.Source,
		"timestamp":        alert.Timestamp,
		"escalation_level": alert.EscalationLevel,
		"fingerprint":      alert.Fingerprint,
		"metadata":         alert.Metadata,
		"is_crisis":        alert.IsCrisis,
	}
	return postJSON(ctx, c.cfg.WebhookURL, c.cfg.WebhookMethod, c.cfg.WebhookHeaders, payload)
}

// smsChannel delivers short messages through an HTTP SMS gateway
type smsChannel struct {
	cfg config.ChannelConfig
}

func newSMSChannel(cfg config.ChannelConfig) *smsChannel {
	return &smsChannel{cfg: cfg}
}

// smsMaxLength keeps messages inside a single segment
const smsMaxLength = 160

func (c *smsChannel) Send(ctx context.Context, alert *core.Alert) error {
	if len(c.cfg.PhoneNumbers) == 0 {
		return fmt.Errorf("no phone numbers configured")
	}

	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(alert.Severity)), alert.Title, alert.Message)
	if len(text) > smsMaxLength {
		text = text[:smsMaxLength-3] + "..."
	}

	payload := map[string]interface{}{
		"to":       c.cfg.PhoneNumbers,
		"text":     text,
		"alert_id": alert.ID,
	}
	return postJSON(ctx, c.cfg.WebhookURL, http.MethodPost, c.cfg.WebhookHeaders, payload)
}

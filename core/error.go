package core

import (
	"time"

	"github.com/google/uuid"
)

// Trend bucket counts. Hourly buckets are indexed by hour of day, daily
// buckets by day-of-month modulo the slot count, weekly buckets by ISO week
// modulo the slot count.
const (
	HourlySlots = 24
	DailySlots  = 30
	WeeklySlots = 52
)

// ErrorContext carries the request/user context an error was captured under
type ErrorContext struct {
	Component string `json:"component,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	URL       string `json:"url,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Breadcrumb is one entry of the capped, time-ordered contextual trail
// snapshotted into each captured error
type Breadcrumb struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Category  string                 `json:"category,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Level     string                 `json:"level,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ErrorInfo is a single captured error occurrence. Immutable after capture
// except for the resolution fields.
type ErrorInfo struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Message     string        `json:"message"`
	Stack       string        `json:"stack,omitempty"`
	Type        string        `json:"type"`
	Severity    ErrorSeverity `json:"severity"`
	Context     ErrorContext  `json:"context"`
	Fingerprint string        `json:"fingerprint"`
	Breadcrumbs []Breadcrumb  `json:"breadcrumbs,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// NewErrorInfo creates an ErrorInfo with a generated UUID
func NewErrorInfo(message, errType string) *ErrorInfo {
	return &ErrorInfo{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Message:   message,
		Type:      errType,
	}
}

// ErrorGroup aggregates occurrences sharing a fingerprint
type ErrorGroup struct {
	Fingerprint string        `json:"fingerprint"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	Count       int           `json:"count"`
	MaxSeverity ErrorSeverity `json:"max_severity"`
	Status      string        `json:"status"`

	// AffectedUsers is the set of distinct user ids seen on occurrences
	AffectedUsers map[string]struct{} `json:"-"`

	// Fixed-size ring buffers indexed by the current hour/day/week slot.
	// A slot is zeroed when the clock re-enters it in a later period, so
	// counts never accumulate across days/months/years.
	Hourly [HourlySlots]int `json:"hourly"`
	Daily  [DailySlots]int  `json:"daily"`
	Weekly [WeeklySlots]int `json:"weekly"`

	// Period keys of the last write per slot. Hourly slots roll over per
	// calendar day, daily slots per month, weekly slots per ISO year+week.
	hourlyKey [HourlySlots]int64
	dailyKey  [DailySlots]int64
	weeklyKey [WeeklySlots]int64

	// Samples is a capped list of recent occurrences
	Samples []*ErrorInfo `json:"-"`
}

// NewErrorGroup creates a group seeded from its first occurrence
func NewErrorGroup(info *ErrorInfo) *ErrorGroup {
	g := &ErrorGroup{
		Fingerprint:   info.Fingerprint,
		FirstSeen:     info.Timestamp,
		LastSeen:      info.Timestamp,
		MaxSeverity:   info.Severity,
		Status:        "open",
		AffectedUsers: make(map[string]struct{}),
	}
	return g
}

// TrendSlots returns the hourly/daily/weekly bucket indexes for t
func TrendSlots(t time.Time) (hour, day, week int) {
	hour = t.Hour()
	day = (t.Day() - 1) % DailySlots
	_, isoWeek := t.ISOWeek()
	week = (isoWeek - 1) % WeeklySlots
	return
}

// trendPeriodKeys identifies the period a timestamp's trend slots belong
// to, one key per axis
func trendPeriodKeys(t time.Time) (hourly, daily, weekly int64) {
	y, m, d := t.Date()
	hourly = int64(y)*10000 + int64(m)*100 + int64(d)
	daily = int64(y)*100 + int64(m)
	isoYear, isoWeek := t.ISOWeek()
	weekly = int64(isoYear)*100 + int64(isoWeek)
	return
}

// Record folds one occurrence into the group's counters and sample list
func (g *ErrorGroup) Record(info *ErrorInfo, sampleCap int) {
	g.Count++
	g.LastSeen = info.Timestamp
	g.MaxSeverity = g.MaxSeverity.Max(info.Severity)
	if info.Context.UserID != "" {
		g.AffectedUsers[info.Context.UserID] = struct{}{}
	}

	hour, day, week := TrendSlots(info.Timestamp)
	hKey, dKey, wKey := trendPeriodKeys(info.Timestamp)
	if g.hourlyKey[hour] != hKey {
		g.Hourly[hour] = 0
		g.hourlyKey[hour] = hKey
	}
	if g.dailyKey[day] != dKey {
		g.Daily[day] = 0
		g.dailyKey[day] = dKey
	}
	if g.weeklyKey[week] != wKey {
		g.Weekly[week] = 0
		g.weeklyKey[week] = wKey
	}
	g.Hourly[hour]++
	g.Daily[day]++
	g.Weekly[week]++

	g.Samples = append(g.Samples, info)
	if sampleCap > 0 && len(g.Samples) > sampleCap {
		g.Samples = g.Samples[len(g.Samples)-sampleCap:]
	}
}

// RecentCount counts retained samples captured at or after cutoff
func (g *ErrorGroup) RecentCount(cutoff time.Time) int {
	n := 0
	for _, s := range g.Samples {
		if !s.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

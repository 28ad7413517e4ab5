package alert

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

const sampleRules = `
rules:
  - id: r-cpu
    name: cpu_high
    enabled: true
    severity: warning
    cooldown: 5m
    channels: [ops-email]
    conditions:
      - metric: cpu_percent
        operator: gt
        threshold: 90
        window: 1m
  - id: r-db
    name: db_down
    enabled: true
    severity: critical
    channels: [ops-email, ops-slack]
    escalation:
      max_escalations: 3
      levels:
        - level: 1
          delay: 1m
          channels: [ops-slack]
        - level: 2
          delay: 5m
          channels: [oncall-sms]
          requires_ack: true
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	cpu := rules[0]
	assert.Equal(t, "cpu_high", cpu.Name)
	assert.Equal(t, core.SeverityWarning, cpu.Severity)
	assert.Equal(t, 5*time.Minute, cpu.Cooldown)
	require.Len(t, cpu.Conditions, 1)
	assert.Equal(t, "gt", cpu.Conditions[0].Operator)
	assert.Equal(t, float64(90), cpu.Conditions[0].Threshold)

	db := rules[1]
	require.NotNil(t, db.Escalation)
	assert.Equal(t, 3, db.Escalation.MaxEscalations)
	require.Len(t, db.Escalation.Levels, 2)
	assert.Equal(t, time.Minute, db.Escalation.Levels[0].Delay)
	assert.True(t, db.Escalation.Levels[1].RequiresAck)
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - id: r1\n    enabled: true\n"))
	assert.Error(t, err, "missing name")

	_, err = ParseRules([]byte(`
rules:
  - id: r1
    name: a
    conditions:
      - metric: cpu
        operator: between
        threshold: 1
`))
	assert.Error(t, err, "unknown operator")

	_, err = ParseRules([]byte(`
rules:
  - id: r1
    name: dup
  - id: r2
    name: dup
`))
	assert.Error(t, err, "duplicate names")

	_, err = ParseRules([]byte(`
rules:
  - id: r1
    name: a
    escalation:
      levels:
        - level: 1
          channels: [x]
`))
	assert.Error(t, err, "escalation level without delay")
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulesFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertTransitions(t *testing.T) {
	a := NewAlert("disk_full", SeverityError, AlertStatusActive)

	require.NoError(t, a.TransitionTo(AlertStatusAcknowledged))
	assert.Equal(t, AlertStatusAcknowledged, a.Status)

	require.NoError(t, a.TransitionTo(AlertStatusResolved))
	assert.Equal(t, AlertStatusResolved, a.Status)

	// Resolved is terminal
	assert.Error(t, a.TransitionTo(AlertStatusActive))
	assert.Error(t, a.TransitionTo(AlertStatusAcknowledged))
}

func TestAlertInvalidTransitions(t *testing.T) {
	a := NewAlert("disk_full", SeverityError, AlertStatusActive)

	assert.Error(t, a.TransitionTo(""))
	assert.Error(t, a.TransitionTo("escalating"))
	assert.Equal(t, AlertStatusActive, a.Status)

	// Active cannot go back to active, and acknowledged cannot revert
	assert.False(t, a.CanTransitionTo(AlertStatusActive))
	require.NoError(t, a.TransitionTo(AlertStatusAcknowledged))
	assert.False(t, a.CanTransitionTo(AlertStatusAcknowledged))
}

func TestSuppressedAlertResolvesDirectly(t *testing.T) {
	a := NewAlert("disk_full", SeverityWarning, AlertStatusSuppressed)

	assert.False(t, a.CanTransitionTo(AlertStatusAcknowledged))
	require.NoError(t, a.TransitionTo(AlertStatusResolved))
}

func TestAlertDuration(t *testing.T) {
	a := NewAlert("disk_full", SeverityError, AlertStatusActive)
	a.Timestamp = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	now := a.Timestamp.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, a.Duration(now))

	resolved := a.Timestamp.Add(45 * time.Second)
	a.ResolvedAt = &resolved
	assert.Equal(t, 45*time.Second, a.Duration(now))
}

func TestEscalationPolicyLevelFor(t *testing.T) {
	policy := &EscalationPolicy{
		Levels: []EscalationLevel{
			{Level: 1, Delay: time.Minute, Channels: []string{"slack"}},
			{Level: 2, Delay: 2 * time.Minute, Channels: []string{"sms"}},
		},
	}

	require.NotNil(t, policy.LevelFor(1))
	assert.Equal(t, []string{"slack"}, policy.LevelFor(1).Channels)
	require.NotNil(t, policy.LevelFor(2))

	assert.Nil(t, policy.LevelFor(0))
	assert.Nil(t, policy.LevelFor(3))

	policy.MaxEscalations = 1
	assert.Nil(t, policy.LevelFor(2))

	var nilPolicy *EscalationPolicy
	assert.Nil(t, nilPolicy.LevelFor(1))
}

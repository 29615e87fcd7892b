package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.MatchmakingInterval)
	assert.Equal(t, 100, cfg.ToleranceBase)
	assert.Equal(t, 50, cfg.ToleranceStep)
	assert.Equal(t, 300, cfg.ToleranceMax)
	assert.Equal(t, 20*time.Second, cfg.ToleranceStepInterval)
	assert.Equal(t, 60*time.Second, cfg.HardCeiling)
	assert.Equal(t, 15*time.Minute, cfg.MatchDuration)
	assert.Equal(t, 5*time.Second, cfg.TimeSyncInterval)
	assert.Equal(t, 3, cfg.ScoringRetryAttempts)
	assert.Equal(t, 2, cfg.TeamSize1v1)
	assert.Equal(t, 4, cfg.TeamSize2v2)
	assert.Equal(t, 3, cfg.TeamSizeFFA)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCH_DURATION", "30m")
	t.Setenv("TOLERANCE_BASE", "150")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("JUDGE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.MatchDuration)
	assert.Equal(t, 150, cfg.ToleranceBase)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.JudgeTimeout, "invalid values fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TOLERANCE_BASE", "400")

	_, err := Load()
	assert.Error(t, err)
}

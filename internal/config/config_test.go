package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Detection.EyeWindow)
	assert.Equal(t, 10*time.Second, cfg.Detection.MouthWindow)
	assert.Equal(t, 0.20, cfg.Detection.PerclosThreshold)
	assert.Equal(t, 3*time.Second, cfg.Detection.DrowsyDwell)
	assert.Equal(t, 0.10, cfg.Detection.ClosedEAR)
	assert.Equal(t, time.Second, cfg.Detection.AsleepDwell)
	assert.Equal(t, 500*time.Millisecond, cfg.Detection.RecoveryDwell)
	assert.Equal(t, 2*time.Second, cfg.Detection.GracePeriod)
	assert.Equal(t, 60*time.Second, cfg.Detection.IntoxPeriod)
	assert.Equal(t, 5*time.Second, cfg.Escalation.Tier1Delay)
	assert.Equal(t, 15*time.Second, cfg.Escalation.Tier2Delay)
	assert.Equal(t, 3, cfg.Escalation.RetryCap)
	assert.Equal(t, 500*time.Millisecond, cfg.Escalation.BackoffBase)
	assert.Equal(t, 64, cfg.Escalation.QueueSize)

	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DROWSY_DWELL", "4s")
	t.Setenv("PERCLOS_THRESHOLD", "0.25")
	t.Setenv("DISPATCH_RETRY_CAP", "5")
	t.Setenv("MQTT_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.Detection.DrowsyDwell)
	assert.Equal(t, 0.25, cfg.Detection.PerclosThreshold)
	assert.Equal(t, 5, cfg.Escalation.RetryCap)
	assert.True(t, cfg.MQTT.Enabled)
}

func TestLoadContacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.yaml")
	roster := `tiers:
  - name: local
    contacts:
      - id: cabin
        name: Cabin Alarm
        channel: local
        address: vehicle/alarm
  - name: family
    contacts:
      - id: spouse
        name: Jordan
        channel: sms
        address: "+15550100"
  - name: emergency
    contacts:
      - id: dispatch
        name: Emergency Dispatch
        channel: webhook
        address: https://dispatch.example.com/hook
`
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))

	tiers, err := LoadContacts(path)
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	assert.Equal(t, "family", tiers[1].Name)
	assert.Equal(t, "sms", tiers[1].Contacts[0].Channel)
	assert.Equal(t, "+15550100", tiers[1].Contacts[0].Address)

	t.Setenv("GUARDIAN_CONTACTS_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Escalation.Tiers, 3)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Detection.Tick = 0 }},
		{"coverage above one", func(c *Config) { c.Detection.MinCoverage = 1.5 }},
		{"closed above drowsy", func(c *Config) { c.Detection.ClosedEAR = 0.5 }},
		{"negative dwell", func(c *Config) { c.Detection.DrowsyDwell = -time.Second }},
		{"tier2 before tier1", func(c *Config) { c.Escalation.Tier2Delay = time.Second }},
		{"zero retry cap", func(c *Config) { c.Escalation.RetryCap = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsBadRoster(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Escalation.Tiers = []TierContacts{{Name: "only"}}
	assert.Error(t, cfg.Validate())

	cfg.Escalation.Tiers = []TierContacts{
		{Name: "local", Contacts: nil},
		{Name: "family"},
		{Name: "emergency"},
	}
	assert.Error(t, cfg.Validate())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThatDefaultsApply(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "pondwatch", cfg.MQTTOrg)
	assert.Equal(t, time.Minute, cfg.AggregationInterval)
	assert.Equal(t, 100, cfg.MaxGroupsPerTick)
	assert.Equal(t, time.Duration(0), cfg.CommandTTL)
	assert.Equal(t, "8880", cfg.ServicePort)
}

func TestThatEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PONDMON_MQTT_GROUP_ID", "pond-7")
	t.Setenv("PONDMON_AGGREGATION_INTERVAL", "30s")
	t.Setenv("PONDMON_COMMAND_TTL", "5m")

	cfg, err := Load()
	assert.NoError(t, err)

	assert.Equal(t, "pond-7", cfg.MQTTGroupID)
	assert.Equal(t, 30*time.Second, cfg.AggregationInterval)
	assert.Equal(t, 5*time.Minute, cfg.CommandTTL)
}

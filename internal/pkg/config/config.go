package config

import (
	"time"

	"github.com/spf13/viper"
)

//Config holds all runtime settings of the backend. Database credentials are
//read by the database connector itself and are not duplicated here.
type Config struct {
	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	MQTTOrg      string `mapstructure:"mqtt_org"`
	MQTTGroupID  string `mapstructure:"mqtt_group_id"`

	AggregationInterval time.Duration `mapstructure:"aggregation_interval"`
	MaxGroupsPerTick    int           `mapstructure:"max_groups_per_tick"`

	//CommandTTL expires pending device commands that never get acknowledged.
	//Zero keeps them forever, which is the historical behavior.
	CommandTTL time.Duration `mapstructure:"command_ttl"`

	TelegramToken string `mapstructure:"telegram_token"`

	ServicePort string `mapstructure:"service_port"`
}

//Load reads settings from PONDMON_* environment variables with defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("pondmon")
	v.AutomaticEnv()

	v.SetDefault("mqtt_broker", "tcp://localhost:1883")
	v.SetDefault("mqtt_client_id", "pond-monitor")
	v.SetDefault("mqtt_org", "pondwatch")
	v.SetDefault("mqtt_group_id", "pond-1")
	v.SetDefault("aggregation_interval", time.Minute)
	v.SetDefault("max_groups_per_tick", 100)
	v.SetDefault("command_ttl", time.Duration(0))
	v.SetDefault("telegram_token", "")
	v.SetDefault("service_port", "8880")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

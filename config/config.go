package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Freight  FreightConfig  `yaml:"freight"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	RiskRequestedTopicName string `yaml:"risk_requested_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FreightConfig struct {
	APIHTTPAddr        string `yaml:"api_http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SwaggerPath        string `yaml:"swagger_path"`

	// "postgres" (default) | "memory"
	Storage string `yaml:"storage"`
	// "async" (default) | "kafka"
	RiskDispatch string `yaml:"risk_dispatch"`

	RiskIntervalMinutes           int `yaml:"risk_interval_minutes"`
	DefaultPollingIntervalMinutes int `yaml:"default_polling_interval_minutes"`
	MinPollingIntervalMinutes     int `yaml:"min_polling_interval_minutes"`
	CarrierRateLimitPerMinute     int `yaml:"carrier_rate_limit_per_minute"`
	CarrierRequestsPerSecond      int `yaml:"carrier_requests_per_second"`
	SyncLockTTLSeconds            int `yaml:"sync_lock_ttl_seconds"`
	LiveLookupTTLSeconds          int `yaml:"live_lookup_ttl_seconds"`

	DefaultDailyFeeRate float64 `yaml:"default_daily_fee_rate"`
	FeeTimezone         string  `yaml:"fee_timezone"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// PostgresDSN builds the pgx connection string, defaulting ssl_mode to disable.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

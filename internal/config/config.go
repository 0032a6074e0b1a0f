package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration, assembled once at startup and
// injected into each component's constructor.
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	MQTT        MQTTConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Cache       CacheConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
	Pipeline    PipelineConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// MQTTConfig holds MQTT broker connection and topic settings
type MQTTConfig struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	TopicNamespace    string
	QoS               byte
	ReconnectInterval time.Duration
}

// RedisConfig holds settings for the latest-snapshot cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds the outbound event exchange settings
type RabbitMQConfig struct {
	URL                string
	EventsExchange     string
	AcceptedRoutingKey string
	AnomalyRoutingKey  string
}

// CacheConfig holds snapshot cache behavior settings
type CacheConfig struct {
	SnapshotTTL time.Duration
}

// ValidationConfig holds timestamp freshness settings
type ValidationConfig struct {
	FutureToleranceMinutes int
	MaxAgeMinutes          int
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	Enabled            bool
	BaselineWindowDays int
	DropRatio          float64
}

// PipelineConfig bounds the number of readings processed concurrently
type PipelineConfig struct {
	Workers   int
	QueueSize int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "solar-telemetry-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		MQTT: MQTTConfig{
			BrokerURL:         getEnv("MQTT_BROKER_URL", ""),
			ClientID:          getEnv("MQTT_CLIENT_ID", "solar-telemetry-worker"),
			Username:          getEnv("MQTT_USERNAME", ""),
			Password:          getEnv("MQTT_PASSWORD", ""),
			TopicNamespace:    getEnv("MQTT_TOPIC_NAMESPACE", "energy"),
			QoS:               byte(getEnvAsInt("MQTT_QOS", 1)),
			ReconnectInterval: time.Duration(getEnvAsInt("MQTT_RECONNECT_INTERVAL_SECONDS", 5)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                getEnv("RABBITMQ_URL", ""),
			EventsExchange:     getEnv("RABBITMQ_EVENTS_EXCHANGE", "telemetry.events.exchange"),
			AcceptedRoutingKey: getEnv("RABBITMQ_ACCEPTED_ROUTING_KEY", "reading.accepted"),
			AnomalyRoutingKey:  getEnv("RABBITMQ_ANOMALY_ROUTING_KEY", "anomaly.detected"),
		},
		Cache: CacheConfig{
			SnapshotTTL: time.Duration(getEnvAsInt("CACHE_SNAPSHOT_TTL_MINUTES", 60)) * time.Minute,
		},
		Validation: ValidationConfig{
			FutureToleranceMinutes: getEnvAsInt("VALIDATION_FUTURE_TOLERANCE_MINUTES", 5),
			MaxAgeMinutes:          getEnvAsInt("VALIDATION_MAX_AGE_MINUTES", 60),
		},
		Anomaly: AnomalyConfig{
			Enabled:            getEnvAsBool("ANOMALY_DETECTION_ENABLED", true),
			BaselineWindowDays: getEnvAsInt("ANOMALY_BASELINE_WINDOW_DAYS", 30),
			DropRatio:          getEnvAsFloat("ANOMALY_DROP_RATIO", 0.5),
		},
		Pipeline: PipelineConfig{
			Workers:   getEnvAsInt("PIPELINE_WORKERS", 8),
			QueueSize: getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.MQTT.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT_BROKER_URL is required but not set in environment variables")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

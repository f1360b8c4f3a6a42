// Package config 从环境变量（可选 .env）加载运行配置
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// 日志轮转，LogFile 为空时只输出到控制台
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// 路线服务
	GoogleMapsAPIKey  string
	DirectionsBaseURL string
	RouteAvoid        []string
	MinAlternatives   int

	// 导航
	OffRouteThresholdMeters float64
	ArrivalThresholdMeters  float64
	RerouteMaxRetries       int
	RerouteBackoffInitial   time.Duration
	RerouteBackoffFactor    float64
	RerouteBackoffMax       time.Duration

	// 分析监控
	AnalyticsInterval time.Duration
	IdleThreshold     time.Duration

	// 定位来源，都为空时只接受手动注入
	LocationFeedURL    string
	LocationFeedToken  string
	LocationReplayFile string
	ReplayInterval     time.Duration

	// 后端
	BackendURL   string
	BackendToken string
	UserID       string

	// 本地存储
	DatabaseURL         string
	OutboxPath          string
	OutboxFlushInterval time.Duration

	// MQTT，Broker 为空时不发布
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	NominatimURL string
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("PORT", "4000"),
		Debug:                   getEnvBool("DEBUG", false),
		LogFile:                 getEnv("LOG_FILE", ""),
		LogMaxSizeMB:            getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:           getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:           getEnvInt("LOG_MAX_AGE_DAYS", 30),
		GoogleMapsAPIKey:        getEnv("GOOGLE_MAPS_API_KEY", ""),
		DirectionsBaseURL:       getEnv("DIRECTIONS_BASE_URL", ""),
		RouteAvoid:              getEnvList("ROUTE_AVOID"),
		MinAlternatives:         getEnvInt("MIN_ALTERNATIVES", 3),
		OffRouteThresholdMeters: getEnvFloat("OFF_ROUTE_THRESHOLD_M", 50),
		ArrivalThresholdMeters:  getEnvFloat("ARRIVAL_THRESHOLD_M", 50),
		RerouteMaxRetries:       getEnvInt("REROUTE_MAX_RETRIES", 3),
		RerouteBackoffInitial:   getEnvDuration("REROUTE_BACKOFF_INITIAL", 2*time.Second),
		RerouteBackoffFactor:    getEnvFloat("REROUTE_BACKOFF_FACTOR", 2.0),
		RerouteBackoffMax:       getEnvDuration("REROUTE_BACKOFF_MAX", 30*time.Second),
		AnalyticsInterval:       getEnvDuration("ANALYTICS_INTERVAL", time.Minute),
		IdleThreshold:           getEnvDuration("IDLE_THRESHOLD", 30*time.Second),
		LocationFeedURL:         getEnv("LOCATION_FEED_URL", ""),
		LocationFeedToken:       getEnv("LOCATION_FEED_TOKEN", ""),
		LocationReplayFile:      getEnv("LOCATION_REPLAY_FILE", ""),
		ReplayInterval:          getEnvDuration("LOCATION_REPLAY_INTERVAL", time.Second),
		BackendURL:              getEnv("BACKEND_URL", ""),
		BackendToken:            getEnv("BACKEND_TOKEN", ""),
		UserID:                  getEnv("USER_ID", ""),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		OutboxPath:              getEnv("OUTBOX_PATH", "outbox.db"),
		OutboxFlushInterval:     getEnvDuration("OUTBOX_FLUSH_INTERVAL", time.Minute),
		MQTTBroker:              getEnv("MQTT_BROKER", ""),
		MQTTClientID:            getEnv("MQTT_CLIENT_ID", "motonav"),
		MQTTUsername:            getEnv("MQTT_USERNAME", ""),
		MQTTPassword:            getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix:         getEnv("MQTT_TOPIC_PREFIX", "motonav"),
		NominatimURL:            getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验数值范围
func (c *Config) Validate() error {
	if c.MinAlternatives < 1 {
		return fmt.Errorf("MIN_ALTERNATIVES must be at least 1, got %d", c.MinAlternatives)
	}
	if c.OffRouteThresholdMeters <= 0 || c.ArrivalThresholdMeters <= 0 {
		return fmt.Errorf("route thresholds must be positive")
	}
	if c.RerouteMaxRetries < 0 {
		return fmt.Errorf("REROUTE_MAX_RETRIES must not be negative")
	}
	if c.RerouteBackoffFactor < 1 {
		return fmt.Errorf("REROUTE_BACKOFF_FACTOR must be at least 1, got %v", c.RerouteBackoffFactor)
	}
	if c.AnalyticsInterval <= 0 || c.OutboxFlushInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

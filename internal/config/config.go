package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Device   DeviceConfig
	Remote   RemoteConfig
	Relay    RelayConfig
	Sync     SyncConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DeviceConfig describes the scanning device this process runs on.
type DeviceConfig struct {
	ID      string
	EventID string
	// Mode is the verification mode of the device's own scans: online or offline.
	Mode string
}

type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type RelayConfig struct {
	Enabled       bool
	ListenAddr    string
	AdvertiseIP   string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxLineLength int
}

type SyncConfig struct {
	Interval      time.Duration
	ProbeInterval time.Duration
}

type RedisConfig struct {
	Addr        string
	ScanLockTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	OIDCIssuer string
	APIToken   string
}

type LogConfig struct {
	Dir   string
	Level string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		Device: DeviceConfig{
			ID:      getEnv("DEVICE_ID", ""),
			EventID: getEnv("EVENT_ID", ""),
			Mode:    getEnv("CHECKIN_MODE", "online"),
		},
		Remote: RemoteConfig{
			BaseURL: strings.TrimRight(getEnv("REMOTE_API_URL", "http://localhost:8080/api"), "/"),
			Token:   getEnv("REMOTE_API_TOKEN", ""),
			Timeout: time.Duration(getEnvInt("REMOTE_API_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Relay: RelayConfig{
			Enabled:       getEnvBool("RELAY_ENABLED", true),
			ListenAddr:    getEnv("RELAY_LISTEN_ADDR", ":9000"),
			AdvertiseIP:   getEnv("RELAY_ADVERTISE_IP", ""),
			ReadTimeout:   time.Duration(getEnvInt("RELAY_READ_TIMEOUT_SECONDS", 300)) * time.Second,
			WriteTimeout:  time.Duration(getEnvInt("RELAY_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
			MaxLineLength: getEnvInt("RELAY_MAX_LINE_BYTES", 4096),
		},
		Sync: SyncConfig{
			Interval:      time.Duration(getEnvInt("SYNC_INTERVAL_SECONDS", 60)) * time.Second,
			ProbeInterval: time.Duration(getEnvInt("SYNC_PROBE_INTERVAL_SECONDS", 15)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			ScanLockTTL: time.Duration(getEnvInt("SCAN_LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "checkin.db"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC_CHECKIN", "checkin.guest.updated"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			APIToken:   getEnv("HOST_API_TOKEN", ""),
		},
		Log: LogConfig{
			Dir:   getEnv("LOG_DIR", "logs"),
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

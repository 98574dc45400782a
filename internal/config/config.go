package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	ServiceName    = "bookstore-backoffice"
	ServiceVersion = "0.1.0"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

type Config struct {
	HTTPAddr     string
	GRPCAddr     string
	Storage      string
	MySQLDSN     string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	OtelEndpoint string
	WorkerCount  int
	QueueSize    int
	LogLevel     string
}

// Load reads the configuration from the environment. Unset variables fall
// back to local development defaults. Kafka and trace export stay disabled
// until KAFKA_BROKERS and OTEL_ENDPOINT are set.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		GRPCAddr:     env("GRPC_ADDR", ":50051"),
		Storage:      env("STORAGE", StorageMySQL),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/bookstore?parseTime=true"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		KafkaTopic:   env("KAFKA_TOPIC", "bookstore.orders"),
		OtelEndpoint: os.Getenv("OTEL_ENDPOINT"),
		LogLevel:     env("LOG_LEVEL", "info"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = envInt("QUEUE_SIZE", 10000); err != nil {
		return nil, err
	}

	if cfg.Storage != StorageMySQL && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMySQL, StorageMemory, cfg.Storage)
	}
	if cfg.Storage == StorageMySQL && !strings.Contains(cfg.MySQLDSN, "parseTime=true") {
		return nil, fmt.Errorf("MYSQL_DSN must set parseTime=true")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1, got %d", cfg.WorkerCount)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", cfg.QueueSize)
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

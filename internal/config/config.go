package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Common contains the Elasticsearch and agent parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
	AgentBaseURL       string
	AgentTimeout       time.Duration
	AgentRetryMax      int
}

// Worker holds configuration for the Kafka -> Elasticsearch report indexer.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
	CommitInterval time.Duration
	TagLimit       int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         common,
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "report_events"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "report-indexer"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
		CommitInterval: getDuration("WORKER_COMMIT_INTERVAL", "2s"),
		TagLimit:       getInt("WORKER_TAG_LIMIT", 20),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.CommitInterval < 0 {
		return nil, fmt.Errorf("WORKER_COMMIT_INTERVAL cannot be negative")
	}
	if c.TagLimit <= 0 {
		return nil, fmt.Errorf("WORKER_TAG_LIMIT must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      common,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    common,
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadInspect builds the configuration for the inspect CLI, which only
// needs to reach the agent.
func LoadInspect() (*Common, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	return &common, nil
}

func loadCommon() (Common, error) {
	// A missing .env is normal outside local development. Variables already
	// present in the environment take precedence.
	_ = godotenv.Load()

	c := Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "place_reports"),
		AgentBaseURL:       strings.TrimRight(getEnv("AGENT_BASE_URL", "http://agent:8000"), "/"),
		AgentTimeout:       getDuration("AGENT_TIMEOUT", "10s"),
		AgentRetryMax:      getInt("AGENT_RETRY_MAX", 3),
	}

	if c.AgentTimeout <= 0 {
		return Common{}, fmt.Errorf("AGENT_TIMEOUT must be positive")
	}
	if c.AgentRetryMax < 0 {
		return Common{}, fmt.Errorf("AGENT_RETRY_MAX cannot be negative")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

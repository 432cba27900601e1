package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"judgecore/internal/common/cache"
	commonmw "judgecore/internal/common/http/middleware"
	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/poller"
	"judgecore/internal/judge/testpack"
	"judgecore/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultTestDeadline    = 30 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS      commonmw.CORSConfig `yaml:"cors"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
}

// RateLimitConfig bounds how often clients may trigger executor runs.
type RateLimitConfig struct {
	Enabled  bool                     `yaml:"enabled"`
	Prefix   string                   `yaml:"prefix"`
	Window   time.Duration            `yaml:"window"`
	Timeout  time.Duration            `yaml:"timeout"`
	Evaluate commonmw.RateLimitPolicy `yaml:"evaluate"`
	Run      commonmw.RateLimitPolicy `yaml:"run"`
}

// BreakerConfig toggles the executor circuit breaker.
type BreakerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// ExecutorConfig holds remote executor settings.
type ExecutorConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	APIKey    string        `yaml:"apiKey"`
	APIHost   string        `yaml:"apiHost"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// OrchestratorConfig holds per-submission judging settings.
type OrchestratorConfig struct {
	MaxConcurrency int           `yaml:"maxConcurrency"`
	TestDeadline   time.Duration `yaml:"testDeadline"`
	EarlyExit      string        `yaml:"earlyExit"`
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	MaxTestCases   int           `yaml:"maxTestCases"`
}

// KafkaConfig holds Kafka settings. No brokers disables the consumer.
type KafkaConfig struct {
	Brokers       []string       `yaml:"brokers"`
	ClientID      string         `yaml:"clientID"`
	MinBytes      int            `yaml:"minBytes"`
	MaxBytes      int            `yaml:"maxBytes"`
	MaxWait       time.Duration  `yaml:"maxWait"`
	BatchSize     int            `yaml:"batchSize"`
	BatchTimeout  time.Duration  `yaml:"batchTimeout"`
	DialTimeout   time.Duration  `yaml:"dialTimeout"`
	ReadTimeout   time.Duration  `yaml:"readTimeout"`
	WriteTimeout  time.Duration  `yaml:"writeTimeout"`
	RequiredAcks  int            `yaml:"requiredAcks"`
	Compression   string         `yaml:"compression"`
	Topics        []string       `yaml:"topics"`
	ConsumerGroup string         `yaml:"consumerGroup"`
	MaxRetries    int            `yaml:"maxRetries"`
	RetryDelay    time.Duration  `yaml:"retryDelay"`
	MaxRetryDelay time.Duration  `yaml:"maxRetryDelay"`
	RetryTopic    string         `yaml:"retryTopic"`
	PoolRetryMax  int            `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration  `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration  `yaml:"poolRetryMaxDelay"`
	DeadLetter    string         `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration  `yaml:"messageTTL"`
	TopicWeights  map[string]int `yaml:"topicWeights"`
}

// WorkerConfig holds async worker pool settings.
type WorkerConfig struct {
	PoolSize int           `yaml:"poolSize"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// SourceConfig holds source download settings.
type SourceConfig struct {
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// ReportConfig holds report archive settings.
type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server       ServerConfig        `yaml:"server"`
	Logger       logger.Config       `yaml:"logger"`
	Executor     ExecutorConfig      `yaml:"executor"`
	Languages    map[string]int      `yaml:"languages"`
	Poller       poller.Config       `yaml:"poller"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator"`
	Redis        cache.RedisConfig   `yaml:"redis"`
	MinIO        storage.MinIOConfig `yaml:"minio"`
	Kafka        KafkaConfig         `yaml:"kafka"`
	Source       SourceConfig        `yaml:"source"`
	Status       StatusConfig        `yaml:"status"`
	TestPack     testpack.Config     `yaml:"testpack"`
	Report       ReportConfig        `yaml:"report"`
	Worker       WorkerConfig        `yaml:"worker"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadEnv reads an optional .env file; variables already set win.
func loadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{Poller: poller.DefaultConfig()}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Executor.BaseURL == "" {
		return nil, fmt.Errorf("executor baseURL is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if _, ok := model.ParseEarlyExitPolicy(cfg.Orchestrator.EarlyExit); !ok {
		return nil, fmt.Errorf("unknown orchestrator earlyExit %q", cfg.Orchestrator.EarlyExit)
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Executor.Breaker.Name == "" {
		cfg.Executor.Breaker.Name = "judge0"
	}
	if cfg.Orchestrator.TestDeadline == 0 {
		cfg.Orchestrator.TestDeadline = defaultTestDeadline
	}
	if cfg.Source.Bucket == "" {
		cfg.Source.Bucket = "sources"
	}
	if cfg.TestPack.Bucket == "" {
		cfg.TestPack.Bucket = "testpacks"
	}
	if cfg.Report.Bucket == "" {
		cfg.Report.Bucket = "reports"
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = 24 * time.Hour
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = "judge.status.final"
	}
	if cfg.Kafka.RetryTopic == "" {
		cfg.Kafka.RetryTopic = "judge.retry"
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}
	if len(cfg.Kafka.TopicWeights) == 0 && len(cfg.Kafka.Topics) > 0 {
		cfg.Kafka.TopicWeights = defaultTopicWeights(cfg.Kafka.Topics)
	}
	return &cfg, nil
}

// applyEnvOverrides lets secrets stay out of the YAML file.
func applyEnvOverrides(cfg *AppConfig) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"JUDGE0_BASE_URL", &cfg.Executor.BaseURL},
		{"JUDGE0_API_KEY", &cfg.Executor.APIKey},
		{"JUDGE0_AUTH_TOKEN", &cfg.Executor.AuthToken},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey},
		{"MINIO_SECRET_KEY", &cfg.MinIO.SecretKey},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *AppConfig) languageTable() model.LanguageTable {
	if len(c.Languages) == 0 {
		return model.DefaultLanguageTable()
	}
	table := make(model.LanguageTable, len(c.Languages))
	for name, id := range c.Languages {
		table[model.NormalizeLanguage(name)] = id
	}
	return table
}

func defaultTopicWeights(topics []string) map[string]int {
	weights := []int{8, 4, 2, 1}
	out := make(map[string]int, len(topics))
	for i, topic := range topics {
		if topic == "" {
			continue
		}
		if i < len(weights) {
			out[topic] = weights[i]
			continue
		}
		out[topic] = 1
	}
	return out
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func (k KafkaConfig) weightedTopics() ([]mq.WeightedTopic, error) {
	weights := k.TopicWeights
	if len(weights) == 0 {
		weights = defaultTopicWeights(k.Topics)
	}
	out := make([]mq.WeightedTopic, 0, len(k.Topics))
	for _, topic := range k.Topics {
		weight, ok := weights[topic]
		if !ok || weight <= 0 {
			return nil, fmt.Errorf("invalid weight %d for topic %s", weight, topic)
		}
		out = append(out, mq.WeightedTopic{Topic: topic, Weight: weight})
	}
	return out, nil
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

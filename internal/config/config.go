package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"` // json or text
	DatabaseURL string `yaml:"databaseURL"`

	EmbeddingDim int `yaml:"embeddingDim"`

	QueueDriver       string `yaml:"queueDriver"` // redis or amqp
	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	AMQPURL           string `yaml:"amqpURL"`
	QueueName         string `yaml:"queueName"`
	QueueGroup        string `yaml:"queueGroup"`
	QueueConcurrency  int    `yaml:"queueConcurrency"`
	QueueMaxRetries   int    `yaml:"queueMaxRetries"`
	RetryDelaySeconds int    `yaml:"retryDelaySeconds"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	GenerationProvider string `yaml:"generationProvider"` // ollama or openai-compat
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`

	EmbeddingProvider string `yaml:"embeddingProvider"` // ollama or openai-compat
	EmbeddingBaseURL  string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey   string `yaml:"embeddingAPIKey"`
	EmbeddingModel    string `yaml:"embeddingModel"`

	ChunkSizeTokens    int  `yaml:"chunkSizeTokens"`
	ChunkOverlapTokens int  `yaml:"chunkOverlapTokens"`
	ActivateOnComplete bool `yaml:"activateOnComplete"`

	TopK         int     `yaml:"topK"`
	MinScore     float64 `yaml:"minScore"`
	HistoryLimit int     `yaml:"historyLimit"`

	MaxUploadBytes         int64 `yaml:"maxUploadBytes"`
	PendingGraceSeconds    int   `yaml:"pendingGraceSeconds"`
	StaleProcessingSeconds int   `yaml:"staleProcessingSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	// Sentinel distinguishes an absent chunkOverlapTokens key from an
	// explicit 0, which is a valid no-overlap configuration.
	cfg := FileConfig{ChunkOverlapTokens: -1}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.QueueDriver = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueDriver == "" {
		cfg.QueueDriver = "redis"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "ingest:sources"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "ingest-workers"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.RetryDelaySeconds <= 0 {
		cfg.RetryDelaySeconds = 2
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.ChunkSizeTokens <= 0 {
		cfg.ChunkSizeTokens = 500
	}
	if cfg.ChunkOverlapTokens < 0 {
		cfg.ChunkOverlapTokens = 50
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.25
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.PendingGraceSeconds <= 0 {
		cfg.PendingGraceSeconds = 300
	}
	if cfg.StaleProcessingSeconds <= 0 {
		cfg.StaleProcessingSeconds = 1800
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	switch cfg.QueueDriver {
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when queueDriver is redis")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required when queueDriver is amqp")
		}
	default:
		return fmt.Errorf("config: unknown queueDriver %q (want redis or amqp)", cfg.QueueDriver)
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if err := validateProvider("generationProvider", cfg.GenerationProvider); err != nil {
		return err
	}
	if err := validateProvider("embeddingProvider", cfg.EmbeddingProvider); err != nil {
		return err
	}
	if cfg.GenerationBaseURL == "" {
		return errors.New("config: generationBaseURL is required (set in config.yaml)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingBaseURL == "" {
		return errors.New("config: embeddingBaseURL is required (set in config.yaml)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("config: unknown logFormat %q (want json or text)", cfg.LogFormat)
	}
	if cfg.ChunkOverlapTokens >= cfg.ChunkSizeTokens {
		return errors.New("config: chunkOverlapTokens must be smaller than chunkSizeTokens")
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return errors.New("config: minScore must be within [0, 1]")
	}
	return nil
}

func validateProvider(field, value string) error {
	switch value {
	case "ollama", "openai-compat":
		return nil
	case "":
		return fmt.Errorf("config: %s is required (ollama or openai-compat)", field)
	default:
		return fmt.Errorf("config: unknown %s %q (want ollama or openai-compat)", field, value)
	}
}

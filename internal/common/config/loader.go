package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// over it and applies environment overrides (openai.api_key -> OPENAI_API_KEY).
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	return build(v)
}

// LoadFromFile loads configuration from a single file.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func build(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the YAML files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "story-service")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15000)
	v.SetDefault("server.write_timeout", 240000)
	v.SetDefault("server.shutdown_timeout", 10000)

	v.SetDefault("camunda.enabled", false)
	v.SetDefault("camunda.broker_address", "")

	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.migrate", true)
	v.SetDefault("database.postgres.query_timeout", 10000)
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.elasticsearch.url", "")

	v.SetDefault("generation.cost", 1)
	v.SetDefault("generation.max_drafts", 10)
	v.SetDefault("generation.default_drafts", 1)
	v.SetDefault("generation.default_minutes", 10)
	v.SetDefault("generation.max_concurrency", 4)
	v.SetDefault("generation.timeout", 180000)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.8)
	v.SetDefault("openai.max_tokens_per_draft", 400)

	v.SetDefault("speech.provider", "openai")
	v.SetDefault("speech.model", "tts-1")
	v.SetDefault("speech.voice", "shimmer")
	v.SetDefault("speech.base_url", "")

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.public_host", "")
	v.SetDefault("storage.key_prefix", "stories_audio")
	v.SetDefault("storage.cache_control", "public, max-age=31536000")

	v.SetDefault("nats.url", "")

	v.SetDefault("local_cache.provider", "redis")
	v.SetDefault("local_cache.path", "")
	v.SetDefault("local_cache.key_prefix", "localStories")

	v.SetDefault("auth.mode", "keycloak")
	v.SetDefault("auth.header", "X-User-ID")
	v.SetDefault("auth.trusted_gateway", false)
	v.SetDefault("auth.keycloak.client_secret", "")

	v.SetDefault("alarms.region", "")
	v.SetDefault("alarms.sns_topic_arn", "")
	v.SetDefault("alarms.ses_from", "")

	v.SetDefault("search.enabled", false)
	v.SetDefault("search.index", "public-stories")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in YAML string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.QueryTimeout == 0 {
		cfg.Database.Postgres.QueryTimeout = 10000
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 180000
	}
	if cfg.Generation.MaxConcurrency == 0 {
		cfg.Generation.MaxConcurrency = 4
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 60000
	}
	if cfg.Speech.Timeout == 0 {
		cfg.Speech.Timeout = 60000
	}
	if cfg.Speech.Speed == 0 {
		cfg.Speech.Speed = 1
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = "en"
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = 30000
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 300000
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Generation.Cost <= 0 {
		return fmt.Errorf("generation.cost must be positive")
	}
	if cfg.Generation.MaxDrafts < 1 {
		return fmt.Errorf("generation.max_drafts must be at least 1")
	}
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout <= cfg.Generation.Timeout {
		return fmt.Errorf("server.write_timeout (%dms) must exceed generation.timeout (%dms)",
			cfg.Server.WriteTimeout, cfg.Generation.Timeout)
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if cfg.Search.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.url is required when search is enabled")
	}

	switch cfg.Storage.Provider {
	case "s3":
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required")
		}
	case "nats":
		if cfg.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats storage provider")
		}
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", cfg.Storage.Provider)
	}

	switch cfg.LocalCache.Provider {
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis local cache")
		}
	case "bolt":
		if cfg.LocalCache.Path == "" {
			return fmt.Errorf("local_cache.path is required for the bolt local cache")
		}
	default:
		return fmt.Errorf("unknown local_cache.provider %q", cfg.LocalCache.Provider)
	}

	switch cfg.Speech.Provider {
	case "openai":
	case "http":
		if cfg.Speech.BaseURL == "" {
			return fmt.Errorf("speech.base_url is required for the http speech provider")
		}
	default:
		return fmt.Errorf("unknown speech.provider %q", cfg.Speech.Provider)
	}

	switch cfg.Auth.Mode {
	case "header":
		if !cfg.Auth.TrustedGateway {
			return fmt.Errorf("auth.mode header requires auth.trusted_gateway: the %s header is taken as sent", cfg.Auth.Header)
		}
	case "keycloak":
		if cfg.Auth.Keycloak.URL == "" || cfg.Auth.Keycloak.Realm == "" {
			return fmt.Errorf("auth.keycloak.url and auth.keycloak.realm are required")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", cfg.Auth.Mode)
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig returns the named worker's settings, or defaults.
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, ok := cfg.Workers[workerName]; ok {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       300000,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, ok := cfg.Workers[workerName]; ok {
		return worker.Enabled
	}
	return true
}

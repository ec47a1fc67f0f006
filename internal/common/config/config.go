package config

import "fmt"

// Config is the root configuration of the story service.
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Server     ServerConfig            `mapstructure:"server"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Generation GenerationConfig        `mapstructure:"generation"`
	OpenAI     OpenAIConfig            `mapstructure:"openai"`
	Speech     SpeechConfig            `mapstructure:"speech"`
	Storage    StorageConfig           `mapstructure:"storage"`
	NATS       NATSConfig              `mapstructure:"nats"`
	LocalCache LocalCacheConfig        `mapstructure:"local_cache"`
	Auth       AuthConfig              `mapstructure:"auth"`
	Alarms     AlarmConfig             `mapstructure:"alarms"`
	Search     SearchConfig            `mapstructure:"search"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	Migrate        bool   `mapstructure:"migrate"`
	QueryTimeout   int    `mapstructure:"query_timeout"` // milliseconds
}

// GetDSN returns the lib/pq connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns URL, or the first address when URL is unset.
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GenerationConfig bounds a single story generation request.
type GenerationConfig struct {
	Cost           int64 `mapstructure:"cost"`
	MaxDrafts      int   `mapstructure:"max_drafts"`
	DefaultDrafts  int   `mapstructure:"default_drafts"`
	DefaultMinutes int   `mapstructure:"default_minutes"`
	// MaxConcurrency caps concurrent narrations within one request.
	MaxConcurrency int   `mapstructure:"max_concurrency"`
	// Timeout bounds the whole pipeline after the debit, milliseconds.
	Timeout        int   `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokensPerDraft int     `mapstructure:"max_tokens_per_draft"`
	StrictParsing     bool    `mapstructure:"strict_parsing"`
	Timeout           int     `mapstructure:"timeout"` // milliseconds
}

// SpeechConfig selects the narration engine: "openai" or "http".
type SpeechConfig struct {
	Provider string  `mapstructure:"provider"`
	Model    string  `mapstructure:"model"`
	Voice    string  `mapstructure:"voice"`
	Speed    float64 `mapstructure:"speed"`
	BaseURL  string  `mapstructure:"base_url"`
	Language string  `mapstructure:"language"`
	Timeout  int     `mapstructure:"timeout"` // milliseconds
}

// StorageConfig selects the artifact store: "s3" or "nats".
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	PublicHost   string `mapstructure:"public_host"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	CacheControl string `mapstructure:"cache_control"`
	Timeout      int    `mapstructure:"timeout"` // milliseconds
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LocalCacheConfig selects where unsynced stories live: "redis" or "bolt".
type LocalCacheConfig struct {
	Provider  string `mapstructure:"provider"`
	Path      string `mapstructure:"path"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AuthConfig selects how callers are identified: "keycloak" or "header".
// Header mode trusts the user id header as sent, so it is only accepted
// when TrustedGateway confirms a gateway sets that header.
type AuthConfig struct {
	Mode           string `mapstructure:"mode"`
	Header         string `mapstructure:"header"`
	TrustedGateway bool   `mapstructure:"trusted_gateway"`
	Keycloak       struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

type AlarmConfig struct {
	Region      string   `mapstructure:"region"`
	SNSTopicARN string   `mapstructure:"sns_topic_arn"`
	SESFrom     string   `mapstructure:"ses_from"`
	SESTo       []string `mapstructure:"ses_to"`
}

type SearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// WorkerConfig holds the settings applicable to every job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Logging        LoggingConfig
	Mail           MailConfig
	LLM            LLMConfig
	Notes          NotesConfig
	Pipeline       PipelineConfig
	Deduplication  DeduplicationConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	RunMigrations bool   `mapstructure:"run_migrations"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MailConfig struct {
	IMAP          IMAPConfig `mapstructure:"imap"`
	SMTP          SMTPConfig `mapstructure:"smtp"`
	Inbox         string     `mapstructure:"inbox"`
	DraftsMailbox string     `mapstructure:"drafts_mailbox"`
}

type IMAPConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SMTPConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout_seconds"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

type NotesConfig struct {
	APIKey       string `mapstructure:"api_key"`
	CollectionID string `mapstructure:"collection_id"`
}

type PipelineConfig struct {
	// Language forces the prompt language for every message. Empty means
	// detect per message.
	Language       string              `mapstructure:"language"`
	PromptsDir     string              `mapstructure:"prompts_dir"`
	DeploymentEnv  string              `mapstructure:"deployment_env"`
	MaxConcurrency int                 `mapstructure:"max_concurrency"`
	OCR            OCRConfig           `mapstructure:"ocr"`
	Routes         []RouteRule         `mapstructure:"routes"`
	Recruiter      RecruiterConfig     `mapstructure:"recruiter"`
	Concert        ConcertConfig       `mapstructure:"concert"`
	Transactional  TransactionalConfig `mapstructure:"transactional"`
}

// OCRConfig controls text extraction from inline and attached images.
type OCRConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RouteRule short-circuits LLM classification when its expression matches.
type RouteRule struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
	Category   string `mapstructure:"category"`
}

type RecruiterConfig struct {
	NotifyAddress string `mapstructure:"notify_address"`
}

type ConcertConfig struct {
	InviteRecipient   string `mapstructure:"invite_recipient"`
	NotesDeferSeconds int    `mapstructure:"notes_defer_seconds"`
}

type TransactionalConfig struct {
	Label string `mapstructure:"label"`
}

type DeduplicationConfig struct {
	HashAlgorithm   string `mapstructure:"hash_algorithm"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
